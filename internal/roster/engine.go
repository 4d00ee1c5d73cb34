package roster

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/rollcall/internal/apperr"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/logger"
)

// Engine applies roster mutations. Every method validates all preconditions before
// emitting any write and commits through a single Graph.Update, so a failed call has
// no partial effect.
type Engine struct {
	graph *Graph
	log   *logger.Logger
	now   func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for cascade reporting.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides how IDs are generated for records created without one.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine creates an engine mutating graph.
func NewEngine(graph *Graph, opts ...Option) *Engine {
	e := &Engine{
		graph: graph,
		log:   logger.GetInstance(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the graph the engine mutates.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// PersonInput describes a new person. ID is generated when empty.
type PersonInput struct {
	ID    string
	Name  string
	Email string
	Phone string
	Role  Role
}

// CreatePerson registers a person with no course links.
func (e *Engine) CreatePerson(ctx context.Context, in PersonInput) (Person, error) {
	const op = "roster.CreatePerson"
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Person{}, apperr.E(apperr.Invalid, op, "name is required")
	}
	if !in.Role.Valid() {
		return Person{}, apperr.E(apperr.Invalid, op, "unknown role %q", in.Role)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = e.newID()
	}

	p := Person{
		ID:        id,
		Name:      name,
		Email:     strings.TrimSpace(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
		Role:      in.Role,
		CreatedAt: e.now(),
	}
	err := e.graph.Update(ctx, func(tx *Tx) error {
		if _, exists := tx.g.persons[id]; exists {
			return apperr.E(apperr.Conflict, op, "person %s already exists", id)
		}
		tx.putPerson(p)
		return nil
	})
	if err != nil {
		return Person{}, err
	}
	return p, nil
}

// PersonUpdate carries optional new values; nil fields are left unchanged. The role
// cannot change once a person exists.
type PersonUpdate struct {
	Name  *string
	Email *string
	Phone *string
}

// UpdatePerson changes display attributes of a person.
func (e *Engine) UpdatePerson(ctx context.Context, id string, upd PersonUpdate) (Person, error) {
	const op = "roster.UpdatePerson"
	var out Person
	err := e.graph.Update(ctx, func(tx *Tx) error {
		rec, ok := tx.g.persons[id]
		if !ok {
			return apperr.E(apperr.NotFound, op, "person %s not found", id)
		}
		p := rec.Person
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return apperr.E(apperr.Invalid, op, "name must not be empty")
			}
			p.Name = name
		}
		if upd.Email != nil {
			p.Email = strings.TrimSpace(*upd.Email)
		}
		if upd.Phone != nil {
			p.Phone = strings.TrimSpace(*upd.Phone)
		}
		tx.putPerson(p)
		out = p
		out.Courses = rec.courses.sorted()
		return nil
	})
	return out, err
}

// CourseInput describes a new course. ID is generated when empty.
type CourseInput struct {
	ID   string
	Name string
}

func validCourseName(op, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.E(apperr.Invalid, op, "course name is required")
	}
	if len([]rune(name)) > constants.MaxCourseNameLength {
		return "", apperr.E(apperr.Invalid, op, "course name must have at most %d characters", constants.MaxCourseNameLength)
	}
	return name, nil
}

// CreateCourse registers a course with empty member sets and no sessions.
func (e *Engine) CreateCourse(ctx context.Context, in CourseInput) (Course, error) {
	const op = "roster.CreateCourse"
	name, err := validCourseName(op, in.Name)
	if err != nil {
		return Course{}, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = e.newID()
	}

	c := Course{ID: id, Name: name, CreatedAt: e.now()}
	err = e.graph.Update(ctx, func(tx *Tx) error {
		if _, exists := tx.g.courses[id]; exists {
			return apperr.E(apperr.Conflict, op, "course %s already exists", id)
		}
		if _, exists := tx.g.courseNames[name]; exists {
			return apperr.E(apperr.Conflict, op, "course named %q already exists", name)
		}
		tx.putCourse(c)
		return nil
	})
	if err != nil {
		return Course{}, err
	}
	return c, nil
}

// RenameCourse changes the unique name of a course. Links and sessions refer to the
// course ID and are unaffected.
func (e *Engine) RenameCourse(ctx context.Context, courseID, newName string) (Course, error) {
	const op = "roster.RenameCourse"
	name, err := validCourseName(op, newName)
	if err != nil {
		return Course{}, err
	}
	var out Course
	err = e.graph.Update(ctx, func(tx *Tx) error {
		rec, ok := tx.g.courses[courseID]
		if !ok {
			return apperr.E(apperr.NotFound, op, "course %s not found", courseID)
		}
		if owner, exists := tx.g.courseNames[name]; exists && owner != courseID {
			return apperr.E(apperr.Conflict, op, "course named %q already exists", name)
		}
		out = rec.snapshot()
		out.Name = name
		tx.putCourse(out)
		return nil
	})
	return out, err
}

// Enroll links a person to a course in the membership set of the person's role.
// Enrolling an already enrolled person succeeds without changes.
func (e *Engine) Enroll(ctx context.Context, personID, courseID string) error {
	return e.graph.Update(ctx, func(tx *Tx) error {
		return tx.LinkPersonCourse(personID, courseID)
	})
}

// Unenroll removes an existing link. Fails with NotEnrolled when there is none.
func (e *Engine) Unenroll(ctx context.Context, personID, courseID string) error {
	return e.graph.Update(ctx, func(tx *Tx) error {
		return tx.UnlinkPersonCourse(personID, courseID)
	})
}

// DeletePerson removes a person, their memberships in every course and their attendance
// entries in every session. The cascade follows the person's back-reference indexes.
func (e *Engine) DeletePerson(ctx context.Context, personID string) error {
	const op = "roster.DeletePerson"
	var links, entries int
	err := e.graph.Update(ctx, func(tx *Tx) error {
		rec, ok := tx.g.persons[personID]
		if !ok {
			return apperr.E(apperr.NotFound, op, "person %s not found", personID)
		}
		for _, cid := range rec.courses.sorted() {
			tx.record(Change{Op: OpUnlink, PersonID: personID, CourseID: cid, Role: rec.Role})
		}
		for _, sid := range rec.attended.sorted() {
			tx.record(Change{Op: OpRemoveAttendance, SessionID: sid, PersonID: personID})
		}
		tx.record(Change{Op: OpDeletePerson, PersonID: personID})
		links, entries = len(rec.courses), len(rec.attended)
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Infof("deleted person %s: removed %d course links, %d attendance entries", personID, links, entries)
	return nil
}

// DeleteCourse removes a course, unlinks every member and deletes every session it owns.
func (e *Engine) DeleteCourse(ctx context.Context, courseID string) error {
	const op = "roster.DeleteCourse"
	var links, sessions int
	err := e.graph.Update(ctx, func(tx *Tx) error {
		rec, ok := tx.g.courses[courseID]
		if !ok {
			return apperr.E(apperr.NotFound, op, "course %s not found", courseID)
		}
		for _, role := range Roles {
			for _, pid := range rec.members[role].sorted() {
				tx.record(Change{Op: OpUnlink, PersonID: pid, CourseID: courseID, Role: role})
				links++
			}
		}
		for _, sid := range slices.Concat(rec.lectures, rec.sections) {
			tx.record(Change{Op: OpRemoveSession, SessionID: sid})
			sessions++
		}
		tx.record(Change{Op: OpDeleteCourse, CourseID: courseID})
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Infof("deleted course %s: removed %d member links, %d sessions", courseID, links, sessions)
	return nil
}

// checkStaff reports whether actorID may run sessions of kind in courseID. Callers hold
// the graph lock.
func (g *Graph) checkStaff(op, actorID, courseID string, kind SessionKind) error {
	if _, ok := g.courses[courseID]; !ok {
		return apperr.E(apperr.NotFound, op, "course %s not found", courseID)
	}
	actor, ok := g.persons[actorID]
	if !ok {
		return apperr.E(apperr.NotFound, op, "person %s not found", actorID)
	}
	if _, enrolled := actor.courses[courseID]; !enrolled {
		return apperr.E(apperr.NotEnrolled, op, "person %s is not enrolled in course %s", actorID, courseID)
	}
	if want := kind.StaffRole(); actor.Role != want {
		return apperr.E(apperr.InvalidRole, op, "only a %s can manage %ss, %s is a %s", want, kind, actorID, actor.Role)
	}
	return nil
}

// AuthorizeStaff checks that actorID runs sessions of kind in courseID: the actor must be
// enrolled in the course as its professor (lectures) or TA (sections).
func (e *Engine) AuthorizeStaff(actorID, courseID string, kind SessionKind) error {
	const op = "roster.AuthorizeStaff"
	if !kind.Valid() {
		return apperr.E(apperr.Invalid, op, "unknown session kind %q", kind)
	}
	e.graph.mu.RLock()
	defer e.graph.mu.RUnlock()
	return e.graph.checkStaff(op, actorID, courseID, kind)
}

// CreateSession adds the next lecture or section to a course. The actor must be enrolled
// in the course with the kind's staff role (see AuthorizeStaff). The name is "<Kind> <n+1>" where n is the number of sessions of that kind
// the course currently has; if that name is still taken by an older session the number is
// increased until it is free.
func (e *Engine) CreateSession(ctx context.Context, actorID, courseID string, kind SessionKind) (Session, error) {
	const op = "roster.CreateSession"
	if !kind.Valid() {
		return Session{}, apperr.E(apperr.Invalid, op, "unknown session kind %q", kind)
	}
	var out Session
	err := e.graph.Update(ctx, func(tx *Tx) error {
		if err := tx.g.checkStaff(op, actorID, courseID, kind); err != nil {
			return err
		}
		course := tx.g.courses[courseID]

		n := len(*course.sessionList(kind)) + 1
		name := sessionName(kind, n)
		for {
			if _, taken := tx.g.sessionNames[sessionKey{courseID, name}]; !taken {
				break
			}
			n++
			name = sessionName(kind, n)
		}

		out = Session{ID: e.newID(), CourseID: courseID, Kind: kind, Name: name, CreatedAt: e.now()}
		return tx.AddSession(out)
	})
	if err != nil {
		return Session{}, err
	}
	return out, nil
}

// DeleteSession removes a session owned by the given course.
func (e *Engine) DeleteSession(ctx context.Context, courseID, sessionID string) error {
	const op = "roster.DeleteSession"
	return e.graph.Update(ctx, func(tx *Tx) error {
		if _, ok := tx.g.courses[courseID]; !ok {
			return apperr.E(apperr.NotFound, op, "course %s not found", courseID)
		}
		s, ok := tx.g.sessions[sessionID]
		if !ok || s.CourseID != courseID {
			return apperr.E(apperr.NotFound, op, "course %s has no session %s", courseID, sessionID)
		}
		return tx.RemoveSession(sessionID)
	})
}

// MarkAttendance records a student as present in a session, at most once per person.
// An empty personName defaults to the person's current name.
func (e *Engine) MarkAttendance(ctx context.Context, sessionID, personID, personName string) (AttendanceEntry, error) {
	const op = "roster.MarkAttendance"
	var entry AttendanceEntry
	err := e.graph.Update(ctx, func(tx *Tx) error {
		s, ok := tx.g.sessions[sessionID]
		if !ok {
			return apperr.E(apperr.NotFound, op, "session %s not found", sessionID)
		}
		p, ok := tx.g.persons[personID]
		if !ok {
			return apperr.E(apperr.NotFound, op, "person %s not found", personID)
		}
		if _, marked := s.byID[personID]; marked {
			return apperr.E(apperr.AlreadyMarked, op, "%s is already marked in %s", personID, s.Name)
		}
		if _, enrolled := p.courses[s.CourseID]; !enrolled {
			return apperr.E(apperr.NotEnrolled, op, "person %s is not enrolled in course %s", personID, s.CourseID)
		}
		if p.Role != RoleStudent {
			return apperr.E(apperr.InvalidRole, op, "attendance is recorded for students only, %s is a %s", personID, p.Role)
		}

		name := strings.TrimSpace(personName)
		if name == "" {
			name = p.Name
		}
		entry = AttendanceEntry{PersonID: personID, PersonName: name, MarkedAt: e.now()}
		tx.record(Change{Op: OpAddAttendance, SessionID: sessionID, Entry: &entry})
		return nil
	})
	if err != nil {
		return AttendanceEntry{}, err
	}
	return entry, nil
}
