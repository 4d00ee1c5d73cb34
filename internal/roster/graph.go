package roster

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/kozaktomas/rollcall/internal/apperr"
)

type set map[string]struct{}

func (s set) sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

type personRecord struct {
	Person
	courses  set // course IDs the person is linked to
	attended set // session IDs holding an attendance entry for the person
}

type courseRecord struct {
	Course
	members  map[Role]set
	lectures []string
	sections []string
}

func (c *courseRecord) sessionList(kind SessionKind) *[]string {
	if kind == KindSection {
		return &c.sections
	}
	return &c.lectures
}

type sessionRecord struct {
	Session
	entries []AttendanceEntry
	byID    map[string]int // person ID -> index into entries
}

type sessionKey struct {
	courseID string
	name     string
}

// Graph holds persons, courses and sessions together with the back-reference indexes
// (person -> courses, person -> attended sessions, course -> sessions) that keep cascades
// proportional to the number of links. All access goes through a single RWMutex: reads
// share it, every mutation holds it exclusively from validation to commit.
type Graph struct {
	mu           sync.RWMutex
	store        Store
	persons      map[string]*personRecord
	courses      map[string]*courseRecord
	courseNames  map[string]string
	sessions     map[string]*sessionRecord
	sessionNames map[sessionKey]string
}

// NewGraph creates an empty graph writing through to store. A nil store keeps the
// graph purely in memory.
func NewGraph(store Store) *Graph {
	return &Graph{
		store:        store,
		persons:      make(map[string]*personRecord),
		courses:      make(map[string]*courseRecord),
		courseNames:  make(map[string]string),
		sessions:     make(map[string]*sessionRecord),
		sessionNames: make(map[sessionKey]string),
	}
}

// Load replaces the in-memory state with the store's snapshot. Links are rebuilt from the
// course membership sets; a snapshot that violates the roster invariants is rejected.
func (g *Graph) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	snap, err := g.store.Load(ctx)
	if err != nil {
		return classify("roster.Load", err)
	}

	fresh := NewGraph(g.store)
	if err := fresh.hydrate(snap); err != nil {
		return apperr.Wrap(apperr.Internal, "roster.Load", err)
	}
	if err := fresh.checkInvariants(); err != nil {
		return apperr.Wrap(apperr.Internal, "roster.Load", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.persons = fresh.persons
	g.courses = fresh.courses
	g.courseNames = fresh.courseNames
	g.sessions = fresh.sessions
	g.sessionNames = fresh.sessionNames
	return nil
}

func (g *Graph) hydrate(snap *Snapshot) error {
	for i := range snap.Persons {
		p := snap.Persons[i]
		if !p.Role.Valid() {
			return fmt.Errorf("person %s has unknown role %q", p.ID, p.Role)
		}
		if _, dup := g.persons[p.ID]; dup {
			return fmt.Errorf("duplicate person %s", p.ID)
		}
		g.apply(Change{Op: OpPutPerson, Person: &p})
	}
	for i := range snap.Courses {
		c := snap.Courses[i]
		if _, dup := g.courseNames[c.Name]; dup {
			return fmt.Errorf("duplicate course name %q", c.Name)
		}
		g.apply(Change{Op: OpPutCourse, Course: &c})
		for _, role := range Roles {
			for _, pid := range c.Members(role) {
				p, ok := g.persons[pid]
				if !ok {
					return fmt.Errorf("course %s lists unknown person %s", c.ID, pid)
				}
				if p.Role != role {
					return fmt.Errorf("course %s lists %s %s as %s", c.ID, p.Role, pid, role)
				}
				g.apply(Change{Op: OpLink, PersonID: pid, CourseID: c.ID, Role: role})
			}
		}
	}

	// Sessions are added in creation order so per-course lists come out ordered.
	sessions := slices.Clone(snap.Sessions)
	slices.SortStableFunc(sessions, func(a, b Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	for i := range sessions {
		s := sessions[i]
		if !s.Kind.Valid() {
			return fmt.Errorf("session %s has unknown kind %q", s.ID, s.Kind)
		}
		if _, ok := g.courses[s.CourseID]; !ok {
			return fmt.Errorf("session %s belongs to unknown course %s", s.ID, s.CourseID)
		}
		if _, dup := g.sessionNames[sessionKey{s.CourseID, s.Name}]; dup {
			return fmt.Errorf("duplicate session name %q in course %s", s.Name, s.CourseID)
		}
		g.apply(Change{Op: OpAddSession, Session: &s})
		for j := range s.Attendance {
			e := s.Attendance[j]
			if _, ok := g.persons[e.PersonID]; !ok {
				return fmt.Errorf("session %s has attendance for unknown person %s", s.ID, e.PersonID)
			}
			if _, dup := g.sessions[s.ID].byID[e.PersonID]; dup {
				return fmt.Errorf("session %s has duplicate attendance for %s", s.ID, e.PersonID)
			}
			g.apply(Change{Op: OpAddAttendance, SessionID: s.ID, Entry: &e})
		}
	}
	return nil
}

// Tx collects the primitive writes of one mutation. Reads made through the transaction
// observe the state as it was when the transaction started; nothing is visible to other
// readers until commit.
type Tx struct {
	g       *Graph
	changes []Change
}

// Update runs fn under the exclusive lock. When fn succeeds the collected changes are
// persisted through the store and then applied in memory; any failure, including a
// canceled context, leaves both untouched.
func (g *Graph) Update(ctx context.Context, fn func(tx *Tx) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx := &Tx{g: g}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.changes) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.Internal, "roster.Update", err)
	}
	if g.store != nil {
		if err := g.store.Apply(ctx, tx.changes); err != nil {
			return classify("roster.Update", err)
		}
	}
	for _, c := range tx.changes {
		g.apply(c)
	}
	return nil
}

func (tx *Tx) record(c Change) {
	tx.changes = append(tx.changes, c)
}

// Changes returns the writes collected so far.
func (tx *Tx) Changes() []Change {
	return tx.changes
}

// LinkPersonCourse adds the person to the course membership set matching their role and
// the course to the person's course set. Linking an already linked pair is a no-op.
func (tx *Tx) LinkPersonCourse(personID, courseID string) error {
	const op = "roster.LinkPersonCourse"
	p, ok := tx.g.persons[personID]
	if !ok {
		return apperr.E(apperr.NotFound, op, "person %s not found", personID)
	}
	if _, ok := tx.g.courses[courseID]; !ok {
		return apperr.E(apperr.NotFound, op, "course %s not found", courseID)
	}
	if _, linked := p.courses[courseID]; linked {
		return nil
	}
	tx.record(Change{Op: OpLink, PersonID: personID, CourseID: courseID, Role: p.Role})
	return nil
}

// UnlinkPersonCourse removes both sides of an existing link.
func (tx *Tx) UnlinkPersonCourse(personID, courseID string) error {
	const op = "roster.UnlinkPersonCourse"
	p, ok := tx.g.persons[personID]
	if !ok {
		return apperr.E(apperr.NotFound, op, "person %s not found", personID)
	}
	if _, ok := tx.g.courses[courseID]; !ok {
		return apperr.E(apperr.NotFound, op, "course %s not found", courseID)
	}
	if _, linked := p.courses[courseID]; !linked {
		return apperr.E(apperr.NotEnrolled, op, "person %s is not enrolled in course %s", personID, courseID)
	}
	tx.record(Change{Op: OpUnlink, PersonID: personID, CourseID: courseID, Role: p.Role})
	return nil
}

// AddSession registers a session under its course. Names are unique within a course.
func (tx *Tx) AddSession(s Session) error {
	const op = "roster.AddSession"
	if _, ok := tx.g.courses[s.CourseID]; !ok {
		return apperr.E(apperr.NotFound, op, "course %s not found", s.CourseID)
	}
	if _, ok := tx.g.sessions[s.ID]; ok {
		return apperr.E(apperr.Conflict, op, "session %s already exists", s.ID)
	}
	if _, ok := tx.g.sessionNames[sessionKey{s.CourseID, s.Name}]; ok {
		return apperr.E(apperr.Conflict, op, "course %s already has a session named %q", s.CourseID, s.Name)
	}
	s.Attendance = nil
	tx.record(Change{Op: OpAddSession, Session: &s})
	return nil
}

// RemoveSession deletes a session and its attendance.
func (tx *Tx) RemoveSession(sessionID string) error {
	if _, ok := tx.g.sessions[sessionID]; !ok {
		return apperr.E(apperr.NotFound, "roster.RemoveSession", "session %s not found", sessionID)
	}
	tx.record(Change{Op: OpRemoveSession, SessionID: sessionID})
	return nil
}

func (tx *Tx) putPerson(p Person) {
	p.Courses = nil
	tx.record(Change{Op: OpPutPerson, Person: &p})
}

func (tx *Tx) putCourse(c Course) {
	c.Students, c.Professors, c.TAs, c.Lectures, c.Sections = nil, nil, nil, nil, nil
	tx.record(Change{Op: OpPutCourse, Course: &c})
}

// apply mutates the in-memory state for one committed change.
func (g *Graph) apply(c Change) {
	switch c.Op {
	case OpPutPerson:
		if rec, ok := g.persons[c.Person.ID]; ok {
			rec.Name, rec.Email, rec.Phone = c.Person.Name, c.Person.Email, c.Person.Phone
			return
		}
		rec := &personRecord{Person: *c.Person, courses: set{}, attended: set{}}
		rec.Courses = nil
		g.persons[rec.ID] = rec

	case OpDeletePerson:
		delete(g.persons, c.PersonID)

	case OpPutCourse:
		if rec, ok := g.courses[c.Course.ID]; ok {
			delete(g.courseNames, rec.Name)
			rec.Name = c.Course.Name
			g.courseNames[rec.Name] = rec.ID
			return
		}
		rec := &courseRecord{
			Course:  Course{ID: c.Course.ID, Name: c.Course.Name, CreatedAt: c.Course.CreatedAt},
			members: map[Role]set{RoleStudent: {}, RoleProfessor: {}, RoleTA: {}},
		}
		g.courses[rec.ID] = rec
		g.courseNames[rec.Name] = rec.ID

	case OpDeleteCourse:
		if rec, ok := g.courses[c.CourseID]; ok {
			delete(g.courseNames, rec.Name)
			delete(g.courses, c.CourseID)
		}

	case OpLink:
		g.persons[c.PersonID].courses[c.CourseID] = struct{}{}
		g.courses[c.CourseID].members[c.Role][c.PersonID] = struct{}{}

	case OpUnlink:
		if p, ok := g.persons[c.PersonID]; ok {
			delete(p.courses, c.CourseID)
		}
		if course, ok := g.courses[c.CourseID]; ok {
			delete(course.members[c.Role], c.PersonID)
		}

	case OpAddSession:
		rec := &sessionRecord{Session: *c.Session, byID: make(map[string]int)}
		rec.Attendance = nil
		g.sessions[rec.ID] = rec
		g.sessionNames[sessionKey{rec.CourseID, rec.Name}] = rec.ID
		course := g.courses[rec.CourseID]
		list := course.sessionList(rec.Kind)
		*list = append(*list, rec.ID)

	case OpRemoveSession:
		rec, ok := g.sessions[c.SessionID]
		if !ok {
			return
		}
		for _, e := range rec.entries {
			if p, ok := g.persons[e.PersonID]; ok {
				delete(p.attended, rec.ID)
			}
		}
		if course, ok := g.courses[rec.CourseID]; ok {
			list := course.sessionList(rec.Kind)
			*list = slices.DeleteFunc(*list, func(id string) bool { return id == rec.ID })
		}
		delete(g.sessionNames, sessionKey{rec.CourseID, rec.Name})
		delete(g.sessions, rec.ID)

	case OpAddAttendance:
		rec := g.sessions[c.SessionID]
		rec.byID[c.Entry.PersonID] = len(rec.entries)
		rec.entries = append(rec.entries, *c.Entry)
		if p, ok := g.persons[c.Entry.PersonID]; ok {
			p.attended[rec.ID] = struct{}{}
		}

	case OpRemoveAttendance:
		rec, ok := g.sessions[c.SessionID]
		if !ok {
			return
		}
		if _, present := rec.byID[c.PersonID]; !present {
			return
		}
		rec.entries = slices.DeleteFunc(rec.entries, func(e AttendanceEntry) bool { return e.PersonID == c.PersonID })
		rec.byID = make(map[string]int, len(rec.entries))
		for i, e := range rec.entries {
			rec.byID[e.PersonID] = i
		}
		if p, ok := g.persons[c.PersonID]; ok {
			delete(p.attended, rec.ID)
		}
	}
}

// classify keeps classified store errors and marks everything else Internal.
func classify(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.Internal, op, err)
}
