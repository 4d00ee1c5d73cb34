package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/roster"
)

// RosterStore persists the roster graph. Load reads the complete roster; Apply writes the
// changes of one committed mutation in a single transaction.
type RosterStore struct {
	pool *Pool
}

// NewRosterStore creates a new PostgreSQL roster store
func NewRosterStore(pool *Pool) *RosterStore {
	return &RosterStore{pool: pool}
}

// Load reads every person, course, membership, session and attendance entry.
func (s *RosterStore) Load(ctx context.Context) (*roster.Snapshot, error) {
	snap := &roster.Snapshot{}

	persons, err := s.loadPersons(ctx)
	if err != nil {
		return nil, classify("postgres.Load", err)
	}
	snap.Persons = persons

	courses, err := s.loadCourses(ctx)
	if err != nil {
		return nil, classify("postgres.Load", err)
	}
	snap.Courses = courses

	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return nil, classify("postgres.Load", err)
	}
	snap.Sessions = sessions

	return snap, nil
}

func (s *RosterStore) loadPersons(ctx context.Context) ([]roster.Person, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email, phone, role, created_at
		FROM persons
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var persons []roster.Person
	for rows.Next() {
		var p roster.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Role, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

func (s *RosterStore) loadCourses(ctx context.Context) ([]roster.Course, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, created_at FROM courses ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []roster.Course
	index := make(map[string]int)
	for rows.Next() {
		var c roster.Course
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		index[c.ID] = len(courses)
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	rows.Close()

	members, err := s.pool.Query(ctx, "SELECT course_id, person_id, role FROM course_members ORDER BY course_id, person_id")
	if err != nil {
		return nil, err
	}
	defer members.Close()

	for members.Next() {
		var courseID, personID string
		var role roster.Role
		if err := members.Scan(&courseID, &personID, &role); err != nil {
			return nil, fmt.Errorf("scan course member: %w", err)
		}
		i, ok := index[courseID]
		if !ok {
			continue
		}
		c := &courses[i]
		switch role {
		case roster.RoleStudent:
			c.Students = append(c.Students, personID)
		case roster.RoleProfessor:
			c.Professors = append(c.Professors, personID)
		case roster.RoleTA:
			c.TAs = append(c.TAs, personID)
		default:
			return nil, fmt.Errorf("course %s member %s has unknown role %q", courseID, personID, role)
		}
	}
	if err := members.Err(); err != nil {
		return nil, fmt.Errorf("iterate course members: %w", err)
	}
	return courses, nil
}

func (s *RosterStore) loadSessions(ctx context.Context) ([]roster.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, course_id, kind, name, created_at
		FROM sessions
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []roster.Session
	index := make(map[string]int)
	for rows.Next() {
		var sess roster.Session
		if err := rows.Scan(&sess.ID, &sess.CourseID, &sess.Kind, &sess.Name, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		index[sess.ID] = len(sessions)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	rows.Close()

	entries, err := s.pool.Query(ctx, `
		SELECT session_id, person_id, person_name, marked_at
		FROM attendance
		ORDER BY marked_at, person_id
	`)
	if err != nil {
		return nil, err
	}
	defer entries.Close()

	for entries.Next() {
		var sessionID string
		var e roster.AttendanceEntry
		if err := entries.Scan(&sessionID, &e.PersonID, &e.PersonName, &e.MarkedAt); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		if i, ok := index[sessionID]; ok {
			sessions[i].Attendance = append(sessions[i].Attendance, e)
		}
	}
	if err := entries.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return sessions, nil
}

// Apply writes all changes in one transaction.
func (s *RosterStore) Apply(ctx context.Context, changes []roster.Change) error {
	const op = "postgres.Apply"
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback()

	for i, c := range changes {
		if err := applyChange(ctx, tx, c); err != nil {
			return classify(op, fmt.Errorf("change %d (%s): %w", i, c.Op, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(op, fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func applyChange(ctx context.Context, tx *sql.Tx, c roster.Change) error {
	var err error
	switch c.Op {
	case roster.OpPutPerson:
		p := c.Person
		_, err = tx.ExecContext(ctx, `
			INSERT INTO persons (id, name, email, phone, role, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				email = EXCLUDED.email,
				phone = EXCLUDED.phone
		`, p.ID, p.Name, p.Email, p.Phone, string(p.Role), p.CreatedAt)

	case roster.OpDeletePerson:
		_, err = tx.ExecContext(ctx, "DELETE FROM persons WHERE id = $1", c.PersonID)

	case roster.OpPutCourse:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO courses (id, name, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		`, c.Course.ID, c.Course.Name, c.Course.CreatedAt)

	case roster.OpDeleteCourse:
		_, err = tx.ExecContext(ctx, "DELETE FROM courses WHERE id = $1", c.CourseID)

	case roster.OpLink:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO course_members (course_id, person_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (course_id, person_id) DO NOTHING
		`, c.CourseID, c.PersonID, string(c.Role))

	case roster.OpUnlink:
		_, err = tx.ExecContext(ctx, "DELETE FROM course_members WHERE course_id = $1 AND person_id = $2", c.CourseID, c.PersonID)

	case roster.OpAddSession:
		sess := c.Session
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, course_id, kind, name, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, sess.ID, sess.CourseID, string(sess.Kind), sess.Name, sess.CreatedAt)

	case roster.OpRemoveSession:
		_, err = tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = $1", c.SessionID)

	case roster.OpAddAttendance:
		e := c.Entry
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attendance (session_id, person_id, person_name, marked_at)
			VALUES ($1, $2, $3, $4)
		`, c.SessionID, e.PersonID, e.PersonName, e.MarkedAt)

	case roster.OpRemoveAttendance:
		_, err = tx.ExecContext(ctx, "DELETE FROM attendance WHERE session_id = $1 AND person_id = $2", c.SessionID, c.PersonID)

	default:
		err = fmt.Errorf("unknown change op %s", c.Op)
	}
	return err
}
