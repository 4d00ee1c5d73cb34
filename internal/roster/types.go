package roster

import (
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/rollcall/internal/apperr"
)

// Role determines which membership set of a course a person belongs to.
type Role string

const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
	RoleTA        Role = "ta"
)

// Roles lists every role in a fixed order.
var Roles = []Role{RoleStudent, RoleProfessor, RoleTA}

// ParseRole accepts the canonical names plus the "TA" and "teaching-assistant" spellings.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return RoleStudent, nil
	case "professor":
		return RoleProfessor, nil
	case "ta", "teaching-assistant", "teaching_assistant":
		return RoleTA, nil
	}
	return "", apperr.E(apperr.Invalid, "roster.ParseRole", "unknown role %q", s)
}

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleProfessor || r == RoleTA
}

// SessionKind distinguishes lectures from sections.
type SessionKind string

const (
	KindLecture SessionKind = "lecture"
	KindSection SessionKind = "section"
)

// ParseSessionKind accepts singular and plural forms ("lecture", "lectures").
func ParseSessionKind(s string) (SessionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lecture", "lectures":
		return KindLecture, nil
	case "section", "sections":
		return KindSection, nil
	}
	return "", apperr.E(apperr.Invalid, "roster.ParseSessionKind", "unknown session kind %q", s)
}

// Valid reports whether k is a known session kind.
func (k SessionKind) Valid() bool {
	return k == KindLecture || k == KindSection
}

// StaffRole is the role that runs sessions of this kind: professors hold lectures,
// teaching assistants hold sections.
func (k SessionKind) StaffRole() Role {
	if k == KindSection {
		return RoleTA
	}
	return RoleProfessor
}

// Title is the display prefix used for generated session names.
func (k SessionKind) Title() string {
	switch k {
	case KindLecture:
		return "Lecture"
	case KindSection:
		return "Section"
	}
	return string(k)
}

// sessionName builds the display name of the n-th session of a kind.
func sessionName(kind SessionKind, n int) string {
	return fmt.Sprintf("%s %d", kind.Title(), n)
}

// Person is a snapshot of a user record. Courses holds course IDs in ascending order.
type Person struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Role      Role
	Courses   []string
	CreatedAt time.Time
}

// Course is a snapshot of a course record. Member sets are sorted by person ID; Lectures
// and Sections hold session IDs in creation order.
type Course struct {
	ID         string
	Name       string
	Students   []string
	Professors []string
	TAs        []string
	Lectures   []string
	Sections   []string
	CreatedAt  time.Time
}

// Members returns the membership set for a role.
func (c *Course) Members(role Role) []string {
	switch role {
	case RoleStudent:
		return c.Students
	case RoleProfessor:
		return c.Professors
	case RoleTA:
		return c.TAs
	}
	return nil
}

// Session is a lecture or section owned by exactly one course.
type Session struct {
	ID         string
	CourseID   string
	Kind       SessionKind
	Name       string
	CreatedAt  time.Time
	Attendance []AttendanceEntry
}

// AttendanceEntry records one present person. Entries are unique by PersonID;
// PersonName is display only.
type AttendanceEntry struct {
	PersonID   string
	PersonName string
	MarkedAt   time.Time
}

// Snapshot is the full persisted roster used to hydrate a Graph.
type Snapshot struct {
	Persons  []Person
	Courses  []Course
	Sessions []Session
}
