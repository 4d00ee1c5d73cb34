package roster

import (
	"context"
	"fmt"
)

// Op identifies a primitive roster write.
type Op int

const (
	OpPutPerson Op = iota + 1
	OpDeletePerson
	OpPutCourse
	OpDeleteCourse
	OpLink
	OpUnlink
	OpAddSession
	OpRemoveSession
	OpAddAttendance
	OpRemoveAttendance
)

var opNames = map[Op]string{
	OpPutPerson:        "put_person",
	OpDeletePerson:     "delete_person",
	OpPutCourse:        "put_course",
	OpDeleteCourse:     "delete_course",
	OpLink:             "link",
	OpUnlink:           "unlink",
	OpAddSession:       "add_session",
	OpRemoveSession:    "remove_session",
	OpAddAttendance:    "add_attendance",
	OpRemoveAttendance: "remove_attendance",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Change is one primitive write produced by a committed mutation. Which fields are set
// depends on Op:
//
//	OpPutPerson        Person (record fields only, Courses ignored)
//	OpDeletePerson     PersonID
//	OpPutCourse        Course (ID, Name, CreatedAt)
//	OpDeleteCourse     CourseID
//	OpLink, OpUnlink   PersonID, CourseID, Role
//	OpAddSession       Session (without attendance)
//	OpRemoveSession    SessionID
//	OpAddAttendance    SessionID, Entry
//	OpRemoveAttendance SessionID, PersonID
//
// Changes of one mutation are ordered so that dependents are removed before their owner.
type Change struct {
	Op        Op
	Person    *Person
	Course    *Course
	Session   *Session
	Entry     *AttendanceEntry
	PersonID  string
	CourseID  string
	SessionID string
	Role      Role
}

// Store persists roster changes. Apply must be all-or-nothing: either every change of
// the batch is durable or none is.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Apply(ctx context.Context, changes []Change) error
}
