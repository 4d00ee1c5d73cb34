package roster

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/apperr"
)

func sampleSnapshot() *Snapshot {
	t0 := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	return &Snapshot{
		Persons: []Person{
			{ID: "p1", Name: "Prof", Role: RoleProfessor},
			{ID: "s1", Name: "Alice", Role: RoleStudent},
			{ID: "s2", Name: "Bob", Role: RoleStudent},
		},
		Courses: []Course{
			{ID: "c1", Name: "Algorithms", Students: []string{"s1", "s2"}, Professors: []string{"p1"}},
		},
		Sessions: []Session{
			{ID: "l2", CourseID: "c1", Kind: KindLecture, Name: "Lecture 2", CreatedAt: t0.Add(time.Hour)},
			{ID: "l1", CourseID: "c1", Kind: KindLecture, Name: "Lecture 1", CreatedAt: t0,
				Attendance: []AttendanceEntry{{PersonID: "s1", PersonName: "Alice", MarkedAt: t0}}},
		},
	}
}

func TestGraphLoad(t *testing.T) {
	g := NewGraph(&recordingStore{snap: sampleSnapshot()})
	if err := g.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertInvariants(t, g)

	alice, err := g.PersonByID("s1")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(alice.Courses, []string{"c1"}) {
		t.Errorf("alice courses = %v, want [c1]", alice.Courses)
	}
	c, _ := g.CourseByName("Algorithms")
	if !slices.Equal(c.Lectures, []string{"l1", "l2"}) {
		t.Errorf("lectures = %v, want creation order [l1 l2]", c.Lectures)
	}
	s, err := g.SessionByName("c1", "Lecture 1")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Attendance) != 1 || !g.HasAttendance("l1", "s1") || g.HasAttendance("l1", "s2") {
		t.Errorf("attendance not restored: %+v", s.Attendance)
	}

	want := Stats{Persons: 3, Courses: 1, Sessions: 2, Links: 3, Entries: 1}
	if got := g.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestGraphLoadRejectsInconsistentSnapshot(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
		want   string
	}{
		{"unknown member", func(s *Snapshot) { s.Courses[0].Students = append(s.Courses[0].Students, "ghost") }, "unknown person"},
		{"wrong role set", func(s *Snapshot) { s.Courses[0].TAs = []string{"s1"} }, "as ta"},
		{"orphan session", func(s *Snapshot) { s.Sessions[0].CourseID = "c9" }, "unknown course"},
		{"duplicate session name", func(s *Snapshot) { s.Sessions[0].Name = "Lecture 1" }, "duplicate session name"},
		{"duplicate course name", func(s *Snapshot) {
			s.Courses = append(s.Courses, Course{ID: "c2", Name: "Algorithms"})
		}, "duplicate course name"},
		{"attendance for unknown person", func(s *Snapshot) {
			s.Sessions[1].Attendance = append(s.Sessions[1].Attendance, AttendanceEntry{PersonID: "ghost"})
		}, "unknown person"},
		{"unknown role", func(s *Snapshot) { s.Persons[0].Role = "admin" }, "unknown role"},
		{"duplicate person", func(s *Snapshot) {
			s.Persons = append(s.Persons, Person{ID: "s1", Name: "Alice again", Role: RoleStudent})
		}, "duplicate person"},
		{"unknown session kind", func(s *Snapshot) { s.Sessions[0].Kind = "seminar" }, "unknown kind"},
		{"duplicate attendance", func(s *Snapshot) {
			s.Sessions[1].Attendance = append(s.Sessions[1].Attendance, AttendanceEntry{PersonID: "s1"})
		}, "duplicate attendance"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := sampleSnapshot()
			tc.mutate(snap)
			g := NewGraph(&recordingStore{snap: snap})
			err := g.Load(context.Background())
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want containing %q", err, tc.want)
			}
			if st := g.Stats(); st != (Stats{}) {
				t.Errorf("rejected snapshot left state behind: %+v", st)
			}
		})
	}
}

func TestGraphLoadStoreError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	g := NewGraph(&recordingStore{loadErr: cause})
	err := g.Load(context.Background())
	if apperr.KindOf(err) != apperr.Internal || !errors.Is(err, cause) {
		t.Errorf("Load() = %v, want internal wrapping cause", err)
	}
}

func TestGraphLoadWithoutStore(t *testing.T) {
	g := NewGraph(nil)
	if err := g.Load(context.Background()); err != nil {
		t.Errorf("Load() without store = %v", err)
	}
}

func TestTxLinkIsIdempotent(t *testing.T) {
	g := NewGraph(&recordingStore{snap: sampleSnapshot()})
	if err := g.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := g.Update(context.Background(), func(tx *Tx) error {
		if err := tx.LinkPersonCourse("s1", "c1"); err != nil {
			return err
		}
		if n := len(tx.Changes()); n != 0 {
			t.Errorf("linking a linked pair recorded %d changes", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestUpdateErrorDiscardsChanges(t *testing.T) {
	g := NewGraph(&recordingStore{snap: sampleSnapshot()})
	if err := g.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := g.Stats()
	boom := errors.New("boom")
	err := g.Update(context.Background(), func(tx *Tx) error {
		if err := tx.UnlinkPersonCourse("s2", "c1"); err != nil {
			return err
		}
		if err := tx.RemoveSession("l1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() = %v, want boom", err)
	}
	if after := g.Stats(); after != before {
		t.Errorf("aborted transaction changed graph: %+v -> %+v", before, after)
	}
}

func TestTxPrimitiveErrors(t *testing.T) {
	g := NewGraph(&recordingStore{snap: sampleSnapshot()})
	if err := g.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := g.Update(context.Background(), func(tx *Tx) error {
		tx.putPerson(Person{ID: "s3", Name: "Carol", Role: RoleStudent})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		fn   func(tx *Tx) error
		want apperr.Kind
	}{
		{"unlink not linked", func(tx *Tx) error { return tx.UnlinkPersonCourse("s3", "c1") }, apperr.NotEnrolled},
		{"unlink unknown course", func(tx *Tx) error { return tx.UnlinkPersonCourse("s1", "c9") }, apperr.NotFound},
		{"add session duplicate id", func(tx *Tx) error {
			return tx.AddSession(Session{ID: "l1", CourseID: "c1", Kind: KindLecture, Name: "Lecture 9"})
		}, apperr.Conflict},
		{"add session duplicate name", func(tx *Tx) error {
			return tx.AddSession(Session{ID: "l9", CourseID: "c1", Kind: KindLecture, Name: "Lecture 1"})
		}, apperr.Conflict},
		{"add session unknown course", func(tx *Tx) error {
			return tx.AddSession(Session{ID: "l9", CourseID: "c9", Kind: KindLecture, Name: "Lecture 1"})
		}, apperr.NotFound},
		{"remove unknown session", func(tx *Tx) error { return tx.RemoveSession("l9") }, apperr.NotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assertKind(t, g.Update(context.Background(), tc.fn), tc.want)
		})
	}
	assertInvariants(t, g)
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"student", RoleStudent, false},
		{" Professor ", RoleProfessor, false},
		{"TA", RoleTA, false},
		{"teaching-assistant", RoleTA, false},
		{"dean", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRole(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseRole(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseSessionKind(t *testing.T) {
	for in, want := range map[string]SessionKind{"lecture": KindLecture, "Lectures": KindLecture, "sections": KindSection} {
		got, err := ParseSessionKind(in)
		if err != nil || got != want {
			t.Errorf("ParseSessionKind(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseSessionKind("lab"); apperr.KindOf(err) != apperr.Invalid {
		t.Errorf("ParseSessionKind(lab) error = %v, want invalid", err)
	}
}

func TestResolveCourse(t *testing.T) {
	e := fixture(t)
	mustCourse(t, e, "math", "cs")
	g := e.Graph()

	tests := []struct {
		name   string
		ref    string
		wantID string
	}{
		{"id wins over another course's name", "cs", "cs"},
		{"by name", "Computer Science", "cs"},
		{"name is trimmed", "  Computer Science ", "cs"},
		{"second course by id", "math", "math"},
		{"unknown", "Physics", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := g.ResolveCourse(tt.ref)
			if tt.wantID == "" {
				assertKind(t, err, apperr.NotFound)
				return
			}
			if err != nil {
				t.Fatalf("ResolveCourse(%q): %v", tt.ref, err)
			}
			if c.ID != tt.wantID {
				t.Errorf("ResolveCourse(%q) = %s, want %s", tt.ref, c.ID, tt.wantID)
			}
		})
	}
}
