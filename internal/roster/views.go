package roster

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/kozaktomas/rollcall/internal/apperr"
)

func (p *personRecord) snapshot() Person {
	out := p.Person
	out.Courses = p.courses.sorted()
	return out
}

func (c *courseRecord) snapshot() Course {
	out := c.Course
	out.Students = c.members[RoleStudent].sorted()
	out.Professors = c.members[RoleProfessor].sorted()
	out.TAs = c.members[RoleTA].sorted()
	out.Lectures = slices.Clone(c.lectures)
	out.Sections = slices.Clone(c.sections)
	return out
}

func (s *sessionRecord) snapshot() Session {
	out := s.Session
	out.Attendance = slices.Clone(s.entries)
	return out
}

// PersonByID returns a snapshot of a person.
func (g *Graph) PersonByID(id string) (Person, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.persons[id]
	if !ok {
		return Person{}, apperr.E(apperr.NotFound, "roster.PersonByID", "person %s not found", id)
	}
	return p.snapshot(), nil
}

// CourseByID returns a snapshot of a course.
func (g *Graph) CourseByID(id string) (Course, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.courses[id]
	if !ok {
		return Course{}, apperr.E(apperr.NotFound, "roster.CourseByID", "course %s not found", id)
	}
	return c.snapshot(), nil
}

// CourseByName resolves a course by its unique name.
func (g *Graph) CourseByName(name string) (Course, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.courseNames[strings.TrimSpace(name)]
	if !ok {
		return Course{}, apperr.E(apperr.NotFound, "roster.CourseByName", "no course named %q", name)
	}
	return g.courses[id].snapshot(), nil
}

// ResolveCourse finds a course by ID first and then by name.
func (g *Graph) ResolveCourse(ref string) (Course, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if c, ok := g.courses[ref]; ok {
		return c.snapshot(), nil
	}
	if id, ok := g.courseNames[strings.TrimSpace(ref)]; ok {
		return g.courses[id].snapshot(), nil
	}
	return Course{}, apperr.E(apperr.NotFound, "roster.ResolveCourse", "no course with ID or name %q", ref)
}

// SessionByID returns a snapshot of a session including its attendance.
func (g *Graph) SessionByID(id string) (Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[id]
	if !ok {
		return Session{}, apperr.E(apperr.NotFound, "roster.SessionByID", "session %s not found", id)
	}
	return s.snapshot(), nil
}

// SessionByName resolves a session by its display name within a course.
func (g *Graph) SessionByName(courseID, name string) (Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.sessionNames[sessionKey{courseID, name}]
	if !ok {
		return Session{}, apperr.E(apperr.NotFound, "roster.SessionByName", "course %s has no session named %q", courseID, name)
	}
	return g.sessions[id].snapshot(), nil
}

// Persons returns all persons ordered by ID.
func (g *Graph) Persons() []Person {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Person, 0, len(g.persons))
	for _, id := range slices.Sorted(maps.Keys(g.persons)) {
		out = append(out, g.persons[id].snapshot())
	}
	return out
}

// FindPersons returns persons whose name contains query, ignoring case, diacritics and
// dashes. An empty query returns everyone.
func (g *Graph) FindPersons(query string) []Person {
	needle := foldName(query)
	all := g.Persons()
	if needle == "" {
		return all
	}
	return slices.DeleteFunc(all, func(p Person) bool {
		return !strings.Contains(foldName(p.Name), needle)
	})
}

// Courses returns all courses ordered by name.
func (g *Graph) Courses() []Course {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Course, 0, len(g.courses))
	for _, name := range slices.Sorted(maps.Keys(g.courseNames)) {
		out = append(out, g.courses[g.courseNames[name]].snapshot())
	}
	return out
}

// Sessions returns the sessions of one kind under a course, in creation order.
func (g *Graph) Sessions(courseID string, kind SessionKind) ([]Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.courses[courseID]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "roster.Sessions", "course %s not found", courseID)
	}
	ids := *c.sessionList(kind)
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.sessions[id].snapshot())
	}
	return out, nil
}

// EnrolledStudents returns the students of a course as persons, ordered by ID.
func (g *Graph) EnrolledStudents(courseID string) ([]Person, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.courses[courseID]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "roster.EnrolledStudents", "course %s not found", courseID)
	}
	out := make([]Person, 0, len(c.members[RoleStudent]))
	for _, id := range c.members[RoleStudent].sorted() {
		out = append(out, g.persons[id].snapshot())
	}
	return out, nil
}

// HasAttendance reports whether the person already has an entry in the session.
func (g *Graph) HasAttendance(sessionID, personID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return false
	}
	_, present := s.byID[personID]
	return present
}

// Stats summarizes the graph size.
type Stats struct {
	Persons  int
	Courses  int
	Sessions int
	Links    int
	Entries  int
}

func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st := Stats{Persons: len(g.persons), Courses: len(g.courses), Sessions: len(g.sessions)}
	for _, p := range g.persons {
		st.Links += len(p.courses)
	}
	for _, s := range g.sessions {
		st.Entries += len(s.entries)
	}
	return st
}

// CheckInvariants verifies that every bidirectional relation and index agrees.
func (g *Graph) CheckInvariants() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.checkInvariants()
}

func (g *Graph) checkInvariants() error {
	for pid, p := range g.persons {
		for cid := range p.courses {
			c, ok := g.courses[cid]
			if !ok {
				return fmt.Errorf("person %s links missing course %s", pid, cid)
			}
			if _, ok := c.members[p.Role][pid]; !ok {
				return fmt.Errorf("person %s lists course %s but is not in its %s set", pid, cid, p.Role)
			}
		}
		for sid := range p.attended {
			s, ok := g.sessions[sid]
			if !ok {
				return fmt.Errorf("person %s indexed in missing session %s", pid, sid)
			}
			if _, ok := s.byID[pid]; !ok {
				return fmt.Errorf("person %s indexed in session %s without an entry", pid, sid)
			}
		}
	}

	for cid, c := range g.courses {
		if g.courseNames[c.Name] != cid {
			return fmt.Errorf("course %s name index mismatch", cid)
		}
		for role, members := range c.members {
			for pid := range members {
				p, ok := g.persons[pid]
				if !ok {
					return fmt.Errorf("course %s lists missing person %s", cid, pid)
				}
				if p.Role != role {
					return fmt.Errorf("course %s lists %s %s in its %s set", cid, p.Role, pid, role)
				}
				if _, ok := p.courses[cid]; !ok {
					return fmt.Errorf("course %s lists person %s who does not list it back", cid, pid)
				}
			}
		}
		for _, kind := range []SessionKind{KindLecture, KindSection} {
			for _, sid := range *c.sessionList(kind) {
				s, ok := g.sessions[sid]
				if !ok || s.CourseID != cid || s.Kind != kind {
					return fmt.Errorf("course %s lists %s %s that does not belong to it", cid, kind, sid)
				}
			}
		}
	}
	if len(g.courseNames) != len(g.courses) {
		return fmt.Errorf("course name index has %d entries for %d courses", len(g.courseNames), len(g.courses))
	}

	for sid, s := range g.sessions {
		c, ok := g.courses[s.CourseID]
		if !ok {
			return fmt.Errorf("session %s owned by missing course %s", sid, s.CourseID)
		}
		if !slices.Contains(*c.sessionList(s.Kind), sid) {
			return fmt.Errorf("session %s missing from course %s", sid, s.CourseID)
		}
		if g.sessionNames[sessionKey{s.CourseID, s.Name}] != sid {
			return fmt.Errorf("session %s name index mismatch", sid)
		}
		if len(s.byID) != len(s.entries) {
			return fmt.Errorf("session %s has duplicate attendance entries", sid)
		}
		for i, e := range s.entries {
			if s.byID[e.PersonID] != i {
				return fmt.Errorf("session %s attendance index mismatch for %s", sid, e.PersonID)
			}
			p, ok := g.persons[e.PersonID]
			if !ok {
				return fmt.Errorf("session %s references missing person %s", sid, e.PersonID)
			}
			if _, ok := p.attended[sid]; !ok {
				return fmt.Errorf("session %s entry for %s missing from person index", sid, e.PersonID)
			}
		}
	}
	if len(g.sessionNames) != len(g.sessions) {
		return fmt.Errorf("session name index has %d entries for %d sessions", len(g.sessionNames), len(g.sessions))
	}
	return nil
}
