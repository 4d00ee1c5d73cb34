package roster

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/rollcall/internal/apperr"
)

// SeedFile is the YAML layout accepted by LoadSeed:
//
//	courses:
//	  - id: cs50
//	    name: Introduction to Computer Science
//	persons:
//	  - id: s1
//	    name: Alice
//	    role: student
//	    courses: [cs50]
type SeedFile struct {
	Courses []SeedCourse `yaml:"courses"`
	Persons []SeedPerson `yaml:"persons"`
}

type SeedCourse struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type SeedPerson struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Email   string   `yaml:"email"`
	Phone   string   `yaml:"phone"`
	Role    string   `yaml:"role"`
	Courses []string `yaml:"courses"`
}

// SeedResult counts what ApplySeed created.
type SeedResult struct {
	Courses     int
	Persons     int
	Enrollments int
	Skipped     int
}

// ParseSeed decodes a seed document. Unknown fields are rejected.
func ParseSeed(r io.Reader) (*SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sf SeedFile
	if err := dec.Decode(&sf); err != nil {
		if err == io.EOF {
			return &sf, nil
		}
		return nil, apperr.Wrap(apperr.Invalid, "roster.ParseSeed", err)
	}
	return &sf, nil
}

// LoadSeed reads and decodes a seed file from disk.
func LoadSeed(path string) (*SeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// ApplySeed creates the seeded courses and persons and enrolls each person in the listed
// courses. Courses may be referenced by ID or name. Records that already exist are
// skipped so a seed file can be applied repeatedly.
func (e *Engine) ApplySeed(ctx context.Context, sf *SeedFile) (SeedResult, error) {
	var res SeedResult
	for _, c := range sf.Courses {
		_, err := e.CreateCourse(ctx, CourseInput{ID: c.ID, Name: c.Name})
		switch {
		case err == nil:
			res.Courses++
		case apperr.KindOf(err) == apperr.Conflict:
			res.Skipped++
		default:
			return res, fmt.Errorf("seed course %q: %w", c.Name, err)
		}
	}

	for _, p := range sf.Persons {
		role, err := ParseRole(p.Role)
		if err != nil {
			return res, fmt.Errorf("seed person %q: %w", p.ID, err)
		}
		created, err := e.CreatePerson(ctx, PersonInput{ID: p.ID, Name: p.Name, Email: p.Email, Phone: p.Phone, Role: role})
		switch {
		case err == nil:
			res.Persons++
		case apperr.KindOf(err) == apperr.Conflict && p.ID != "":
			res.Skipped++
			created, err = e.graph.PersonByID(p.ID)
			if err != nil {
				return res, err
			}
		default:
			return res, fmt.Errorf("seed person %q: %w", p.ID, err)
		}

		for _, ref := range p.Courses {
			course, err := e.graph.ResolveCourse(ref)
			if err != nil {
				return res, fmt.Errorf("seed person %q: %w", p.ID, err)
			}
			if err := e.Enroll(ctx, created.ID, course.ID); err != nil {
				return res, fmt.Errorf("seed person %q: %w", p.ID, err)
			}
			res.Enrollments++
		}
	}
	return res, nil
}
