package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/rollcall/internal/apperr"
	"github.com/kozaktomas/rollcall/internal/roster"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCollectFaceImages(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bob", "b.PNG"))
	writeFile(t, filepath.Join(root, "alice", "side.jpg"))
	writeFile(t, filepath.Join(root, "alice", "front.jpeg"))
	writeFile(t, filepath.Join(root, "alice", "notes.txt"))
	writeFile(t, filepath.Join(root, "carol", "readme.md"))
	writeFile(t, filepath.Join(root, ".hidden", "x.jpg"))
	writeFile(t, filepath.Join(root, "stray.jpg"))

	got, err := collectFaceImages(root)
	if err != nil {
		t.Fatalf("collectFaceImages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d persons, want 2: %+v", len(got), got)
	}
	if got[0].PersonID != "alice" || got[1].PersonID != "bob" {
		t.Errorf("persons = %s, %s; want alice, bob", got[0].PersonID, got[1].PersonID)
	}
	wantAlice := []string{
		filepath.Join(root, "alice", "front.jpeg"),
		filepath.Join(root, "alice", "side.jpg"),
	}
	if len(got[0].Files) != 2 || got[0].Files[0] != wantAlice[0] || got[0].Files[1] != wantAlice[1] {
		t.Errorf("alice files = %v, want %v", got[0].Files, wantAlice)
	}
}

func TestCollectFaceImages_MissingDir(t *testing.T) {
	if _, err := collectFaceImages(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestResolveCourseAndFindSession(t *testing.T) {
	ctx := context.Background()
	engine := roster.NewEngine(roster.NewGraph(nil))
	mustDo := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}

	_, err := engine.CreateCourse(ctx, roster.CourseInput{ID: "cs", Name: "Computer Science"})
	mustDo(err)
	_, err = engine.CreateCourse(ctx, roster.CourseInput{ID: "math", Name: "Mathematics"})
	mustDo(err)
	_, err = engine.CreatePerson(ctx, roster.PersonInput{ID: "prof", Name: "Prof", Role: roster.RoleProfessor})
	mustDo(err)
	mustDo(engine.Enroll(ctx, "prof", "cs"))
	mustDo(engine.Enroll(ctx, "prof", "math"))
	lecture, err := engine.CreateSession(ctx, "prof", "cs", roster.KindLecture)
	mustDo(err)
	mathLecture, err := engine.CreateSession(ctx, "prof", "math", roster.KindLecture)
	mustDo(err)

	g := engine.Graph()

	tests := []struct {
		name       string
		course     string
		session    string
		wantCourse string
		wantID     string
		wantKind   apperr.Kind
	}{
		{"course by id, session by name", "cs", "Lecture 1", "cs", lecture.ID, 0},
		{"course by name, session by id", "Computer Science", lecture.ID, "cs", lecture.ID, 0},
		{"session of another course", "cs", mathLecture.ID, "cs", "", apperr.NotFound},
		{"unknown session", "cs", "Lecture 9", "cs", "", apperr.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := g.ResolveCourse(tt.course)
			if err != nil {
				t.Fatalf("ResolveCourse: %v", err)
			}
			if c.ID != tt.wantCourse {
				t.Fatalf("course = %s, want %s", c.ID, tt.wantCourse)
			}
			s, err := findSession(g, c.ID, tt.session)
			if tt.wantID == "" {
				if apperr.KindOf(err) != tt.wantKind {
					t.Fatalf("err = %v, want kind %v", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("findSession: %v", err)
			}
			if s.ID != tt.wantID {
				t.Errorf("session = %s, want %s", s.ID, tt.wantID)
			}
		})
	}

	if _, err := g.ResolveCourse("Physics"); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("unknown course err = %v, want NotFound", err)
	}
}
