package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/faceembed"
	"github.com/kozaktomas/rollcall/internal/roster"
	"github.com/kozaktomas/rollcall/internal/web/middleware"
)

const testDim = 4

// testExtractor maps image bytes to fixed embeddings; unknown images contain no face
type testExtractor map[string][]float32

func (e testExtractor) Extract(_ context.Context, image []byte) (*faceembed.Face, error) {
	v, ok := e[string(image)]
	if !ok {
		return nil, nil
	}
	return &faceembed.Face{Embedding: v, DetScore: 1, Model: "test"}, nil
}

type testEnv struct {
	config  *config.Config
	engine  *roster.Engine
	service *attendance.Service
	store   *mock.MockEmbeddingStore
	lecture roster.Session
}

// newTestEnv creates course "cs" (Computer Science) with professor prof and students
// alice and bob, one lecture, and a face sample for alice.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	engine := roster.NewEngine(roster.NewGraph(mock.NewMockRosterStore()))

	if _, err := engine.CreateCourse(ctx, roster.CourseInput{ID: "cs", Name: "Computer Science"}); err != nil {
		t.Fatal(err)
	}
	for _, p := range []roster.PersonInput{
		{ID: "prof", Name: "Prof", Role: roster.RoleProfessor},
		{ID: "alice", Name: "Alice", Role: roster.RoleStudent},
		{ID: "bob", Name: "Bob", Role: roster.RoleStudent},
	} {
		if _, err := engine.CreatePerson(ctx, p); err != nil {
			t.Fatal(err)
		}
		if err := engine.Enroll(ctx, p.ID, "cs"); err != nil {
			t.Fatal(err)
		}
	}
	lecture, err := engine.CreateSession(ctx, "prof", "cs", roster.KindLecture)
	if err != nil {
		t.Fatal(err)
	}

	store := mock.NewMockEmbeddingStore(testDim, 3)
	store.PersonExists = func(id string) bool {
		_, err := engine.Graph().PersonByID(id)
		return err == nil
	}
	store.AddEmbedding("alice", []float32{0, 0, 0, 0})

	cfg := &config.Config{
		Embedding: config.EmbeddingConfig{Dim: testDim},
		Match:     config.MatchConfig{Threshold: 0.6, MaxSamples: 3, Concurrency: 2},
	}
	opts := attendance.DefaultOptions()
	opts.Dim = testDim
	opts.Concurrency = 2
	ext := testExtractor{
		"alice.jpg": {0.1, 0, 0, 0},
		"bob.jpg":   {0, 3, 0, 0},
	}

	return &testEnv{
		config:  cfg,
		engine:  engine,
		service: attendance.NewService(engine, store, ext, opts),
		store:   store,
		lecture: lecture,
	}
}

// newRequest creates a request with an optional JSON or raw body
func newRequest(method, path, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return httptest.NewRequest(method, path, r)
}

// withActor sets the acting person
func withActor(r *http.Request, personID string) *http.Request {
	return r.WithContext(middleware.SetActorInContext(r.Context(), personID))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
