package attendance

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/kozaktomas/rollcall/internal/apperr"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/faceembed"
	"github.com/kozaktomas/rollcall/internal/roster"
)

const dim = 4

type fakeExtractor struct {
	faces map[string][]float32
	err   error
	calls atomic.Int64
}

func (f *fakeExtractor) Extract(_ context.Context, image []byte) (*faceembed.Face, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.faces[string(image)]
	if !ok {
		return nil, nil
	}
	return &faceembed.Face{Embedding: v, DetScore: 0.99, Model: "fake"}, nil
}

func vec(vals ...float32) []float32 {
	out := make([]float32, dim)
	copy(out, vals)
	return out
}

type env struct {
	svc     *Service
	engine  *roster.Engine
	store   *mock.MockEmbeddingStore
	ext     *fakeExtractor
	session roster.Session
}

// newEnv builds course cs with professor prof and students alice and bob. alice has a sample
// at the origin, bob at (1,0,0,0); carol is enrolled but has no samples.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	engine := roster.NewEngine(roster.NewGraph(nil))

	if _, err := engine.CreateCourse(ctx, roster.CourseInput{ID: "cs", Name: "CS"}); err != nil {
		t.Fatal(err)
	}
	for _, p := range []roster.PersonInput{
		{ID: "prof", Name: "Prof", Role: roster.RoleProfessor},
		{ID: "alice", Name: "Alice", Role: roster.RoleStudent},
		{ID: "bob", Name: "Bob", Role: roster.RoleStudent},
		{ID: "carol", Name: "Carol", Role: roster.RoleStudent},
	} {
		if _, err := engine.CreatePerson(ctx, p); err != nil {
			t.Fatal(err)
		}
		if err := engine.Enroll(ctx, p.ID, "cs"); err != nil {
			t.Fatal(err)
		}
	}
	session, err := engine.CreateSession(ctx, "prof", "cs", roster.KindLecture)
	if err != nil {
		t.Fatal(err)
	}

	store := mock.NewMockEmbeddingStore(dim, 3)
	store.PersonExists = func(id string) bool {
		_, err := engine.Graph().PersonByID(id)
		return err == nil
	}
	store.AddEmbedding("alice", vec(0, 0, 0, 0))
	store.AddEmbedding("bob", vec(1, 0, 0, 0))

	ext := &fakeExtractor{faces: map[string][]float32{
		"alice.jpg":    vec(0.3, 0, 0, 0),
		"bob.jpg":      vec(1, 0.1, 0, 0),
		"stranger.jpg": vec(0, 0, 5, 0),
		"carol.jpg":    vec(0, 0, 0, 2),
	}}

	opts := DefaultOptions()
	opts.Dim = dim
	opts.Concurrency = 2
	return &env{
		svc:     NewService(engine, store, ext, opts),
		engine:  engine,
		store:   store,
		ext:     ext,
		session: session,
	}
}

func assertKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := apperr.KindOf(err); got != want {
		t.Fatalf("error kind = %s, want %s (%v)", got, want, err)
	}
}

func TestGallery(t *testing.T) {
	e := newEnv(t)
	gallery, err := e.svc.Gallery(context.Background(), "cs")
	if err != nil {
		t.Fatalf("Gallery: %v", err)
	}
	labels := gallery.Labels()
	if len(labels) != 2 || labels[0] != "alice" || labels[1] != "bob" {
		t.Errorf("labels = %v, want [alice bob] (professors and sample-less students excluded)", labels)
	}

	_, err = e.svc.Gallery(context.Background(), "nope")
	assertKind(t, err, apperr.NotFound)

	e.store.EmbeddingsForError = errors.New("connection refused")
	_, err = e.svc.Gallery(context.Background(), "cs")
	assertKind(t, err, apperr.Internal)
}

func TestIdentify(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id, err := e.svc.Identify(ctx, "cs", []byte("alice.jpg"))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if id.Person.ID != "alice" || id.Match.Distance < 0.299 || id.Match.Distance > 0.301 {
		t.Errorf("Identify() = %+v, want alice at 0.3", id)
	}

	_, err = e.svc.Identify(ctx, "cs", []byte("stranger.jpg"))
	assertKind(t, err, apperr.NoMatch)

	_, err = e.svc.Identify(ctx, "cs", []byte("blank.jpg"))
	assertKind(t, err, apperr.NoMatch)

	e.ext.err = errors.New("embedding server down")
	_, err = e.svc.Identify(ctx, "cs", []byte("alice.jpg"))
	assertKind(t, err, apperr.Internal)
}

func TestIdentifyEmptyGallerySkipsExtraction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.engine.CreateCourse(ctx, roster.CourseInput{ID: "math", Name: "Math"}); err != nil {
		t.Fatal(err)
	}
	if err := e.engine.Enroll(ctx, "carol", "math"); err != nil {
		t.Fatal(err)
	}

	_, err := e.svc.Identify(ctx, "math", []byte("carol.jpg"))
	assertKind(t, err, apperr.EmptyGallery)
	if n := e.ext.calls.Load(); n != 0 {
		t.Errorf("extractor called %d times for an empty gallery", n)
	}

	_, err = e.svc.IdentifyEmbedding(ctx, "math", vec())
	assertKind(t, err, apperr.EmptyGallery)
}

func TestRank(t *testing.T) {
	e := newEnv(t)
	ranked, err := e.svc.Rank(context.Background(), "cs", []byte("bob.jpg"), 5)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(ranked) != 2 || ranked[0].Label != "bob" || ranked[1].Label != "alice" {
		t.Errorf("Rank() = %v", ranked)
	}
	ranked, _ = e.svc.Rank(context.Background(), "cs", []byte("bob.jpg"), 1)
	if len(ranked) != 1 {
		t.Errorf("Rank(n=1) returned %d matches", len(ranked))
	}
}

func TestTakeAttendance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.TakeAttendance(ctx, e.session.ID, []byte("alice.jpg"))
	if err != nil {
		t.Fatalf("TakeAttendance: %v", err)
	}
	if res.Entry.PersonID != "alice" || res.Entry.PersonName != "Alice" || res.Match.Label != "alice" {
		t.Errorf("result = %+v", res)
	}

	_, err = e.svc.TakeAttendance(ctx, e.session.ID, []byte("alice.jpg"))
	assertKind(t, err, apperr.AlreadyMarked)

	_, err = e.svc.TakeAttendance(ctx, e.session.ID, []byte("stranger.jpg"))
	assertKind(t, err, apperr.NoMatch)

	_, err = e.svc.TakeAttendance(ctx, "missing", []byte("alice.jpg"))
	assertKind(t, err, apperr.NotFound)

	s, _ := e.engine.Graph().SessionByID(e.session.ID)
	if len(s.Attendance) != 1 {
		t.Errorf("attendance = %+v, want one entry", s.Attendance)
	}
}

func TestMarkByEmbeddingCanceledContext(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.svc.MarkByEmbedding(ctx, e.session.ID, vec(1, 0, 0, 0))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if e.engine.Graph().HasAttendance(e.session.ID, "bob") {
		t.Error("canceled request marked attendance")
	}
}

func TestMarkByEmbedding(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.MarkByEmbedding(context.Background(), e.session.ID, vec(1, 0, 0, 0))
	if err != nil {
		t.Fatalf("MarkByEmbedding: %v", err)
	}
	if res.Entry.PersonID != "bob" || res.Match.Distance != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestMalformedQueryEmbedding(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.ext.faces["nan.jpg"] = vec(float32(math.NaN()), 0, 0, 0)
	e.ext.faces["short.jpg"] = []float32{1, 0}

	tests := []struct {
		name string
		call func() error
	}{
		{"identify with NaN", func() error {
			_, err := e.svc.Identify(ctx, "cs", []byte("nan.jpg"))
			return err
		}},
		{"identify with wrong dimension", func() error {
			_, err := e.svc.Identify(ctx, "cs", []byte("short.jpg"))
			return err
		}},
		{"take attendance with NaN", func() error {
			_, err := e.svc.TakeAttendance(ctx, e.session.ID, []byte("nan.jpg"))
			return err
		}},
		{"rank with NaN", func() error {
			_, err := e.svc.Rank(ctx, "cs", []byte("nan.jpg"), 3)
			return err
		}},
		{"identify embedding with Inf", func() error {
			_, err := e.svc.IdentifyEmbedding(ctx, "cs", vec(float32(math.Inf(1)), 0, 0, 0))
			return err
		}},
		{"mark by embedding with Inf", func() error {
			_, err := e.svc.MarkByEmbedding(ctx, e.session.ID, vec(float32(math.Inf(-1)), 0, 0, 0))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertKind(t, tt.call(), apperr.Internal)
		})
	}

	s, err := e.engine.Graph().SessionByID(e.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Attendance) != 0 {
		t.Errorf("malformed embeddings marked attendance: %+v", s.Attendance)
	}
}

func TestEnrollFace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	stored, err := e.svc.EnrollFace(ctx, "carol", []byte("carol.jpg"))
	if err != nil {
		t.Fatalf("EnrollFace: %v", err)
	}
	if stored.PersonID != "carol" || stored.Seq != 0 || stored.Model != "fake" {
		t.Errorf("stored = %+v", stored)
	}
	samples, _ := e.svc.EmbeddingsFor(ctx, "carol")
	if len(samples) != 1 {
		t.Errorf("carol has %d samples, want 1", len(samples))
	}

	tests := []struct {
		name   string
		person string
		image  string
		want   apperr.Kind
	}{
		{"unknown person", "ghost", "carol.jpg", apperr.NotFound},
		{"no face", "carol", "blank.jpg", apperr.Invalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.EnrollFace(ctx, tc.person, []byte(tc.image))
			assertKind(t, err, tc.want)
		})
	}
}

func TestStoreEmbeddingCapAndDimension(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := range 2 {
		if _, err := e.svc.StoreEmbedding(ctx, "alice", vec(float32(i)+0.01), "m"); err != nil {
			t.Fatalf("StoreEmbedding %d: %v", i, err)
		}
	}
	_, err := e.svc.StoreEmbedding(ctx, "alice", vec(0.5), "m")
	assertKind(t, err, apperr.Conflict)

	_, err = e.svc.StoreEmbedding(ctx, "carol", []float32{1, 2}, "m")
	assertKind(t, err, apperr.Internal)
}

func TestLookalikeGuard(t *testing.T) {
	e := newEnv(t)
	e.svc.opts.LookalikeThreshold = 0.2
	ctx := context.Background()

	_, err := e.svc.StoreEmbedding(ctx, "carol", vec(0.1, 0, 0, 0), "m")
	assertKind(t, err, apperr.Conflict)

	if _, err := e.svc.StoreEmbedding(ctx, "alice", vec(0.1, 0, 0, 0), "m"); err != nil {
		t.Errorf("own samples must not trigger the guard: %v", err)
	}
	if _, err := e.svc.StoreEmbedding(ctx, "carol", vec(0, 0, 0, 2), "m"); err != nil {
		t.Errorf("distant sample rejected: %v", err)
	}
}

func TestReplaceFaces(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	stored, err := e.svc.ReplaceFaces(ctx, "alice", [][]byte{[]byte("carol.jpg"), []byte("stranger.jpg")})
	if err != nil {
		t.Fatalf("ReplaceFaces: %v", err)
	}
	if len(stored) != 2 || stored[0].Seq != 0 || stored[1].Seq != 1 {
		t.Errorf("stored = %+v", stored)
	}

	before, _ := e.svc.EmbeddingsFor(ctx, "alice")
	_, err = e.svc.ReplaceFaces(ctx, "alice", [][]byte{[]byte("carol.jpg"), []byte("blank.jpg")})
	assertKind(t, err, apperr.Invalid)
	after, _ := e.svc.EmbeddingsFor(ctx, "alice")
	if len(after) != len(before) {
		t.Errorf("failed replace changed samples: %d -> %d", len(before), len(after))
	}

	_, err = e.svc.ReplaceFaces(ctx, "alice", nil)
	assertKind(t, err, apperr.Invalid)
}

func TestDeletePersonRemovesSamples(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.svc.TakeAttendance(ctx, e.session.ID, []byte("bob.jpg")); err != nil {
		t.Fatal(err)
	}

	if err := e.svc.DeletePerson(ctx, "bob"); err != nil {
		t.Fatalf("DeletePerson: %v", err)
	}
	if n, _ := e.store.Count(ctx); n != 1 {
		t.Errorf("samples left = %d, want 1 (alice)", n)
	}
	if e.engine.Graph().HasAttendance(e.session.ID, "bob") {
		t.Error("attendance entry survived person deletion")
	}
	assertKind(t, e.svc.DeletePerson(ctx, "bob"), apperr.NotFound)
}
