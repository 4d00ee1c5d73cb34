// Package attendance runs the recognition flow: build the gallery of a course's enrolled
// students, extract the face from an image, classify it and record the match in the
// session's attendance ledger. Everything before the final mark is read-only.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/rollcall/internal/apperr"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/faceembed"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/logger"
	"github.com/kozaktomas/rollcall/internal/roster"
)

// Options tunes matching and enrollment.
type Options struct {
	Threshold          float64 // maximum distance accepted as a match
	Dim                int     // expected embedding length
	LookalikeThreshold float64 // reject new samples this close to another person; 0 disables
	Concurrency        int     // parallel gallery loads
}

// DefaultOptions returns the stock matching parameters.
func DefaultOptions() Options {
	return Options{
		Threshold:   constants.DefaultMatchThreshold,
		Dim:         constants.FaceEmbeddingDim,
		Concurrency: constants.WorkerPoolSize,
	}
}

// Service wires the roster, the sample store, the extractor and the matcher together.
type Service struct {
	engine    *roster.Engine
	graph     *roster.Graph
	faces     database.EmbeddingWriter
	extractor faceembed.Extractor
	matcher   *facematch.Matcher
	opts      Options
	log       *logger.Logger
}

// NewService creates the attendance service.
func NewService(engine *roster.Engine, faces database.EmbeddingWriter, extractor faceembed.Extractor, opts Options) *Service {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Service{
		engine:    engine,
		graph:     engine.Graph(),
		faces:     faces,
		extractor: extractor,
		matcher:   facematch.NewMatcher(opts.Threshold, opts.Dim),
		opts:      opts,
		log:       logger.GetInstance(),
	}
}

// Matcher returns the matcher used for classification.
func (s *Service) Matcher() *facematch.Matcher {
	return s.matcher
}

// Gallery loads the samples of every student currently enrolled in the course. Students
// without samples are left out, so an empty result means matching cannot proceed.
func (s *Service) Gallery(ctx context.Context, courseID string) (facematch.Gallery, error) {
	students, err := s.graph.EnrolledStudents(courseID)
	if err != nil {
		return nil, err
	}

	gallery := make(facematch.Gallery, len(students))
	var mu sync.Mutex
	var firstErr error

	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup

	for _, student := range students {
		wg.Add(1)
		go func(personID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			samples, err := s.faces.EmbeddingsFor(ctx, personID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if len(samples) == 0 {
				return
			}
			vecs := make([][]float32, len(samples))
			for i := range samples {
				vecs[i] = samples[i].Embedding
			}
			gallery[personID] = vecs
		}(student.ID)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "attendance.Gallery", err)
	}
	if firstErr != nil {
		return nil, classify("attendance.Gallery", firstErr)
	}
	return gallery, nil
}

// Identification is a successful classification.
type Identification struct {
	Person roster.Person
	Match  facematch.Match
}

// extract returns the query embedding of an image. An image without a detectable face
// classifies as NoMatch; a malformed vector from the extractor is Internal.
func (s *Service) extract(ctx context.Context, op string, image []byte) (*faceembed.Face, error) {
	face, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return nil, classify(op, err)
	}
	if face == nil {
		return nil, apperr.E(apperr.NoMatch, op, "no face detected in image")
	}
	if err := database.ValidateEmbedding(op, face.Embedding, s.opts.Dim); err != nil {
		return nil, err
	}
	return face, nil
}

// Identify classifies the face in image against the course gallery without recording
// anything. The extractor is not called when the gallery is empty.
func (s *Service) Identify(ctx context.Context, courseID string, image []byte) (Identification, error) {
	const op = "attendance.Identify"
	gallery, err := s.nonEmptyGallery(ctx, op, courseID)
	if err != nil {
		return Identification{}, err
	}
	face, err := s.extract(ctx, op, image)
	if err != nil {
		return Identification{}, err
	}
	return s.classify(op, face.Embedding, gallery)
}

// IdentifyEmbedding classifies an already extracted embedding.
func (s *Service) IdentifyEmbedding(ctx context.Context, courseID string, embedding []float32) (Identification, error) {
	const op = "attendance.IdentifyEmbedding"
	gallery, err := s.nonEmptyGallery(ctx, op, courseID)
	if err != nil {
		return Identification{}, err
	}
	if err := database.ValidateEmbedding(op, embedding, s.opts.Dim); err != nil {
		return Identification{}, err
	}
	return s.classify(op, embedding, gallery)
}

// Rank returns up to n gallery labels ordered by distance to the face in image, for
// diagnosing near misses.
func (s *Service) Rank(ctx context.Context, courseID string, image []byte, n int) ([]facematch.Match, error) {
	const op = "attendance.Rank"
	gallery, err := s.nonEmptyGallery(ctx, op, courseID)
	if err != nil {
		return nil, err
	}
	face, err := s.extract(ctx, op, image)
	if err != nil {
		return nil, err
	}
	ranked, err := s.matcher.Rank(face.Embedding, gallery)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

func (s *Service) nonEmptyGallery(ctx context.Context, op, courseID string) (facematch.Gallery, error) {
	gallery, err := s.Gallery(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if len(gallery.Labels()) == 0 {
		return nil, apperr.E(apperr.EmptyGallery, op, "no enrolled student of course %s has stored samples", courseID)
	}
	return gallery, nil
}

func (s *Service) classify(op string, embedding []float32, gallery facematch.Gallery) (Identification, error) {
	match, err := s.matcher.Classify(embedding, gallery)
	if err != nil {
		if apperr.KindOf(err) == apperr.NoMatch {
			s.log.Debugf("%s: %v", op, err)
		}
		return Identification{}, err
	}
	person, err := s.graph.PersonByID(match.Label)
	if err != nil {
		// Unenrolled or deleted between gallery load and lookup.
		return Identification{}, apperr.E(apperr.NotEnrolled, op, "matched person %s is no longer enrolled", match.Label)
	}
	return Identification{Person: person, Match: match}, nil
}

// MarkResult describes a recorded attendance.
type MarkResult struct {
	SessionID string
	Entry     roster.AttendanceEntry
	Match     facematch.Match
}

// TakeAttendance recognizes the face in image and marks that student present in the
// session. A student already present fails with AlreadyMarked before any write; a
// canceled context aborts before the mark.
func (s *Service) TakeAttendance(ctx context.Context, sessionID string, image []byte) (MarkResult, error) {
	const op = "attendance.TakeAttendance"
	session, err := s.graph.SessionByID(sessionID)
	if err != nil {
		return MarkResult{}, err
	}
	gallery, err := s.nonEmptyGallery(ctx, op, session.CourseID)
	if err != nil {
		return MarkResult{}, err
	}
	face, err := s.extract(ctx, op, image)
	if err != nil {
		return MarkResult{}, err
	}
	id, err := s.classify(op, face.Embedding, gallery)
	if err != nil {
		return MarkResult{}, err
	}
	return s.mark(ctx, op, session, id)
}

// MarkByEmbedding is TakeAttendance for an already extracted embedding.
func (s *Service) MarkByEmbedding(ctx context.Context, sessionID string, embedding []float32) (MarkResult, error) {
	const op = "attendance.MarkByEmbedding"
	session, err := s.graph.SessionByID(sessionID)
	if err != nil {
		return MarkResult{}, err
	}
	gallery, err := s.nonEmptyGallery(ctx, op, session.CourseID)
	if err != nil {
		return MarkResult{}, err
	}
	if err := database.ValidateEmbedding(op, embedding, s.opts.Dim); err != nil {
		return MarkResult{}, err
	}
	id, err := s.classify(op, embedding, gallery)
	if err != nil {
		return MarkResult{}, err
	}
	return s.mark(ctx, op, session, id)
}

func (s *Service) mark(ctx context.Context, op string, session roster.Session, id Identification) (MarkResult, error) {
	ledger := s.engine.Ledger(session.ID)
	if ledger.Has(id.Person.ID) {
		return MarkResult{}, apperr.E(apperr.AlreadyMarked, op, "%s is already marked in %s", id.Person.Name, session.Name)
	}
	if err := ctx.Err(); err != nil {
		return MarkResult{}, apperr.Wrap(apperr.Internal, op, err)
	}
	entry, err := ledger.Mark(ctx, id.Person.ID, id.Person.Name)
	if err != nil {
		return MarkResult{}, err
	}
	s.log.Infof("marked %s (%s) present in %s, distance %.3f", id.Person.Name, id.Person.ID, session.Name, id.Match.Distance)
	return MarkResult{SessionID: session.ID, Entry: entry, Match: id.Match}, nil
}

// EmbeddingsFor returns the stored samples of an existing person.
func (s *Service) EmbeddingsFor(ctx context.Context, personID string) ([]database.StoredEmbedding, error) {
	if _, err := s.graph.PersonByID(personID); err != nil {
		return nil, err
	}
	out, err := s.faces.EmbeddingsFor(ctx, personID)
	if err != nil {
		return nil, classify("attendance.EmbeddingsFor", err)
	}
	return out, nil
}

// StoreEmbedding appends one sample to an existing person's gallery after the lookalike
// check.
func (s *Service) StoreEmbedding(ctx context.Context, personID string, embedding []float32, model string) (database.StoredEmbedding, error) {
	const op = "attendance.StoreEmbedding"
	if _, err := s.graph.PersonByID(personID); err != nil {
		return database.StoredEmbedding{}, err
	}
	if err := database.ValidateEmbedding(op, embedding, s.opts.Dim); err != nil {
		return database.StoredEmbedding{}, err
	}
	if err := s.checkLookalike(ctx, op, personID, embedding); err != nil {
		return database.StoredEmbedding{}, err
	}
	stored, err := s.faces.Store(ctx, personID, embedding, model)
	if err != nil {
		return database.StoredEmbedding{}, classify(op, err)
	}
	return stored, nil
}

// EnrollFace extracts the face in image and stores it as a new sample. An image without
// a face is Invalid input here, unlike during matching.
func (s *Service) EnrollFace(ctx context.Context, personID string, image []byte) (database.StoredEmbedding, error) {
	const op = "attendance.EnrollFace"
	if _, err := s.graph.PersonByID(personID); err != nil {
		return database.StoredEmbedding{}, err
	}
	face, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return database.StoredEmbedding{}, classify(op, err)
	}
	if face == nil {
		return database.StoredEmbedding{}, apperr.E(apperr.Invalid, op, "no face detected in image")
	}
	return s.StoreEmbedding(ctx, personID, face.Embedding, face.Model)
}

// ReplaceFaces extracts one face per image and replaces the person's whole gallery with
// them. Either every image yields a sample or nothing changes.
func (s *Service) ReplaceFaces(ctx context.Context, personID string, images [][]byte) ([]database.StoredEmbedding, error) {
	const op = "attendance.ReplaceFaces"
	if _, err := s.graph.PersonByID(personID); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, apperr.E(apperr.Invalid, op, "at least one image is required")
	}

	faces := make([]*faceembed.Face, len(images))
	errs := make([]error, len(images))
	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup
	for i, img := range images {
		wg.Add(1)
		go func(i int, img []byte) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			faces[i], errs[i] = s.extractor.Extract(ctx, img)
		}(i, img)
	}
	wg.Wait()

	vecs := make([][]float32, len(images))
	model := ""
	for i := range images {
		if errs[i] != nil {
			return nil, classify(op, fmt.Errorf("image %d: %w", i+1, errs[i]))
		}
		if faces[i] == nil {
			return nil, apperr.E(apperr.Invalid, op, "no face detected in image %d", i+1)
		}
		if err := database.ValidateEmbedding(op, faces[i].Embedding, s.opts.Dim); err != nil {
			return nil, err
		}
		if err := s.checkLookalike(ctx, op, personID, faces[i].Embedding); err != nil {
			return nil, err
		}
		vecs[i] = faces[i].Embedding
		model = faces[i].Model
	}

	stored, err := s.faces.Replace(ctx, personID, vecs, model)
	if err != nil {
		return nil, classify(op, err)
	}
	s.log.Infof("replaced face samples of %s with %d new samples", personID, len(stored))
	return stored, nil
}

// checkLookalike rejects a sample that sits within the lookalike threshold of another
// person's sample; such a pair could not be told apart at match time.
func (s *Service) checkLookalike(ctx context.Context, op, personID string, embedding []float32) error {
	if s.opts.LookalikeThreshold <= 0 {
		return nil
	}
	nearest, _, ok, err := s.faces.NearestOther(ctx, embedding, personID)
	if err != nil {
		return classify(op, err)
	}
	if !ok {
		return nil
	}
	// Candidates may come from an approximate index; confirm with the exact distance.
	dist := facematch.EuclideanDistance(embedding, nearest.Embedding)
	if dist <= s.opts.LookalikeThreshold {
		return apperr.E(apperr.Conflict, op, "sample is %.3f from a sample of %s (limit %.3f)", dist, nearest.PersonID, s.opts.LookalikeThreshold)
	}
	return nil
}

// DeletePerson removes a person's samples and then the person with every roster link.
func (s *Service) DeletePerson(ctx context.Context, personID string) error {
	const op = "attendance.DeletePerson"
	if _, err := s.graph.PersonByID(personID); err != nil {
		return err
	}
	ids, err := s.faces.Delete(ctx, personID)
	if err != nil {
		return classify(op, err)
	}
	if err := s.engine.DeletePerson(ctx, personID); err != nil {
		return err
	}
	s.log.Infof("deleted %d face samples of %s", len(ids), personID)
	return nil
}

// classify keeps classified errors and marks everything else Internal.
func classify(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.Internal, op, err)
}

// SampleStats reports how many face samples are stored.
func (s *Service) SampleStats(ctx context.Context) (database.EmbeddingStats, error) {
	st, err := s.faces.Stats(ctx)
	if err != nil {
		return database.EmbeddingStats{}, classify("attendance.SampleStats", err)
	}
	return st, nil
}
