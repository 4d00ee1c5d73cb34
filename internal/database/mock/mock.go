// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/rollcall/internal/apperr"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/roster"
)

// MockEmbeddingStore is a mock implementation of database.EmbeddingWriter
type MockEmbeddingStore struct {
	mu     sync.RWMutex
	byID   map[string][]database.StoredEmbedding
	nextID int64

	dim        int
	maxSamples int

	// PersonExists reports whether a person may own samples. Nil accepts everyone.
	PersonExists func(personID string) bool

	// Call counters
	EmbeddingsForCalls atomic.Int64

	// Error injection
	EmbeddingsForError error
	StoreError         error
	ReplaceError       error
	DeleteError        error
	CountError         error
	AllError           error
	NearestError       error
}

// NewMockEmbeddingStore creates a new mock store accepting dim-sized vectors, at most
// maxSamples per person (0 = unlimited)
func NewMockEmbeddingStore(dim, maxSamples int) *MockEmbeddingStore {
	return &MockEmbeddingStore{
		byID:       make(map[string][]database.StoredEmbedding),
		dim:        dim,
		maxSamples: maxSamples,
	}
}

// AddEmbedding seeds a sample without any validation
func (m *MockEmbeddingStore) AddEmbedding(personID string, embedding []float32) database.StoredEmbedding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(personID, embedding, "mock")
}

func (m *MockEmbeddingStore) appendLocked(personID string, embedding []float32, model string) database.StoredEmbedding {
	m.nextID++
	emb := database.StoredEmbedding{
		ID:        m.nextID,
		PersonID:  personID,
		Seq:       len(m.byID[personID]),
		Embedding: slices.Clone(embedding),
		Model:     model,
		Dim:       len(embedding),
		CreatedAt: time.Now().UTC(),
	}
	m.byID[personID] = append(m.byID[personID], emb)
	return emb
}

func (m *MockEmbeddingStore) checkPerson(op, personID string) error {
	if m.PersonExists != nil && !m.PersonExists(personID) {
		return apperr.E(apperr.NotFound, op, "person %s not found", personID)
	}
	return nil
}

// EmbeddingsFor returns the samples of a person in Seq order
func (m *MockEmbeddingStore) EmbeddingsFor(ctx context.Context, personID string) ([]database.StoredEmbedding, error) {
	m.EmbeddingsForCalls.Add(1)
	if m.EmbeddingsForError != nil {
		return nil, m.EmbeddingsForError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.byID[personID]), nil
}

// Count returns the total number of samples
func (m *MockEmbeddingStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, samples := range m.byID {
		n += len(samples)
	}
	return n, nil
}

// Stats returns the sample count and highest sample ID
func (m *MockEmbeddingStore) Stats(ctx context.Context) (database.EmbeddingStats, error) {
	n, err := m.Count(ctx)
	if err != nil {
		return database.EmbeddingStats{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var maxID int64
	for _, samples := range m.byID {
		for _, s := range samples {
			maxID = max(maxID, s.ID)
		}
	}
	return database.EmbeddingStats{Count: int64(n), MaxID: maxID}, nil
}

// AllEmbeddings returns every sample ordered by ID
func (m *MockEmbeddingStore) AllEmbeddings(ctx context.Context) ([]database.StoredEmbedding, error) {
	if m.AllError != nil {
		return nil, m.AllError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []database.StoredEmbedding
	for _, samples := range m.byID {
		all = append(all, samples...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// NearestOther scans every sample not owned by excludePersonID
func (m *MockEmbeddingStore) NearestOther(ctx context.Context, embedding []float32, excludePersonID string) (database.StoredEmbedding, float64, bool, error) {
	if m.NearestError != nil {
		return database.StoredEmbedding{}, 0, false, m.NearestError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best database.StoredEmbedding
	bestDist := math.Inf(1)
	found := false
	for pid, samples := range m.byID {
		if pid == excludePersonID {
			continue
		}
		for _, s := range samples {
			d := facematch.EuclideanDistance(embedding, s.Embedding)
			if d < bestDist || (d == bestDist && s.ID < best.ID) {
				best, bestDist, found = s, d, true
			}
		}
	}
	return best, bestDist, found, nil
}

// Store appends a sample
func (m *MockEmbeddingStore) Store(ctx context.Context, personID string, embedding []float32, model string) (database.StoredEmbedding, error) {
	const op = "mock.Store"
	if m.StoreError != nil {
		return database.StoredEmbedding{}, m.StoreError
	}
	if err := database.ValidateEmbedding(op, embedding, m.dim); err != nil {
		return database.StoredEmbedding{}, err
	}
	if err := m.checkPerson(op, personID); err != nil {
		return database.StoredEmbedding{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSamples > 0 && len(m.byID[personID]) >= m.maxSamples {
		return database.StoredEmbedding{}, apperr.E(apperr.Conflict, op, "person %s already has %d samples", personID, m.maxSamples)
	}
	return m.appendLocked(personID, embedding, model), nil
}

// Replace swaps the person's samples
func (m *MockEmbeddingStore) Replace(ctx context.Context, personID string, embeddings [][]float32, model string) ([]database.StoredEmbedding, error) {
	const op = "mock.Replace"
	if m.ReplaceError != nil {
		return nil, m.ReplaceError
	}
	for _, e := range embeddings {
		if err := database.ValidateEmbedding(op, e, m.dim); err != nil {
			return nil, err
		}
	}
	if m.maxSamples > 0 && len(embeddings) > m.maxSamples {
		return nil, apperr.E(apperr.Conflict, op, "at most %d samples per person", m.maxSamples)
	}
	if err := m.checkPerson(op, personID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, personID)
	out := make([]database.StoredEmbedding, 0, len(embeddings))
	for _, e := range embeddings {
		out = append(out, m.appendLocked(personID, e, model))
	}
	return out, nil
}

// Delete removes all samples of a person
func (m *MockEmbeddingStore) Delete(ctx context.Context, personID string) ([]int64, error) {
	if m.DeleteError != nil {
		return nil, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, s := range m.byID[personID] {
		ids = append(ids, s.ID)
	}
	delete(m.byID, personID)
	return ids, nil
}

// MockRosterStore is a mock implementation of roster.Store that keeps every applied batch
type MockRosterStore struct {
	mu       sync.Mutex
	Snapshot *roster.Snapshot
	Batches  [][]roster.Change

	// Error injection
	LoadError  error
	ApplyError error
}

// NewMockRosterStore creates an empty roster store
func NewMockRosterStore() *MockRosterStore {
	return &MockRosterStore{Snapshot: &roster.Snapshot{}}
}

// Load returns the configured snapshot
func (m *MockRosterStore) Load(ctx context.Context) (*roster.Snapshot, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	return m.Snapshot, nil
}

// Apply records the batch
func (m *MockRosterStore) Apply(ctx context.Context, changes []roster.Change) error {
	if m.ApplyError != nil {
		return m.ApplyError
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, slices.Clone(changes))
	return nil
}

// ChangeCount returns the number of changes applied so far
func (m *MockRosterStore) ChangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.Batches {
		n += len(b)
	}
	return n
}
