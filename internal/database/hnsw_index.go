package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/rollcall/internal/facematch"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	FaceCount int64     `json:"face_count"`
	MaxFaceID int64     `json:"max_face_id"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"`
}

const hnswMetadataVersion = 1

// HNSWIndex wraps an HNSW graph over every stored face sample. It answers "which enrolled
// sample is closest to this one" without scanning the whole table.
type HNSWIndex struct {
	graph    *hnsw.Graph[int64]
	idToFace map[int64]*StoredEmbedding // Maps HNSW node ID to sample
	mu       sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToFace: make(map[int64]*StoredEmbedding),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index contents with the given samples.
func (h *HNSWIndex) Build(faces []StoredEmbedding) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.idToFace = make(map[int64]*StoredEmbedding, len(faces))
	if len(faces) == 0 {
		h.graph = nil
		return
	}

	g := newGraph()
	for i := range faces {
		face := &faces[i]
		if len(face.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(face.ID, face.Embedding))
		h.idToFace[face.ID] = face
	}
	h.graph = g
}

// Add adds a single sample to the index.
func (h *HNSWIndex) Add(face StoredEmbedding) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(face.Embedding) == 0 {
		return
	}
	if h.graph == nil {
		h.graph = newGraph()
	}
	h.graph.Add(hnsw.MakeNode(face.ID, face.Embedding))
	h.idToFace[face.ID] = &face
}

// Delete removes samples from search results. The graph keeps the nodes; lookups
// filter on idToFace.
func (h *HNSWIndex) Delete(ids ...int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		delete(h.idToFace, id)
	}
}

// Search returns up to k live samples nearest to query with their exact Euclidean
// distances, closest first.
func (h *HNSWIndex) Search(query []float32, k int) ([]StoredEmbedding, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	// Deleted nodes still occupy slots in the graph.
	want := k + (h.graph.Len() - len(h.idToFace))
	neighbors := h.graph.Search(query, want)

	faces := make([]StoredEmbedding, 0, k)
	distances := make([]float64, 0, k)
	for _, n := range neighbors {
		face, ok := h.idToFace[n.Key]
		if !ok {
			continue
		}
		faces = append(faces, *face)
		distances = append(distances, facematch.EuclideanDistance(query, face.Embedding))
		if len(faces) == k {
			break
		}
	}
	return faces, distances, nil
}

// NearestOther returns the closest sample not owned by excludePersonID. The HNSW result
// is approximate; callers that enforce a threshold should treat it as a candidate.
func (h *HNSWIndex) NearestOther(query []float32, excludePersonID string, maxPerPerson int) (StoredEmbedding, float64, bool) {
	k := max(maxPerPerson, 1) * HNSWSearchMultiplier
	faces, distances, err := h.Search(query, k)
	if err != nil {
		return StoredEmbedding{}, 0, false
	}
	for i, face := range faces {
		if face.PersonID != excludePersonID {
			return face, distances[i], true
		}
	}
	return StoredEmbedding{}, 0, false
}

// Count returns the number of indexed samples.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToFace)
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// SaveFaceMetadata saves sample records to a .faces file for fast loading at startup.
func SaveFaceMetadata(path string, faces []StoredEmbedding) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(faces); err != nil {
		return fmt.Errorf("failed to encode faces: %w", err)
	}
	if err := os.WriteFile(path+".faces", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write faces file: %w", err)
	}
	return nil
}

// LoadFaceMetadata loads sample records from a .faces file.
func LoadFaceMetadata(path string) ([]StoredEmbedding, error) {
	data, err := os.ReadFile(path + ".faces") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read faces file: %w", err)
	}

	var faces []StoredEmbedding
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&faces); err != nil {
		return nil, fmt.Errorf("failed to decode faces: %w", err)
	}
	return faces, nil
}

// LoadWithFaceMetadata loads both the HNSW graph and sample records from disk.
func (h *HNSWIndex) LoadWithFaceMetadata(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("HNSW index file not found: %s", path)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}
	faces, err := LoadFaceMetadata(path)
	if err != nil {
		return fmt.Errorf("failed to load face metadata: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = saved.Graph
	h.idToFace = make(map[int64]*StoredEmbedding, len(faces))
	for i := range faces {
		h.idToFace[faces[i].ID] = &faces[i]
	}
	return nil
}

// SaveWithFaceMetadata persists the graph, its metadata and the sample records.
// An empty index removes any files left by a previous save.
func (h *HNSWIndex) SaveWithFaceMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".faces")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close HNSW index file: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	if metadata.BuildTime.IsZero() {
		metadata.BuildTime = time.Now().UTC()
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	faces := make([]StoredEmbedding, 0, len(h.idToFace))
	for _, face := range h.idToFace {
		faces = append(faces, *face)
	}
	return SaveFaceMetadata(path, faces)
}
