package database

import (
	"math"
	"path/filepath"
	"testing"
)

func vec(vals ...float32) []float32 {
	out := make([]float32, 4)
	copy(out, vals)
	return out
}

func sampleFaces() []StoredEmbedding {
	return []StoredEmbedding{
		{ID: 1, PersonID: "alice", Seq: 0, Embedding: vec(0, 0, 0, 0)},
		{ID: 2, PersonID: "alice", Seq: 1, Embedding: vec(0.1, 0, 0, 0)},
		{ID: 3, PersonID: "bob", Seq: 0, Embedding: vec(1, 0, 0, 0)},
		{ID: 4, PersonID: "carol", Seq: 0, Embedding: vec(0, 3, 0, 0)},
	}
}

func TestHNSWIndexSearch(t *testing.T) {
	idx := NewHNSWIndex()
	if !idx.IsEmpty() {
		t.Fatal("new index should be empty")
	}
	if _, _, err := idx.Search(vec(), 1); err == nil {
		t.Error("expected error searching an uninitialized index")
	}

	idx.Build(sampleFaces())
	if idx.Count() != 4 {
		t.Fatalf("Count() = %d, want 4", idx.Count())
	}

	faces, dists, err := idx.Search(vec(0.9, 0, 0, 0), 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(faces) != 1 || faces[0].ID != 3 {
		t.Fatalf("nearest = %+v, want sample 3", faces)
	}
	if d := dists[0]; d < 0.0999 || d > 0.1001 {
		t.Errorf("distance = %f, want 0.1", d)
	}
}

func TestHNSWIndexDeleteAndAdd(t *testing.T) {
	idx := NewHNSWIndex()
	idx.Build(sampleFaces())
	idx.Delete(3)

	faces, _, err := idx.Search(vec(1, 0, 0, 0), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(faces) != 1 || faces[0].ID == 3 {
		t.Errorf("deleted sample returned: %+v", faces)
	}

	idx.Add(StoredEmbedding{ID: 5, PersonID: "dave", Embedding: vec(1, 0, 0, 0)})
	faces, _, _ = idx.Search(vec(1, 0, 0, 0), 1)
	if len(faces) != 1 || faces[0].ID != 5 {
		t.Errorf("added sample not found: %+v", faces)
	}
	if idx.Count() != 4 {
		t.Errorf("Count() = %d, want 4", idx.Count())
	}
}

func TestHNSWIndexNearestOther(t *testing.T) {
	idx := NewHNSWIndex()
	idx.Build(sampleFaces())

	face, dist, ok := idx.NearestOther(vec(0.05, 0, 0, 0), "alice", 3)
	if !ok {
		t.Fatal("expected a neighbour")
	}
	if face.PersonID != "bob" {
		t.Errorf("nearest other = %s, want bob", face.PersonID)
	}
	if dist < 0.94 || dist > 0.96 {
		t.Errorf("distance = %f, want 0.95", dist)
	}

	lonely := NewHNSWIndex()
	lonely.Build(sampleFaces()[:2])
	if _, _, ok := lonely.NearestOther(vec(), "alice", 3); ok {
		t.Error("expected no other person")
	}
}

func TestHNSWIndexSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faces.hnsw")
	idx := NewHNSWIndex()
	idx.Build(sampleFaces())
	idx.Delete(4)

	if err := idx.SaveWithFaceMetadata(path, HNSWIndexMetadata{FaceCount: 3, MaxFaceID: 3}); err != nil {
		t.Fatalf("SaveWithFaceMetadata: %v", err)
	}
	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		t.Fatalf("LoadHNSWMetadata: %v", err)
	}
	if meta.FaceCount != 3 || meta.MaxFaceID != 3 || meta.Version != hnswMetadataVersion || meta.BuildTime.IsZero() {
		t.Errorf("metadata = %+v", meta)
	}

	loaded := NewHNSWIndex()
	if err := loaded.LoadWithFaceMetadata(path); err != nil {
		t.Fatalf("LoadWithFaceMetadata: %v", err)
	}
	if loaded.Count() != 3 {
		t.Errorf("loaded Count() = %d, want 3", loaded.Count())
	}
	faces, _, err := loaded.Search(vec(1, 0, 0, 0), 1)
	if err != nil || len(faces) != 1 || faces[0].PersonID != "bob" {
		t.Errorf("Search after load = %+v, %v", faces, err)
	}

	if err := NewHNSWIndex().LoadWithFaceMetadata(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error loading a missing index")
	}
}

func TestValidateEmbedding(t *testing.T) {
	tests := []struct {
		name    string
		in      []float32
		wantErr bool
	}{
		{"ok", vec(1, 2, 3, 4), false},
		{"short", []float32{1, 2}, true},
		{"empty", nil, true},
		{"nan", []float32{0, 0, 0, float32(math.NaN())}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEmbedding("test", tc.in, 4)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateEmbedding() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
