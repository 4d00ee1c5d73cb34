package database

import (
	"time"
)

// StoredEmbedding is one enrolled face sample of a person. Samples of a person are
// ordered by Seq; a sample is never changed after it is written.
type StoredEmbedding struct {
	ID        int64
	PersonID  string
	Seq       int
	Embedding []float32
	Model     string
	Dim       int
	CreatedAt time.Time
}

// EmbeddingStats describes the stored samples, used to detect a stale on-disk index.
type EmbeddingStats struct {
	Count int64
	MaxID int64
}
