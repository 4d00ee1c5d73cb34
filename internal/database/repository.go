package database

import (
	"context"
)

// EmbeddingReader provides read-only access to enrolled face samples
type EmbeddingReader interface {
	// EmbeddingsFor returns the samples of a person ordered by Seq (empty if none)
	EmbeddingsFor(ctx context.Context, personID string) ([]StoredEmbedding, error)
	// Count returns the total number of stored samples
	Count(ctx context.Context) (int, error)
	// Stats returns the sample count and the highest sample ID
	Stats(ctx context.Context) (EmbeddingStats, error)
	// AllEmbeddings returns every stored sample, used to build the lookalike index
	AllEmbeddings(ctx context.Context) ([]StoredEmbedding, error)
	// NearestOther finds the closest sample (Euclidean) that does not belong to excludePersonID.
	// ok is false when no other person has samples.
	NearestOther(ctx context.Context, embedding []float32, excludePersonID string) (nearest StoredEmbedding, distance float64, ok bool, err error)
}

// EmbeddingWriter provides write access to enrolled face samples
type EmbeddingWriter interface {
	EmbeddingReader

	// Store appends one sample to the person's gallery.
	// Fails with NotFound for an unknown person and Conflict when the sample cap is reached.
	Store(ctx context.Context, personID string, embedding []float32, model string) (StoredEmbedding, error)

	// Replace swaps the person's whole gallery for the given samples in one transaction
	Replace(ctx context.Context, personID string, embeddings [][]float32, model string) ([]StoredEmbedding, error)

	// Delete removes all samples of a person and returns the deleted sample IDs
	Delete(ctx context.Context, personID string) ([]int64, error)
}
