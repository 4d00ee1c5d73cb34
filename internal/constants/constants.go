// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face matching constants
const (
	// DefaultMatchThreshold is the maximum Euclidean distance between a query
	// embedding and a stored sample that still counts as a match.
	DefaultMatchThreshold = 0.6

	// FaceEmbeddingDim is the length of a face descriptor vector.
	FaceEmbeddingDim = 128
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers used to assemble galleries
	// and to import face images.
	WorkerPoolSize = 20
)

// HTTP constants
const (
	// MaxUploadSize is the largest accepted image upload, single or multipart.
	MaxUploadSize = 32 << 20
)

// Roster constants
const (
	// MaxCourseNameLength mirrors the course name limit enforced at creation.
	MaxCourseNameLength = 70
)
