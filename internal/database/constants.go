package database

// HNSW index parameters for 128-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 64

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// so that enough remain after excluding the enrolling person's own samples.
	HNSWSearchMultiplier = 3
)
