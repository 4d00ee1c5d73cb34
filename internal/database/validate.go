package database

import (
	"math"

	"github.com/kozaktomas/rollcall/internal/apperr"
)

// ValidateEmbedding rejects vectors of the wrong dimensionality or with non-finite
// components. A malformed vector is an Internal error: it can only come from a broken
// extractor or a misconfigured dimension.
func ValidateEmbedding(op string, embedding []float32, dim int) error {
	if len(embedding) != dim {
		return apperr.E(apperr.Internal, op, "embedding has %d dimensions, expected %d", len(embedding), dim)
	}
	for i, v := range embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return apperr.E(apperr.Internal, op, "embedding component %d is not finite", i)
		}
	}
	return nil
}
