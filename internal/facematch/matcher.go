// Package facematch classifies a face embedding against a labeled gallery of stored samples.
//
// Each label may hold several samples; a label's distance to the query is the distance to
// its closest sample (1-nearest-neighbor per label, not a centroid). The best label overall
// is accepted only when its distance does not exceed the matcher threshold.
package facematch

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/kozaktomas/rollcall/internal/apperr"
)

// Gallery maps a label (person ID) to that person's stored samples.
type Gallery map[string][][]float32

// Labels returns the labels that have at least one sample, in ascending order.
func (g Gallery) Labels() []string {
	labels := make([]string, 0, len(g))
	for label, samples := range g {
		if len(samples) > 0 {
			labels = append(labels, label)
		}
	}
	slices.Sort(labels)
	return labels
}

// Match is the outcome for one label.
type Match struct {
	Label    string
	Distance float64
}

func (m Match) String() string {
	return fmt.Sprintf("%s (%.2f)", m.Label, m.Distance)
}

// Matcher compares query embeddings against galleries.
type Matcher struct {
	threshold float64
	dim       int
}

// NewMatcher creates a matcher with the given distance threshold and embedding dimension.
// A dim of 0 accepts any length as long as query and samples agree.
func NewMatcher(threshold float64, dim int) *Matcher {
	return &Matcher{threshold: threshold, dim: dim}
}

// Threshold returns the maximum accepted distance.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Rank returns every label with a sample, ordered by ascending distance. Labels at equal
// distance keep ascending label order. Fails with EmptyGallery when no label has samples
// and with Internal on a dimension mismatch.
func (m *Matcher) Rank(query []float32, gallery Gallery) ([]Match, error) {
	const op = "facematch.Rank"

	labels := gallery.Labels()
	if len(labels) == 0 {
		return nil, apperr.E(apperr.EmptyGallery, op, "no stored samples to compare against")
	}
	if err := m.checkDim(op, "query", query); err != nil {
		return nil, err
	}

	ranked := make([]Match, 0, len(labels))
	for _, label := range labels {
		best := math.Inf(1)
		for i, sample := range gallery[label] {
			if len(sample) != len(query) {
				return nil, apperr.E(apperr.Internal, op,
					"sample %d of %s has %d dimensions, query has %d", i, label, len(sample), len(query))
			}
			if d := EuclideanDistance(query, sample); d < best {
				best = d
			}
		}
		ranked = append(ranked, Match{Label: label, Distance: best})
	}

	// Stable sort keeps ascending label order among equal distances.
	slices.SortStableFunc(ranked, func(a, b Match) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return ranked, nil
}

// Classify returns the closest label when its distance is within the threshold.
// Ties are resolved in favor of the smallest label. Returns a NoMatch error naming the
// nearest label when nothing is close enough.
func (m *Matcher) Classify(query []float32, gallery Gallery) (Match, error) {
	ranked, err := m.Rank(query, gallery)
	if err != nil {
		return Match{}, err
	}

	best := ranked[0]
	if best.Distance > m.threshold {
		return Match{}, &apperr.Error{
			Kind: apperr.NoMatch,
			Op:   "facematch.Classify",
			Msg:  fmt.Sprintf("nearest %s exceeds threshold %.2f", best, m.threshold),
		}
	}
	return best, nil
}

func (m *Matcher) checkDim(op, what string, v []float32) error {
	if len(v) == 0 {
		return apperr.E(apperr.Internal, op, "%s embedding is empty", what)
	}
	if m.dim > 0 && len(v) != m.dim {
		return apperr.E(apperr.Internal, op, "%s embedding has %d dimensions, expected %d", what, len(v), m.dim)
	}
	return nil
}

// FormatRanking renders up to n ranked matches, one per line, for diagnostics.
func FormatRanking(ranked []Match, n int) string {
	var sb strings.Builder
	for i, m := range ranked {
		if i >= n {
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, m)
	}
	return sb.String()
}
