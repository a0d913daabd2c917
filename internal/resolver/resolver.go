// Package resolver turns overlapping candidate spans into one
// authoritative, non-overlapping entity sequence.
package resolver

import (
	"fmt"

	"github.com/peekguard/peekguard/internal/entity"
)

// InvalidSpanError reports a structurally invalid candidate (zero-length,
// inverted, or out of bounds). Candidates like this indicate a recognizer
// bug, not bad user input, so resolution fails loudly instead of guessing.
type InvalidSpanError struct {
	Span   entity.Span
	Reason error
}

func (e *InvalidSpanError) Error() string {
	return fmt.Sprintf("invalid candidate span from %s: %v", e.Span.Source, e.Reason)
}

func (e *InvalidSpanError) Unwrap() error { return e.Reason }

// Thresholds supplies the per-entity-type confidence cutoff.
type Thresholds func(entityType string) float64

// Resolver applies threshold filtering and greedy overlap resolution.
type Resolver struct {
	threshold Thresholds
}

// New builds a resolver. A nil thresholds func keeps every candidate.
func New(thresholds Thresholds) *Resolver {
	if thresholds == nil {
		thresholds = func(string) float64 { return 0 }
	}
	return &Resolver{threshold: thresholds}
}

// Resolve returns the accepted entities ordered by start, pairwise
// non-overlapping. Confidences are ordinal hints across recognizers, so
// resolution is a deterministic greedy sweep: earlier start wins first
// pick, then higher confidence, then longer span.
//
// Touching spans (end == next start) are both kept. textLen bounds the
// candidates; any structurally invalid span is an InvalidSpanError.
func (r *Resolver) Resolve(textLen int, candidates []entity.Span) ([]entity.ResolvedEntity, error) {
	for _, c := range candidates {
		if err := c.Validate(textLen); err != nil {
			return nil, &InvalidSpanError{Span: c, Reason: err}
		}
	}

	filtered := make([]entity.Span, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence < r.threshold(c.EntityType) {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	entity.SortCandidates(filtered)

	resolved := make([]entity.ResolvedEntity, 0, len(filtered))
	lastEnd := 0
	for _, c := range filtered {
		if c.Start < lastEnd {
			// Conflicts with a higher-priority span already accepted.
			continue
		}
		resolved = append(resolved, entity.ResolvedEntity{Span: c})
		lastEnd = c.End
	}
	return resolved, nil
}
