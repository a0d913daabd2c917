// Package recognizer holds the pluggable PII detectors and the registry
// that fans text out to them.
package recognizer

import (
	"context"

	"github.com/peekguard/peekguard/internal/entity"
)

// Recognizer finds candidate PII spans in text. Implementations must be
// safe for concurrent use and must not mutate their input; any loaded
// model state is immutable after construction.
//
// A recognizer that cannot process the input (unsupported locale,
// malformed text) returns an empty slice, not an error. Errors are
// reserved for operational failures and are isolated by the registry.
type Recognizer interface {
	ID() string
	Detect(ctx context.Context, text, locale string) ([]entity.Span, error)
}
