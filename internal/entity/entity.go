package entity

import (
	"fmt"
	"sort"
)

// Entity types the service can detect and mask. Names double as the
// tag inside rendered placeholders, so they stay within [A-Z0-9_]+.
const (
	TypePerson       = "PERSON"
	TypeEmailAddress = "EMAIL_ADDRESS"
	TypePhoneNumber  = "PHONE_NUMBER"
	TypeCreditCard   = "CREDIT_CARD"
	TypeUSSSN        = "US_SSN"
	TypeIPAddress    = "IP_ADDRESS"
	TypeURL          = "URL"
	TypeLocation     = "LOCATION"
	TypeOrganization = "ORGANIZATION"
	TypeIBANCode     = "IBAN_CODE"
)

// Types lists every supported entity type.
var Types = []string{
	TypePerson,
	TypeEmailAddress,
	TypePhoneNumber,
	TypeCreditCard,
	TypeUSSSN,
	TypeIPAddress,
	TypeURL,
	TypeLocation,
	TypeOrganization,
	TypeIBANCode,
}

// KnownType reports whether t is part of the supported catalog.
func KnownType(t string) bool {
	for _, known := range Types {
		if known == t {
			return true
		}
	}
	return false
}

// Span is a candidate PII detection over byte offsets in a single
// document, half-open [Start, End).
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Validate checks the structural invariants of a span against the text
// it was produced for.
func (s Span) Validate(textLen int) error {
	if s.Start < 0 || s.End > textLen {
		return fmt.Errorf("span [%d,%d) out of bounds for text of length %d", s.Start, s.End, textLen)
	}
	if s.Start >= s.End {
		return fmt.Errorf("span [%d,%d) is empty or inverted", s.Start, s.End)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("span confidence %v outside [0,1]", s.Confidence)
	}
	return nil
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether two half-open spans share any offset.
// Touching spans (s.End == o.Start) do not overlap.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// ResolvedEntity is a span chosen as authoritative for its region after
// overlap resolution.
type ResolvedEntity struct {
	Span
}

// SortCandidates orders spans by start ascending, confidence descending,
// then length descending. This is the resolver's priority order and is
// deterministic for any input permutation.
func SortCandidates(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		if spans[i].Confidence != spans[j].Confidence {
			return spans[i].Confidence > spans[j].Confidence
		}
		return spans[i].Len() > spans[j].Len()
	})
}
