package recognizer

import (
	"context"
	"net"
	"regexp"
	"strings"

	"github.com/peekguard/peekguard/internal/entity"
)

// PatternRecognizer detects one entity type with a compiled regex plus an
// optional semantic check on the matched text (checksum, parseability).
type PatternRecognizer struct {
	id         string
	entityType string
	re         *regexp.Regexp
	confidence float64
	check      func(string) bool
}

func (r *PatternRecognizer) ID() string { return r.id }

func (r *PatternRecognizer) Detect(ctx context.Context, text, locale string) ([]entity.Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	indexes := r.re.FindAllStringIndex(text, -1)
	spans := make([]entity.Span, 0, len(indexes))
	for _, idx := range indexes {
		match := text[idx[0]:idx[1]]
		if r.check != nil && !r.check(match) {
			continue
		}
		spans = append(spans, entity.Span{
			Start:      idx[0],
			End:        idx[1],
			EntityType: r.entityType,
			Confidence: r.confidence,
			Source:     r.id,
		})
	}
	return spans, nil
}

// NewEmailRecognizer detects email addresses.
func NewEmailRecognizer() *PatternRecognizer {
	return &PatternRecognizer{
		id:         "email",
		entityType: entity.TypeEmailAddress,
		re:         regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		confidence: 0.99,
	}
}

// NewPhoneRecognizer detects phone numbers with 8-15 digits. Between
// digits it accepts a single dot or up to two dash/space/paren chars,
// so a sentence boundary like ". " never fuses two adjacent numbers
// into one over-long candidate.
func NewPhoneRecognizer() *PatternRecognizer {
	return &PatternRecognizer{
		id:         "phone",
		entityType: entity.TypePhoneNumber,
		re:         regexp.MustCompile(`\+?\(?\d(?:(?:\.|[\s\-()]{1,2})?\d){6,14}`),
		confidence: 0.95,
		check: func(s string) bool {
			n := digitCount(s)
			return n >= 8 && n <= 15
		},
	}
}

// NewCreditCardRecognizer detects card numbers and validates them with
// the Luhn checksum, so digit runs that merely look card-shaped are
// dropped instead of masked.
func NewCreditCardRecognizer() *PatternRecognizer {
	return &PatternRecognizer{
		id:         "credit_card",
		entityType: entity.TypeCreditCard,
		re:         regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`),
		confidence: 0.95,
		check:      luhnValid,
	}
}

// NewUSSSNRecognizer detects US social security numbers.
func NewUSSSNRecognizer() *PatternRecognizer {
	return &PatternRecognizer{
		id:         "us_ssn",
		entityType: entity.TypeUSSSN,
		re:         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		confidence: 0.85,
		check:      ssnPlausible,
	}
}

// NewIPAddressRecognizer detects IPv4/IPv6 addresses, confirmed with
// net.ParseIP.
func NewIPAddressRecognizer() *PatternRecognizer {
	return &PatternRecognizer{
		id:         "ip_address",
		entityType: entity.TypeIPAddress,
		re:         regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b|\b(?:[0-9A-Fa-f]{1,4}:){2,7}[0-9A-Fa-f]{1,4}\b`),
		confidence: 0.95,
		check: func(s string) bool {
			return net.ParseIP(s) != nil
		},
	}
}

// NewURLRecognizer detects http/https URLs.
func NewURLRecognizer() *PatternRecognizer {
	return &PatternRecognizer{
		id:         "url",
		entityType: entity.TypeURL,
		re:         regexp.MustCompile(`https?://[^\s"'<>]+`),
		confidence: 0.85,
	}
}

// NewStreetAddressRecognizer detects US-style street addresses: house
// number, street name (ordinals allowed), a known suffix, and an
// optional unit. Matches report as LOCATION so they share the catalog
// with model-detected places.
func NewStreetAddressRecognizer() *PatternRecognizer {
	return &PatternRecognizer{
		id:         "street_address",
		entityType: entity.TypeLocation,
		re: regexp.MustCompile(`\b\d{1,6}\s+(?:[A-Z][A-Za-z]*|\d{1,3}(?:st|nd|rd|th))` +
			`(?:\s+(?:[A-Z][A-Za-z]*|\d{1,3}(?:st|nd|rd|th))){0,3}` +
			`\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln|Court|Ct|Place|Pl|Terrace|Ter|Circle|Cir|Highway|Hwy|Parkway|Pkwy)\b` +
			`(?:,?\s+(?:Apt|Apartment|Suite|Ste|Unit)\.?\s*#?\s*[0-9A-Za-z-]+)?`),
		confidence: 0.8,
	}
}

// NewIBANRecognizer detects IBANs and validates the mod-97 checksum.
func NewIBANRecognizer() *PatternRecognizer {
	return &PatternRecognizer{
		id:         "iban",
		entityType: entity.TypeIBANCode,
		re:         regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
		confidence: 0.9,
		check:      ibanValid,
	}
}

// BuiltinPatternRecognizers returns the full set of pattern-based
// recognizers in registration order.
func BuiltinPatternRecognizers() []Recognizer {
	return []Recognizer{
		NewEmailRecognizer(),
		NewPhoneRecognizer(),
		NewCreditCardRecognizer(),
		NewUSSSNRecognizer(),
		NewIPAddressRecognizer(),
		NewURLRecognizer(),
		NewIBANRecognizer(),
		NewStreetAddressRecognizer(),
	}
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func ssnPlausible(s string) bool {
	// Area 000, 666, and 900-999 are never issued; group and serial
	// segments of all zeros are invalid.
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return false
	}
	area, group, serial := parts[0], parts[1], parts[2]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

func ibanValid(s string) bool {
	if len(s) < 15 || len(s) > 34 {
		return false
	}
	// Move the leading country code and check digits to the end, expand
	// letters to numbers (A=10..Z=35), then check mod 97 == 1.
	rearranged := s[4:] + s[:4]
	rem := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return false
		}
	}
	return rem == 1
}
