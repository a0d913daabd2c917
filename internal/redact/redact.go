package redact

import (
	"fmt"
	"log"
	"regexp"
)

// This service exists to keep PII out of downstream systems; its own log
// lines must hold to the same bar. Every log call goes through here.
var (
	emailRe      = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	bearerRe     = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`)
	dsnSecretRe  = regexp.MustCompile(`(?i)(password|passwd|pwd)(\s*=\s*)(\S+)`)
	dsnURLRe     = regexp.MustCompile(`(postgres(?:ql)?://[^:/\s]+:)([^@\s]+)(@)`)
	keyFieldRe   = regexp.MustCompile(`(?i)(api[_-]?key|token|secret)(\s*[:=]\s*)([A-Za-z0-9._\-+/=]{6,})`)
	longDigitsRe = regexp.MustCompile(`\b\d[\d \-]{11,}\d\b`)
)

// String redacts PII and secret patterns from free-form strings.
func String(s string) string {
	if s == "" {
		return s
	}

	out := s
	out = emailRe.ReplaceAllString(out, "[REDACTED_EMAIL]")
	out = bearerRe.ReplaceAllString(out, "${1}[REDACTED]")
	out = dsnURLRe.ReplaceAllString(out, "${1}[REDACTED]${3}")
	out = dsnSecretRe.ReplaceAllString(out, "${1}${2}[REDACTED]")
	out = keyFieldRe.ReplaceAllString(out, "${1}${2}[REDACTED]")
	out = longDigitsRe.ReplaceAllString(out, "[REDACTED_DIGITS]")
	return out
}

// Any formats the value with %+v and redacts the result.
func Any(v any) string {
	return String(fmt.Sprintf("%+v", v))
}

// Sprintf formats like fmt.Sprintf and redacts the result.
func Sprintf(format string, args ...interface{}) string {
	return String(fmt.Sprintf(format, args...))
}

// Logf prints a redacted log line.
func Logf(format string, args ...interface{}) {
	log.Print(Sprintf(format, args...))
}

// Fatalf prints a redacted fatal log line.
func Fatalf(format string, args ...interface{}) {
	log.Fatal(Sprintf(format, args...))
}
