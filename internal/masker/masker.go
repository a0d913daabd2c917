// Package masker orchestrates detection, resolution, and the token
// vault into reversible masking and unmasking.
package masker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/peekguard/peekguard/internal/entity"
	"github.com/peekguard/peekguard/internal/recognizer"
	"github.com/peekguard/peekguard/internal/resolver"
	"github.com/peekguard/peekguard/internal/vault"
)

// Placeholder wire format: %ENTITY_TYPE:token%. Entity types are
// [A-Z0-9_]+ and tokens are lowercase hex, so neither side can contain
// the delimiters and the grammar parses unambiguously.
var placeholderRe = regexp.MustCompile(`%([A-Z][A-Z0-9_]*):([0-9a-f]+)%`)

// ValidationError reports rejected input: empty or oversized text, or an
// unknown entity type in the mask filter.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// PartialUnmaskError reports an unmask where some tokens could not be
// resolved. Text is the best-effort reconstruction with the failed
// placeholders left intact; the caller decides whether to accept it.
type PartialUnmaskError struct {
	Missing []string
	Text    string
}

func (e *PartialUnmaskError) Error() string {
	return fmt.Sprintf("unmask incomplete: %d token(s) unresolved: %s", len(e.Missing), strings.Join(e.Missing, ", "))
}

// MaskedDocument is masked text plus the scope its tokens live in.
type MaskedDocument struct {
	Text    string
	ScopeID string
}

// Engine is the top-level orchestrator.
type Engine struct {
	registry      *recognizer.Registry
	resolver      *resolver.Resolver
	vault         *vault.Vault
	maxInputBytes int
}

// New builds the engine. maxInputBytes <= 0 disables the size ceiling.
func New(reg *recognizer.Registry, res *resolver.Resolver, v *vault.Vault, maxInputBytes int) *Engine {
	return &Engine{
		registry:      reg,
		resolver:      res,
		vault:         v,
		maxInputBytes: maxInputBytes,
	}
}

// Mask detects PII in text and replaces each resolved span with a
// vault-issued placeholder. only, when non-empty, restricts masking to
// the named entity types; unknown names are a ValidationError.
//
// Output is rebuilt in a single left-to-right pass over the original
// offsets, so earlier substitutions never shift later ones.
func (e *Engine) Mask(ctx context.Context, text, locale, scopeID string, only []string) (MaskedDocument, error) {
	if text == "" {
		return MaskedDocument{}, &ValidationError{Reason: "text is empty"}
	}
	if e.maxInputBytes > 0 && len(text) > e.maxInputBytes {
		return MaskedDocument{}, &ValidationError{Reason: fmt.Sprintf("text exceeds %d bytes", e.maxInputBytes)}
	}

	allowed, err := entityFilter(only)
	if err != nil {
		return MaskedDocument{}, err
	}

	candidates := e.registry.DetectAll(ctx, text, locale)
	if allowed != nil {
		kept := candidates[:0]
		for _, c := range candidates {
			if _, ok := allowed[c.EntityType]; ok {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}

	resolved, err := e.resolver.Resolve(len(text), candidates)
	if err != nil {
		return MaskedDocument{}, err
	}

	var out strings.Builder
	out.Grow(len(text))
	cursor := 0
	for _, ent := range resolved {
		token, err := e.vault.IssueToken(ctx, text[ent.Start:ent.End], ent.EntityType, scopeID)
		if err != nil {
			return MaskedDocument{}, fmt.Errorf("issue token for %s: %w", ent.EntityType, err)
		}
		out.WriteString(text[cursor:ent.Start])
		out.WriteString(renderPlaceholder(ent.EntityType, token))
		cursor = ent.End
	}
	out.WriteString(text[cursor:])

	return MaskedDocument{Text: out.String(), ScopeID: scopeID}, nil
}

// Unmask parses placeholders left-to-right and substitutes the vaulted
// originals back. If any token fails to resolve in scopeID the result is
// a PartialUnmaskError carrying the failed tokens and the best-effort
// text; partial success is never silently returned as success.
func (e *Engine) Unmask(ctx context.Context, maskedText, scopeID string) (string, error) {
	if maskedText == "" {
		return "", &ValidationError{Reason: "masked text is empty"}
	}
	if e.maxInputBytes > 0 && len(maskedText) > e.maxInputBytes {
		return "", &ValidationError{Reason: fmt.Sprintf("masked text exceeds %d bytes", e.maxInputBytes)}
	}

	matches := placeholderRe.FindAllStringSubmatchIndex(maskedText, -1)
	if len(matches) == 0 {
		return maskedText, nil
	}

	var out strings.Builder
	out.Grow(len(maskedText))
	var missing []string
	cursor := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		token := maskedText[m[4]:m[5]]

		out.WriteString(maskedText[cursor:start])
		original, err := e.vault.Resolve(ctx, token, scopeID)
		switch {
		case err == nil:
			out.WriteString(original)
		case isNotFound(err):
			missing = append(missing, token)
			out.WriteString(maskedText[start:end])
		default:
			return "", fmt.Errorf("resolve token: %w", err)
		}
		cursor = end
	}
	out.WriteString(maskedText[cursor:])

	if len(missing) > 0 {
		return "", &PartialUnmaskError{Missing: missing, Text: out.String()}
	}
	return out.String(), nil
}

func renderPlaceholder(entityType, token string) string {
	return "%" + entityType + ":" + token + "%"
}

func entityFilter(only []string) (map[string]struct{}, error) {
	if len(only) == 0 {
		return nil, nil
	}
	allowed := make(map[string]struct{}, len(only))
	var unknown []string
	for _, typ := range only {
		if !entity.KnownType(typ) {
			unknown = append(unknown, typ)
			continue
		}
		allowed[typ] = struct{}{}
	}
	if len(unknown) > 0 {
		return nil, &ValidationError{Reason: "unknown entity types: " + strings.Join(unknown, ", ")}
	}
	return allowed, nil
}

func isNotFound(err error) bool {
	var nf *vault.NotFoundError
	return errors.As(err, &nf)
}
