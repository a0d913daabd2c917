package recognizer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/peekguard/peekguard/internal/entity"
	"github.com/peekguard/peekguard/internal/redact"
)

// Registry holds the active recognizers and dispatches text to the set
// configured for a locale. Recognizer failures are isolated: a
// recognizer that errors contributes nothing, the others still run.
type Registry struct {
	recognizers map[string]Recognizer
	order       []string            // registration order, fixes candidate ordering
	locales     map[string][]string // locale -> recognizer ids

	// falsePositives[entityType] holds lowercase strings never reported
	// as that type.
	falsePositives map[string]map[string]struct{}
}

// NewRegistry builds a registry for the given locale mapping.
func NewRegistry(locales map[string][]string, falsePositives map[string][]string) *Registry {
	fp := make(map[string]map[string]struct{}, len(falsePositives))
	for typ, values := range falsePositives {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[strings.ToLower(v)] = struct{}{}
		}
		fp[typ] = set
	}
	return &Registry{
		recognizers:    make(map[string]Recognizer),
		locales:        locales,
		falsePositives: fp,
	}
}

// Register adds a recognizer. Registering the same id twice is a
// programming error.
func (g *Registry) Register(r Recognizer) error {
	id := r.ID()
	if _, exists := g.recognizers[id]; exists {
		return fmt.Errorf("registry: recognizer %q already registered", id)
	}
	g.recognizers[id] = r
	g.order = append(g.order, id)
	return nil
}

// SupportsLocale reports whether any recognizer is configured for locale.
func (g *Registry) SupportsLocale(locale string) bool {
	return len(g.locales[locale]) > 0
}

// DetectAll runs every recognizer configured for locale concurrently and
// unions their candidates. The result order is deterministic: recognizers
// in registration order, each recognizer's spans in its own output order.
// An unknown locale yields an empty candidate set.
func (g *Registry) DetectAll(ctx context.Context, text, locale string) []entity.Span {
	active := g.activeFor(locale)
	if len(active) == 0 {
		return nil
	}

	results := make([][]entity.Span, len(active))
	var wg sync.WaitGroup
	for i, rec := range active {
		wg.Add(1)
		go func(i int, rec Recognizer) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					redact.Logf("registry: recognizer %s panicked: %v", rec.ID(), p)
				}
			}()
			spans, err := rec.Detect(ctx, text, locale)
			if err != nil {
				redact.Logf("registry: recognizer %s failed, skipping: %v", rec.ID(), err)
				return
			}
			results[i] = spans
		}(i, rec)
	}
	wg.Wait()

	var candidates []entity.Span
	for _, spans := range results {
		for _, s := range spans {
			if s.Validate(len(text)) != nil {
				continue
			}
			if g.isFalsePositive(s.EntityType, text[s.Start:s.End]) {
				continue
			}
			candidates = append(candidates, s)
		}
	}
	return candidates
}

func (g *Registry) activeFor(locale string) []Recognizer {
	ids := g.locales[locale]
	if len(ids) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	var active []Recognizer
	for _, id := range g.order {
		if _, ok := wanted[id]; ok {
			active = append(active, g.recognizers[id])
		}
	}
	return active
}

func (g *Registry) isFalsePositive(entityType, value string) bool {
	set, ok := g.falsePositives[entityType]
	if !ok {
		return false
	}
	_, hit := set[strings.ToLower(value)]
	return hit
}
