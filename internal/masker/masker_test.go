package masker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peekguard/peekguard/internal/entity"
	"github.com/peekguard/peekguard/internal/recognizer"
	"github.com/peekguard/peekguard/internal/resolver"
	"github.com/peekguard/peekguard/internal/vault"
)

func testEngine(t *testing.T, opts vault.Options, maxBytes int) (*Engine, *vault.Vault) {
	t.Helper()

	ids := []string{"email", "phone", "credit_card", "us_ssn", "ip_address", "url", "iban", "street_address"}
	reg := recognizer.NewRegistry(map[string][]string{"en": ids}, nil)
	for _, rec := range recognizer.BuiltinPatternRecognizers() {
		require.NoError(t, reg.Register(rec))
	}

	v := vault.New(vault.NewMemoryStore(0, 0), opts)
	res := resolver.New(func(string) float64 { return 0.6 })
	return New(reg, res, v, maxBytes), v
}

func TestMaskUnmaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, vault.Options{}, 0)
	scope := vault.NewScopeID()

	text := "Contact Jane Doe at jane.doe@example.com or call 555-123-4567."
	doc, err := engine.Mask(ctx, text, "en", scope, nil)
	require.NoError(t, err)
	assert.Equal(t, scope, doc.ScopeID)

	assert.NotContains(t, doc.Text, "jane.doe@example.com")
	assert.NotContains(t, doc.Text, "555-123-4567")
	assert.Contains(t, doc.Text, "%EMAIL_ADDRESS:")
	assert.Contains(t, doc.Text, "%PHONE_NUMBER:")
	// Unmasked surroundings survive byte-for-byte.
	assert.True(t, strings.HasPrefix(doc.Text, "Contact Jane Doe at "))

	restored, err := engine.Unmask(ctx, doc.Text, scope)
	require.NoError(t, err)
	assert.Equal(t, text, restored)
}

func TestMaskEntityFilter(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, vault.Options{}, 0)

	text := "jane.doe@example.com lives at 192.168.1.10"
	doc, err := engine.Mask(ctx, text, "en", vault.NewScopeID(), []string{entity.TypeEmailAddress})
	require.NoError(t, err)

	assert.Contains(t, doc.Text, "%EMAIL_ADDRESS:")
	assert.Contains(t, doc.Text, "192.168.1.10", "filtered-out types stay in the clear")
}

func TestMaskUnknownEntityTypeRejected(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, vault.Options{}, 0)

	_, err := engine.Mask(ctx, "hello", "en", vault.NewScopeID(), []string{"PASSPORT"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "PASSPORT")
}

func TestMaskInputValidation(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, vault.Options{}, 32)

	var ve *ValidationError
	_, err := engine.Mask(ctx, "", "en", vault.NewScopeID(), nil)
	assert.ErrorAs(t, err, &ve)

	_, err = engine.Mask(ctx, strings.Repeat("a", 33), "en", vault.NewScopeID(), nil)
	assert.ErrorAs(t, err, &ve)
}

func TestMaskNoPIIReturnsTextUnchanged(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, vault.Options{}, 0)

	text := "nothing sensitive here"
	doc, err := engine.Mask(ctx, text, "en", vault.NewScopeID(), nil)
	require.NoError(t, err)
	assert.Equal(t, text, doc.Text)
}

func TestMaskDeterministicReuse(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, vault.Options{Deterministic: true}, 0)
	scope := vault.NewScopeID()

	doc, err := engine.Mask(ctx, "jane.doe@example.com and again jane.doe@example.com", "en", scope, nil)
	require.NoError(t, err)

	tokens := placeholderRe.FindAllStringSubmatch(doc.Text, -1)
	require.Len(t, tokens, 2)
	assert.Equal(t, tokens[0][2], tokens[1][2], "same value in one scope reuses the token")
}

func TestUnmaskPartialReportsMissingTokens(t *testing.T) {
	ctx := context.Background()
	engine, v := testEngine(t, vault.Options{}, 0)
	scope := vault.NewScopeID()

	text := "mail jane.doe@example.com, host 192.168.1.10"
	doc, err := engine.Mask(ctx, text, "en", scope, nil)
	require.NoError(t, err)

	matches := placeholderRe.FindAllStringSubmatch(doc.Text, -1)
	require.Len(t, matches, 2)

	// Drop the whole scope so every token fails to resolve.
	require.NoError(t, v.CloseScope(ctx, scope))
	_, err = engine.Unmask(ctx, doc.Text, scope)
	var partial *PartialUnmaskError
	require.ErrorAs(t, err, &partial)
	assert.ElementsMatch(t, []string{matches[0][2], matches[1][2]}, partial.Missing)
	assert.Equal(t, doc.Text, partial.Text, "unresolved placeholders stay in the best-effort text")
}

func TestUnmaskPartialKeepsResolvedSubstitutions(t *testing.T) {
	ctx := context.Background()
	engine, v := testEngine(t, vault.Options{}, 0)
	scope := vault.NewScopeID()

	live, err := v.IssueToken(ctx, "jane.doe@example.com", entity.TypeEmailAddress, scope)
	require.NoError(t, err)
	masked := "mail %EMAIL_ADDRESS:" + live + "%, phone %PHONE_NUMBER:deadbeefdeadbeefdeadbeefdeadbeef%"

	_, err = engine.Unmask(ctx, masked, scope)
	var partial *PartialUnmaskError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"deadbeefdeadbeefdeadbeefdeadbeef"}, partial.Missing)
	assert.Contains(t, partial.Text, "jane.doe@example.com")
	assert.Contains(t, partial.Text, "%PHONE_NUMBER:deadbeefdeadbeefdeadbeefdeadbeef%")
}

func TestUnmaskWrongScope(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, vault.Options{}, 0)
	scope := vault.NewScopeID()

	doc, err := engine.Mask(ctx, "jane.doe@example.com", "en", scope, nil)
	require.NoError(t, err)

	_, err = engine.Unmask(ctx, doc.Text, vault.NewScopeID())
	var partial *PartialUnmaskError
	assert.ErrorAs(t, err, &partial)
}

func TestUnmaskPassthroughWithoutPlaceholders(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, vault.Options{}, 0)

	text := "plain text, 100% placeholder-free"
	restored, err := engine.Unmask(ctx, text, vault.NewScopeID())
	require.NoError(t, err)
	assert.Equal(t, text, restored)
}

func TestUnmaskEmptyInput(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, vault.Options{}, 0)

	_, err := engine.Unmask(ctx, "", vault.NewScopeID())
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}
