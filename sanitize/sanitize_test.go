package sanitize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/extract"
)

func testRuleset(t *testing.T, cfg rulesetConfig) *Ruleset {
	t.Helper()
	if cfg.Version == "" {
		cfg.Version = "test-v1"
	}
	rs, err := compile(&cfg)
	require.NoError(t, err)
	return rs
}

func TestPatternRuleRedactsPhoneNumber(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{
		Rules: []ruleConfig{
			{Name: "phone", Kind: KindPattern, Pattern: `\d{3}[-.]\d{3}[-.]\d{4}`},
		},
	})

	got := rs.Apply("call me at 555-867-5309 tomorrow")
	assert.Equal(t, "call me at [REDACTED] tomorrow", got)
}

func TestPatternRuleOnlyMatchAltered(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{
		Rules: []ruleConfig{
			{Name: "phone", Kind: KindPattern, Pattern: `\d{3}[-.]\d{3}[-.]\d{4}`},
		},
	})

	in := "Meeting notes:\nagenda unchanged\ncontact: 555-123-4567\nsee you there"
	want := "Meeting notes:\nagenda unchanged\ncontact: [REDACTED]\nsee you there"
	assert.Equal(t, want, rs.Apply(in))
}

func TestPatternRuleRemoveAction(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{
		Rules: []ruleConfig{
			{Name: "boilerplate", Kind: KindPattern, Pattern: `(?m)^--\s*\n.*$`, Action: ActionRemove},
		},
	})

	got := rs.Apply("real content\n-- \nsignature line")
	assert.Equal(t, "real content\n", got)
}

func TestTokenRuleRedactsFlaggedClasses(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{
		Rules: []ruleConfig{
			{Name: "pii-tokens", Kind: KindToken, Classes: []string{ClassEmail, ClassSSN}},
		},
	})

	got := rs.Apply("contact alice@example.com or 123-45-6789 for details")
	assert.Equal(t, "contact [REDACTED] or [REDACTED] for details", got)
}

func TestTokenRuleLexiconWords(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{
		Rules: []ruleConfig{
			{Name: "credentials", Kind: KindToken, Classes: []string{ClassCredential}},
		},
		Lexicon: map[string][]string{
			ClassCredential: {"hunter2", "swordfish"},
		},
	})

	got := rs.Apply("the password is hunter2, not swordfish")
	assert.Equal(t, "the password is [REDACTED], not [REDACTED]", got)
}

func TestTokenRulePreservesPunctuation(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{
		Rules: []ruleConfig{
			{Name: "pii-tokens", Kind: KindToken, Classes: []string{ClassEmail, ClassCredential}},
		},
		Lexicon: map[string][]string{
			ClassCredential: {"hunter2"},
		},
	})

	tests := []struct {
		in   string
		want string
	}{
		{"write alice@example.com, please.", "write [REDACTED], please."},
		{"(use hunter2)", "([REDACTED])"},
		{"is it alice@example.com?", "is it [REDACTED]?"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rs.Apply(tt.in))
	}
}

func TestRuleOrderSensitivity(t *testing.T) {
	// First ordering: digits redacted before the word rule sees them
	first := testRuleset(t, rulesetConfig{
		Version: "order-a",
		Rules: []ruleConfig{
			{Name: "digits", Kind: KindPattern, Pattern: `\d+`},
			{Name: "secret-word", Kind: KindPattern, Pattern: `secret \[REDACTED\]`, Action: ActionRemove},
		},
	})
	// Second ordering: the word rule never matches because digits are
	// still intact when it runs
	second := testRuleset(t, rulesetConfig{
		Version: "order-b",
		Rules: []ruleConfig{
			{Name: "secret-word", Kind: KindPattern, Pattern: `secret \[REDACTED\]`, Action: ActionRemove},
			{Name: "digits", Kind: KindPattern, Pattern: `\d+`},
		},
	})

	in := "secret 42 stays?"
	assert.NotEqual(t, first.Apply(in), second.Apply(in))
}

func TestEarlierRuleWinsOverlap(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{
		Rules: []ruleConfig{
			{Name: "long", Kind: KindPattern, Pattern: `abc\d{4}`},
			{Name: "short", Kind: KindPattern, Pattern: `\d{4}xyz`},
		},
	})

	// Both patterns overlap on "1234"; the earlier rule consumes it and
	// the later rule sees only the rewritten remainder
	got := rs.Apply("abc1234xyz")
	assert.Equal(t, "[REDACTED]xyz", got)
}

func TestSanitizeIdempotent(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{
		Rules: []ruleConfig{
			{Name: "phone", Kind: KindPattern, Pattern: `\d{3}[-.]\d{3}[-.]\d{4}`},
			{Name: "pii-tokens", Kind: KindToken, Classes: []string{ClassEmail}},
		},
	})

	et := &extract.ExtractedText{
		Subject: "call 555-123-4567",
		Body:    "write to bob@example.com today",
	}

	once, err := Sanitize(et, rs)
	require.NoError(t, err)

	again, err := Sanitize(&extract.ExtractedText{Subject: once.Subject, Body: once.Body}, rs)
	require.NoError(t, err)

	assert.Equal(t, once.Subject, again.Subject)
	assert.Equal(t, once.Body, again.Body)
}

func TestSanitizeCleanTextUnchanged(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{
		Rules: []ruleConfig{
			{Name: "phone", Kind: KindPattern, Pattern: `\d{3}[-.]\d{3}[-.]\d{4}`},
			{Name: "pii-tokens", Kind: KindToken, Classes: []string{ClassEmail, ClassSSN}},
		},
	})

	et := &extract.ExtractedText{
		Subject: "Lunch plans",
		Body:    "Nothing sensitive in here at all.\n",
	}

	st, err := Sanitize(et, rs)
	require.NoError(t, err)
	assert.Equal(t, et.Subject, st.Subject)
	assert.Equal(t, et.Body, st.Body)
}

func TestSanitizeCarriesFailures(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{})

	et := &extract.ExtractedText{
		Body:     "body",
		Failures: map[string]string{"broken.txt": "not decodable"},
	}

	st, err := Sanitize(et, rs)
	require.NoError(t, err)
	assert.Equal(t, et.Failures, st.Failures)
}

func TestSanitizeAttachmentsSanitized(t *testing.T) {
	rs := testRuleset(t, rulesetConfig{
		Rules: []ruleConfig{
			{Name: "ssn", Kind: KindPattern, Pattern: `\d{3}-\d{2}-\d{4}`},
		},
	})

	et := &extract.ExtractedText{
		Body:        "clean",
		Attachments: map[string]string{"notes.txt": "ssn 123-45-6789 here"},
	}

	st, err := Sanitize(et, rs)
	require.NoError(t, err)
	assert.Equal(t, "ssn [REDACTED] here", st.Attachments["notes.txt"])
}

func TestLoadFileAndStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ruleset-v1.toml")
	content := `
version = "2024-06-01"
redaction_marker = "[REDACTED]"

[[rule]]
name = "phone"
kind = "pattern"
pattern = '\d{3}[-.]\d{3}[-.]\d{4}'
action = "redact"

[[rule]]
name = "pii-tokens"
kind = "token"
classes = ["email", "credential"]

[lexicon]
credential = ["hunter2"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	rs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", rs.Version)
	require.Len(t, rs.Rules, 2)

	got := rs.Apply("555-123-4567 and alice@example.com and hunter2")
	assert.Equal(t, "[REDACTED] and [REDACTED] and [REDACTED]", got)

	store, err := LoadPath(path)
	require.NoError(t, err)
	loaded, ok := store.Get("2024-06-01")
	require.True(t, ok)
	assert.Equal(t, rs.Version, loaded.Version)

	// Empty version resolves to the default
	def, ok := store.Get("")
	require.True(t, ok)
	assert.Equal(t, "2024-06-01", def.Version)

	_, ok = store.Get("no-such-version")
	assert.False(t, ok)
}

func TestLoadFileRejectsBadRuleset(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"missing version", `[[rule]]
kind = "pattern"
pattern = "x"`},
		{"bad regexp", `version = "v1"
[[rule]]
kind = "pattern"
pattern = "([unclosed"`},
		{"unknown kind", `version = "v1"
[[rule]]
kind = "mystery"`},
		{"token without classes", `version = "v1"
[[rule]]
kind = "token"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, err := LoadFile(path)
			assert.Error(t, err)
		})
	}
}

func TestClassifyToken(t *testing.T) {
	model := NewLexicalModel(map[string][]string{
		"credential": {"hunter2"},
	})

	tests := []struct {
		token string
		label string
		ok    bool
	}{
		{"alice@example.com", ClassEmail, true},
		{"alice@example.com,", ClassEmail, true},
		{"123-45-6789", ClassSSN, true},
		{"555-123-4567", ClassPhone, true},
		{"https://example.com/x", ClassURL, true},
		{"hunter2", "credential", true},
		{"HUNTER2", "credential", true},
		{"ordinary", "", false},
		{"[REDACTED]", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			label, ok := model.ClassifyToken(tt.token)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.label, label)
		})
	}
}
