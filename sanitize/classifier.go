package sanitize

import (
	"regexp"
	"strings"
)

// TokenClassifier assigns a class label to a single token. Implementations
// must be safe for concurrent use; the pipeline shares one classifier
// across all requests.
type TokenClassifier interface {
	ClassifyToken(token string) (label string, ok bool)
}

// tokenPunctuation is the leading/trailing punctuation ignored when
// classifying a token and preserved when redacting one.
const tokenPunctuation = ".,;:!?()<>\"'"

// Token classes produced by the built-in detectors.
const (
	ClassEmail      = "email"
	ClassPhone      = "phone"
	ClassSSN        = "ssn"
	ClassURL        = "url"
	ClassCredential = "credential"
)

// Built-in token-shape detectors. Score is implicitly 1.0: these are
// rule-based, not probabilistic.
var tokenDetectors = []struct {
	label   string
	pattern *regexp.Regexp
}{
	{ClassEmail, regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)},
	{ClassSSN, regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)},
	{ClassPhone, regexp.MustCompile(`^\+?\d{1,3}[-.]?\d{3}[-.]?\d{3}[-.]?\d{2,4}$`)},
	{ClassURL, regexp.MustCompile(`^https?://\S+$`)},
}

// LexicalModel classifies tokens against built-in shape detectors and a
// configured lexicon (class -> word list). Loaded once at startup and
// treated as read-only afterwards.
type LexicalModel struct {
	words map[string]string // lowercased word -> class
}

// NewLexicalModel builds a model from a lexicon mapping class names to
// word lists. A nil or empty lexicon yields a model with only the
// built-in detectors.
func NewLexicalModel(lexicon map[string][]string) *LexicalModel {
	words := make(map[string]string)
	for class, list := range lexicon {
		class = strings.ToLower(class)
		for _, w := range list {
			words[strings.ToLower(w)] = class
		}
	}
	return &LexicalModel{words: words}
}

// ClassifyToken implements TokenClassifier. Leading and trailing
// punctuation is ignored so tokens like "alice@example.com," still match.
func (m *LexicalModel) ClassifyToken(token string) (string, bool) {
	trimmed := strings.Trim(token, tokenPunctuation)
	if trimmed == "" {
		return "", false
	}

	if class, ok := m.words[strings.ToLower(trimmed)]; ok {
		return class, true
	}

	for _, d := range tokenDetectors {
		if d.pattern.MatchString(trimmed) {
			return d.label, true
		}
	}
	return "", false
}
