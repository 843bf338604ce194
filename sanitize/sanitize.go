package sanitize

import (
	"regexp"
	"strings"

	"github.com/mailsift/mailsift/extract"
)

// tokenPattern splits text into whitespace-delimited tokens while
// preserving the surrounding whitespace untouched.
var tokenPattern = regexp.MustCompile(`\S+`)

// SanitizedText has the same shape as extract.ExtractedText with
// prohibited content redacted or removed from every field.
type SanitizedText struct {
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Attachments map[string]string `json:"attachments,omitempty"`

	// Failures carries over the extractor's per-attachment annotations.
	Failures map[string]string `json:"failures,omitempty"`
}

// Sanitize applies rs to every field of et. Pure transformation: et is
// not modified, the ruleset is not modified, and identical inputs always
// produce identical outputs. Sanitizing already-sanitized text under the
// same ruleset is a no-op.
func Sanitize(et *extract.ExtractedText, rs *Ruleset) (*SanitizedText, error) {
	st := &SanitizedText{
		Subject: rs.Apply(et.Subject),
		Body:    rs.Apply(et.Body),
	}

	if len(et.Attachments) > 0 {
		st.Attachments = make(map[string]string, len(et.Attachments))
		for id, text := range et.Attachments {
			st.Attachments[id] = rs.Apply(text)
		}
	}

	if len(et.Failures) > 0 {
		st.Failures = make(map[string]string, len(et.Failures))
		for id, reason := range et.Failures {
			st.Failures[id] = reason
		}
	}

	return st, nil
}

// Apply runs the rules against text in declared order, each rule
// consuming the previous rule's output. When two patterns would match
// overlapping spans, the earlier-registered rule wins: by the time a
// later rule runs, the consumed span has already been rewritten and only
// the unconsumed remainder can still match.
func (rs *Ruleset) Apply(text string) string {
	for _, rule := range rs.Rules {
		switch rule.Kind {
		case KindPattern:
			text = rs.applyPattern(rule, text)
		case KindToken:
			text = rs.applyToken(rule, text)
		}
	}
	return text
}

func (rs *Ruleset) applyPattern(rule Rule, text string) string {
	if rule.action == ActionRemove {
		return rule.pattern.ReplaceAllString(text, "")
	}
	return rule.pattern.ReplaceAllStringFunc(text, func(string) string {
		return rs.RedactionMarker
	})
}

func (rs *Ruleset) applyToken(rule Rule, text string) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		label, ok := rs.Model.ClassifyToken(token)
		if !ok || !rule.classes[label] {
			return token
		}
		// Redact only the classified core; surrounding punctuation
		// stays, so "alice@example.com," keeps its comma
		core := strings.Trim(token, tokenPunctuation)
		start := strings.Index(token, core)
		return token[:start] + rs.RedactionMarker + token[start+len(core):]
	})
}
