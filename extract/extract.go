// Package extract reduces a parsed message to normalized plain text.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/k3a/html2text"

	"github.com/mailsift/mailsift/consts"
	"github.com/mailsift/mailsift/helpers"
	"github.com/mailsift/mailsift/parser"
)

// cidRefPattern matches inline image references like "[cid:part1@example]"
// that mail clients leave in plaintext bodies alongside HTML alternatives.
var cidRefPattern = regexp.MustCompile(`\[cid:[^\]\s]+\]`)

// ExtractedText holds the normalized UTF-8 text of each logical field of a
// message. All fields are in canonical form: LF line endings, Unicode NFC,
// no NULL bytes.
type ExtractedText struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`

	// Attachments maps attachment IDs to best-effort extracted text.
	Attachments map[string]string `json:"attachments,omitempty"`

	// Failures records attachments whose text could not be extracted,
	// keyed by attachment ID. Never escalated to a pipeline failure.
	Failures map[string]string `json:"failures,omitempty"`
}

// Extractor selects and normalizes text from parsed messages.
type Extractor struct {
	maxAttachmentText int64
}

// New returns an Extractor. maxAttachmentText caps how many bytes of a
// single attachment are considered for text extraction; larger attachments
// are recorded as failed rather than truncated silently.
func New(maxAttachmentText int64) *Extractor {
	if maxAttachmentText <= 0 {
		maxAttachmentText = 1 << 20
	}
	return &Extractor{maxAttachmentText: maxAttachmentText}
}

// Extract reduces pm to per-field normalized text.
//
// The body is taken from the first text/plain part; messages carrying only
// HTML are downconverted. A message with attachments but no text parts
// yields an empty body, not an error; only a message with zero parts and
// zero attachments fails with consts.ErrNoExtractableContent.
func (e *Extractor) Extract(pm *parser.ParsedMessage) (*ExtractedText, error) {
	if len(pm.Parts) == 0 && len(pm.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message has no parts", consts.ErrNoExtractableContent)
	}

	et := &ExtractedText{
		Subject: helpers.NormalizeText(pm.Subject),
	}

	et.Body = e.selectBody(pm)

	for i, att := range pm.Attachments {
		id := attachmentID(att, i)
		text, err := e.attachmentText(att)
		if err != nil {
			if et.Failures == nil {
				et.Failures = make(map[string]string)
			}
			et.Failures[id] = err.Error()
			continue
		}
		if text == "" {
			continue
		}
		if et.Attachments == nil {
			et.Attachments = make(map[string]string)
		}
		et.Attachments[id] = text
	}

	return et, nil
}

// selectBody picks body text by fixed preference: first text/plain part,
// then first text/html part downconverted, else empty.
func (e *Extractor) selectBody(pm *parser.ParsedMessage) string {
	var htmlBody string
	for _, part := range pm.Parts {
		switch part.MediaType {
		case "text/plain", "text":
			if part.Text != "" {
				return normalizeBody(part.Text)
			}
		case "text/html":
			if htmlBody == "" {
				htmlBody = part.Text
			}
		}
	}
	if htmlBody != "" {
		return normalizeBody(html2text.HTML2Text(htmlBody))
	}
	return ""
}

// normalizeBody canonicalizes text and strips inline image references.
func normalizeBody(s string) string {
	s = helpers.NormalizeText(s)
	s = cidRefPattern.ReplaceAllString(s, "")
	return s
}

// attachmentText extracts text from a single attachment, best-effort.
func (e *Extractor) attachmentText(att parser.Attachment) (string, error) {
	if !strings.HasPrefix(att.MediaType, "text/") {
		return "", nil
	}
	if att.Size > e.maxAttachmentText {
		return "", fmt.Errorf("attachment exceeds text extraction limit (%d bytes)", att.Size)
	}
	if len(att.Data) == 0 {
		return "", nil
	}

	text := string(att.Data)
	if att.MediaType == "text/html" {
		text = html2text.HTML2Text(text)
	}

	normalized := helpers.NormalizeText(text)
	// A text attachment that normalizes away almost entirely was not
	// decodable text in the first place
	if len(normalized) < len(text)/2 {
		return "", fmt.Errorf("attachment content is not decodable text")
	}
	return normalized, nil
}

// attachmentID names an attachment for result maps: the filename when
// present, otherwise a stable positional ID.
func attachmentID(att parser.Attachment, index int) string {
	if att.Filename != "" {
		return att.Filename
	}
	return fmt.Sprintf("attachment-%d", index+1)
}
