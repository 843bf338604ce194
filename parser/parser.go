// Package parser decodes raw email bytes into a structured representation.
//
// Parsing is deliberately tolerant: duplicate or missing headers, broken
// Content-Transfer-Encoding and unknown charsets degrade to best-effort
// byte-level handling instead of rejecting the whole message. Only
// structurally unsplittable input and runaway multipart nesting are
// treated as malformed.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mailsift/mailsift/consts"
)

// Header is a single header field. Order is preserved and names repeat.
type Header struct {
	Name  string
	Value string
}

// BodyPart is one leaf MIME part of the message body.
type BodyPart struct {
	MediaType        string
	Charset          string
	TransferEncoding string
	Text             string // decoded text for text/* parts
	Data             []byte // raw payload for non-text parts
}

// IsText reports whether the part carries inline text content.
func (p *BodyPart) IsText() bool {
	return strings.HasPrefix(p.MediaType, "text/")
}

// Attachment describes a body part delivered as an attachment. The payload
// is kept as raw bytes; text extraction from attachments happens later and
// is best-effort.
type Attachment struct {
	Filename         string
	MediaType        string
	ContentID        string
	TransferEncoding string
	Size             int64
	Data             []byte
}

// ParsedMessage is the structured form of a raw message. It is owned by
// the pipeline run that created it and never shared across runs.
type ParsedMessage struct {
	Headers     []Header
	Subject     string
	MessageID   string
	From        string
	To          string
	Date        time.Time
	Parts       []BodyPart
	Attachments []Attachment

	// MissingHeaders lists commonly required headers (Message-ID, Date,
	// From, Subject) that were absent. Recorded for diagnostics; absence
	// is tolerated.
	MissingHeaders []string
}

// Parser turns raw message bytes into ParsedMessage values.
type Parser struct {
	maxDepth int
}

// New returns a Parser with the given multipart nesting guard. Nesting
// deeper than maxDepth fails with consts.ErrMalformedMessage.
func New(maxDepth int) *Parser {
	if maxDepth <= 0 {
		maxDepth = 50
	}
	return &Parser{maxDepth: maxDepth}
}

// Parse decodes raw bytes into a ParsedMessage. declaredCharset is an
// optional caller-supplied hint used for text parts that declare no
// charset of their own.
//
// Returns consts.ErrMalformedMessage when the bytes cannot be split into
// header and body sections or multipart nesting exceeds the depth guard,
// and consts.ErrUnsupportedEncoding when a body text part's encoding can
// neither be determined nor sniffed.
func (p *Parser) Parse(raw []byte, declaredCharset string) (*ParsedMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty input", consts.ErrMalformedMessage)
	}

	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("%w: %v", consts.ErrMalformedMessage, err)
	}
	if ent == nil {
		return nil, fmt.Errorf("%w: no message entity", consts.ErrMalformedMessage)
	}

	pm := &ParsedMessage{}
	collectHeaders(ent, pm)
	collectEnvelope(ent, pm)

	if err := p.walk(ent, pm, declaredCharset, 0); err != nil {
		return nil, err
	}
	return pm, nil
}

// collectHeaders copies all header fields in wire order.
func collectHeaders(ent *message.Entity, pm *ParsedMessage) {
	fields := ent.Header.Fields()
	for fields.Next() {
		v, err := fields.Text()
		if err != nil {
			// Undecodable header value, keep the raw form
			v = fields.Value()
		}
		pm.Headers = append(pm.Headers, Header{Name: fields.Key(), Value: v})
	}
	// Wire order is reversed by the underlying field list
	for i, j := 0, len(pm.Headers)-1; i < j; i, j = i+1, j-1 {
		pm.Headers[i], pm.Headers[j] = pm.Headers[j], pm.Headers[i]
	}
}

// collectEnvelope extracts the envelope fields the service records,
// tolerating any that are missing.
func collectEnvelope(ent *message.Entity, pm *ParsedMessage) {
	h := mail.Header{Header: ent.Header}

	if subj, err := h.Subject(); err == nil && subj != "" {
		pm.Subject = subj
	} else if raw := ent.Header.Get("Subject"); raw != "" {
		pm.Subject = raw
	} else {
		pm.MissingHeaders = append(pm.MissingHeaders, "Subject")
	}

	if id, err := h.MessageID(); err == nil && id != "" {
		pm.MessageID = id
	} else if raw := ent.Header.Get("Message-Id"); raw != "" {
		pm.MessageID = strings.Trim(raw, "<> ")
	} else {
		pm.MissingHeaders = append(pm.MissingHeaders, "Message-ID")
	}

	if date, err := h.Date(); err == nil && !date.IsZero() {
		pm.Date = date
	} else {
		pm.MissingHeaders = append(pm.MissingHeaders, "Date")
	}

	// First listed contact, as the historical digester did
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		pm.From = from[0].String()
	} else if raw := ent.Header.Get("From"); raw != "" {
		pm.From = raw
	} else {
		pm.MissingHeaders = append(pm.MissingHeaders, "From")
	}

	if to, err := h.AddressList("To"); err == nil && len(to) > 0 {
		pm.To = to[0].String()
	} else if raw := ent.Header.Get("To"); raw != "" {
		pm.To = raw
	}
}

// walk traverses the MIME structure depth-first, appending leaf parts and
// attachments in document order.
func (p *Parser) walk(ent *message.Entity, pm *ParsedMessage, declaredCharset string, depth int) error {
	if depth > p.maxDepth {
		return fmt.Errorf("%w: multipart nesting exceeds depth %d", consts.ErrMalformedMessage, p.maxDepth)
	}

	mediaType, params, _ := ent.Header.ContentType()

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := ent.MultipartReader()
		if mr == nil {
			return fmt.Errorf("%w: multipart content without boundary", consts.ErrMalformedMessage)
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
				return fmt.Errorf("%w: reading multipart: %v", consts.ErrMalformedMessage, err)
			}
			if part == nil {
				return nil
			}
			if err := p.walk(part, pm, declaredCharset, depth+1); err != nil {
				return err
			}
		}
	}

	return p.leaf(ent, pm, mediaType, params, declaredCharset)
}

// leaf records a single non-multipart entity as a body part or attachment.
func (p *Parser) leaf(ent *message.Entity, pm *ParsedMessage, mediaType string, params map[string]string, declaredCharset string) error {
	content, err := io.ReadAll(ent.Body)
	if err != nil {
		// Broken transfer encoding inside a part: keep whatever bytes were
		// recovered rather than failing the message.
		if len(content) == 0 {
			content = nil
		}
	}

	disposition, dispParams, _ := ent.Header.ContentDisposition()
	cte := strings.ToLower(ent.Header.Get("Content-Transfer-Encoding"))

	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}

	if disposition == "attachment" || (filename != "" && disposition != "inline") {
		pm.Attachments = append(pm.Attachments, Attachment{
			Filename:         filename,
			MediaType:        mediaType,
			ContentID:        strings.Trim(ent.Header.Get("Content-Id"), "<> "),
			TransferEncoding: cte,
			Size:             int64(len(content)),
			Data:             content,
		})
		return nil
	}

	part := BodyPart{
		MediaType:        mediaType,
		Charset:          params["charset"],
		TransferEncoding: cte,
	}

	if part.IsText() {
		text, err := decodeText(content, part.Charset, declaredCharset)
		if err != nil {
			return err
		}
		part.Text = text
	} else {
		part.Data = content
	}

	pm.Parts = append(pm.Parts, part)
	return nil
}
