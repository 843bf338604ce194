package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/consts"
	"github.com/mailsift/mailsift/parser"
)

func TestExtractPrefersPlainOverHTML(t *testing.T) {
	pm := &parser.ParsedMessage{
		Subject: "hello",
		Parts: []parser.BodyPart{
			{MediaType: "text/html", Text: "<p>html version</p>"},
			{MediaType: "text/plain", Text: "plain version\r\n"},
		},
	}

	et, err := New(0).Extract(pm)
	require.NoError(t, err)
	assert.Equal(t, "hello", et.Subject)
	assert.Equal(t, "plain version\n", et.Body)
}

func TestExtractHTMLFallback(t *testing.T) {
	pm := &parser.ParsedMessage{
		Parts: []parser.BodyPart{
			{MediaType: "text/html", Text: "<h1>Header</h1><p>Some text</p>"},
		},
	}

	et, err := New(0).Extract(pm)
	require.NoError(t, err)
	assert.Contains(t, et.Body, "Header")
	assert.Contains(t, et.Body, "Some text")
	assert.NotContains(t, et.Body, "<p>")
}

func TestExtractRemovesInlineImageRefs(t *testing.T) {
	pm := &parser.ParsedMessage{
		Parts: []parser.BodyPart{
			{MediaType: "text/plain", Text: "see image [cid:img1@example.com] here"},
		},
	}

	et, err := New(0).Extract(pm)
	require.NoError(t, err)
	assert.Equal(t, "see image  here", et.Body)
}

func TestExtractZeroPartsFails(t *testing.T) {
	_, err := New(0).Extract(&parser.ParsedMessage{Subject: "empty"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, consts.ErrNoExtractableContent))
}

func TestExtractAttachmentOnlyMessageSucceeds(t *testing.T) {
	pm := &parser.ParsedMessage{
		Attachments: []parser.Attachment{
			{Filename: "data.bin", MediaType: "application/octet-stream", Data: []byte{0x01, 0x02}, Size: 2},
		},
	}

	et, err := New(0).Extract(pm)
	require.NoError(t, err)
	assert.Empty(t, et.Body)
	assert.Empty(t, et.Failures)
}

func TestExtractTextAttachment(t *testing.T) {
	pm := &parser.ParsedMessage{
		Parts: []parser.BodyPart{{MediaType: "text/plain", Text: "body"}},
		Attachments: []parser.Attachment{
			{Filename: "notes.txt", MediaType: "text/plain", Data: []byte("attached notes\r\n"), Size: 16},
		},
	}

	et, err := New(0).Extract(pm)
	require.NoError(t, err)
	assert.Equal(t, "attached notes\n", et.Attachments["notes.txt"])
}

func TestExtractCorruptAttachmentRecordedNotEscalated(t *testing.T) {
	corrupt := make([]byte, 64)
	for i := range corrupt {
		corrupt[i] = 0xff
	}
	pm := &parser.ParsedMessage{
		Parts: []parser.BodyPart{{MediaType: "text/plain", Text: "body intact"}},
		Attachments: []parser.Attachment{
			{Filename: "broken.txt", MediaType: "text/plain", Data: corrupt, Size: int64(len(corrupt))},
		},
	}

	et, err := New(0).Extract(pm)
	require.NoError(t, err)
	assert.Equal(t, "body intact", et.Body)
	assert.Contains(t, et.Failures, "broken.txt")
	assert.NotContains(t, et.Attachments, "broken.txt")
}

func TestExtractOversizeAttachmentRecorded(t *testing.T) {
	pm := &parser.ParsedMessage{
		Parts: []parser.BodyPart{{MediaType: "text/plain", Text: "body"}},
		Attachments: []parser.Attachment{
			{Filename: "big.txt", MediaType: "text/plain", Data: []byte(strings.Repeat("a", 100)), Size: 100},
		},
	}

	et, err := New(10).Extract(pm)
	require.NoError(t, err)
	assert.Contains(t, et.Failures, "big.txt")
}

func TestExtractUnnamedAttachmentGetsPositionalID(t *testing.T) {
	pm := &parser.ParsedMessage{
		Parts: []parser.BodyPart{{MediaType: "text/plain", Text: "body"}},
		Attachments: []parser.Attachment{
			{MediaType: "text/plain", Data: []byte("anonymous"), Size: 9},
		},
	}

	et, err := New(0).Extract(pm)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", et.Attachments["attachment-1"])
}
