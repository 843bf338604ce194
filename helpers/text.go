package helpers

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// SanitizeUTF8 removes invalid UTF-8 sequences and NULL bytes from a string.
// PostgreSQL's text type does not allow NULL bytes (0x00) even though they are
// valid UTF-8 characters. This function ensures the string is safe to store in
// PostgreSQL text columns.
func SanitizeUTF8(s string) string {
	// Quick check: if string is valid UTF-8 and has no NULL bytes, return as-is
	if utf8.ValidString(s) && !strings.ContainsRune(s, '\x00') {
		return s
	}

	buf := make([]rune, 0, len(s))
	for i, r := range s {
		// Skip NULL bytes (0x00) - PostgreSQL text columns don't allow them
		if r == '\x00' {
			continue
		}

		// Skip invalid UTF-8 sequences
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue // skip invalid byte
			}
		}

		buf = append(buf, r)
	}
	return string(buf)
}

// NormalizeText produces the canonical form used for all extracted text:
// valid UTF-8 with NULL bytes removed, LF line endings, and Unicode NFC.
// Identical inputs always normalize to byte-identical outputs, which the
// fingerprint cache depends on.
func NormalizeText(s string) string {
	s = SanitizeUTF8(s)
	s = normalizeLineEndings(s)
	if !norm.NFC.IsNormalString(s) {
		s = norm.NFC.String(s)
	}
	return s
}

// normalizeLineEndings rewrites CRLF and bare CR to LF.
func normalizeLineEndings(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
