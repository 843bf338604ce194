package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"

	"github.com/mailsift/mailsift/consts"
)

// decodeText converts part bytes to UTF-8. The part's own charset wins,
// then the caller-declared hint, then UTF-8 sniffing. When none of these
// determine an encoding the part fails with consts.ErrUnsupportedEncoding.
func decodeText(content []byte, partCharset, declaredCharset string) (string, error) {
	for _, cs := range []string{partCharset, declaredCharset} {
		if cs == "" {
			continue
		}
		if strings.EqualFold(cs, "utf-8") || strings.EqualFold(cs, "us-ascii") {
			return string(content), nil
		}
		r, err := charset.Reader(strings.ToLower(cs), bytes.NewReader(content))
		if err != nil {
			// Unknown label; try the next source
			continue
		}
		decoded, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		return string(decoded), nil
	}

	// No usable declaration; accept the bytes if they already are UTF-8
	if utf8.Valid(content) {
		return string(content), nil
	}

	return "", fmt.Errorf("%w: charset %q", consts.ErrUnsupportedEncoding, partCharset)
}
