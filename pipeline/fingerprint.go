package pipeline

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Fingerprint computes the deterministic cache key for a raw message
// processed under a given ruleset version: a BLAKE3 digest over the raw
// bytes, a NUL separator, and the version string. Identical bytes and
// version always produce the same fingerprint; changing either changes
// it, so results cached under an old ruleset can never be served for a
// new one.
func Fingerprint(raw []byte, rulesetVersion string) string {
	h := blake3.New(32, nil)
	h.Write(raw)
	h.Write([]byte{0})
	h.Write([]byte(rulesetVersion))
	return hex.EncodeToString(h.Sum(nil))
}
