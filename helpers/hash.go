package helpers

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// HashContent returns the BLAKE3 hash of content as a 64-character hex
// string. Used for content-addressable storage keys and as the base of
// pipeline fingerprints.
func HashContent(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// IsValidContentHash reports whether hash looks like a BLAKE3 content hash
// (64 lowercase hex characters).
func IsValidContentHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
