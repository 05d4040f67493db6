package verify

import (
	"crypto/sha256"
	"encoding/hex"
)

const fingerprintLen = 12

// Fingerprint returns a short SHA-256 hex prefix of a digest so reports can tell digests apart without
// printing them.
func Fingerprint(digest string) string {
	if digest == "" {
		return ""
	}
	h := sha256.Sum256([]byte(digest))
	return "sha256:" + hex.EncodeToString(h[:])[:fingerprintLen]
}
