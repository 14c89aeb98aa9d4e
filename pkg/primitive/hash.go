package primitive

import (
	"bytes"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm prefixes every stored content hash
const HashAlgorithm = "blake2b-256"

var hashPattern = regexp.MustCompile(`^blake2b-256:[0-9a-f]{64}$`)

// ComputeHash returns the content hash of data in "blake2b-256:<hex>" form.
// Line endings are normalized to LF first so a checkout on any platform
// hashes identically.
func ComputeHash(data []byte) string {
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	sum := blake2b.Sum256(normalized)
	return HashAlgorithm + ":" + hex.EncodeToString(sum[:])
}

// ValidHash reports whether h is a well-formed stored hash
func ValidHash(h string) bool {
	return hashPattern.MatchString(h)
}

// ShortHash abbreviates a hash for display
func ShortHash(h string) string {
	h = strings.TrimPrefix(h, HashAlgorithm+":")
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
