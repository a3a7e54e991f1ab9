package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns a hex sha256 digest of input.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
