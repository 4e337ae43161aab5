package finding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ASCII unit separator between hash inputs.
const hashSeparator = "\x1f"

// Hash computes the identity of a finding from its location and content.
func Hash(chapter, requirement, check, criterion, justification string) string {
	joined := strings.Join([]string{chapter, requirement, check, criterion, justification}, hashSeparator)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
