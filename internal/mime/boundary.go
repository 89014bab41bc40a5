package mime

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"

	"github.com/mayhemheroes/meli/internal/merrors"
)

const (
	boundaryPrefix   = "meli-part-"
	maxBoundaryLen   = 70
	maxBoundaryTries = 4096
)

// GenerateBoundary produces a random boundary at most 70 characters
// long, prefixed with a fixed marker, that does not occur as a
// substring of any of parts (spec.md §4.1). It never returns a
// boundary ending in whitespace (RFC 1341). Gives up after 4096
// attempts.
func GenerateBoundary(parts [][]byte) (string, error) {
	for attempt := 0; attempt < maxBoundaryTries; attempt++ {
		candidate, err := randomBoundary()
		if err != nil {
			return "", merrors.IO(err)
		}
		if len(candidate) > maxBoundaryLen {
			candidate = candidate[:maxBoundaryLen]
		}
		if candidate[len(candidate)-1] == ' ' || candidate[len(candidate)-1] == '\t' {
			continue
		}
		if !occursInAny(candidate, parts) {
			return candidate, nil
		}
	}
	return "", merrors.Invalid("could not generate a unique MIME boundary after 4096 attempts")
}

func randomBoundary() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return boundaryPrefix + hex.EncodeToString(buf), nil
}

func occursInAny(candidate string, parts [][]byte) bool {
	needle := []byte(candidate)
	for _, p := range parts {
		if bytes.Contains(p, needle) {
			return true
		}
	}
	return false
}
