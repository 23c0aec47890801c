package realtime

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRandomHex returns 2*nBytes hex characters from crypto/rand, used for
// session and envelope identifiers. A non-positive nBytes falls back to 16
// bytes (32 hex chars).
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}

	raw := make([]byte, nBytes)
	if _, err := rand.Read(raw); err != nil {
		// An empty id is the failure signal; callers log it.
		return ""
	}

	out := make([]byte, hex.EncodedLen(nBytes))
	hex.Encode(out, raw)
	return string(out)
}
