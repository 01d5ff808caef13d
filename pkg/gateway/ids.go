package gateway

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.New().String()
}

// newInitialKey generates the back-channel shared secret a fresh Creating
// state carries (spec.md §4.4: "return a fresh Creating state with a new
// random initial key").
func newInitialKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable on any supported platform;
		// fall back to a UUID rather than panic.
		return uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
