package common

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// UIDPrefix is prepended to every recording id and prompt object name.
const UIDPrefix = "UOH_"

// NewUID returns a short recording id such as "UOH_1a2b3c4d".
func NewUID() string {
	return UIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// MakeRandHexString generates a random hexadecimal string of the given size.
// The result is twice as long as size, since each byte expands to two hex
// characters.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
