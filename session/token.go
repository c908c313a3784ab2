package session

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
)

// TokenBytes is the entropy of a generated token. 32 bytes gives 256 bits,
// the floor for unguessable session identifiers.
const TokenBytes = 32

// TokenGenerator produces opaque session tokens from a cryptographically
// secure source. Tokens carry no structural correlation to the principal
// or the clock; uniqueness is enforced by the store's insert path, which
// rejects collisions so the caller can retry.
type TokenGenerator func() (string, error)

// NewToken generates a random URL-safe token of TokenBytes entropy.
func NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "[NewToken] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
