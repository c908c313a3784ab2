// Package credential hashes and verifies authentication secrets.
//
// The verifier is stateless and deliberately slow: bcrypt with a tunable
// cost factor, salted per digest. Comparison time does not depend on which
// character of the secret differs, and a mismatch is reported as a plain
// false, never as an error that could distinguish failure modes.
package credential

import (
	"github.com/pkg/errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost factor used when none is configured.
const DefaultCost = 12

// DecoyDigest is a well-formed digest that matches no secret. Verifying
// against it burns the same bcrypt work as a real comparison, so code
// paths that have no stored digest can still take the same time as ones
// that do.
const DecoyDigest = "$2a$12$wNk7T0TFJ9ZB4d5BB6R1/.uqGXY0KJkN8cDpzQkq0sL5mXgVREPJe"

// Verifier hashes and verifies secrets with a fixed cost parameter.
type Verifier struct {
	cost int
}

// NewVerifier creates a Verifier with the given bcrypt cost. Costs outside
// bcrypt's supported range are rejected rather than silently clamped.
func NewVerifier(cost int) (*Verifier, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.Errorf("[NewVerifier] cost %d outside [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Verifier{cost: cost}, nil
}

// Hash returns a salted one-way digest of the secret.
func (v *Verifier) Hash(secret string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), v.cost)
	if err != nil {
		return "", errors.Wrap(err, "[Verifier.Hash] bcrypt.GenerateFromPassword")
	}
	return string(digest), nil
}

// Verify reports whether secret matches digest. Malformed digests and
// mismatches alike return false; Verify never panics and never reveals
// why the comparison failed.
func (v *Verifier) Verify(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}
