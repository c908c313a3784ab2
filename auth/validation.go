package auth

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"

	interrors "github.com/trustcore/trustcore/internal/errors"
)

const (
	minLoginLength  = 3
	maxLoginLength  = 64
	minSecretLength = 8
	maxSecretLength = 128
)

// ValidateLogin checks a normalized login for length and character set.
// Logins are lower-case, and limited to letters, digits and a small set
// of separators so they stay usable as identifiers everywhere.
func ValidateLogin(login string) error {
	if len(login) < minLoginLength || len(login) > maxLoginLength {
		return errors.Wrapf(interrors.ErrInvalidCredential, "[ValidateLogin] login length must be between %d and %d", minLoginLength, maxLoginLength)
	}
	for _, r := range login {
		if unicode.IsLower(r) || unicode.IsDigit(r) {
			continue
		}
		if strings.ContainsRune("._-@+", r) {
			continue
		}
		return errors.Wrap(interrors.ErrInvalidCredential, "[ValidateLogin] login contains invalid characters")
	}
	return nil
}

// ValidateSecret applies the password policy: length bounds plus at
// least one letter and one digit.
func ValidateSecret(secret string) error {
	if len(secret) < minSecretLength {
		return errors.Wrapf(interrors.ErrWeakSecret, "[ValidateSecret] secret must be at least %d characters", minSecretLength)
	}
	if len(secret) > maxSecretLength {
		return errors.Wrapf(interrors.ErrWeakSecret, "[ValidateSecret] secret must be at most %d characters", maxSecretLength)
	}
	var hasLetter, hasDigit bool
	for _, r := range secret {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return errors.Wrap(interrors.ErrWeakSecret, "[ValidateSecret] secret needs at least one letter and one digit")
	}
	return nil
}
