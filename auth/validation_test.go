package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trustcore/trustcore/auth"
	interrors "github.com/trustcore/trustcore/internal/errors"
)

func TestValidateLogin(t *testing.T) {
	valid := []string{"alice", "bob42", "jane.doe", "j_d-x", "user@example.com", "a+b"}
	for _, login := range valid {
		require.NoError(t, auth.ValidateLogin(login), "login %q", login)
	}

	invalid := []string{
		"",
		"ab",
		strings.Repeat("a", 65),
		"Alice",  // not normalized
		"a b",    // whitespace
		"ali#ce", // unsupported punctuation
	}
	for _, login := range invalid {
		require.ErrorIs(t, auth.ValidateLogin(login), interrors.ErrInvalidCredential, "login %q", login)
	}
}

func TestValidateSecret(t *testing.T) {
	valid := []string{"password1", "longer secret 42", "a1b2c3d4"}
	for _, secret := range valid {
		require.NoError(t, auth.ValidateSecret(secret), "secret %q", secret)
	}

	invalid := []string{
		"",
		"short1",
		"lettersonly",
		"1234567890",
		strings.Repeat("a1", 65),
	}
	for _, secret := range invalid {
		require.ErrorIs(t, auth.ValidateSecret(secret), interrors.ErrWeakSecret, "secret %q", secret)
	}
}
