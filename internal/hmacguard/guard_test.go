package hmacguard

import (
	"testing"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_Disabled_AlwaysPasses(t *testing.T) {
	err := Verify(false, "secret", "github", "conn-1", "")
	require.NoError(t, err)
}

func TestVerify_MissingDigest(t *testing.T) {
	err := Verify(true, "secret", "github", "conn-1", "")
	require.Error(t, err)
	assert.Equal(t, authzerr.MissingHMAC, authzerr.CodeOf(err))
}

func TestVerify_CorrectDigest(t *testing.T) {
	sig := Sign("secret", "github", "conn-1")
	err := Verify(true, "secret", "github", "conn-1", sig)
	require.NoError(t, err)
}

func TestVerify_WrongDigest(t *testing.T) {
	err := Verify(true, "secret", "github", "conn-1", "deadbeef")
	require.Error(t, err)
	assert.Equal(t, authzerr.InvalidHMAC, authzerr.CodeOf(err))
}

func TestVerify_ConnectionIDOptional(t *testing.T) {
	sig := Sign("secret", "github", "")
	err := Verify(true, "secret", "github", "", sig)
	require.NoError(t, err)
}

func TestSign_Deterministic(t *testing.T) {
	a := Sign("s", "p", "c")
	b := Sign("s", "p", "c")
	assert.Equal(t, a, b)
}
