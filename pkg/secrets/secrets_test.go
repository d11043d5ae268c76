package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	hash, salt, err := Hash("correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	require.NotEmpty(t, salt)

	assert.True(t, Verify("correct horse battery staple", hash, salt))
	assert.False(t, Verify("correct horse battery stale", hash, salt))
	assert.False(t, Verify("", hash, salt))
}

func TestHashSaltsEachCall(t *testing.T) {
	t.Parallel()

	first, firstSalt, err := Hash("secret")
	require.NoError(t, err)
	second, secondSalt, err := Hash("secret")
	require.NoError(t, err)

	assert.NotEqual(t, firstSalt, secondSalt)
	assert.NotEqual(t, first, second)
}

func TestVerifyRejectsCorruptEncoding(t *testing.T) {
	t.Parallel()

	hash, salt, err := Hash("secret")
	require.NoError(t, err)

	assert.False(t, Verify("secret", "!!not-base64!!", salt))
	assert.False(t, Verify("secret", hash, "!!not-base64!!"))
}

func TestDigestIsDeterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Digest("refresh-token"), Digest("refresh-token"))
	assert.NotEqual(t, Digest("refresh-token"), Digest("refresh-tokex"))

	raw, err := base64.RawURLEncoding.DecodeString(Digest("x"))
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestRandomLengthAndUniqueness(t *testing.T) {
	t.Parallel()

	first, err := Random(24)
	require.NoError(t, err)
	second, err := Random(24)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(first)
	require.NoError(t, err)
	assert.Len(t, raw, 24)
	assert.NotEqual(t, first, second)
}
