package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
)

func TestCanonicalizeHashLowercasesHex(t *testing.T) {
	got, err := CanonicalizeHash(0, "5F4DCC3B5AA765D61D8327DEB882CF99")
	require.NoError(t, err)
	assert.Equal(t, "5f4dcc3b5aa765d61d8327deb882cf99", got)
}

func TestCanonicalizeHashTrimsWhitespace(t *testing.T) {
	got, err := CanonicalizeHash(0, "  abc123\n")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got)
}

func TestCanonicalizeHashNTLMPwdump(t *testing.T) {
	got, err := CanonicalizeHash(1000, "Administrator:500:AAD3B435B51404EEAAD3B435B51404EE:31D6CFE0D16AE931B73C59D7E0C089C0:::")
	require.NoError(t, err)
	assert.Equal(t, "31d6cfe0d16ae931b73c59d7e0c089c0", got)
}

func TestCanonicalizeHashNTLMUserPrefix(t *testing.T) {
	got, err := CanonicalizeHash(1000, "alice:31D6CFE0D16AE931B73C59D7E0C089C0")
	require.NoError(t, err)
	assert.Equal(t, "31d6cfe0d16ae931b73c59d7e0c089c0", got)
}

func TestCanonicalizeHashNTLMBare(t *testing.T) {
	got, err := CanonicalizeHash(1000, "31D6CFE0D16AE931B73C59D7E0C089C0")
	require.NoError(t, err)
	assert.Equal(t, "31d6cfe0d16ae931b73c59d7e0c089c0", got)
}

func TestCanonicalizeHashNonNTLMKeepsColons(t *testing.T) {
	// Colons are only meaningful for NTLM pwdump rows; salted formats keep
	// their separators.
	got, err := CanonicalizeHash(10, "HASH:SALT")
	require.NoError(t, err)
	assert.Equal(t, "hash:salt", got)
}

func TestCanonicalizeHashRejectsEmpty(t *testing.T) {
	for _, v := range []string{"", "   ", "\t\n"} {
		_, err := CanonicalizeHash(0, v)
		require.Error(t, err, "value %q", v)
		assert.Equal(t, core.KindMalformed, core.KindOf(err))
	}
}

func TestCanonicalizeHashIdempotent(t *testing.T) {
	first, err := CanonicalizeHash(1000, "Bob:1001:lm:ABCDEF0123456789ABCDEF0123456789:::")
	require.NoError(t, err)
	second, err := CanonicalizeHash(1000, first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
