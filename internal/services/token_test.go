package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
)

func TestAgentTokenRoundTrip(t *testing.T) {
	token, digest, err := GenerateAgentToken(42)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "csa_42_"))
	assert.NotContains(t, digest, token)

	id, secret, err := ParseAgentToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, id)
	assert.True(t, VerifySecret(secret, digest))
	assert.False(t, VerifySecret("wrong", digest))
}

func TestControlTokenRoundTrip(t *testing.T) {
	token, digest, err := GenerateControlToken(7)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "cst_7_"))

	id, secret, err := ParseControlToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.True(t, VerifySecret(secret, digest))
}

func TestParseAgentTokenRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"csa_",
		"csa_42",
		"csa_42_",
		"csa__secret",
		"csa_abc_secret",
		"csa_-1_secret",
		"csa_0_secret",
		"cst_42_secret",
		"bearer csa_42_secret",
	}
	for _, tc := range cases {
		_, _, err := ParseAgentToken(tc)
		require.Error(t, err, "token %q", tc)
		assert.Equal(t, core.KindUnauthorized, core.KindOf(err), "token %q", tc)
	}
}

func TestParseAgentTokenSecretMayContainUnderscores(t *testing.T) {
	id, secret, err := ParseAgentToken("csa_3_ab_cd_ef")
	require.NoError(t, err)
	assert.Equal(t, 3, id)
	assert.Equal(t, "ab_cd_ef", secret)
}

func TestGeneratedTokensAreUnique(t *testing.T) {
	a, _, err := GenerateAgentToken(1)
	require.NoError(t, err)
	b, _, err := GenerateAgentToken(1)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
