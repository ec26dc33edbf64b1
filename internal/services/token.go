package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
)

// Bearer token prefixes. The embedded ID lets authentication fetch a single
// row instead of scanning every digest.
const (
	agentTokenPrefix   = "csa_"
	controlTokenPrefix = "cst_"
)

const tokenSecretBytes = 24

func randomSecret() (string, error) {
	buf := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateAgentToken mints a new agent bearer token and the bcrypt digest
// stored for it. The plaintext token is returned exactly once, at
// registration.
func GenerateAgentToken(agentID int) (token, digest string, err error) {
	secret, err := randomSecret()
	if err != nil {
		return "", "", err
	}
	token = fmt.Sprintf("%s%d_%s", agentTokenPrefix, agentID, secret)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash agent token: %w", err)
	}
	return token, string(hash), nil
}

// GenerateControlToken mints a control-surface bearer token for a user.
func GenerateControlToken(userID int64) (token, digest string, err error) {
	secret, err := randomSecret()
	if err != nil {
		return "", "", err
	}
	token = fmt.Sprintf("%s%d_%s", controlTokenPrefix, userID, secret)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash control token: %w", err)
	}
	return token, string(hash), nil
}

// ParseAgentToken splits an agent bearer token into its ID and secret parts.
// Malformed tokens are indistinguishable from unknown ones to callers: both
// come back core.Unauthorized.
func ParseAgentToken(token string) (agentID int, secret string, err error) {
	rest, ok := strings.CutPrefix(token, agentTokenPrefix)
	if !ok {
		return 0, "", core.Unauthorized("invalid token")
	}
	idPart, secretPart, ok := strings.Cut(rest, "_")
	if !ok || idPart == "" || secretPart == "" {
		return 0, "", core.Unauthorized("invalid token")
	}
	id, err := strconv.Atoi(idPart)
	if err != nil || id <= 0 {
		return 0, "", core.Unauthorized("invalid token")
	}
	return id, secretPart, nil
}

// ParseControlToken splits a control bearer token into its ID and secret
// parts.
func ParseControlToken(token string) (userID int64, secret string, err error) {
	rest, ok := strings.CutPrefix(token, controlTokenPrefix)
	if !ok {
		return 0, "", core.Unauthorized("invalid token")
	}
	idPart, secretPart, ok := strings.Cut(rest, "_")
	if !ok || idPart == "" || secretPart == "" {
		return 0, "", core.Unauthorized("invalid token")
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", core.Unauthorized("invalid token")
	}
	return id, secretPart, nil
}

// VerifySecret compares a presented secret against a stored bcrypt digest.
func VerifySecret(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}
