package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// SessionTokenPrefix marks tokens minted by SessionStore
const SessionTokenPrefix = "gly_"

const sessionTokenBytes = 32

// newSessionToken returns gly_<base64url(32 random bytes)>
func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return SessionTokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// tokenDigest is the hex SHA-256 of token. Redis keys carry only digests.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IsSessionToken reports whether token has the shape of a session token.
// OIDC ID tokens fail this check and are left to the next authenticator.
func IsSessionToken(token string) bool {
	body, ok := strings.CutPrefix(token, SessionTokenPrefix)
	if !ok {
		return false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(body)
	return err == nil && len(decoded) == sessionTokenBytes
}
