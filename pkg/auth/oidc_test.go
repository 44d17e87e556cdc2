package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://issuer.example.com"
	testClientID = "gallery"
)

type fakeProvisioner struct {
	subject, account, name string
}

func (f *fakeProvisioner) ProvisionOIDC(_ context.Context, subject, account, displayName string) (*User, error) {
	f.subject, f.account, f.name = subject, account, displayName
	return &User{ID: 77, Account: account, Role: RoleUser}, nil
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims map[string]interface{}) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	jws, err := signer.Sign(payload)
	require.NoError(t, err)

	raw, err := jws.CompactSerialize()
	require.NoError(t, err)
	return raw
}

func newTestOIDC(t *testing.T) (*OIDCAuthenticator, *rsa.PrivateKey, *fakeProvisioner) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID})
	users := &fakeProvisioner{}
	return NewOIDCAuthenticatorWithVerifier(verifier, users), key, users
}

func validClaims() map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"iss":   testIssuer,
		"aud":   testClientID,
		"sub":   "subject-1",
		"email": "carol@example.com",
		"name":  "Carol",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func TestOIDCAuthenticator_Valid(t *testing.T) {
	authn, key, users := newTestOIDC(t)

	identity, err := authn.Authenticate(context.Background(), signIDToken(t, key, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, int64(77), identity.UserID)
	assert.Equal(t, "subject-1", users.subject)
	assert.Equal(t, "carol@example.com", users.account)
	assert.Equal(t, "Carol", users.name)
}

func TestOIDCAuthenticator_Rejects(t *testing.T) {
	authn, key, _ := newTestOIDC(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongAudience := validClaims()
	wrongAudience["aud"] = "someone-else"

	tests := []struct {
		name  string
		token string
	}{
		{name: "not a jwt", token: "gly_abc"},
		{name: "expired", token: signIDToken(t, key, expired)},
		{name: "wrong audience", token: signIDToken(t, key, wrongAudience)},
		{name: "unknown key", token: signIDToken(t, otherKey, validClaims())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := authn.Authenticate(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
