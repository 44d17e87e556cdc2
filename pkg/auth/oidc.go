package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCProvisioner creates or finds the account behind an OIDC subject
type OIDCProvisioner interface {
	ProvisionOIDC(ctx context.Context, subject, account, displayName string) (*User, error)
}

// OIDCAuthenticator accepts ID tokens from a single issuer and maps them to
// local accounts, provisioning new ones just in time
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	users    OIDCProvisioner
}

// NewOIDCAuthenticator discovers the issuer and builds a verifier for clientID
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string, users OIDCProvisioner) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return NewOIDCAuthenticatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), users), nil
}

// NewOIDCAuthenticatorWithVerifier uses a prepared verifier
func NewOIDCAuthenticatorWithVerifier(verifier *oidc.IDTokenVerifier, users OIDCProvisioner) *OIDCAuthenticator {
	return &OIDCAuthenticator{verifier: verifier, users: users}
}

type idTokenClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// Authenticate implements Authenticator
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	// compact JWS has exactly three segments
	if strings.Count(token, ".") != 2 {
		return nil, ErrInvalidToken
	}

	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	account := claims.Email
	if account == "" {
		account = claims.PreferredUsername
	}

	user, err := a.users.ProvisionOIDC(ctx, idToken.Subject, account, claims.Name)
	if err != nil {
		return nil, err
	}
	return user.Identity(), nil
}
