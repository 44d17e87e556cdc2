// Package auth resolves request credentials to an Identity.
//
// Two credential types are accepted:
//
//   - session tokens (gly_...) issued by SessionStore and kept in Redis
//     under their SHA-256 hash
//   - OIDC ID tokens from the configured issuer, mapped to local accounts
//     by subject and provisioned on first use
//
// ChainAuthenticator combines them. The HTTP middleware stores the result
// with WithIdentity and handlers read it back with CurrentIdentity.
package auth
