// Package auth verifies identity-provider bearer tokens and runs the
// refresh-token grant.
//
// # Verification
//
// A Verifier fetches the provider's JSON Web Key Set lazily and caches keys
// by key id. A token is accepted when its signature, expiry, issuer and
// audience check out; issuer and audience may be any member of the
// configured lists.
//
//	v, err := auth.NewVerifier(auth.VerifierConfig{
//		JWKSURL:   "https://login.example.com/keys",
//		Issuers:   []string{"https://login.example.com/"},
//		Audiences: []string{"api://tenantgate"},
//	})
//	id, err := v.Verify(ctx, raw)
//
// Invalid tokens fail with apperr.KindUnauthenticated. A key set that cannot
// be fetched fails with apperr.KindUnavailable so callers can tell an outage
// from a forged token.
//
// # Provider Mappings
//
// Providers disagree on which claim names the user. The verified claims are
// turned into a Principal through a FieldMapping picked by configured
// provider name, then by issuer pattern, then the generic mapping. Built-in
// mappings cover Azure AD, Okta, Google, Auth0, Keycloak and Cognito; a YAML
// file can add or replace entries:
//
//	providers:
//	  - name: corp
//	    issuer_pattern: '^https://sso\.corp\.example/'
//	    uid_claim: employee_id
//	    roles_claim: groups
//
// # Refresh
//
// Refresher exchanges a refresh token at the provider's token endpoint.
// A rejected grant is Unauthenticated; a transport failure is Unavailable.
//
// # Related Packages
//
//   - pkg/session: stores principals and tokens behind an opaque session id
//   - pkg/middleware: the request pipeline that calls Verify
//   - pkg/auth/authtest: in-process identity provider for tests
package auth
