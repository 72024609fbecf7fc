package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
)

// VerifierConfig configures bearer token verification
type VerifierConfig struct {
	JWKSURL           string
	Issuers           []string
	Audiences         []string
	SigningAlgorithms []string
	Provider          string
	Mappings          *ProviderMappings
	HTTPTimeout       time.Duration
	// HTTPClient overrides the client used to fetch the key set.
	HTTPClient *http.Client
}

// Verifier checks bearer tokens against a rotating remote key set and
// resolves the principal they name. Issuer and audience are accepted when
// they are any member of the configured lists.
type Verifier struct {
	verifier  *oidc.IDTokenVerifier
	issuers   map[string]struct{}
	audiences map[string]struct{}
	provider  string
	mappings  *ProviderMappings
}

// NewVerifier creates a verifier. Keys are fetched lazily by key id and
// refetched when an unknown key id shows up.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("JWKS URL is required")
	}
	if len(cfg.Issuers) == 0 {
		return nil, fmt.Errorf("at least one issuer is required")
	}
	if len(cfg.Audiences) == 0 {
		return nil, fmt.Errorf("at least one audience is required")
	}
	if cfg.Mappings == nil {
		cfg.Mappings = DefaultProviderMappings()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	// The key set keeps this context for every fetch it makes.
	keyCtx := oidc.ClientContext(context.Background(), client)
	keySet := oidc.NewRemoteKeySet(keyCtx, cfg.JWKSURL)

	algs := cfg.SigningAlgorithms
	if len(algs) == 0 {
		algs = []string{oidc.RS256}
	}

	return &Verifier{
		verifier: oidc.NewVerifier("", keySet, &oidc.Config{
			SkipClientIDCheck:    true,
			SkipIssuerCheck:      true,
			SupportedSigningAlgs: algs,
		}),
		issuers:   toSet(cfg.Issuers),
		audiences: toSet(cfg.Audiences),
		provider:  cfg.Provider,
		mappings:  cfg.Mappings,
	}, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Verify validates signature, expiry, issuer and audience, then maps the
// claims to a principal. Invalid tokens are Unauthenticated; an unreachable
// key set is Unavailable.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	const op = "auth.Verify"

	if rawToken == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, op, "missing bearer token")
	}

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		if isKeyFetchError(err) {
			return nil, apperr.Wrap(err, apperr.KindUnavailable, op, "identity provider key set unavailable")
		}
		return nil, apperr.Wrap(err, apperr.KindUnauthenticated, op, "invalid bearer token")
	}

	if _, ok := v.issuers[token.Issuer]; !ok {
		return nil, apperr.Errorf(apperr.KindUnauthenticated, op, "issuer %q is not accepted", token.Issuer)
	}
	if !v.audienceAccepted(token.Audience) {
		return nil, apperr.New(apperr.KindUnauthenticated, op, "audience is not accepted")
	}

	var claims map[string]interface{}
	if err := token.Claims(&claims); err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnauthenticated, op, "unreadable claims")
	}

	principal, err := v.mappings.Select(v.provider, token.Issuer).Principal(claims)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnauthenticated, op, "no principal in token")
	}

	return &Identity{
		Principal: principal,
		Issuer:    token.Issuer,
		Audience:  token.Audience,
		Subject:   token.Subject,
		IssuedAt:  token.IssuedAt,
		Expiry:    token.Expiry,
	}, nil
}

func (v *Verifier) audienceAccepted(aud []string) bool {
	for _, a := range aud {
		if _, ok := v.audiences[a]; ok {
			return true
		}
	}
	return false
}

// isKeyFetchError tells transport failures of the key set apart from bad
// tokens; go-oidc reports both through the same error path.
func isKeyFetchError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fetching keys") || strings.Contains(msg, "get keys failed")
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
