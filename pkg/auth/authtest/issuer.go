// Package authtest provides an in-process identity provider for tests: a
// JWKS endpoint, RS256 token minting and a refresh-token endpoint.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience is the default audience of minted tokens
const Audience = "tenantgate-test"

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Issuer is a fake identity provider backed by httptest
type Issuer struct {
	Server *httptest.Server
	key    *rsa.PrivateKey
	keyID  string

	mu sync.Mutex
	// refresh tokens the token endpoint accepts, mapped to the subject
	refresh map[string]string
	// AccessTTL is the lifetime of minted and refreshed access tokens.
	AccessTTL time.Duration
	// RefreshTTL is reported as refresh_expires_in by the token endpoint.
	RefreshTTL time.Duration
	// OmitExpiresIn leaves expires_in out of token responses.
	OmitExpiresIn bool
	keyHits       int
}

// NewIssuer starts a fake identity provider, stopped with the test
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	iss := &Issuer{
		key:        key,
		keyID:      "test-key-1",
		refresh:    make(map[string]string),
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/keys", iss.serveKeys)
	mux.HandleFunc("/token", iss.serveToken)
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Server.Close)

	return iss
}

// URL is the issuer identifier placed in the iss claim
func (i *Issuer) URL() string {
	return i.Server.URL
}

// JWKSURL is the key set endpoint
func (i *Issuer) JWKSURL() string {
	return i.Server.URL + "/keys"
}

// TokenURL is the token endpoint
func (i *Issuer) TokenURL() string {
	return i.Server.URL + "/token"
}

// KeyFetches returns how many times the key set was served
func (i *Issuer) KeyFetches() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keyHits
}

// Mint signs a token for subject. Extra claims override the defaults.
func (i *Issuer) Mint(t testing.TB, subject string, extra map[string]interface{}) string {
	t.Helper()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   i.URL(),
		"sub":   subject,
		"aud":   Audience,
		"email": subject + "@example.com",
		"name":  "User " + subject,
		"iat":   now.Unix(),
		"exp":   now.Add(i.AccessTTL).Unix(),
		"jti":   uuid.NewString(),
	}
	for k, v := range extra {
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.keyID

	signed, err := token.SignedString(i.key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// IssueRefreshToken registers a refresh token the token endpoint will accept
func (i *Issuer) IssueRefreshToken(subject string) string {
	tok := "rt-" + uuid.NewString()
	i.mu.Lock()
	defer i.mu.Unlock()
	i.refresh[tok] = subject
	return tok
}

func (i *Issuer) serveKeys(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	i.keyHits++
	i.mu.Unlock()

	pub := i.key.PublicKey
	set := map[string][]jwk{
		"keys": {{
			Kty: "RSA",
			Use: "sig",
			Kid: i.keyID,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set)
}

func (i *Issuer) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
		writeTokenError(w, "unsupported_grant_type")
		return
	}

	old := r.PostForm.Get("refresh_token")
	i.mu.Lock()
	subject, ok := i.refresh[old]
	if ok {
		delete(i.refresh, old)
	}
	i.mu.Unlock()
	if !ok {
		writeTokenError(w, "invalid_grant")
		return
	}

	next := i.IssueRefreshToken(subject)
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"access_token":       "at-" + uuid.NewString(),
		"token_type":         "Bearer",
		"refresh_token":      next,
		"refresh_expires_in": int(i.RefreshTTL.Seconds()),
	}
	if !i.OmitExpiresIn {
		resp["expires_in"] = int(i.AccessTTL.Seconds())
	}
	json.NewEncoder(w).Encode(resp)
}

func writeTokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
