package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

const (
	// IDLength is the number of random bytes in a session id (256 bits)
	IDLength = 32
	// KeyPrefix prefixes every persisted session
	KeyPrefix = "session:"
)

// ErrMissingExpiry is returned when a session would be created with neither
// an access nor a refresh expiry and the default TTL was not requested.
var ErrMissingExpiry = errors.New("session has no expiry")

// Record is a stored session
type Record struct {
	ID               string         `json:"id"`
	Principal        auth.Principal `json:"principal"`
	AccessToken      string         `json:"access_token,omitempty"`
	RefreshToken     string         `json:"refresh_token,omitempty"`
	AccessExpiresAt  time.Time      `json:"access_expires_at,omitempty"`
	RefreshExpiresAt time.Time      `json:"refresh_expires_at,omitempty"`
	IssuedAt         time.Time      `json:"issued_at"`
	ExpiresAt        time.Time      `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at now
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// MaxAge is the remaining lifetime, used as the cookie max-age
func (r *Record) MaxAge(now time.Time) time.Duration {
	return ttlUntil(r.ExpiresAt, now)
}

// Tokens carries the credentials and expiry hints for a session. An
// absolute expiry wins over a relative one.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  *time.Time
	AccessExpiresIn  time.Duration
	RefreshExpiresAt *time.Time
	RefreshExpiresIn time.Duration
	// UseDefaultTTL lets the store's default TTL apply when neither expiry
	// is known. Without it such a session is rejected.
	UseDefaultTTL bool
}

func (t *Tokens) accessExpiry(now time.Time) time.Time {
	return resolveExpiry(t.AccessExpiresAt, t.AccessExpiresIn, now)
}

func (t *Tokens) refreshExpiry(now time.Time) time.Time {
	return resolveExpiry(t.RefreshExpiresAt, t.RefreshExpiresIn, now)
}

func resolveExpiry(at *time.Time, in time.Duration, now time.Time) time.Time {
	if at != nil && !at.IsZero() {
		return at.UTC()
	}
	if in > 0 {
		return now.Add(in).UTC()
	}
	return time.Time{}
}

// NewID returns a new opaque session id: base64url of 32 random bytes
func NewID() (string, error) {
	b := make([]byte, IDLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NearExpiry reports whether the access token expires within threshold of
// now. A record without a known access expiry is never near expiry.
func NearExpiry(rec *Record, now time.Time, threshold time.Duration) bool {
	if rec == nil || rec.AccessExpiresAt.IsZero() {
		return false
	}
	return rec.AccessExpiresAt.Sub(now) <= threshold
}

// ttlUntil rounds the time left up to whole seconds, at least one
func ttlUntil(expiresAt, now time.Time) time.Duration {
	secs := math.Ceil(expiresAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

func key(id string) string {
	return KeyPrefix + id
}
