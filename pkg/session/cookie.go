package session

import (
	"net/http"
	"strings"
	"time"
)

// HeaderName carries the session id for non-browser clients
const HeaderName = "X-Session-Id"

// CookieConfig holds the session cookie attributes
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	HTTPOnly bool
}

// DefaultCookieConfig returns an HTTP-only, secure, lax cookie named session_id
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     "session_id",
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		HTTPOnly: true,
	}
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return "session_id"
	}
	return c.Name
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// WriteCookie sets the session cookie with maxAge rounded up to whole seconds
func (c CookieConfig) WriteCookie(w http.ResponseWriter, id string, maxAge time.Duration) {
	secs := int((maxAge + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    id,
		Path:     c.path(),
		Domain:   c.Domain,
		MaxAge:   secs,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: c.SameSite,
	})
}

// ClearCookie expires the session cookie
func (c CookieConfig) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     c.path(),
		Domain:   c.Domain,
		MaxAge:   -1,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: c.SameSite,
	})
}

// ExtractID reads the session id from the X-Session-Id header, then the cookie
func (c CookieConfig) ExtractID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderName)); id != "" {
		return id
	}
	if cookie, err := r.Cookie(c.name()); err == nil {
		return cookie.Value
	}
	return ""
}
