package audit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// Session events
	EventTypeSignIn        EventType = "auth.sign_in"
	EventTypeSignOut       EventType = "auth.sign_out"
	EventTypeRefresh       EventType = "auth.refresh"
	EventTypeRefreshFailed EventType = "auth.refresh_failed"

	// Tenant access events
	EventTypeAccessGrant  EventType = "access.grant"
	EventTypeAccessRevoke EventType = "access.revoke"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry. Session ids and tokens are credentials
// and never recorded.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UID    string `json:"uid,omitempty"`
	UserID int64  `json:"user_id,omitempty"`

	// Subject
	TenantID  int64  `json:"tenant_id,omitempty"`
	TargetUID string `json:"target_uid,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent builds an event with the request context filled in. r may be nil.
func NewEvent(r *http.Request, eventType EventType, status EventStatus) *Event {
	e := &Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Status:    status,
	}
	if r != nil {
		e.IPAddress = clientIP(r)
		e.UserAgent = r.UserAgent()
		e.RequestID = contextkeys.GetRequestID(r.Context())
		e.Method = r.Method
		e.Path = r.URL.Path
	}
	return e
}

// WithActor records who performed the event
func (e *Event) WithActor(p *auth.Principal) *Event {
	if p != nil {
		e.UID = p.UID
		e.UserID = p.UserID
	}
	return e
}

// WithError records the failure cause
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
