package audit

import (
	"context"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the destination
	Close() error
}

// NopLogger discards every event
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }
func (NopLogger) Close() error                      { return nil }

// LogLogger writes audit events to the structured application log
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates an audit logger on top of the application logger
func NewLogLogger(logger *observability.Logger) *LogLogger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogLogger{logger: logger.WithField("audit", true)}
}

// Log writes the event as one log line, at warn level for failures and denials
func (l *LogLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"event_type": string(event.Type),
		"status":     string(event.Status),
	}
	if event.UID != "" {
		fields["uid"] = event.UID
	}
	if event.UserID != 0 {
		fields["user_id"] = event.UserID
	}
	if event.TenantID != 0 {
		fields["tenant_id"] = event.TenantID
	}
	if event.TargetUID != "" {
		fields["target_uid"] = event.TargetUID
	}
	if event.IPAddress != "" {
		fields["ip"] = event.IPAddress
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Error != "" {
		fields["error"] = event.Error
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.Type)
	}
	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

func (l *LogLogger) Close() error { return nil }
