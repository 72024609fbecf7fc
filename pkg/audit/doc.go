// Package audit records security-relevant events: sign-in, sign-out, session
// refresh and tenant access grants and revocations.
//
// Destinations implement Logger. LogLogger writes through the application
// logger, FileLogger appends JSON lines with size-based rotation, and
// MultiLogger fans out to several:
//
//	fileLog, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: "/var/log/tenantgate", Rotate: true})
//	auditLog := audit.NewMultiLogger(audit.NewLogLogger(logger), fileLog)
//
//	auditLog.Log(ctx, audit.NewEvent(r, audit.EventTypeSignIn, audit.EventStatusSuccess).WithActor(principal))
package audit
