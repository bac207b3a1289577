package sshaudit

import (
	"net/http"
	"strconv"
	"strings"
)

// LogConnection records an identity's shell opening.
func (a *Auditor) LogConnection(serverID, identity, username, via string) {
	details := ""
	if via != "" {
		details = "via=" + via
	}
	a.Log(AuditEntry{
		ServerID:  serverID,
		Identity:  identity,
		EventType: EventConnectionEstablished,
		Username:  username,
		Details:   details,
	})
}

// LogDisconnection records an identity being torn down.
func (a *Auditor) LogDisconnection(serverID, identity, reason string, durationMs int64) {
	a.Log(AuditEntry{
		ServerID:   serverID,
		Identity:   identity,
		EventType:  EventConnectionTerminated,
		Details:    reason,
		DurationMs: durationMs,
	})
}

// LogConnectionFailed records a failed connect attempt.
func (a *Auditor) LogConnectionFailed(serverID, identity, username, reason string) {
	a.Log(AuditEntry{
		ServerID:  serverID,
		Identity:  identity,
		EventType: EventConnectionFailed,
		Username:  username,
		Details:   reason,
	})
}

// LogCommand records a one-shot command and its exit code (-1 when none was
// reported).
func (a *Auditor) LogCommand(serverID, identity, command string, exitCode int, durationMs int64) {
	a.Log(AuditEntry{
		ServerID:   serverID,
		Identity:   identity,
		EventType:  EventCommandExecution,
		Details:    "cmd=" + command + " exit=" + strconv.Itoa(exitCode),
		DurationMs: durationMs,
	})
}

// ExtractSourceIP extracts the client IP from an HTTP request,
// preferring X-Forwarded-For and X-Real-IP headers.
func ExtractSourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	// Fall back to remote address (strip port)
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
