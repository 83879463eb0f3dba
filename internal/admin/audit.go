package admin

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/pobradovic08/appserver/internal/api"
)

// auditLogin writes a structured audit entry for an admin login attempt.
func auditLogin(r *http.Request, user string, success bool, reason string) {
	attrs := []any{
		"user", user,
		"client_ip", extractClientIP(r),
		"success", success,
		"request_id", api.RequestIDFromContext(r.Context()),
	}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if success {
		slog.Info("audit: admin login", attrs...)
		return
	}
	slog.Warn("audit: admin login", attrs...)
}

// extractClientIP uses RemoteAddr only. Forwarding headers are ignored so a
// client cannot forge the logged address.
func extractClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
