package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/tallyhq/tally/internal/auth"
)

// APIKeyHeader is the alternative to a bearer Authorization header.
const APIKeyHeader = "X-API-Key"

// APIKeyFromRequest returns the key presented with r, or "" if none.
// Supports both "Authorization: Bearer <key>" and "X-API-Key: <key>".
func APIKeyFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

// keyPrefix returns the display prefix of a well-formed presented key.
func keyPrefix(r *http.Request) string {
	parsed, err := auth.ParseAPIKey(APIKeyFromRequest(r))
	if err != nil {
		return ""
	}
	return parsed.Prefix()
}

// ClientIP returns the host part of r.RemoteAddr.
// Run chi's RealIP middleware first when behind a trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
