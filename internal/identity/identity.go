// Package identity derives the request-scoped identities a challenge is bound
// to: the caller's session id, the issuer host and the website audience.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	SessionHeaderName = "X-Captcha-Session-ID"
	// SessionQueryParam is accepted when the header is absent.
	SessionQueryParam = "session_id"
)

type contextKey int

const sessionIDKey contextKey = iota

var (
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	// Host with optional port, no scheme, path or userinfo.
	hostPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]{0,252})?(:[0-9]{1,5})?$`)
)

// ValidSessionID reports whether id is an acceptable session identifier.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// SessionIDFromContext extracts the session id placed by Middleware.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

func sessionIDFromRequest(r *http.Request) string {
	sid := strings.TrimSpace(r.Header.Get(SessionHeaderName))
	if sid == "" {
		sid = strings.TrimSpace(r.URL.Query().Get(SessionQueryParam))
	}
	if !ValidSessionID(sid) {
		return ""
	}
	return sid
}

// Middleware stores a valid session id from the header or query string in
// the request context. Requests without one pass through unchanged.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sid := sessionIDFromRequest(r); sid != "" {
			r = r.WithContext(context.WithValue(r.Context(), sessionIDKey, sid))
		}
		next.ServeHTTP(w, r)
	})
}

// IssuerFromRequest returns the host the request was addressed to. A
// configured issuer takes precedence.
func IssuerFromRequest(r *http.Request, configured string) string {
	if configured != "" {
		return configured
	}
	return r.Host
}

// NormalizeWebsite trims a website to its bare host[:port] form, dropping
// any scheme and path. It returns "" for values that are not a host.
func NormalizeWebsite(website string) string {
	w := strings.TrimSpace(website)
	w = strings.TrimPrefix(w, "https://")
	w = strings.TrimPrefix(w, "http://")
	if i := strings.IndexAny(w, "/?#"); i >= 0 {
		w = w[:i]
	}
	w = strings.ToLower(w)
	if !hostPattern.MatchString(w) {
		return ""
	}
	return w
}

// AudienceVariants lists the audience values accepted for website: the
// bare host and its http and https origins.
func AudienceVariants(website string) []string {
	host := NormalizeWebsite(website)
	if host == "" {
		return nil
	}
	return []string{host, "http://" + host, "https://" + host}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
