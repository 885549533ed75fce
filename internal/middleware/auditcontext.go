package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type actorIDKey struct{}
type clientIPKey struct{}
type userAgentKey struct{}

// SetActorID stores the acting identity in the context. This is called
// by the authentication layer after validating credentials; an absent
// actor means the operation is system-initiated.
func SetActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// GetActorID retrieves the acting identity from context. Returns empty
// string if not present.
func GetActorID(ctx context.Context) string {
	if id, ok := ctx.Value(actorIDKey{}).(string); ok {
		return id
	}
	return ""
}

// SetClientIP stores the client IP in the context. The AuditContext
// middleware does this for HTTP requests; non-HTTP boundaries (task
// runners, CLIs) may call it directly.
func SetClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// SetUserAgent stores the client user agent in the context.
func SetUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// GetClientIP retrieves the client IP from context. Returns empty string
// if not present.
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// GetUserAgent retrieves the client user agent from context. Returns
// empty string if not present.
func GetUserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// AuditContext captures client IP and user agent into the request
// context so business logic deep in the call chain can record audit
// entries without threading provenance through every signature. The
// values live only on the per-request context, so concurrent in-flight
// requests never observe each other's provenance.
func AuditContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = SetClientIP(ctx, ClientIP(r))
		ctx = SetUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP extracts the client IP address from an HTTP request. It
// checks X-Forwarded-For, X-Real-IP, and RemoteAddr in that order,
// stripping any port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		firstIP := xff
		if idx := strings.Index(xff, ","); idx != -1 {
			firstIP = xff[:idx]
		}
		firstIP = strings.TrimSpace(firstIP)
		if firstIP != "" {
			return stripPort(firstIP)
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return stripPort(xri)
	}

	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// Address might not carry a port
		return addr
	}
	return host
}
