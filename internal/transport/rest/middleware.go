package rest

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/baechuer/fcfs-booking/internal/security"
	"github.com/baechuer/fcfs-booking/internal/transport/rest/response"
	"github.com/rs/zerolog"
)

// AuthMiddleware resolves the bearer credential into a booking identity
// and binds it into the request context. The verifier owns all claim
// interpretation (tenant/user parsing, issuer, expiry); this layer only
// peels the Authorization header. Missing or malformed credentials are
// 401 regardless of cause.
func AuthMiddleware(verifier security.TokenVerifier) func(next http.Handler) http.Handler {
	if verifier == nil {
		panic("AuthMiddleware: nil verifier")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			ident, err := verifier.Verify(raw)
			if err != nil {
				// expired vs invalid could carry different messages;
				// status stays 401 either way.
				unauthorized(w)
				return
			}

			// Enrich the request-scoped logger in place so the access
			// line written by Observe carries the tenant.
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("tenant_id", ident.TenantID.String())
			})

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), ident)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	raw := strings.TrimSpace(parts[1])
	return raw, raw != ""
}

func unauthorized(w http.ResponseWriter) {
	response.Fail(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credentials")
}

// RequestLimiter is the slice of the cache the limiter needs. The scope
// keeps reads and writes in separate budgets.
type RequestLimiter interface {
	AllowRequest(ctx context.Context, scope, ip string, limit int, window time.Duration) (bool, error)
}

// RateLimitMiddleware buckets callers per IP, with claim-style writes
// and alternatives-style reads counted separately: a subcontractor
// polling for alternatives must not eat the budget they need to actually
// claim a slot.
func RateLimitMiddleware(cache RequestLimiter, limit int, window time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := "read"
			if r.Method != http.MethodGet {
				scope = "write"
			}
			allowed, _ := cache.AllowRequest(r.Context(), scope, clientIP(r), limit, window)
			if !allowed {
				response.Fail(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keeps it simple: RemoteAddr host part. Trusting
// X-Forwarded-For blindly is a spoofing risk; do that only behind a
// trusted reverse proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CSP for API: restrictive policy suitable for JSON-only endpoints
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")

		// HSTS: Enforce HTTPS for 1 year, include subdomains
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking (redundant with CSP frame-ancestors, but belt-and-suspenders)
		w.Header().Set("X-Frame-Options", "DENY")

		// XSS protection (legacy but harmless)
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		// Don't leak referrer to external sites
		w.Header().Set("Referrer-Policy", "no-referrer")

		// Prevent cross-origin resource embedding
		w.Header().Set("Cross-Origin-Resource-Policy", "same-site")

		// Prevent window.opener access from cross-origin windows
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		// Disable all browser features for API endpoints
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=(), bluetooth=()")

		next.ServeHTTP(w, r)
	})
}
