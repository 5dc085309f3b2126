package auth

import (
	"log"
	"net/http"
	"strings"
)

// Middleware validates bearer tokens and enforces the route policy.
type Middleware struct {
	secret []byte
	policy Policy
	logger *log.Logger
}

// NewMiddleware constructs the middleware. A nil logger disables denial logs.
func NewMiddleware(secret []byte, policy Policy, logger *log.Logger) *Middleware {
	return &Middleware{secret: secret, policy: policy, logger: logger}
}

// Wrap applies authentication and role checks to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(bearerToken(r), m.secret)
		if err != nil {
			m.deny(r, "unauthorized", err.Error())
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			m.deny(r, "forbidden", "role "+string(role)+" below "+string(required))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), role, claims.Subject)))
	})
}

func (m *Middleware) deny(r *http.Request, outcome, reason string) {
	if m.logger == nil {
		return
	}
	m.logger.Printf("auth %s: method=%s path=%s reason=%s", outcome, r.Method, r.URL.Path, reason)
}

func bearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
