package auth

import (
	"net/http"
	"strings"
)

// Policy maps requests to the role they require.
type Policy struct {
	exemptPaths map[string]struct{}
	routes      map[string]Role
}

// NewDefaultPolicy builds the report API policy. Reports and zone metadata
// need viewer; cache and settings maintenance need admin.
func NewDefaultPolicy(exemptPaths ...string) Policy {
	p := Policy{
		exemptPaths: make(map[string]struct{}, len(exemptPaths)),
		routes: map[string]Role{
			"GET /api/v1/reports/monthly":      RoleViewer,
			"GET /api/v1/reports/invoice":      RoleViewer,
			"GET /api/v1/reports/invoice.csv":  RoleViewer,
			"GET /api/v1/reports/invoice.xlsx": RoleViewer,
			"GET /api/v1/zones":                RoleViewer,
			"POST /api/v1/reports/cache/clear": RoleAdmin,
			"POST /api/v1/settings/reload":     RoleAdmin,
		},
	}
	for _, path := range exemptPaths {
		p.exemptPaths[path] = struct{}{}
	}
	return p
}

// IsExempt reports whether r skips authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	_, ok := p.exemptPaths[r.URL.Path]
	return ok
}

// RequiredRole resolves the role r needs. HEAD follows GET. Unknown API
// routes fall back to viewer for reads and admin for writes.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}
	if role, ok := p.routes[method+" "+r.URL.Path]; ok {
		return role, true
	}
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		return "", false
	}
	if method == http.MethodGet || method == http.MethodOptions {
		return RoleViewer, true
	}
	return RoleAdmin, true
}
