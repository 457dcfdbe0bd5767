package httpapi

import (
	"net/http"
	"strings"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the bearer token to a principal backed by a live session.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.handleError(w, r, err)
			return
		}
		principal, err := a.svc.Auth.Authenticate(r.Context(), token)
		if err != nil {
			a.handleError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects principals lacking perm. Without a principal it
// answers 401.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return require(func(p auth.Principal) bool { return p.HasPermission(perm) }, "missing permission "+perm)
}

// RequireRole rejects principals lacking the role name.
func RequireRole(role string) func(http.Handler) http.Handler {
	return require(func(p auth.Principal) bool { return p.HasRole(role) }, "requires role "+role)
}

func require(allowed func(auth.Principal) bool, denied string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="colegio"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !allowed(principal) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="colegio", error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, denied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// gate authenticates the request and checks perm before calling h.
func (a *API) gate(perm string, h http.HandlerFunc) http.Handler {
	return a.withAuth(RequirePermission(perm)(h))
}

func (a *API) member(h http.HandlerFunc) http.Handler {
	return a.withAuth(RequireRole(auth.RoleMember)(h))
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apperr.Unauthorized("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", apperr.Unauthorized("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", apperr.Unauthorized("missing bearer token")
	}
	return token, nil
}
