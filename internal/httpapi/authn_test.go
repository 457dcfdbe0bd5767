package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func withPrincipal(r *http.Request, roles, perms []string) *http.Request {
	p := auth.NewPrincipal(auth.User{ID: "user-1"}, "s1", auth.Access{Roles: roles, Permissions: perms})
	return r.WithContext(auth.ContextWithPrincipal(r.Context(), p))
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole(auth.RoleMember)(okHandler())

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/elections/votable", nil), []string{"member"}, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole(auth.RoleMember)(okHandler())

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/elections/votable", nil), []string{auth.RolePadronManager}, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequirePermissionRejectsMissingUser(t *testing.T) {
	handler := RequirePermission(auth.PermAuditRead)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequirePermissionIsExactMatch(t *testing.T) {
	handler := RequirePermission(auth.PermAuditRead)(okHandler())

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/audit", nil), nil, []string{"audit"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	req = withPrincipal(httptest.NewRequest(http.MethodGet, "/audit", nil), nil, []string{auth.PermAuditRead})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc  ", "abc", true},
		{"", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer ", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("header %q: got %q, %v", tc.header, got, err)
			}
			continue
		}
		if !errors.Is(err, apperr.ErrUnauthorized) {
			t.Fatalf("header %q: expected unauthorized, got %v", tc.header, err)
		}
	}
}
