package auth

import (
	"context"
	"testing"
)

func TestPrincipalPermissions(t *testing.T) {
	user := User{ID: "u1", DNI: "12345678", IsActive: true}
	access := Access{
		Roles:       []string{"Member", "Member", "PadronManager"},
		Permissions: []string{"padron.manage", "audit.read", "padron.manage", " "},
	}

	principal := NewPrincipal(user, "s1", access)

	if !principal.HasPermission("padron.manage") {
		t.Fatalf("expected permission")
	}
	if principal.HasPermission("rbac.manage") {
		t.Fatalf("unexpected permission")
	}
	if !principal.HasRole("member") {
		t.Fatalf("expected case-insensitive role match")
	}
	if len(principal.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", principal.Roles)
	}
	got := principal.PermissionList()
	if len(got) != 2 || got[0] != "audit.read" || got[1] != "padron.manage" {
		t.Fatalf("unexpected permission list: %v", got)
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatalf("expected no principal")
	}
	ctx = ContextWithPrincipal(ctx, NewPrincipal(User{ID: "u1"}, "s1", Access{}))
	ctx = ContextWithToken(ctx, "raw-token")

	id, ok := UserIDFromContext(ctx)
	if !ok || id != "u1" {
		t.Fatalf("unexpected user id %q", id)
	}
	tok, ok := TokenFromContext(ctx)
	if !ok || tok != "raw-token" {
		t.Fatalf("unexpected token %q", tok)
	}
}
