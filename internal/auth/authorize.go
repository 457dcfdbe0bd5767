package auth

import (
	"sort"
	"strings"
)

// Principal is an authenticated user with resolved roles and permissions.
type Principal struct {
	User        User
	SessionID   string
	Roles       []string
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal, deduplicating permission keys.
func NewPrincipal(user User, sessionID string, access Access) Principal {
	set := make(map[string]struct{}, len(access.Permissions))
	for _, p := range access.Permissions {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return Principal{User: user, SessionID: sessionID, Roles: dedupeStrings(access.Roles), Permissions: set}
}

// HasPermission reports whether the principal can execute the action identified by key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// HasRole matches role names case-insensitively.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// PermissionList returns the permission keys sorted.
func (p Principal) PermissionList() []string {
	out := make([]string, 0, len(p.Permissions))
	for k := range p.Permissions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
