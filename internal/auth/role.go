package auth

import "fmt"

// Role is the authorization role carried in the identity provider's private
// metadata. The provider is the single source of truth: the directory's
// is_admin column is a display cache and is never consulted for access
// decisions.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// roleClaim is the metadata key the provider stores the role under.
const roleClaim = "role"

// ParseRole validates a role string from an API request or provider response.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleUser:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RoleFromMetadata reads the role claim from a metadata bag. A missing or
// malformed claim resolves to RoleUser: if the provider is not configured to
// issue the claim, every caller is a regular user.
func RoleFromMetadata(md map[string]any) Role {
	if md == nil {
		return RoleUser
	}
	s, _ := md[roleClaim].(string)
	if r, err := ParseRole(s); err == nil {
		return r
	}
	return RoleUser
}

// Role resolves the caller's role from private metadata only. Public metadata
// is user-visible and intentionally ignored for authorization.
func (id *Identity) Role() Role {
	if id == nil {
		return RoleUser
	}
	return RoleFromMetadata(id.PrivateMetadata)
}

// IsAdmin reports whether the identity's resolved role is admin. A nil
// identity (unauthenticated) is never admin; callers are expected to signal
// the unauthenticated case separately before consulting the role.
func IsAdmin(id *Identity) bool {
	return id.Role() == RoleAdmin
}
