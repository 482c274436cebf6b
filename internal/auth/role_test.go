package auth

import "testing"

func TestRoleFromMetadata(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]any
		expected Role
	}{
		{"nil metadata", nil, RoleUser},
		{"empty metadata", map[string]any{}, RoleUser},
		{"admin role", map[string]any{"role": "admin"}, RoleAdmin},
		{"user role", map[string]any{"role": "user"}, RoleUser},
		{"unknown role string", map[string]any{"role": "superadmin"}, RoleUser},
		{"non-string role", map[string]any{"role": true}, RoleUser},
		{"unrelated keys only", map[string]any{"plan": "pro"}, RoleUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoleFromMetadata(tt.metadata); got != tt.expected {
				t.Fatalf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestIsAdmin_PrivateMetadataOnly(t *testing.T) {
	id := &Identity{
		Subject:         "user_1",
		TokenIdentifier: "clerk:user_1",
		Email:           "alice@example.com",
		PrivateMetadata: map[string]any{"role": "admin"},
	}
	if !IsAdmin(id) {
		t.Fatal("expected admin for private metadata role=admin")
	}

	// A role planted in public metadata must not grant admin: public metadata
	// is user-visible and not trusted for authorization.
	id = &Identity{
		Subject:         "user_2",
		TokenIdentifier: "clerk:user_2",
		Email:           "mallory@example.com",
		PublicMetadata:  map[string]any{"role": "admin"},
	}
	if IsAdmin(id) {
		t.Fatal("public metadata role must not grant admin")
	}
}

func TestIsAdmin_MissingClaim(t *testing.T) {
	id := &Identity{
		Subject:         "user_3",
		TokenIdentifier: "clerk:user_3",
		Email:           "bob@example.com",
	}
	if IsAdmin(id) {
		t.Fatal("identity without a role claim must not be admin")
	}
}

func TestIsAdmin_NilIdentity(t *testing.T) {
	if IsAdmin(nil) {
		t.Fatal("nil identity must never be admin")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("admin"); err != nil || r != RoleAdmin {
		t.Fatalf("expected admin, got %s (%v)", r, err)
	}
	if r, err := ParseRole("user"); err != nil || r != RoleUser {
		t.Fatalf("expected user, got %s (%v)", r, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, err := ParseRole(""); err == nil {
		t.Fatal("expected error for empty role")
	}
}
