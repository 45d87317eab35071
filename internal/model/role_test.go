package model

import "testing"

func TestParseRole_KnownRoles(t *testing.T) {
	tests := []struct {
		input string
		want  Role
	}{
		{"admin", RoleAdmin},
		{"trainer", RoleTrainer},
		{"member", RoleMember},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRole_UnknownRole_ReturnsError(t *testing.T) {
	// 未知のロールはエラーになること（デフォルトへのフォールバック禁止）
	tests := []string{"", "superadmin", "ADMIN", "Member", "guest"}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			if _, err := ParseRole(input); err == nil {
				t.Errorf("ParseRole(%q) should return error", input)
			}
		})
	}
}

func TestSession_Authenticated(t *testing.T) {
	ident := &Identity{Email: "user@example.com"}

	tests := []struct {
		name string
		sess Session
		want bool
	}{
		{"確定済み・認証済み", Session{Identity: ident, Token: "tok", Loading: false}, true},
		{"ローディング中は未確定", Session{Identity: ident, Token: "tok", Loading: true}, false},
		{"Identityなし", Session{Token: "tok"}, false},
		{"トークンなし", Session{Identity: ident}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sess.Authenticated(); got != tt.want {
				t.Errorf("Authenticated() = %v, want %v", got, tt.want)
			}
		})
	}
}
