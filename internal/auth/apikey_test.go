package auth

import "testing"

func TestAPIKeyAuthenticate(t *testing.T) {
	a := NewAPIKeyAuthenticator([]string{"admin:k1", "svc:k2", "k3"})

	tests := []struct {
		name         string
		key          string
		wantIdentity string
		wantOK       bool
	}{
		{"named identity", "k1", "admin", true},
		{"second named identity", "k2", "svc", true},
		{"bare key defaults identity", "k3", "api-key-user", true},
		{"unknown key", "nope", "", false},
		{"empty key", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, ok := a.Authenticate(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if identity != tt.wantIdentity {
				t.Errorf("identity = %q, want %q", identity, tt.wantIdentity)
			}
		})
	}
}

func TestAPIKeyAuthenticateEmptyConfig(t *testing.T) {
	a := NewAPIKeyAuthenticator(nil)
	if _, ok := a.Authenticate("anything"); ok {
		t.Error("expected no match with empty configuration")
	}
}
