package entity

import (
	"errors"
	"testing"
)

func mustCredential(t *testing.T, id, baseURL string, tier int, flags CredentialFlags) *Credential {
	t.Helper()
	c, err := NewCredential(id, "", "sk-test", "org-1", baseURL, tier, flags, nil)
	if err != nil {
		t.Fatalf("NewCredential(%q): %v", id, err)
	}
	return c
}

func TestNewCredential_NormalizesBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://claude.ai", "https://claude.ai"},
		{"https://claude.ai/", "https://claude.ai"},
		{"https://claude.ai///", "https://claude.ai"},
		{"claude.ai", "https://claude.ai"},
		{"  http://localhost:9999/ ", "http://localhost:9999"},
	}
	for _, tt := range tests {
		c := mustCredential(t, "a", tt.in, 0, CredentialFlags{Active: true})
		if c.BaseURL() != tt.want {
			t.Errorf("base url %q normalized to %q, want %q", tt.in, c.BaseURL(), tt.want)
		}
	}
}

func TestNewCredential_Validation(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		secret    string
		baseURL   string
		tier      int
		wantErr   error
	}{
		{"blank id", "", "sk", "https://claude.ai", 0, ErrInvalidCredentialID},
		{"blank secret", "a", "  ", "https://claude.ai", 0, ErrBlankSessionKey},
		{"blank base url", "a", "sk", "", 0, ErrBlankBaseURL},
		{"negative tier", "a", "sk", "https://claude.ai", -1, ErrInvalidTier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCredential(tt.id, "", tt.secret, "org", tt.baseURL, tt.tier, CredentialFlags{}, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got err %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewCredential_DisplayNameFallsBackToID(t *testing.T) {
	c := mustCredential(t, "work", "https://claude.ai", 1, CredentialFlags{})
	if c.DisplayName() != "work" {
		t.Fatalf("display name = %q, want id fallback", c.DisplayName())
	}
}

func TestCredentialPool_RejectsDuplicateIDsCaseInsensitively(t *testing.T) {
	a := mustCredential(t, "Personal", "https://claude.ai", 0, CredentialFlags{})
	b := mustCredential(t, "personal", "https://claude.ai", 0, CredentialFlags{})

	_, err := NewCredentialPool([]*Credential{a, b})
	if !errors.Is(err, ErrDuplicateCredentialID) {
		t.Fatalf("got err %v, want duplicate id error", err)
	}
}

func TestCredentialPool_GetIsCaseInsensitive(t *testing.T) {
	a := mustCredential(t, "Personal", "https://claude.ai", 0, CredentialFlags{})
	pool, err := NewCredentialPool([]*Credential{a})
	if err != nil {
		t.Fatal(err)
	}

	got, ok := pool.Get("PERSONAL")
	if !ok || got.ID() != "Personal" {
		t.Fatalf("Get(PERSONAL) = %v, %v; want the Personal credential", got, ok)
	}
}

func TestCredentialPool_ActiveFiltersInLoadOrder(t *testing.T) {
	a := mustCredential(t, "a", "https://claude.ai", 0, CredentialFlags{Active: true})
	b := mustCredential(t, "b", "https://claude.ai", 0, CredentialFlags{Active: false})
	c := mustCredential(t, "c", "https://claude.ai", 0, CredentialFlags{Active: true})

	pool, err := NewCredentialPool([]*Credential{a, b, c})
	if err != nil {
		t.Fatal(err)
	}

	active := pool.Active()
	if len(active) != 2 || active[0].ID() != "a" || active[1].ID() != "c" {
		t.Fatalf("Active() = %v, want [a c]", active)
	}
	if pool.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", pool.Len())
	}
}

func TestCredential_ConversationSettingsAreCopied(t *testing.T) {
	settings := map[string]interface{}{"enabled_monkeys_in_a_barrel": true}
	c, err := NewCredential("a", "", "sk", "org", "https://claude.ai", 0, CredentialFlags{}, settings)
	if err != nil {
		t.Fatal(err)
	}

	got := c.ConversationSettings()
	got["enabled_monkeys_in_a_barrel"] = false
	again := c.ConversationSettings()
	if again["enabled_monkeys_in_a_barrel"] != true {
		t.Fatal("mutating the returned map must not affect the credential")
	}
}
