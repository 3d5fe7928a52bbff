package token

import (
	"strings"
	"testing"

	"mindwell-service/internal/domain/subscription"
)

func TestNewSessionIdentifier(t *testing.T) {
	id := NewSessionIdentifier()
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("missing sess_ prefix: %s", id)
	}
	// 12 random bytes encode to 16 URL-safe characters.
	if len(id) != len("sess_")+16 {
		t.Fatalf("unexpected length %d: %s", len(id), id)
	}
}

func TestNewSubscriptionToken(t *testing.T) {
	tok := NewSubscriptionToken()
	if !strings.HasPrefix(tok, "sub_") {
		t.Fatalf("missing sub_ prefix: %s", tok)
	}
	if len(tok) != len("sub_")+22 {
		t.Fatalf("unexpected length %d: %s", len(tok), tok)
	}
	if strings.ContainsAny(tok[4:], "+/=") {
		t.Fatalf("token is not URL-safe: %s", tok)
	}
}

func TestNewAccessCodePrefixes(t *testing.T) {
	cases := []struct {
		plan   subscription.PlanType
		prefix string
	}{
		{subscription.PlanFree, "FREE-"},
		{subscription.PlanBasic, "BASIC-"},
		{subscription.PlanPremium, "PREMIUM-"},
		{subscription.PlanType("enterprise"), "SUB-"},
	}

	for _, tc := range cases {
		code := NewAccessCode(tc.plan)
		if !strings.HasPrefix(code, tc.prefix) {
			t.Fatalf("plan %s: expected prefix %s, got %s", tc.plan, tc.prefix, code)
		}
		suffix := strings.TrimPrefix(code, tc.prefix)
		if len(suffix) != 8 {
			t.Fatalf("plan %s: expected 8-char suffix, got %s", tc.plan, suffix)
		}
		for _, r := range suffix {
			if !strings.ContainsRune(accessCodeAlphabet, r) {
				t.Fatalf("plan %s: suffix char %q outside alphabet in %s", tc.plan, r, code)
			}
		}
	}
}

func TestGeneratorsDoNotRepeat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code := NewAccessCode(subscription.PlanBasic)
		if seen[code] {
			t.Fatalf("duplicate access code after %d draws: %s", i, code)
		}
		seen[code] = true
	}
}
