package settings

import (
	"context"
	"testing"
)

type memStore struct{ values map[string]string }

func newMemStore() *memStore { return &memStore{values: make(map[string]string)} }

func (m *memStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) PutSetting(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func TestInstalledDefaultsFalse(t *testing.T) {
	svc := New(newMemStore())
	installed, err := svc.Installed(context.Background())
	if err != nil {
		t.Fatalf("installed: %v", err)
	}
	if installed {
		t.Fatalf("fresh store reports installed")
	}
}

func TestMarkInstalled(t *testing.T) {
	svc := New(newMemStore())
	if err := svc.MarkInstalled(context.Background()); err != nil {
		t.Fatalf("mark installed: %v", err)
	}
	installed, err := svc.Installed(context.Background())
	if err != nil {
		t.Fatalf("installed: %v", err)
	}
	if !installed {
		t.Fatalf("installed flag did not stick")
	}
}

func TestGlobalOTPRequiredRoundTrip(t *testing.T) {
	svc := New(newMemStore())
	required, err := svc.GlobalOTPRequired(context.Background())
	if err != nil || required {
		t.Fatalf("expected default false, got %v err %v", required, err)
	}
	if err := svc.SetGlobalOTPRequired(context.Background(), true); err != nil {
		t.Fatalf("set: %v", err)
	}
	required, err = svc.GlobalOTPRequired(context.Background())
	if err != nil || !required {
		t.Fatalf("expected true after set, got %v err %v", required, err)
	}
}

func TestRateLimitsFallBackToDefaults(t *testing.T) {
	svc := New(newMemStore())
	rules, err := svc.RateLimits(context.Background())
	if err != nil {
		t.Fatalf("rate limits: %v", err)
	}
	byClass := map[string]RateLimitRule{}
	for _, r := range rules {
		byClass[r.Class] = r
	}
	for _, class := range []string{"opaque", "opaque-finish", "token", "admin-sensitive"} {
		if _, ok := byClass[class]; !ok {
			t.Fatalf("default rules missing class %q", class)
		}
	}
}

func TestRateLimitsParseStoredJSON(t *testing.T) {
	store := newMemStore()
	store.values[KeyRateLimits] = `[{"class":"token","burst_size":5,"rate_per_second":2}]`
	svc := New(store)
	rules, err := svc.RateLimits(context.Background())
	if err != nil {
		t.Fatalf("rate limits: %v", err)
	}
	if len(rules) != 1 || rules[0].Class != "token" || rules[0].BurstSize != 5 {
		t.Fatalf("unexpected rules %+v", rules)
	}
}

func TestRateLimitsRejectMalformedJSON(t *testing.T) {
	store := newMemStore()
	store.values[KeyRateLimits] = "{not json"
	svc := New(store)
	if _, err := svc.RateLimits(context.Background()); err == nil {
		t.Fatalf("malformed setting accepted")
	}
}
