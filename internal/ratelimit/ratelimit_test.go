package ratelimit

import (
	"testing"
	"time"

	"github.com/puzed/darkauth-sub006/internal/settings"
)

func TestAllowConsumesBurstThenDenies(t *testing.T) {
	l := New([]settings.RateLimitRule{
		{Class: "opaque", BurstSize: 3, RatePerSecond: 0.0001},
	})
	for i := 0; i < 3; i++ {
		if !l.Allow("opaque", "10.0.0.1") {
			t.Fatalf("request %d within burst denied", i+1)
		}
	}
	if l.Allow("opaque", "10.0.0.1") {
		t.Fatalf("request beyond burst allowed")
	}
}

func TestAllowIsolatesKeys(t *testing.T) {
	l := New([]settings.RateLimitRule{
		{Class: "opaque", BurstSize: 1, RatePerSecond: 0.0001},
	})
	if !l.Allow("opaque", "10.0.0.1") {
		t.Fatalf("first key's first request denied")
	}
	if !l.Allow("opaque", "10.0.0.2") {
		t.Fatalf("second key throttled by first key's bucket")
	}
	if l.Allow("opaque", "10.0.0.1") {
		t.Fatalf("first key's second request allowed past burst")
	}
}

func TestAllowIsolatesClasses(t *testing.T) {
	l := New([]settings.RateLimitRule{
		{Class: "opaque", BurstSize: 1, RatePerSecond: 0.0001},
		{Class: "token", BurstSize: 1, RatePerSecond: 0.0001},
	})
	if !l.Allow("opaque", "k") || !l.Allow("token", "k") {
		t.Fatalf("same key in different classes should have independent buckets")
	}
}

func TestUnknownClassIsUnlimited(t *testing.T) {
	l := New(nil)
	for i := 0; i < 100; i++ {
		if !l.Allow("unconfigured", "k") {
			t.Fatalf("unconfigured class denied at request %d", i)
		}
	}
}

func TestSetRulesReplacesPolicy(t *testing.T) {
	l := New([]settings.RateLimitRule{
		{Class: "opaque", BurstSize: 1, RatePerSecond: 0.0001},
	})
	l.SetRules(nil)
	for i := 0; i < 10; i++ {
		if !l.Allow("opaque", "k") {
			t.Fatalf("class still limited after rules cleared")
		}
	}
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	l := New([]settings.RateLimitRule{
		{Class: "opaque", BurstSize: 1, RatePerSecond: 0.0001},
	})
	if !l.Allow("opaque", "idle") {
		t.Fatalf("seed request denied")
	}
	l.Cleanup(0)
	time.Sleep(time.Millisecond)
	// After cleanup the bucket is recreated with a fresh burst allowance.
	if !l.Allow("opaque", "idle") {
		t.Fatalf("bucket not recreated after cleanup")
	}
}
