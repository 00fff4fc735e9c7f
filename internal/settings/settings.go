// Package settings provides typed access to the runtime-configurable
// key/value settings table (installed flag, OTP policy, rate limits, branding).
package settings

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store persists raw setting values; internal/store implements this against
// Postgres.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Known setting keys.
const (
	KeyInstalled   = "installed"
	KeyOTPRequired = "otp.required"
	KeyRateLimits  = "rate_limits"
	KeySessionTTL  = "session.ttl_seconds"
)

// Service wraps a Store with typed getters/setters.
type Service struct {
	store Store
}

// New constructs a settings Service.
func New(store Store) *Service {
	return &Service{store: store}
}

// Installed reports whether the one-shot installation flow has completed.
func (s *Service) Installed(ctx context.Context) (bool, error) {
	v, ok, err := s.store.GetSetting(ctx, KeyInstalled)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return v == "true", nil
}

// MarkInstalled flips the installed flag; irreversible by design.
func (s *Service) MarkInstalled(ctx context.Context) error {
	return s.store.PutSetting(ctx, KeyInstalled, "true")
}

// GlobalOTPRequired reports the global component of the OTP policy OR.
func (s *Service) GlobalOTPRequired(ctx context.Context) (bool, error) {
	v, ok, err := s.store.GetSetting(ctx, KeyOTPRequired)
	if err != nil {
		return false, err
	}
	return ok && v == "true", nil
}

// SetGlobalOTPRequired sets the global OTP policy flag.
func (s *Service) SetGlobalOTPRequired(ctx context.Context, required bool) error {
	v := "false"
	if required {
		v = "true"
	}
	return s.store.PutSetting(ctx, KeyOTPRequired, v)
}

// RateLimitRule is one token-bucket configuration for a rate-limit class.
type RateLimitRule struct {
	Class         string  `json:"class"`
	BurstSize     int     `json:"burst_size"`
	RatePerSecond float64 `json:"rate_per_second"`
}

// RateLimits returns the configured per-class token-bucket rules, falling
// back to defaults when unset.
func (s *Service) RateLimits(ctx context.Context) ([]RateLimitRule, error) {
	v, ok, err := s.store.GetSetting(ctx, KeyRateLimits)
	if err != nil {
		return nil, err
	}
	if !ok {
		return DefaultRateLimits(), nil
	}
	var rules []RateLimitRule
	if err := json.Unmarshal([]byte(v), &rules); err != nil {
		return nil, fmt.Errorf("parse rate_limits setting: %w", err)
	}
	return rules, nil
}

// DefaultRateLimits is the built-in policy used until an admin overrides it,
// expressing the per-minute defaults as a token-bucket rate per second.
func DefaultRateLimits() []RateLimitRule {
	return []RateLimitRule{
		{Class: "opaque", BurstSize: 20, RatePerSecond: 10.0 / 60},
		{Class: "opaque-finish", BurstSize: 20, RatePerSecond: 20.0 / 60},
		{Class: "token", BurstSize: 20, RatePerSecond: 60.0 / 60},
		{Class: "admin-sensitive", BurstSize: 10, RatePerSecond: 30.0 / 60},
	}
}
