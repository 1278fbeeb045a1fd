package models

import (
	"fmt"
	"net/netip"
	"time"
)

// RedirectTarget selects where requests to a hidden login path are sent.
type RedirectTarget string

const (
	RedirectNotFound RedirectTarget = "not_found"
	RedirectHome     RedirectTarget = "home"
)

// NotifyPolicy selects which security events are emitted to the notifier.
type NotifyPolicy struct {
	Success bool `json:"success"`
	Failure bool `json:"failure"`
	Lockout bool `json:"lockout"`
}

// SecurityConfig is the immutable configuration consumed by the policy,
// engine, and two-factor gate. It is injected at construction; components
// never read ambient settings at evaluation time. Validation happens on
// save, never on each evaluation.
type SecurityConfig struct {
	HideLoginEnabled bool           `json:"hide_login_enabled"`
	LoginSlug        string         `json:"login_slug" validate:"required_with=HideLoginEnabled"`
	RedirectTarget   RedirectTarget `json:"redirect_target" validate:"omitempty,oneof=not_found home"`

	LimitLoginEnabled      bool `json:"limit_login_enabled"`
	MaxAttempts            int  `json:"max_attempts" validate:"min=1"`
	LockoutDurationMinutes int  `json:"lockout_duration_minutes" validate:"min=1"`
	ProgressiveLockout     bool `json:"progressive_lockout"`
	FailureAlertThreshold  int  `json:"failure_alert_threshold" validate:"min=1"`

	NotifyOn NotifyPolicy `json:"notify_on"`

	TwoFactorEnabled bool            `json:"two_factor_enabled"`
	TwoFactorMethod  TwoFactorMethod `json:"two_factor_method" validate:"omitempty,oneof=email totp"`
	TwoFactorRoles   []RoleID        `json:"two_factor_roles"`

	// Address or CIDR entries. Whitelist wins over blacklist and fully
	// bypasses failure accounting.
	Whitelist []string `json:"whitelist"`
	Blacklist []string `json:"blacklist"`
}

// DefaultSecurityConfig returns the configuration used until an operator
// saves one.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		RedirectTarget:         RedirectNotFound,
		LimitLoginEnabled:      true,
		MaxAttempts:            5,
		LockoutDurationMinutes: 15,
		FailureAlertThreshold:  3,
		NotifyOn:               NotifyPolicy{Lockout: true},
		TwoFactorMethod:        MethodEmail,
	}
}

// Validate rejects configurations that must never reach evaluation time.
func (c *SecurityConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1", ErrBadRequest)
	}
	if c.LockoutDurationMinutes <= 0 {
		return fmt.Errorf("%w: lockout_duration_minutes must be positive", ErrBadRequest)
	}
	if c.FailureAlertThreshold < 1 {
		return fmt.Errorf("%w: failure_alert_threshold must be at least 1", ErrBadRequest)
	}
	// The counter restarts once the lockout trips at max_attempts, so a
	// larger threshold could never be reached.
	if c.LimitLoginEnabled && c.FailureAlertThreshold > c.MaxAttempts {
		return fmt.Errorf("%w: failure_alert_threshold cannot exceed max_attempts", ErrBadRequest)
	}
	if c.HideLoginEnabled && c.LoginSlug == "" {
		return fmt.Errorf("%w: login_slug is required when hide_login is enabled", ErrBadRequest)
	}
	switch c.RedirectTarget {
	case "", RedirectNotFound, RedirectHome:
	default:
		return fmt.Errorf("%w: unknown redirect_target %q", ErrBadRequest, c.RedirectTarget)
	}
	switch c.TwoFactorMethod {
	case "", MethodEmail, MethodTOTP:
	default:
		return fmt.Errorf("%w: unknown two_factor_method %q", ErrBadRequest, c.TwoFactorMethod)
	}
	for _, entry := range append(append([]string{}, c.Whitelist...), c.Blacklist...) {
		if err := validateAddressEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// LockoutDuration computes how long the next lockout lasts for an address
// at the given escalation level: the configured base, doubled per prior
// lockout when progressive lockout is enabled.
func (c *SecurityConfig) LockoutDuration(level int) time.Duration {
	base := time.Duration(c.LockoutDurationMinutes) * time.Minute
	if !c.ProgressiveLockout || level <= 0 {
		return base
	}
	// Clamp the shift so pathological escalation levels cannot overflow.
	if level > 20 {
		level = 20
	}
	return base * time.Duration(1<<level)
}

// RequiresTwoFactor reports whether the given role is gated behind a
// second factor.
func (c *SecurityConfig) RequiresTwoFactor(role RoleID) bool {
	if !c.TwoFactorEnabled {
		return false
	}
	for _, r := range c.TwoFactorRoles {
		if r == role {
			return true
		}
	}
	return false
}

func validateAddressEntry(entry string) error {
	if _, err := netip.ParseAddr(entry); err == nil {
		return nil
	}
	if _, err := netip.ParsePrefix(entry); err == nil {
		return nil
	}
	return fmt.Errorf("%w: %q is not an address or CIDR range", ErrInvalidAddress, entry)
}
