package site

import (
	"time"
)

// MaxDailyLimitMinutes caps a rule's quota at one calendar day.
const MaxDailyLimitMinutes = 24 * 60

// Rule is a protected-site rule. Domain is always stored in normalized form.
type Rule struct {
	ID                string     `json:"id" yaml:"id"`
	Domain            string     `json:"domain" yaml:"domain"`
	PasswordHash      string     `json:"password_hash,omitempty" yaml:"password_hash,omitempty"`
	DailyLimitMinutes int        `json:"daily_limit_minutes" yaml:"daily_limit_minutes"`
	InstantProtect    bool       `json:"instant_protect" yaml:"instant_protect"`
	LastAccess        *time.Time `json:"last_access,omitempty" yaml:"last_access,omitempty"`
	CreatedAt         time.Time  `json:"created_at" yaml:"created_at"`
}

// PasswordProtected reports whether the rule has a password gate.
func (r Rule) PasswordProtected() bool {
	return r.PasswordHash != ""
}

// TimeLimited reports whether the daily quota applies to this rule.
func (r Rule) TimeLimited() bool {
	return !r.InstantProtect && r.DailyLimitMinutes > 0
}

// DailyLimit returns the quota as a duration, zero when unlimited.
func (r Rule) DailyLimit() time.Duration {
	if !r.TimeLimited() {
		return 0
	}
	return time.Duration(r.DailyLimitMinutes) * time.Minute
}

// RuleInput is the user-supplied form of a rule before hashing and normalization.
type RuleInput struct {
	Domain            string `json:"domain" yaml:"domain"`
	Password          string `json:"password,omitempty" yaml:"password,omitempty"`
	DailyLimitMinutes int    `json:"daily_limit_minutes" yaml:"daily_limit_minutes"`
	InstantProtect    bool   `json:"instant_protect" yaml:"instant_protect"`
}

// Validate checks the input fields that do not depend on domain parsing.
func (in RuleInput) Validate() error {
	if in.DailyLimitMinutes < 0 || in.DailyLimitMinutes > MaxDailyLimitMinutes {
		return &ValidationError{Field: "daily_limit_minutes", Reason: "must be between 0 and 1440"}
	}
	if in.InstantProtect && in.Password == "" {
		return &ValidationError{Field: "password", Reason: "required when instant_protect is set"}
	}
	return nil
}
