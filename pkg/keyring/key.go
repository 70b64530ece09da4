package keyring

import (
	"strings"
	"time"
)

// Reason records why a key was disabled. Only auth-driven disablement is
// permanent; every other reason is cleared by the cooldown-expiry sweep.
type Reason int

const (
	// ReasonNone means the key is not disabled.
	ReasonNone Reason = iota

	// ReasonRateLimit marks a key disabled by accumulated transient failures.
	ReasonRateLimit

	// ReasonQuota marks a key disabled by quota exhaustion.
	ReasonQuota

	// ReasonAuth marks a key rejected by the endpoint (401/403). Auth failures
	// are not transient: the key stays disabled until the user replaces it.
	ReasonAuth
)

// String returns the human-readable name of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonRateLimit:
		return "rate-limit"
	case ReasonQuota:
		return "quota"
	case ReasonAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Key is one registered credential plus its health state. The manager owns
// the canonical copy; every Key handed out through the public API is a value
// copy that external callers may not use to mutate pool state.
type Key struct {
	// ID is stable and generated once at registration.
	ID string `json:"id"`

	// Secret is the raw credential. Never logged; use Mask for display.
	Secret string `json:"secret"`

	// DisplayName is the user-facing label (defaults to "Key N").
	DisplayName string `json:"display_name"`

	// Primary marks the designated last-resort credential. Exactly one key is
	// primary at any time; the primary is never auto-disabled by accumulated
	// failures.
	Primary bool `json:"primary"`

	// Active marks the key last selected for use. At most one key is active.
	Active bool `json:"active"`

	// Disabled removes the key from selection. See DisabledReason.
	Disabled       bool   `json:"disabled"`
	DisabledReason Reason `json:"disabled_reason"`

	// RateLimited and RateLimitedUntil implement the cooldown window. A key
	// whose RateLimitedUntil lies in the past is treated as not rate-limited
	// without requiring a write (lazy expiry); the refresh sweep physically
	// clears the stale flags.
	RateLimited      bool      `json:"rate_limited"`
	RateLimitedUntil time.Time `json:"rate_limited_until"`

	FailCount  int       `json:"fail_count"`
	UsageCount int       `json:"usage_count"`
	LastUsed   time.Time `json:"last_used"`
}

// limitedAt reports whether the key's cooldown window covers now.
func (k *Key) limitedAt(now time.Time) bool {
	return k.RateLimited && !k.RateLimitedUntil.IsZero() && now.Before(k.RateLimitedUntil)
}

// eligibleAt reports whether the key may be selected at now.
func (k *Key) eligibleAt(now time.Time) bool {
	return !k.Disabled && !k.limitedAt(now)
}

// maskFiller is the constant-length middle segment of a masked secret.
const maskFiller = "********"

// Mask returns a redacted display form of secret: the first four and last
// four characters with a fixed-length filler in between. Secrets of eight
// characters or fewer are fully masked so that short inputs reveal nothing.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return maskFiller
	}
	return secret[:4] + maskFiller + secret[len(secret)-4:]
}

// masked returns a copy of k with the secret redacted, for observer
// snapshots and logs.
func (k Key) masked() Key {
	k.Secret = Mask(k.Secret)
	return k
}

// label returns the key's display name, falling back to the masked secret.
func (k *Key) label() string {
	if strings.TrimSpace(k.DisplayName) != "" {
		return k.DisplayName
	}
	return Mask(k.Secret)
}
