package keyring

import "errors"

// Terminal conditions surfaced to the consumer. Transient failure classes
// (rate limit, quota, server error) are absorbed by rotation and only show up
// as informational Rotation messages.
var (
	// ErrNoKeysConfigured means the pool is empty: zero registered keys.
	ErrNoKeysConfigured = errors.New("keyring: no API keys configured")

	// ErrPoolExhausted means keys exist but none is currently eligible.
	ErrPoolExhausted = errors.New("keyring: all API keys exhausted")

	// ErrKeyNotFound is returned when an ID does not match a registered key.
	ErrKeyNotFound = errors.New("keyring: key not found")
)

// statusCoder is implemented by transport errors that carry an HTTP status
// code (e.g. the analysis provider's APIError). The manager classifies probe
// failures through this interface without depending on any provider package.
type statusCoder interface {
	StatusCode() int
}
