// Package errors defines the entitlement error taxonomy and the RFC 7807
// problem responses the HTTP layer renders for it.
package errors

import (
	"errors"
	"net/http"
)

// Sentinel errors for the licensing domain. Callers classify failures with
// errors.Is against these.
var (
	// ErrUntrustedToken covers malformed tokens, bad signatures and device
	// mismatches. Treated as "no credential", never surfaced as a crash.
	ErrUntrustedToken = errors.New("untrusted entitlement token")

	// ErrNetworkUnavailable covers probe or heartbeat timeouts and
	// transport errors. Triggers the offline fallback path.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrRateLimited is returned when a device exceeds its daily heartbeat
	// allowance. Distinct from an expired trial.
	ErrRateLimited = errors.New("heartbeat rate limit exceeded")

	// ErrDeviceLimitReached is returned when a key has no free device slots
	// after stale eviction.
	ErrDeviceLimitReached = errors.New("device limit reached for key")

	// ErrDeviceNotFound is returned when an operation references a device
	// that has never sent a heartbeat.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrValidation covers missing or malformed request fields.
	ErrValidation = errors.New("request validation failed")

	// ErrSigningKeyUnavailable is the fatal configuration error raised when
	// the server's private signing key cannot be loaded. It must prevent
	// startup, never partial signing.
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")
)

// StatusCode maps a domain error to the HTTP status the wire contract
// prescribes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDeviceNotFound):
		return http.StatusBadRequest
	case errors.Is(err, ErrDeviceLimitReached):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
