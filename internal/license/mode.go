// Package license implements the client side of the entitlement protocol:
// the resolver state machine that turns a cached token, connectivity and the
// server's heartbeat answer into one of four license modes, plus the feature
// gating table layered on top.
package license

// Mode is the resolved license mode of this installation.
type Mode string

const (
	// ModeRegistered means the device holds a trusted entitlement token.
	ModeRegistered Mode = "registered"
	// ModeTrial means the device runs inside its trial window. It is also
	// the initial mode before the first resolution so the UI never blocks
	// on network during startup.
	ModeTrial Mode = "trial"
	// ModeExpired means the server confirmed the trial is over and no key
	// is bound.
	ModeExpired Mode = "expired"
	// ModeRestricted means status could not be established at all: no
	// usable cached token and no reachable server. Never a default, only
	// an explicit resolution outcome.
	ModeRestricted Mode = "restricted"
)

// Valid reports whether m is one of the four defined modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeRegistered, ModeTrial, ModeExpired, ModeRestricted:
		return true
	}
	return false
}

// Change describes one resolution outcome delivered to subscribers.
type Change struct {
	Mode Mode
	// TrialDaysRemaining is meaningful only in trial mode.
	TrialDaysRemaining int
	// KeyHint is the masked download key, set in registered mode.
	KeyHint string
	// Message carries a human-readable note, e.g. that registered status
	// could not be freshly verified, or a server broadcast.
	Message string
	// UpdateAvailable and UpdateRequired mirror the server's version
	// advice from the last successful heartbeat.
	UpdateAvailable bool
	UpdateRequired  bool
}
