// Package updater decides when the application may fetch and apply a new
// release. The decision combines the server's version advice, delivered with
// each heartbeat, with the license mode's auto-update policy.
package updater

import (
	"log/slog"
	"sync"

	"keygate/internal/license"
	"keygate/internal/version"
)

// Decision is the advisor's answer for one resolution outcome.
type Decision struct {
	// Check means the application should look for a new release now.
	Check bool
	// Mandatory means the running version is below the server's force
	// floor and must not keep operating without updating.
	Mandatory bool
	// LicenseBlocked means an update is advertised but the current mode
	// does not permit automatic updates.
	LicenseBlocked bool
}

// Advisor turns license resolution outcomes into update decisions. Attach
// it to a resolver with Watch, or call Decide directly.
type Advisor struct {
	currentVersion string
	logger         *slog.Logger

	mu   sync.Mutex
	last Decision
}

// NewAdvisor creates an advisor for the given running version.
func NewAdvisor(currentVersion string, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{currentVersion: currentVersion, logger: logger}
}

// Decide maps one resolution outcome to an update decision.
func (a *Advisor) Decide(mode license.Mode, change license.Change) Decision {
	d := Decision{Mandatory: change.UpdateRequired}

	if !change.UpdateAvailable && !change.UpdateRequired {
		return d
	}

	if !license.AllowAutoUpdate(mode) {
		d.LicenseBlocked = true
		return d
	}

	d.Check = true
	return d
}

// Watch subscribes the advisor to a resolver; every mode transition
// refreshes the stored decision.
func (a *Advisor) Watch(r license.ModeResolver) {
	r.Subscribe(func(change license.Change) {
		d := a.Decide(change.Mode, change)

		a.mu.Lock()
		a.last = d
		a.mu.Unlock()

		if d.Check {
			a.logger.Info("update advertised by server",
				slog.String("current_version", a.currentVersion),
				slog.Bool("mandatory", d.Mandatory))
		}
	})
}

// Last returns the decision from the most recent transition.
func (a *Advisor) Last() Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// NewerAvailable reports whether the advertised version is ahead of the
// running one. Guards against stale server advice re-announcing the version
// already installed.
func (a *Advisor) NewerAvailable(advertised string) bool {
	return version.Newer(advertised, a.currentVersion)
}
