package updater

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"keygate/internal/license"
)

func TestAdvisor_Decide(t *testing.T) {
	advisor := NewAdvisor("1.0.0", nil)

	tests := []struct {
		name   string
		mode   license.Mode
		change license.Change
		want   Decision
	}{
		{
			name:   "no update advertised",
			mode:   license.ModeRegistered,
			change: license.Change{},
			want:   Decision{},
		},
		{
			name:   "update available in registered mode",
			mode:   license.ModeRegistered,
			change: license.Change{UpdateAvailable: true},
			want:   Decision{Check: true},
		},
		{
			name:   "update available in trial mode",
			mode:   license.ModeTrial,
			change: license.Change{UpdateAvailable: true},
			want:   Decision{Check: true},
		},
		{
			name:   "mandatory update",
			mode:   license.ModeRegistered,
			change: license.Change{UpdateAvailable: true, UpdateRequired: true},
			want:   Decision{Check: true, Mandatory: true},
		},
		{
			name:   "restricted mode blocks auto update",
			mode:   license.ModeRestricted,
			change: license.Change{UpdateAvailable: true},
			want:   Decision{LicenseBlocked: true},
		},
		{
			name:   "restricted mandatory still blocked",
			mode:   license.ModeRestricted,
			change: license.Change{UpdateRequired: true},
			want:   Decision{Mandatory: true, LicenseBlocked: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, advisor.Decide(tt.mode, tt.change))
		})
	}
}

func TestAdvisor_Watch(t *testing.T) {
	advisor := NewAdvisor("1.0.0", nil)
	fixed := &stubResolver{}
	advisor.Watch(fixed)

	fixed.fire(license.Change{Mode: license.ModeRegistered, UpdateAvailable: true})
	assert.Equal(t, Decision{Check: true}, advisor.Last())

	fixed.fire(license.Change{Mode: license.ModeRestricted, UpdateAvailable: true})
	assert.Equal(t, Decision{LicenseBlocked: true}, advisor.Last())
}

func TestAdvisor_NewerAvailable(t *testing.T) {
	advisor := NewAdvisor("1.2.0", nil)
	assert.True(t, advisor.NewerAvailable("1.3.0"))
	assert.False(t, advisor.NewerAvailable("1.2.0"))
	assert.False(t, advisor.NewerAvailable("1.1.9"))
}

// stubResolver only supports Subscribe; the advisor needs nothing else.
type stubResolver struct {
	license.FixedResolver
	fns []func(license.Change)
}

func (s *stubResolver) Subscribe(fn func(license.Change)) {
	s.fns = append(s.fns, fn)
}

func (s *stubResolver) fire(c license.Change) {
	for _, fn := range s.fns {
		fn(c)
	}
}
