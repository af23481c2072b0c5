package license

import "context"

// ModeResolver is the surface the application consumes: a current mode,
// feature gating over it and a way to ask for a re-check. Satisfied by both
// *Resolver and *FixedResolver.
type ModeResolver interface {
	Mode() Mode
	Current() Change
	IsFeatureEnabled(feature Feature) bool
	Subscribe(fn func(Change))
	RequestResolution(ctx context.Context)
}

// FixedResolver always reports one mode. Used for development builds and
// support diagnostics where the real protocol must be taken out of the
// picture explicitly. It is a separate strategy, never a hidden branch
// inside the real resolver.
type FixedResolver struct {
	change Change
}

// NewFixedResolver creates a resolver pinned to the given mode.
func NewFixedResolver(mode Mode) *FixedResolver {
	return &FixedResolver{change: Change{Mode: mode, Message: "license mode is fixed"}}
}

func (f *FixedResolver) Mode() Mode      { return f.change.Mode }
func (f *FixedResolver) Current() Change { return f.change }

func (f *FixedResolver) IsFeatureEnabled(feature Feature) bool {
	return IsEnabled(f.change.Mode, feature)
}

// Subscribe never fires: a fixed mode has no transitions.
func (f *FixedResolver) Subscribe(fn func(Change)) {}

// RequestResolution is a no-op.
func (f *FixedResolver) RequestResolution(ctx context.Context) {}
