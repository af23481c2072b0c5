package license

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"keygate/internal/token"
	v1 "keygate/pkg/contracts/api/v1"
)

// tokenFreshWindow is the age below which a verifying token short-circuits
// resolution entirely. Heartbeats re-issue tokens on every accepted call, so
// a healthy registered installation stays inside this window.
const tokenFreshWindow = 24 * time.Hour

// Resolver is the client license state machine. It owns the current mode;
// there is no ambient global. All resolution outcomes, including failures,
// land in one of the four modes.
type Resolver struct {
	creds      CredentialStore
	codec      *token.Codec
	prober     ConnectivityProber
	api        EntitlementAPI
	appVersion string
	logger     *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	mu          sync.Mutex
	current     Change
	subscribers []func(Change)

	// generation implements latest-wins for concurrent resolution
	// requests: a finishing cycle publishes only if no newer request
	// superseded it.
	generation uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Credentials CredentialStore
	Codec       *token.Codec
	Prober      ConnectivityProber
	API         EntitlementAPI
	AppVersion  string
	Logger      *slog.Logger
}

// NewResolver creates a resolver in the initial trial mode.
func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		creds:      opts.Credentials,
		codec:      opts.Codec,
		prober:     opts.Prober,
		api:        opts.API,
		appVersion: opts.AppVersion,
		logger:     logger,
		now:        time.Now,
		current:    Change{Mode: ModeTrial},
	}
}

// Current returns the last resolved outcome. Before the first resolution
// this is trial mode, so the UI is never blocked waiting on network.
func (r *Resolver) Current() Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Mode returns the current license mode.
func (r *Resolver) Mode() Mode {
	return r.Current().Mode
}

// IsFeatureEnabled reports whether the feature is available under the
// current mode.
func (r *Resolver) IsFeatureEnabled(feature Feature) bool {
	return IsEnabled(r.Mode(), feature)
}

// Subscribe registers a callback fired on every mode transition. Callbacks
// run on the resolution goroutine and must not block.
func (r *Resolver) Subscribe(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// RequestResolution starts one resolution cycle in the background. Calling
// it again before the previous cycle finished supersedes that cycle: the
// older result is discarded, the latest request wins.
func (r *Resolver) RequestResolution(ctx context.Context) {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		outcome := r.resolve(ctx)
		r.publish(gen, outcome)
	}()
}

// Close waits for any in-flight resolution to finish.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// ResolveOnce runs a full resolution cycle synchronously and publishes the
// outcome. Used by CLI tooling; the UI path goes through RequestResolution.
func (r *Resolver) ResolveOnce(ctx context.Context) Change {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.mu.Unlock()

	outcome := r.resolve(ctx)
	r.publish(gen, outcome)
	return outcome
}

// publish installs the outcome as current state unless a newer resolution
// superseded this one, and notifies subscribers on a mode transition.
func (r *Resolver) publish(gen uint64, outcome Change) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		r.logger.Debug("resolution superseded, discarding result",
			slog.String("mode", string(outcome.Mode)))
		return
	}
	changed := r.current.Mode != outcome.Mode
	r.current = outcome
	subscribers := make([]func(Change), len(r.subscribers))
	copy(subscribers, r.subscribers)
	r.mu.Unlock()

	r.logger.Info("license resolved",
		slog.String("mode", string(outcome.Mode)),
		slog.Bool("transition", changed))

	if changed {
		for _, fn := range subscribers {
			fn(outcome)
		}
	}
}

// resolve runs the resolution algorithm. It always produces a mode; no
// failure escapes to the caller.
func (r *Resolver) resolve(ctx context.Context) Change {
	cred, err := r.creds.Load()
	if err != nil {
		r.logger.Error("failed to load credential, treating as absent",
			slog.String("error", err.Error()))
		return Change{Mode: ModeRestricted, Message: "local credential unavailable"}
	}

	payload := r.trustedPayload(cred)
	now := r.now()

	// Fast path: a fresh, unexpired token for this device means registered
	// with no network traffic at all.
	if payload != nil &&
		now.Sub(payload.IssuedAt) < tokenFreshWindow &&
		now.Before(payload.ExpiresAt) {
		return Change{Mode: ModeRegistered, KeyHint: payload.KeyHint}
	}

	if !r.prober.Online(ctx) {
		return r.fallback(payload, "offline")
	}

	resp, err := r.api.Heartbeat(ctx, &v1.HeartbeatRequest{
		DeviceID:    cred.DeviceID,
		AppVersion:  r.appVersion,
		DownloadKey: cred.DownloadKey,
	})
	if err != nil {
		r.logger.Warn("heartbeat failed, falling back to cached credential",
			slog.String("error", err.Error()))
		return r.fallback(payload, "heartbeat failed")
	}

	return r.applyHeartbeat(cred, resp)
}

// trustedPayload verifies the cached token and checks it was issued for this
// device. Anything less is treated as no credential.
func (r *Resolver) trustedPayload(cred *Credential) *token.Payload {
	if cred.Token == "" {
		return nil
	}
	payload, err := r.codec.Verify(cred.Token)
	if err != nil {
		r.logger.Warn("cached token failed verification, ignoring it",
			slog.String("error", err.Error()))
		return nil
	}
	if payload.DeviceID != cred.DeviceID {
		r.logger.Warn("cached token was issued for a different device, ignoring it")
		return nil
	}
	return payload
}

// fallback decides the mode when the server cannot be asked: a trusted
// token keeps the device registered regardless of freshness or expiry,
// otherwise the installation is restricted.
func (r *Resolver) fallback(payload *token.Payload, reason string) Change {
	if payload != nil {
		return Change{
			Mode:    ModeRegistered,
			KeyHint: payload.KeyHint,
			Message: "registered status could not be freshly verified (" + reason + ")",
		}
	}
	return Change{
		Mode:    ModeRestricted,
		Message: "license status could not be verified (" + reason + ")",
	}
}

// applyHeartbeat maps a successful heartbeat response to a mode, persisting
// a newly issued token.
func (r *Resolver) applyHeartbeat(cred *Credential, resp *v1.HeartbeatResponse) Change {
	base := Change{
		Message:         resp.ServerMessage,
		UpdateAvailable: resp.UpdateAvailable,
		UpdateRequired:  resp.UpdateRequired,
	}

	switch {
	case resp.Registered:
		if resp.JWT != "" {
			cred.Token = resp.JWT
			if err := r.creds.Save(cred); err != nil {
				r.logger.Error("failed to persist refreshed token",
					slog.String("error", err.Error()))
			}
		}
		base.Mode = ModeRegistered
		base.KeyHint = resp.KeyHint
	case resp.TrialValid:
		base.Mode = ModeTrial
		base.TrialDaysRemaining = resp.TrialDaysRemaining
	default:
		base.Mode = ModeExpired
	}
	return base
}

// RegisterKey submits a download key for this device and, on success,
// persists the issued token and re-resolves to registered. A soft failure
// (revoked key) comes back as the response's error text.
func (r *Resolver) RegisterKey(ctx context.Context, downloadKey string) (*v1.RegisterResponse, error) {
	cred, err := r.creds.Load()
	if err != nil {
		return nil, err
	}

	resp, err := r.api.Register(ctx, &v1.RegisterRequest{
		DeviceID:    cred.DeviceID,
		DownloadKey: downloadKey,
	})
	if err != nil {
		return nil, err
	}

	if resp.Success {
		cred.Token = resp.JWT
		cred.DownloadKey = downloadKey
		if err := r.creds.Save(cred); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.generation++
		gen := r.generation
		r.mu.Unlock()
		r.publish(gen, Change{Mode: ModeRegistered, KeyHint: resp.KeyHint})
	}

	return resp, nil
}
