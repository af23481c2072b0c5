package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"keygate/internal/config"
	kgerrors "keygate/internal/errors"
	"keygate/internal/store"
	"keygate/internal/token"
	"keygate/internal/version"
	v1 "keygate/pkg/contracts/api/v1"
)

// dateBucketFormat is the UTC calendar day used for heartbeat rate limiting.
const dateBucketFormat = "2006-01-02"

// HeartbeatService resolves per-device trial/registration status.
type HeartbeatService interface {
	Heartbeat(ctx context.Context, req *v1.HeartbeatRequest) (*v1.HeartbeatResponse, error)
}

type heartbeatService struct {
	store  store.Store
	codec  *token.Codec
	policy config.LicensingConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewHeartbeatService creates the heartbeat service.
func NewHeartbeatService(st store.Store, codec *token.Codec, policy config.LicensingConfig, logger *slog.Logger) HeartbeatService {
	return &heartbeatService{
		store:  st,
		codec:  codec,
		policy: policy,
		logger: logger.With(slog.String("service", "heartbeat")),
		now:    time.Now,
	}
}

// Heartbeat creates the device record on first contact, enforces the daily
// per-device rate limit, renews the entitlement token for bound devices and
// reports trial status otherwise.
func (s *heartbeatService) Heartbeat(ctx context.Context, req *v1.HeartbeatRequest) (*v1.HeartbeatResponse, error) {
	now := s.now().UTC()

	device, err := s.store.GetDevice(ctx, req.DeviceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s.firstHeartbeat(ctx, req, now)
	case err != nil:
		return nil, fmt.Errorf("load device: %w", err)
	}

	bucket := now.Format(dateBucketFormat)
	if device.HeartbeatDateBucket == bucket {
		if device.HeartbeatCountToday >= s.policy.HeartbeatsPerDay {
			s.logger.WarnContext(ctx, "heartbeat rate limit exceeded",
				slog.String("device_id", req.DeviceID),
				slog.Int("count_today", device.HeartbeatCountToday),
				slog.Int("limit", s.policy.HeartbeatsPerDay))
			return nil, kgerrors.ErrRateLimited
		}
		device.HeartbeatCountToday++
	} else {
		device.HeartbeatDateBucket = bucket
		device.HeartbeatCountToday = 1
	}

	device.AppVersion = req.AppVersion
	device.LastHeartbeatAt = now

	// An unbound device re-sending its key is re-bound when it is still a
	// member of that key, so a wiped server-side binding heals itself.
	if device.RegisteredKeyHash == "" && req.DownloadKey != "" {
		s.rebindFromKey(ctx, device, req.DownloadKey)
	}

	if err := s.store.SaveDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("save device: %w", err)
	}

	resp := s.baseResponse(req.AppVersion)

	if device.RegisteredKeyHash != "" {
		signed, err := s.codec.Sign(token.Payload{
			DeviceID:  device.DeviceID,
			KeyHint:   device.KeyHint,
			IssuedAt:  now,
			ExpiresAt: now.AddDate(0, 0, s.policy.TokenExpiryDays),
		})
		if err != nil {
			return nil, fmt.Errorf("sign token: %w", err)
		}
		resp.Registered = true
		resp.JWT = signed
		resp.KeyHint = device.KeyHint

		s.logger.InfoContext(ctx, "heartbeat accepted for registered device",
			slog.String("device_id", device.DeviceID),
			slog.String("key_hint", device.KeyHint))
		return resp, nil
	}

	trialEnd := device.TrialStartedAt.AddDate(0, 0, s.policy.TrialDays)
	if now.Before(trialEnd) {
		resp.TrialValid = true
		resp.TrialDaysRemaining = remainingDays(now, trialEnd)
	}

	s.logger.InfoContext(ctx, "heartbeat accepted for trial device",
		slog.String("device_id", device.DeviceID),
		slog.Bool("trial_valid", resp.TrialValid),
		slog.Int("trial_days_remaining", resp.TrialDaysRemaining))
	return resp, nil
}

// firstHeartbeat creates the device record and starts the trial clock.
func (s *heartbeatService) firstHeartbeat(ctx context.Context, req *v1.HeartbeatRequest, now time.Time) (*v1.HeartbeatResponse, error) {
	device := &store.Device{
		DeviceID:            req.DeviceID,
		TrialStartedAt:      now,
		AppVersion:          req.AppVersion,
		LastHeartbeatAt:     now,
		HeartbeatCountToday: 1,
		HeartbeatDateBucket: now.Format(dateBucketFormat),
		CreatedAt:           now,
	}
	if err := s.store.SaveDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}

	s.logger.InfoContext(ctx, "trial started for new device",
		slog.String("device_id", req.DeviceID),
		slog.Int("trial_days", s.policy.TrialDays))

	resp := s.baseResponse(req.AppVersion)
	resp.TrialValid = true
	resp.TrialDaysRemaining = s.policy.TrialDays
	return resp, nil
}

// rebindFromKey restores the key binding when the device is still a member
// of the key it re-sent. Failures are ignored; the device simply falls back
// to trial status.
func (s *heartbeatService) rebindFromKey(ctx context.Context, device *store.Device, plainKey string) {
	keyHash := HashKey(plainKey)
	key, err := s.store.GetKey(ctx, keyHash)
	if err != nil || !key.Valid || !key.HasDevice(device.DeviceID) {
		return
	}
	device.RegisteredKeyHash = keyHash
	device.KeyHint = MaskKey(plainKey)

	s.logger.InfoContext(ctx, "device re-bound to key on heartbeat",
		slog.String("device_id", device.DeviceID),
		slog.String("key_hint", device.KeyHint))
}

func (s *heartbeatService) baseResponse(callerVersion string) *v1.HeartbeatResponse {
	resp := &v1.HeartbeatResponse{
		LatestVersion:   s.policy.LatestVersion,
		UpdateAvailable: version.Newer(s.policy.LatestVersion, callerVersion),
		ServerMessage:   s.policy.ServerMessage,
	}
	if s.policy.ForceUpdateBelowVersion != "" &&
		version.Compare(callerVersion, s.policy.ForceUpdateBelowVersion) < 0 {
		resp.UpdateRequired = true
	}
	return resp
}

// remainingDays returns the whole days left until end, rounded up.
func remainingDays(now, end time.Time) int {
	if !now.Before(end) {
		return 0
	}
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}
