package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"keygate/internal/config"
	kgerrors "keygate/internal/errors"
	"keygate/internal/store"
	"keygate/internal/token"
	v1 "keygate/pkg/contracts/api/v1"
)

// RegistrationService binds devices to registration keys, enforcing the
// per-key device quota with stale-device eviction.
type RegistrationService interface {
	Register(ctx context.Context, req *v1.RegisterRequest) (*v1.RegisterResponse, error)
}

type registrationService struct {
	store  store.Store
	codec  *token.Codec
	policy config.LicensingConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistrationService creates the registration service.
func NewRegistrationService(st store.Store, codec *token.Codec, policy config.LicensingConfig, logger *slog.Logger) RegistrationService {
	return &registrationService{
		store:  st,
		codec:  codec,
		policy: policy,
		logger: logger.With(slog.String("service", "registration")),
		now:    time.Now,
	}
}

// HashKey derives the key identity as a one-way SHA-256 digest of the
// plaintext. The plaintext key is never stored server-side.
func HashKey(plainKey string) string {
	sum := sha256.Sum256([]byte(plainKey))
	return hex.EncodeToString(sum[:])
}

// MaskKey derives the display hint: first and last 4 characters kept for
// keys longer than 8 characters, shorter keys shown in full.
func MaskKey(plainKey string) string {
	if len(plainKey) <= 8 {
		return plainKey
	}
	return plainKey[:4] + strings.Repeat("*", len(plainKey)-8) + plainKey[len(plainKey)-4:]
}

// Register binds the device to the key named by the request. The quota
// sequence (read, evict stale members, check capacity, admit) runs inside
// the store's per-key lock so concurrent registrations cannot over-admit.
func (s *registrationService) Register(ctx context.Context, req *v1.RegisterRequest) (*v1.RegisterResponse, error) {
	now := s.now().UTC()

	device, err := s.store.GetDevice(ctx, req.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, kgerrors.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("load device: %w", err)
	}

	keyHash := HashKey(req.DownloadKey)
	keyHint := MaskKey(req.DownloadKey)
	oldKeyHash := device.RegisteredKeyHash

	var softFailure string
	err = s.store.WithKeyLock(ctx, keyHash, func(ops store.Accessor) error {
		key, err := ops.GetKey(ctx, keyHash)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// First sight of this key: create it with the device as its
			// sole member and the default quota.
			key = &store.Key{
				KeyHash:     keyHash,
				Devices:     []string{device.DeviceID},
				MaxDevices:  s.policy.MaxDevicesPerKey,
				Valid:       true,
				CreatedAt:   now,
				ValidatedAt: now,
			}
			if err := ops.SaveKey(ctx, key); err != nil {
				return fmt.Errorf("create key: %w", err)
			}
			s.logger.InfoContext(ctx, "new key registered",
				slog.String("device_id", device.DeviceID),
				slog.String("key_hint", keyHint))

		case err != nil:
			return fmt.Errorf("load key: %w", err)

		case !key.Valid:
			s.logger.WarnContext(ctx, "registration attempted with revoked key",
				slog.String("device_id", device.DeviceID),
				slog.String("key_hint", keyHint))
			softFailure = "this key has been revoked"
			return nil

		case key.HasDevice(device.DeviceID):
			// Idempotent re-registration: just refresh and re-issue.
			key.ValidatedAt = now
			if err := ops.SaveKey(ctx, key); err != nil {
				return fmt.Errorf("refresh key: %w", err)
			}

		default:
			evicted := s.evictStale(ctx, ops, key, now)
			if len(key.Devices) >= key.MaxDevices {
				s.logger.WarnContext(ctx, "registration rejected, device limit reached",
					slog.String("device_id", device.DeviceID),
					slog.String("key_hint", keyHint),
					slog.Int("active_members", len(key.Devices)),
					slog.Int("max_devices", key.MaxDevices))
				return kgerrors.ErrDeviceLimitReached
			}
			key.Devices = append(key.Devices, device.DeviceID)
			key.ValidatedAt = now
			if err := ops.SaveKey(ctx, key); err != nil {
				return fmt.Errorf("update key: %w", err)
			}
			if evicted > 0 {
				s.logger.InfoContext(ctx, "stale members evicted during registration",
					slog.String("key_hint", keyHint),
					slog.Int("evicted", evicted))
			}
		}

		device.RegisteredKeyHash = keyHash
		device.KeyHint = keyHint
		return ops.SaveDevice(ctx, device)
	})
	if err != nil {
		return nil, err
	}

	if softFailure != "" {
		return &v1.RegisterResponse{Success: false, Error: softFailure}, nil
	}

	// Key change: release the old key's slot only now that the new key has
	// admitted the device. A rejected or soft-failed registration must
	// leave the old binding and the old member set untouched.
	if oldKeyHash != "" && oldKeyHash != keyHash {
		if err := s.detachFromKey(ctx, oldKeyHash, device.DeviceID); err != nil {
			// The device is already bound to the new key; a lingering old
			// membership only over-counts and ages out via stale eviction.
			s.logger.ErrorContext(ctx, "failed to detach device from previous key",
				slog.String("device_id", device.DeviceID),
				slog.String("error", err.Error()))
		}
	}

	signed, err := s.codec.Sign(token.Payload{
		DeviceID:  device.DeviceID,
		KeyHint:   keyHint,
		IssuedAt:  now,
		ExpiresAt: now.AddDate(0, 0, s.policy.TokenExpiryDays),
	})
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	s.logger.InfoContext(ctx, "device registered",
		slog.String("device_id", device.DeviceID),
		slog.String("key_hint", keyHint))

	return &v1.RegisterResponse{
		Success: true,
		JWT:     signed,
		KeyHint: keyHint,
	}, nil
}

// detachFromKey removes the device from the member set of its previously
// bound key.
func (s *registrationService) detachFromKey(ctx context.Context, keyHash, deviceID string) error {
	return s.store.WithKeyLock(ctx, keyHash, func(ops store.Accessor) error {
		key, err := ops.GetKey(ctx, keyHash)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load old key: %w", err)
		}
		if !key.HasDevice(deviceID) {
			return nil
		}
		key.RemoveDevice(deviceID)
		if err := ops.SaveKey(ctx, key); err != nil {
			return fmt.Errorf("update old key: %w", err)
		}

		s.logger.InfoContext(ctx, "device detached from previous key",
			slog.String("device_id", deviceID))
		return nil
	})
}

// evictStale drops members whose device record is missing or whose last
// heartbeat is older than the staleness threshold. Eviction mutates only the
// in-memory member set; persistence happens with the admitting SaveKey, so a
// rejected registration leaves no trace.
func (s *registrationService) evictStale(ctx context.Context, ops store.Accessor, key *store.Key, now time.Time) int {
	cutoff := now.AddDate(0, 0, -s.policy.StaleDeviceDays)

	active := key.Devices[:0]
	evicted := 0
	for _, id := range key.Devices {
		member, err := ops.GetDevice(ctx, id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && member.LastHeartbeatAt.Before(cutoff)) {
			evicted++
			continue
		}
		// Unexpected store errors keep the member; eviction is best effort
		// and must never admit beyond quota by accident.
		active = append(active, id)
	}
	key.Devices = active
	return evicted
}
