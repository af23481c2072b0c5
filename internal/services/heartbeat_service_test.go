package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/config"
	kgerrors "keygate/internal/errors"
	"keygate/internal/store"
	"keygate/internal/token"
	v1 "keygate/pkg/contracts/api/v1"
)

func testPolicy() config.LicensingConfig {
	return config.LicensingConfig{
		TrialDays:        30,
		TokenExpiryDays:  30,
		MaxDevicesPerKey: 3,
		StaleDeviceDays:  90,
		HeartbeatsPerDay: 10,
		LatestVersion:    "2.0.0",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	_, priv, err := token.GenerateKeyPair()
	require.NoError(t, err)
	codec, err := token.NewSigningCodec(priv)
	require.NoError(t, err)
	return codec
}

func newHeartbeatFixture(t *testing.T) (*heartbeatService, *store.MemoryStore, *time.Time) {
	t.Helper()
	st := store.NewMemoryStore()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	svc := &heartbeatService{
		store:  st,
		codec:  newTestCodec(t),
		policy: testPolicy(),
		logger: discardLogger(),
		now:    func() time.Time { return now },
	}
	return svc, st, &now
}

func TestHeartbeat_NewDeviceStartsTrial(t *testing.T) {
	svc, st, now := newHeartbeatFixture(t)
	ctx := context.Background()

	resp, err := svc.Heartbeat(ctx, &v1.HeartbeatRequest{DeviceID: "device-1", AppVersion: "1.0.0"})
	require.NoError(t, err)

	assert.False(t, resp.Registered)
	assert.True(t, resp.TrialValid)
	assert.Equal(t, 30, resp.TrialDaysRemaining)
	assert.Empty(t, resp.JWT)

	device, err := st.GetDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.True(t, device.TrialStartedAt.Equal(*now))
	assert.Equal(t, 1, device.HeartbeatCountToday)
	assert.Equal(t, "1.0.0", device.AppVersion)
}

func TestHeartbeat_TrialCountdownAndExpiry(t *testing.T) {
	svc, _, nowPtr := newHeartbeatFixture(t)
	ctx := context.Background()

	_, err := svc.Heartbeat(ctx, &v1.HeartbeatRequest{DeviceID: "device-1", AppVersion: "1.0.0"})
	require.NoError(t, err)

	// Half a day into day 29: 1.5 days remain, reported as 2 (ceiling)
	*nowPtr = nowPtr.Add(28*24*time.Hour + 12*time.Hour)
	resp, err := svc.Heartbeat(ctx, &v1.HeartbeatRequest{DeviceID: "device-1", AppVersion: "1.0.0"})
	require.NoError(t, err)
	assert.True(t, resp.TrialValid)
	assert.Equal(t, 2, resp.TrialDaysRemaining)

	// Past the trial window
	*nowPtr = nowPtr.Add(5 * 24 * time.Hour)
	resp, err = svc.Heartbeat(ctx, &v1.HeartbeatRequest{DeviceID: "device-1", AppVersion: "1.0.0"})
	require.NoError(t, err)
	assert.False(t, resp.TrialValid)
	assert.Equal(t, 0, resp.TrialDaysRemaining)
	assert.False(t, resp.Registered)
}

func TestHeartbeat_DailyRateLimit(t *testing.T) {
	svc, st, nowPtr := newHeartbeatFixture(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := svc.Heartbeat(ctx, &v1.HeartbeatRequest{DeviceID: "device-1", AppVersion: "1.0.0"})
		require.NoError(t, err, "heartbeat %d within the limit must succeed", i+1)
	}

	before, err := st.GetDevice(ctx, "device-1")
	require.NoError(t, err)

	// 11th heartbeat within the same UTC day
	_, err = svc.Heartbeat(ctx, &v1.HeartbeatRequest{DeviceID: "device-1", AppVersion: "1.1.0"})
	assert.ErrorIs(t, err, kgerrors.ErrRateLimited)

	// Rejected call must not mutate the record
	after, err := st.GetDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, before.HeartbeatCountToday, after.HeartbeatCountToday)
	assert.Equal(t, before.AppVersion, after.AppVersion)

	// Next UTC day resets the counter
	*nowPtr = nowPtr.Add(24 * time.Hour)
	_, err = svc.Heartbeat(ctx, &v1.HeartbeatRequest{DeviceID: "device-1", AppVersion: "1.1.0"})
	require.NoError(t, err)

	reset, err := st.GetDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, 1, reset.HeartbeatCountToday)
}

func TestHeartbeat_RegisteredDeviceGetsFreshToken(t *testing.T) {
	svc, st, now := newHeartbeatFixture(t)
	ctx := context.Background()

	device := &store.Device{
		DeviceID:            "device-1",
		TrialStartedAt:      now.AddDate(0, 0, -60),
		RegisteredKeyHash:   HashKey("ABCD1234EFGH"),
		KeyHint:             "ABCD****EFGH",
		LastHeartbeatAt:     now.AddDate(0, 0, -1),
		HeartbeatDateBucket: now.AddDate(0, 0, -1).Format(dateBucketFormat),
		CreatedAt:           now.AddDate(0, 0, -60),
	}
	require.NoError(t, st.SaveDevice(ctx, device))

	resp, err := svc.Heartbeat(ctx, &v1.HeartbeatRequest{DeviceID: "device-1", AppVersion: "1.0.0"})
	require.NoError(t, err)

	assert.True(t, resp.Registered)
	assert.NotEmpty(t, resp.JWT)
	assert.Equal(t, "ABCD****EFGH", resp.KeyHint)

	payload, err := svc.codec.Verify(resp.JWT)
	require.NoError(t, err)
	assert.Equal(t, "device-1", payload.DeviceID)
	assert.True(t, payload.IssuedAt.Equal(*now))
	assert.True(t, payload.ExpiresAt.After(*now))
}

func TestHeartbeat_RebindFromResentKey(t *testing.T) {
	svc, st, now := newHeartbeatFixture(t)
	ctx := context.Background()

	plainKey := "ABCD1234EFGH"
	keyHash := HashKey(plainKey)
	require.NoError(t, st.SaveKey(ctx, &store.Key{
		KeyHash:    keyHash,
		Devices:    []string{"device-1"},
		MaxDevices: 3,
		Valid:      true,
	}))
	require.NoError(t, st.SaveDevice(ctx, &store.Device{
		DeviceID:            "device-1",
		TrialStartedAt:      now.AddDate(0, 0, -60),
		LastHeartbeatAt:     now.AddDate(0, 0, -1),
		HeartbeatDateBucket: now.AddDate(0, 0, -1).Format(dateBucketFormat),
	}))

	resp, err := svc.Heartbeat(ctx, &v1.HeartbeatRequest{
		DeviceID:    "device-1",
		AppVersion:  "1.0.0",
		DownloadKey: plainKey,
	})
	require.NoError(t, err)
	assert.True(t, resp.Registered)
	assert.NotEmpty(t, resp.JWT)

	device, err := st.GetDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, keyHash, device.RegisteredKeyHash)
}

func TestHeartbeat_RebindIgnoredWhenNotMember(t *testing.T) {
	svc, st, now := newHeartbeatFixture(t)
	ctx := context.Background()

	require.NoError(t, st.SaveKey(ctx, &store.Key{
		KeyHash:    HashKey("ABCD1234EFGH"),
		Devices:    []string{"other-device"},
		MaxDevices: 3,
		Valid:      true,
	}))
	require.NoError(t, st.SaveDevice(ctx, &store.Device{
		DeviceID:            "device-1",
		TrialStartedAt:      *now,
		LastHeartbeatAt:     *now,
		HeartbeatDateBucket: now.Format(dateBucketFormat),
		HeartbeatCountToday: 1,
	}))

	resp, err := svc.Heartbeat(ctx, &v1.HeartbeatRequest{
		DeviceID:    "device-1",
		AppVersion:  "1.0.0",
		DownloadKey: "ABCD1234EFGH",
	})
	require.NoError(t, err)
	assert.False(t, resp.Registered)
	assert.True(t, resp.TrialValid)
}

func TestHeartbeat_UpdateFlags(t *testing.T) {
	svc, _, _ := newHeartbeatFixture(t)
	svc.policy.LatestVersion = "2.0.0"
	svc.policy.ForceUpdateBelowVersion = "1.5.0"
	ctx := context.Background()

	tests := []struct {
		name           string
		appVersion     string
		wantAvailable  bool
		wantRequired   bool
	}{
		{"old version below floor", "1.0.0", true, true},
		{"old version above floor", "1.9.0", true, false},
		{"current version", "2.0.0", false, false},
		{"ahead of latest", "2.1.0", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Heartbeat(ctx, &v1.HeartbeatRequest{
				DeviceID:   "device-" + tt.appVersion,
				AppVersion: tt.appVersion,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantAvailable, resp.UpdateAvailable)
			assert.Equal(t, tt.wantRequired, resp.UpdateRequired)
			assert.Equal(t, "2.0.0", resp.LatestVersion)
		})
	}
}

func TestRemainingDays(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, remainingDays(now, now))
	assert.Equal(t, 0, remainingDays(now, now.Add(-time.Hour)))
	assert.Equal(t, 1, remainingDays(now, now.Add(time.Hour)))
	assert.Equal(t, 1, remainingDays(now, now.Add(24*time.Hour)))
	assert.Equal(t, 2, remainingDays(now, now.Add(25*time.Hour)))
	assert.Equal(t, 30, remainingDays(now, now.AddDate(0, 0, 30)))
}
