package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kgerrors "keygate/internal/errors"
	"keygate/internal/shared/testutil"
	"keygate/internal/store"
	v1 "keygate/pkg/contracts/api/v1"
)

func TestHeartbeat_RateLimitIsLogged(t *testing.T) {
	st := store.NewMemoryStore()
	logger, captured := testutil.NewTestLogger(t)
	now := testutil.FixtureNow
	svc := &heartbeatService{
		store:  st,
		codec:  newTestCodec(t),
		policy: testPolicy(),
		logger: logger,
		now:    func() time.Time { return now },
	}
	ctx := context.Background()

	device := testutil.TrialDevice("device-1", 5)
	device.HeartbeatCountToday = testPolicy().HeartbeatsPerDay
	device.HeartbeatDateBucket = now.UTC().Format(dateBucketFormat)
	require.NoError(t, st.SaveDevice(ctx, device))

	_, err := svc.Heartbeat(ctx, &v1.HeartbeatRequest{DeviceID: "device-1", AppVersion: "1.0.0"})
	require.ErrorIs(t, err, kgerrors.ErrRateLimited)

	testutil.AssertLogContains(t, captured, slog.LevelWarn, "rate limit exceeded")
}

func TestRegister_RevocationIsLogged(t *testing.T) {
	st := store.NewMemoryStore()
	logger, captured := testutil.NewTestLogger(t)
	svc := &registrationService{
		store:  st,
		codec:  newTestCodec(t),
		policy: testPolicy(),
		logger: logger,
		now:    func() time.Time { return testutil.FixtureNow },
	}
	ctx := context.Background()

	require.NoError(t, st.SaveDevice(ctx, testutil.TrialDevice("device-1", 5)))
	keyHash := HashKey("REVOKEDKEY12")
	require.NoError(t, st.SaveKey(ctx, testutil.RevokedKey(keyHash)))

	resp, err := svc.Register(ctx, &v1.RegisterRequest{DeviceID: "device-1", DownloadKey: "REVOKEDKEY12"})
	require.NoError(t, err)
	require.False(t, resp.Success)

	testutil.AssertLogContains(t, captured, slog.LevelWarn, "revoked")
}
