package testutil

import (
	"time"

	"keygate/internal/store"
)

// FixtureNow is the reference instant used by entitlement fixtures so tests
// stay deterministic.
var FixtureNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// TrialDevice returns a device that started its trial the given number of
// days before FixtureNow.
func TrialDevice(deviceID string, trialAgeDays int) *store.Device {
	started := FixtureNow.AddDate(0, 0, -trialAgeDays)
	return &store.Device{
		DeviceID:        deviceID,
		TrialStartedAt:  started,
		AppVersion:      "1.0.0",
		LastHeartbeatAt: FixtureNow,
		CreatedAt:       started,
	}
}

// RegisteredDevice returns a device bound to the given key hash.
func RegisteredDevice(deviceID, keyHash, keyHint string) *store.Device {
	d := TrialDevice(deviceID, 10)
	d.RegisteredKeyHash = keyHash
	d.KeyHint = keyHint
	return d
}

// StaleDevice returns a registered device whose last heartbeat is older
// than the given number of days.
func StaleDevice(deviceID, keyHash string, staleDays int) *store.Device {
	d := RegisteredDevice(deviceID, keyHash, "")
	d.LastHeartbeatAt = FixtureNow.AddDate(0, 0, -staleDays)
	return d
}

// ValidKey returns a valid key with the given members and device quota.
func ValidKey(keyHash string, maxDevices int, deviceIDs ...string) *store.Key {
	return &store.Key{
		KeyHash:     keyHash,
		Devices:     append([]string(nil), deviceIDs...),
		MaxDevices:  maxDevices,
		Valid:       true,
		CreatedAt:   FixtureNow.AddDate(0, 0, -30),
		ValidatedAt: FixtureNow,
	}
}

// RevokedKey returns a key marked invalid.
func RevokedKey(keyHash string, deviceIDs ...string) *store.Key {
	k := ValidKey(keyHash, 3, deviceIDs...)
	k.Valid = false
	return k
}
