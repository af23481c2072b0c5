// Package store defines the persistence contract for device and key records
// and provides PostgreSQL and in-memory implementations of it.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Device is the server-side record for one installation, created on its
// first heartbeat and mutated on every later heartbeat or registration.
// Devices are never deleted by normal operation.
type Device struct {
	DeviceID            string
	TrialStartedAt      time.Time
	RegisteredKeyHash   string // empty when the device holds no key
	KeyHint             string
	AppVersion          string
	LastHeartbeatAt     time.Time
	HeartbeatCountToday int
	HeartbeatDateBucket string // UTC calendar day, formatted 2006-01-02
	CreatedAt           time.Time
}

// Key is the server-side record for one registration key, identified only
// by a one-way hash of the plaintext. Devices is the member set; the
// invariant len(Devices) <= MaxDevices must hold after every registration.
type Key struct {
	KeyHash     string
	Devices     []string
	MaxDevices  int
	Valid       bool
	CreatedAt   time.Time
	ValidatedAt time.Time
}

// HasDevice reports whether deviceID is a member of the key.
func (k *Key) HasDevice(deviceID string) bool {
	for _, id := range k.Devices {
		if id == deviceID {
			return true
		}
	}
	return false
}

// RemoveDevice drops deviceID from the member set if present.
func (k *Key) RemoveDevice(deviceID string) {
	out := k.Devices[:0]
	for _, id := range k.Devices {
		if id != deviceID {
			out = append(out, id)
		}
	}
	k.Devices = out
}

// Accessor is the record-level read/write surface shared by the store and
// by the serialized scope handed to WithKeyLock callbacks.
type Accessor interface {
	// GetDevice returns the device record or ErrNotFound.
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	// SaveDevice inserts or replaces the device record.
	SaveDevice(ctx context.Context, d *Device) error
	// GetKey returns the key record (with its member set) or ErrNotFound.
	GetKey(ctx context.Context, keyHash string) (*Key, error)
	// SaveKey inserts or replaces the key record and its member set.
	SaveKey(ctx context.Context, k *Key) error
}

// Store is the persistence contract for the entitlement server.
type Store interface {
	Accessor

	// WithKeyLock runs fn under per-key serialization so the registration
	// read-evict-check-write sequence cannot interleave for the same key.
	// Mutations made through ops are atomic with respect to other
	// WithKeyLock calls for keyHash; fn returning an error discards them
	// where the backend supports rollback.
	WithKeyLock(ctx context.Context, keyHash string, fn func(ops Accessor) error) error

	// Ping reports backend reachability, used by readiness checks.
	Ping(ctx context.Context) error

	Close() error
}
