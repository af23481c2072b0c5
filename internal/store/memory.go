package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-binary
// deployments. A per-key mutex serializes WithKeyLock sections; record
// reads and writes outside a lock section share one RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]Device
	keys    map[string]Key

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:  make(map[string]Device),
		keys:     make(map[string]Key),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := d
	return &copy, nil
}

func (s *MemoryStore) SaveDevice(ctx context.Context, d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices[d.DeviceID] = *d
	return nil
}

func (s *MemoryStore) GetKey(ctx context.Context, keyHash string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	copy := k
	copy.Devices = append([]string(nil), k.Devices...)
	return &copy, nil
}

func (s *MemoryStore) SaveKey(ctx context.Context, k *Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *k
	stored.Devices = append([]string(nil), k.Devices...)
	s.keys[k.KeyHash] = stored
	return nil
}

// WithKeyLock serializes fn against all other lock sections for keyHash.
// Mutations apply immediately; there is no rollback for the memory backend,
// so callbacks must validate before writing.
func (s *MemoryStore) WithKeyLock(ctx context.Context, keyHash string, fn func(ops Accessor) error) error {
	lock := s.lockFor(keyHash)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s)
}

func (s *MemoryStore) lockFor(keyHash string) *sync.Mutex {
	s.keyLocksMu.Lock()
	defer s.keyLocksMu.Unlock()

	lock, ok := s.keyLocks[keyHash]
	if !ok {
		lock = &sync.Mutex{}
		s.keyLocks[keyHash] = lock
	}
	return lock
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
