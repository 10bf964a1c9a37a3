package identity

import "sync"

type deviceKey struct {
	UserID   UserId
	DeviceID DeviceId
}

// MemoryKeystore is a testing-only Keystore backed by in-process maps,
// guarded by a RWMutex.
type MemoryKeystore struct {
	mu        sync.RWMutex
	identity  map[UserId][]byte
	devices   map[deviceKey][]byte
}

// NewMemoryKeystore returns an empty in-memory keystore.
func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{
		identity: make(map[UserId][]byte),
		devices:  make(map[deviceKey][]byte),
	}
}

func (k *MemoryKeystore) StoreIdentity(userID UserId, seed []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.identity[userID] = append([]byte(nil), seed...)
	return nil
}

func (k *MemoryKeystore) LoadIdentity(userID UserId) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	seed, ok := k.identity[userID]
	if !ok {
		return nil, errNotFound("MemoryKeystore.LoadIdentity", userID.String())
	}
	return append([]byte(nil), seed...), nil
}

func (k *MemoryKeystore) StoreDevice(userID UserId, deviceID DeviceId, seed []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.devices[deviceKey{userID, deviceID}] = append([]byte(nil), seed...)
	return nil
}

func (k *MemoryKeystore) LoadDevice(userID UserId, deviceID DeviceId) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	seed, ok := k.devices[deviceKey{userID, deviceID}]
	if !ok {
		return nil, errNotFound("MemoryKeystore.LoadDevice", deviceID.String())
	}
	return append([]byte(nil), seed...), nil
}

func (k *MemoryKeystore) DeleteIdentity(userID UserId) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.identity, userID)
	for dk := range k.devices {
		if dk.UserID == userID {
			delete(k.devices, dk)
		}
	}
	return nil
}

var _ Keystore = (*MemoryKeystore)(nil)
