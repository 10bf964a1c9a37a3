package identity

// Keystore is the capability contract shared by the in-memory and
// file-backed implementations, specified as an interface rather than an
// inheritance hierarchy. Both implementations guard their state with a
// read/write lock: many readers, exclusive writer.
type Keystore interface {
	// StoreIdentity persists an identity key's seed under userID,
	// overwriting any prior entry.
	StoreIdentity(userID UserId, seed []byte) error

	// LoadIdentity retrieves the identity seed for userID. Returns a
	// NotFound error if no such entry exists.
	LoadIdentity(userID UserId) ([]byte, error)

	// StoreDevice persists a device key's seed under (userID, deviceID).
	StoreDevice(userID UserId, deviceID DeviceId, seed []byte) error

	// LoadDevice retrieves a device key's seed.
	LoadDevice(userID UserId, deviceID DeviceId) ([]byte, error)

	// DeleteIdentity removes an identity and all of its device entries.
	DeleteIdentity(userID UserId) error
}
