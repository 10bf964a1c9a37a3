package identity

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

// fileMagic identifies a SpacePanda keystore file on disk.
var fileMagic = [4]byte{'S', 'P', 'K', 'S'}

const fileKeystoreVersion byte = 1

// Argon2Params controls the at-rest KDF. Exact parameters are left to the
// deployment; DefaultArgon2Params below sets this module's defaults.
type Argon2Params struct {
	TimeCost    uint32
	MemoryKiB   uint32
	Parallelism uint8
}

// DefaultArgon2Params returns the module's default at-rest KDF tuning.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{TimeCost: 1, MemoryKiB: 64 * 1024, Parallelism: 4}
}

// keystoreBlob is the plaintext payload encrypted to disk.
type keystoreBlob struct {
	Identity map[UserId][]byte
	Devices  map[deviceKey][]byte
}

// FileKeystore is the production Keystore: all entries live in a single
// file, encrypted at rest with a passphrase-derived Argon2id key feeding
// AES-256-GCM.
type FileKeystore struct {
	mu         sync.RWMutex
	path       string
	passphrase []byte
	params     Argon2Params
	blob       keystoreBlob
}

// OpenFileKeystore loads (or initializes) a file-backed keystore at path,
// decrypting with passphrase. A missing file is treated as a fresh, empty
// keystore; any other read/decrypt failure is a hard error, since callers
// must never proceed against a partially-decrypted keystore.
func OpenFileKeystore(path string, passphrase []byte, params Argon2Params) (*FileKeystore, error) {
	ks := &FileKeystore{
		path:       path,
		passphrase: append([]byte(nil), passphrase...),
		params:     params,
		blob:       keystoreBlob{Identity: map[UserId][]byte{}, Devices: map[deviceKey][]byte{}},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ks, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read keystore file: %w", err)
	}

	blob, err := decryptKeystoreFile(data, passphrase)
	if err != nil {
		return nil, err
	}
	ks.blob = blob
	return ks, nil
}

func (k *FileKeystore) StoreIdentity(userID UserId, seed []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.blob.Identity[userID] = append([]byte(nil), seed...)
	return k.persistLocked()
}

func (k *FileKeystore) LoadIdentity(userID UserId) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	seed, ok := k.blob.Identity[userID]
	if !ok {
		return nil, errNotFound("FileKeystore.LoadIdentity", userID.String())
	}
	return append([]byte(nil), seed...), nil
}

func (k *FileKeystore) StoreDevice(userID UserId, deviceID DeviceId, seed []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.blob.Devices[deviceKey{userID, deviceID}] = append([]byte(nil), seed...)
	return k.persistLocked()
}

func (k *FileKeystore) LoadDevice(userID UserId, deviceID DeviceId) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	seed, ok := k.blob.Devices[deviceKey{userID, deviceID}]
	if !ok {
		return nil, errNotFound("FileKeystore.LoadDevice", deviceID.String())
	}
	return append([]byte(nil), seed...), nil
}

func (k *FileKeystore) DeleteIdentity(userID UserId) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.blob.Identity, userID)
	for dk := range k.blob.Devices {
		if dk.UserID == userID {
			delete(k.blob.Devices, dk)
		}
	}
	return k.persistLocked()
}

// persistLocked re-encrypts the whole blob and atomically replaces the
// keystore file: write to a sibling temp file, fsync, rename.
func (k *FileKeystore) persistLocked() error {
	data, err := encryptKeystoreFile(k.blob, k.passphrase, k.params)
	if err != nil {
		return err
	}

	dir := filepath.Dir(k.path)
	tmp, err := os.CreateTemp(dir, ".spks-*.tmp")
	if err != nil {
		return fmt.Errorf("identity: create temp keystore file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: write temp keystore file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: fsync temp keystore file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("identity: close temp keystore file: %w", err)
	}
	if err := os.Rename(tmpPath, k.path); err != nil {
		return fmt.Errorf("identity: rename keystore file: %w", err)
	}
	return nil
}

func deriveKeystoreKey(passphrase, salt []byte, p Argon2Params) []byte {
	return argon2.IDKey(passphrase, salt, p.TimeCost, p.MemoryKiB, p.Parallelism, 32)
}

func encryptKeystoreFile(blob keystoreBlob, passphrase []byte, params Argon2Params) ([]byte, error) {
	var plain bytes.Buffer
	if err := gob.NewEncoder(&plain).Encode(blob); err != nil {
		return nil, errSerialization("identity.encryptKeystoreFile", err)
	}

	salt := make([]byte, 32)
	if _, err := crand.Read(salt); err != nil {
		return nil, fmt.Errorf("identity: generate salt: %w", err)
	}
	nonce := make([]byte, 12)
	if _, err := crand.Read(nonce); err != nil {
		return nil, fmt.Errorf("identity: generate nonce: %w", err)
	}

	key := deriveKeystoreKey(passphrase, salt, params)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("identity: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("identity: init AEAD: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plain.Bytes(), fileMagic[:])

	var out bytes.Buffer
	out.Write(fileMagic[:])
	out.WriteByte(fileKeystoreVersion)
	binary.Write(&out, binary.LittleEndian, params.TimeCost)
	binary.Write(&out, binary.LittleEndian, params.MemoryKiB)
	out.WriteByte(params.Parallelism)
	out.Write(salt)
	out.Write(nonce)
	out.Write(ciphertext) // includes the 16-byte GCM tag appended by Seal
	return out.Bytes(), nil
}

func decryptKeystoreFile(data, passphrase []byte) (keystoreBlob, error) {
	var zero keystoreBlob
	const headerLen = 4 + 1 + 4 + 4 + 1 + 32 + 12
	if len(data) < headerLen {
		return zero, errDecryption("identity.decryptKeystoreFile", fmt.Errorf("truncated keystore file"))
	}
	if !bytes.Equal(data[:4], fileMagic[:]) {
		return zero, errDecryption("identity.decryptKeystoreFile", fmt.Errorf("bad magic"))
	}
	version := data[4]
	if version != fileKeystoreVersion {
		return zero, errDecryption("identity.decryptKeystoreFile", fmt.Errorf("unsupported version %d", version))
	}
	off := 5
	var params Argon2Params
	params.TimeCost = binary.LittleEndian.Uint32(data[off:])
	off += 4
	params.MemoryKiB = binary.LittleEndian.Uint32(data[off:])
	off += 4
	params.Parallelism = data[off]
	off++
	salt := data[off : off+32]
	off += 32
	nonce := data[off : off+12]
	off += 12
	ciphertext := data[off:]

	key := deriveKeystoreKey(passphrase, salt, params)
	block, err := aes.NewCipher(key)
	if err != nil {
		return zero, errDecryption("identity.decryptKeystoreFile", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return zero, errDecryption("identity.decryptKeystoreFile", err)
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, fileMagic[:])
	if err != nil {
		return zero, errInvalidPassword("identity.decryptKeystoreFile")
	}

	var blob keystoreBlob
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&blob); err != nil {
		return zero, errSerialization("identity.decryptKeystoreFile", err)
	}
	return blob, nil
}

var _ Keystore = (*FileKeystore)(nil)
