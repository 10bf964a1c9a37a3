package channelmgr

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"

	"github.com/spacepanda/core/identity"
)

// FileStore is the default on-disk Store: one gob file per channel's CRDT
// state and one file per channel's group blob, the whole store shared
// behind a single read/write lock. The group blob is written as given;
// FileStore does not encrypt it.
type FileStore struct {
	mu      sync.RWMutex
	dataDir string
}

// NewFileStore returns a FileStore rooted at dataDir, creating it if
// necessary.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, errPersistenceFailed("channelmgr.NewFileStore", err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

func (s *FileStore) channelPath(id identity.ChannelId) string {
	return filepath.Join(s.dataDir, id.String()+".channel")
}

func (s *FileStore) groupPath(id identity.ChannelId) string {
	return filepath.Join(s.dataDir, id.String()+".group")
}

func (s *FileStore) spacePath(id identity.SpaceId) string {
	return filepath.Join(s.dataDir, id.String()+".space")
}

func (s *FileStore) SaveChannel(ch *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ch); err != nil {
		return errSerializationInvalid("channelmgr.FileStore.SaveChannel", err)
	}
	if err := os.WriteFile(s.channelPath(ch.ID), buf.Bytes(), 0o600); err != nil {
		return errPersistenceFailed("channelmgr.FileStore.SaveChannel", err)
	}
	return nil
}

func (s *FileStore) LoadChannel(id identity.ChannelId) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.channelPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound("channelmgr.FileStore.LoadChannel", "channel", id.String())
		}
		return nil, errPersistenceFailed("channelmgr.FileStore.LoadChannel", err)
	}
	var ch Channel
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ch); err != nil {
		return nil, errSerializationInvalid("channelmgr.FileStore.LoadChannel", err)
	}
	return &ch, nil
}

func (s *FileStore) DeleteChannel(id identity.ChannelId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.channelPath(id)); err != nil && !os.IsNotExist(err) {
		return errPersistenceFailed("channelmgr.FileStore.DeleteChannel", err)
	}
	return nil
}

func (s *FileStore) SaveGroupBlob(channelID identity.ChannelId, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.groupPath(channelID), blob, 0o600); err != nil {
		return errPersistenceFailed("channelmgr.FileStore.SaveGroupBlob", err)
	}
	return nil
}

func (s *FileStore) LoadGroupBlob(channelID identity.ChannelId) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.groupPath(channelID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound("channelmgr.FileStore.LoadGroupBlob", "group", channelID.String())
		}
		return nil, errPersistenceFailed("channelmgr.FileStore.LoadGroupBlob", err)
	}
	return data, nil
}

func (s *FileStore) DeleteGroupBlob(channelID identity.ChannelId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.groupPath(channelID)); err != nil && !os.IsNotExist(err) {
		return errPersistenceFailed("channelmgr.FileStore.DeleteGroupBlob", err)
	}
	return nil
}

func (s *FileStore) SaveSpace(sp *Space) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sp); err != nil {
		return errSerializationInvalid("channelmgr.FileStore.SaveSpace", err)
	}
	if err := os.WriteFile(s.spacePath(sp.ID), buf.Bytes(), 0o600); err != nil {
		return errPersistenceFailed("channelmgr.FileStore.SaveSpace", err)
	}
	return nil
}

func (s *FileStore) LoadSpace(id identity.SpaceId) (*Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.spacePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound("channelmgr.FileStore.LoadSpace", "space", id.String())
		}
		return nil, errPersistenceFailed("channelmgr.FileStore.LoadSpace", err)
	}
	var sp Space
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&sp); err != nil {
		return nil, errSerializationInvalid("channelmgr.FileStore.LoadSpace", err)
	}
	return &sp, nil
}

func (s *FileStore) DeleteSpace(id identity.SpaceId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.spacePath(id)); err != nil && !os.IsNotExist(err) {
		return errPersistenceFailed("channelmgr.FileStore.DeleteSpace", err)
	}
	return nil
}
