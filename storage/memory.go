package storage

import (
	"sync"

	"github.com/swarmd/swarmd/snode"
)

// MemoryStorage keeps all state in process memory.
type MemoryStorage struct {
	mutex    sync.RWMutex
	pool     []snode.Snode
	swarms   map[string][]snode.Snode
	cursors  map[cursorKey]string
	received map[string]map[string]struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		swarms:   make(map[string][]snode.Snode),
		cursors:  make(map[cursorKey]string),
		received: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStorage) String() string {
	return "memory-storage"
}

func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) GetSnodePool() ([]snode.Snode, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return copySnodes(s.pool), nil
}

func (s *MemoryStorage) SetSnodePool(pool []snode.Snode) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pool = copySnodes(pool)
	return nil
}

func (s *MemoryStorage) GetSwarm(identity string) ([]snode.Snode, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return copySnodes(s.swarms[identity]), nil
}

func (s *MemoryStorage) SetSwarm(identity string, swarm []snode.Snode) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.swarms[identity] = copySnodes(swarm)
	return nil
}

func (s *MemoryStorage) GetLastMessageHash(sn snode.Snode, identity string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.cursors[cursorKey{sn, identity}], nil
}

func (s *MemoryStorage) SetLastMessageHash(sn snode.Snode, identity string, hash string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cursors[cursorKey{sn, identity}] = hash
	return nil
}

func (s *MemoryStorage) GetReceivedHashes(identity string) (map[string]struct{}, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return copyHashes(s.received[identity]), nil
}

func (s *MemoryStorage) SetReceivedHashes(identity string, hashes map[string]struct{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.received[identity] = copyHashes(hashes)
	return nil
}
