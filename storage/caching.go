package storage

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/swarmd/swarmd/snode"
)

// CachingStorage is a write-through LRU cache in front of another storage.
type CachingStorage struct {
	// store is the underlying storage.
	store Storage
	// pool is the cached snode pool, nil until first read.
	pool   []snode.Snode
	pmutex sync.Mutex
	// swarms caches swarm lists by identity.
	swarms *lru.Cache[string, []snode.Snode]
	// cursors caches last message hashes.
	cursors *lru.Cache[cursorKey, string]
	// received caches received hash sets by identity.
	received *lru.Cache[string, map[string]struct{}]
}

// NewCachingStorage wraps store with caches of the given size per kind.
func NewCachingStorage(store Storage, size int) (*CachingStorage, error) {
	swarms, err := lru.New[string, []snode.Snode](size)
	if err != nil {
		return nil, err
	}
	cursors, err := lru.New[cursorKey, string](size)
	if err != nil {
		return nil, err
	}
	received, err := lru.New[string, map[string]struct{}](size)
	if err != nil {
		return nil, err
	}
	return &CachingStorage{
		store:    store,
		swarms:   swarms,
		cursors:  cursors,
		received: received,
	}, nil
}

func (s *CachingStorage) String() string {
	return "caching-storage"
}

func (s *CachingStorage) Close() error {
	s.swarms.Purge()
	s.cursors.Purge()
	s.received.Purge()
	return s.store.Close()
}

func (s *CachingStorage) GetSnodePool() ([]snode.Snode, error) {
	s.pmutex.Lock()
	defer s.pmutex.Unlock()
	if s.pool != nil {
		return copySnodes(s.pool), nil
	}
	pool, err := s.store.GetSnodePool()
	if err != nil {
		return nil, err
	}
	s.pool = copySnodes(pool)
	return copySnodes(pool), nil
}

func (s *CachingStorage) SetSnodePool(pool []snode.Snode) error {
	s.pmutex.Lock()
	defer s.pmutex.Unlock()
	if err := s.store.SetSnodePool(pool); err != nil {
		s.pool = nil
		return err
	}
	s.pool = copySnodes(pool)
	return nil
}

func (s *CachingStorage) GetSwarm(identity string) ([]snode.Snode, error) {
	if swarm, ok := s.swarms.Get(identity); ok {
		return copySnodes(swarm), nil
	}
	swarm, err := s.store.GetSwarm(identity)
	if err != nil {
		return nil, err
	}
	s.swarms.Add(identity, copySnodes(swarm))
	return swarm, nil
}

func (s *CachingStorage) SetSwarm(identity string, swarm []snode.Snode) error {
	if err := s.store.SetSwarm(identity, swarm); err != nil {
		s.swarms.Remove(identity)
		return err
	}
	s.swarms.Add(identity, copySnodes(swarm))
	return nil
}

func (s *CachingStorage) GetLastMessageHash(sn snode.Snode, identity string) (string, error) {
	key := cursorKey{sn, identity}
	if hash, ok := s.cursors.Get(key); ok {
		return hash, nil
	}
	hash, err := s.store.GetLastMessageHash(sn, identity)
	if err != nil {
		return "", err
	}
	s.cursors.Add(key, hash)
	return hash, nil
}

func (s *CachingStorage) SetLastMessageHash(sn snode.Snode, identity string, hash string) error {
	key := cursorKey{sn, identity}
	if err := s.store.SetLastMessageHash(sn, identity, hash); err != nil {
		s.cursors.Remove(key)
		return err
	}
	s.cursors.Add(key, hash)
	return nil
}

func (s *CachingStorage) GetReceivedHashes(identity string) (map[string]struct{}, error) {
	if set, ok := s.received.Get(identity); ok {
		return copyHashes(set), nil
	}
	set, err := s.store.GetReceivedHashes(identity)
	if err != nil {
		return nil, err
	}
	s.received.Add(identity, copyHashes(set))
	return set, nil
}

func (s *CachingStorage) SetReceivedHashes(identity string, hashes map[string]struct{}) error {
	if err := s.store.SetReceivedHashes(identity, hashes); err != nil {
		s.received.Remove(identity)
		return err
	}
	s.received.Add(identity, copyHashes(hashes))
	return nil
}
