package storage

import (
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/swarmd/swarmd/snode"
)

// BadgerStorage persists state in a badger key-value store.
//
//	pool                              JSON list of snodes
//	swarm/<identity>                  JSON list of snodes
//	cursor/<identity>/<snode-key>     last message hash
//	recv/<identity>/<hash>            empty marker
type BadgerStorage struct {
	db *badger.DB
}

var (
	badgerPoolKey      = []byte("pool")
	badgerSwarmPrefix  = "swarm/"
	badgerCursorPrefix = "cursor/"
	badgerRecvPrefix   = "recv/"
)

func NewBadgerStorage(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStorage{db: db}, nil
}

func (s *BadgerStorage) String() string {
	return "badger-storage"
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

func (s *BadgerStorage) GetSnodePool() ([]snode.Snode, error) {
	return s.getSnodes(badgerPoolKey)
}

func (s *BadgerStorage) SetSnodePool(pool []snode.Snode) error {
	return s.setJson(badgerPoolKey, copySnodes(pool))
}

func (s *BadgerStorage) GetSwarm(identity string) ([]snode.Snode, error) {
	return s.getSnodes([]byte(badgerSwarmPrefix + identity))
}

func (s *BadgerStorage) SetSwarm(identity string, swarm []snode.Snode) error {
	return s.setJson([]byte(badgerSwarmPrefix+identity), copySnodes(swarm))
}

func (s *BadgerStorage) GetLastMessageHash(sn snode.Snode, identity string) (hash string, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cursorKeyBytes(sn, identity))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hash = string(val)
			return nil
		})
	})
	return
}

func (s *BadgerStorage) SetLastMessageHash(sn snode.Snode, identity string, hash string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cursorKeyBytes(sn, identity), []byte(hash))
	})
}

func (s *BadgerStorage) GetReceivedHashes(identity string) (map[string]struct{}, error) {
	hashes := make(map[string]struct{})
	prefix := []byte(badgerRecvPrefix + identity + "/")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // keys only
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			hashes[string(it.Item().Key()[len(prefix):])] = struct{}{}
		}
		return nil
	})
	return hashes, err
}

// SetReceivedHashes writes only the difference to the stored set.
func (s *BadgerStorage) SetReceivedHashes(identity string, hashes map[string]struct{}) error {
	existing, err := s.GetReceivedHashes(identity)
	if err != nil {
		return err
	}

	prefix := badgerRecvPrefix + identity + "/"
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for h := range hashes {
		if _, ok := existing[h]; !ok {
			if err := wb.Set([]byte(prefix+h), nil); err != nil {
				return err
			}
		}
	}
	for h := range existing {
		if _, ok := hashes[h]; !ok {
			if err := wb.Delete([]byte(prefix + h)); err != nil {
				return err
			}
		}
	}
	return wb.Flush()
}

func (s *BadgerStorage) getSnodes(key []byte) ([]snode.Snode, error) {
	list := []snode.Snode{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &list)
		})
	})
	return list, err
}

func (s *BadgerStorage) setJson(key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func cursorKeyBytes(sn snode.Snode, identity string) []byte {
	return []byte(badgerCursorPrefix + identity + "/" + snodeKey(sn))
}
