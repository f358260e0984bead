// Package storage implements persistence of snode network state.
package storage

import (
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/swarmd/swarmd/snode"
)

// Storage is a closable snode.Storage.
type Storage interface {
	snode.Storage
	Close() error
}

// Open creates a storage from a URI:
//
//	mem://                  in-memory, lost on exit
//	badger:///path/to/dir   badger key-value store
//	sqlite:///path/to/file  sqlite database
func Open(uri string) (Storage, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}

	path := u.Host + u.Path
	switch u.Scheme {
	case "mem":
		return NewMemoryStorage(), nil
	case "badger":
		if path == "" {
			return nil, fmt.Errorf("badger storage requires a path")
		}
		return NewBadgerStorage(filepath.Clean(path))
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		return NewSqliteStorage(filepath.Clean(path))
	default:
		return nil, fmt.Errorf("unsupported storage scheme: %q", u.Scheme)
	}
}

type cursorKey struct {
	snode    snode.Snode
	identity string
}

// snodeKey is a stable string form of the full node identity.
func snodeKey(sn snode.Snode) string {
	return sn.String() + "/" + sn.Keys.Ed25519 + "/" + sn.Keys.X25519
}

func copySnodes(list []snode.Snode) []snode.Snode {
	if len(list) == 0 {
		return []snode.Snode{}
	}
	return append([]snode.Snode(nil), list...)
}

func copyHashes(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for h := range set {
		out[h] = struct{}{}
	}
	return out
}
