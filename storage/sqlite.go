package storage

import (
	"database/sql"
	"encoding/json"
	"errors"

	_ "github.com/mattn/go-sqlite3"
	"github.com/swarmd/swarmd/snode"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snode_lists (
	list_key TEXT PRIMARY KEY,
	snodes   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS last_hashes (
	identity  TEXT NOT NULL,
	snode     TEXT NOT NULL,
	hash      TEXT NOT NULL,
	PRIMARY KEY (identity, snode)
);
CREATE TABLE IF NOT EXISTS received_hashes (
	identity TEXT NOT NULL,
	hash     TEXT NOT NULL,
	PRIMARY KEY (identity, hash)
);
`

const sqlitePoolKey = "pool"

// SqliteStorage persists state in a sqlite database.
type SqliteStorage struct {
	db *sql.DB
}

func NewSqliteStorage(path string) (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStorage{db: db}, nil
}

func (s *SqliteStorage) String() string {
	return "sqlite-storage"
}

func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) GetSnodePool() ([]snode.Snode, error) {
	return s.getSnodes(sqlitePoolKey)
}

func (s *SqliteStorage) SetSnodePool(pool []snode.Snode) error {
	return s.setSnodes(sqlitePoolKey, pool)
}

func (s *SqliteStorage) GetSwarm(identity string) ([]snode.Snode, error) {
	return s.getSnodes("swarm/" + identity)
}

func (s *SqliteStorage) SetSwarm(identity string, swarm []snode.Snode) error {
	return s.setSnodes("swarm/"+identity, swarm)
}

func (s *SqliteStorage) GetLastMessageHash(sn snode.Snode, identity string) (string, error) {
	var hash string
	err := s.db.QueryRow("SELECT hash FROM last_hashes WHERE identity=? AND snode=?",
		identity, snodeKey(sn)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

func (s *SqliteStorage) SetLastMessageHash(sn snode.Snode, identity string, hash string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO last_hashes (identity, snode, hash) VALUES (?, ?, ?)",
		identity, snodeKey(sn), hash)
	return err
}

func (s *SqliteStorage) GetReceivedHashes(identity string) (map[string]struct{}, error) {
	rows, err := s.db.Query("SELECT hash FROM received_hashes WHERE identity=?", identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes[h] = struct{}{}
	}
	return hashes, rows.Err()
}

// SetReceivedHashes writes only the difference to the stored set.
func (s *SqliteStorage) SetReceivedHashes(identity string, hashes map[string]struct{}) error {
	existing, err := s.GetReceivedHashes(identity)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for h := range hashes {
		if _, ok := existing[h]; ok {
			continue
		}
		if _, err := tx.Exec("INSERT OR IGNORE INTO received_hashes (identity, hash) VALUES (?, ?)", identity, h); err != nil {
			return err
		}
	}
	for h := range existing {
		if _, ok := hashes[h]; ok {
			continue
		}
		if _, err := tx.Exec("DELETE FROM received_hashes WHERE identity=? AND hash=?", identity, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SqliteStorage) getSnodes(key string) ([]snode.Snode, error) {
	var raw string
	err := s.db.QueryRow("SELECT snodes FROM snode_lists WHERE list_key=?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []snode.Snode{}, nil
	} else if err != nil {
		return nil, err
	}

	list := []snode.Snode{}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *SqliteStorage) setSnodes(key string, list []snode.Snode) error {
	raw, err := json.Marshal(copySnodes(list))
	if err != nil {
		return err
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO snode_lists (list_key, snodes) VALUES (?, ?)", key, string(raw))
	return err
}
