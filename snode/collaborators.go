package snode

import "context"

// RawResponse is the undecoded JSON body of a node response.
type RawResponse []byte

// Storage persists network state across restarts.
// Getters return empty values, not errors, for keys never written.
type Storage interface {
	GetSnodePool() ([]Snode, error)
	SetSnodePool(pool []Snode) error

	GetSwarm(identity string) ([]Snode, error)
	SetSwarm(identity string, swarm []Snode) error

	GetLastMessageHash(sn Snode, identity string) (string, error)
	SetLastMessageHash(sn Snode, identity string, hash string) error

	GetReceivedHashes(identity string) (map[string]struct{}, error)
	SetReceivedHashes(identity string, hashes map[string]struct{}) error
}

// Transport performs direct JSON-RPC calls over HTTPS.
// A non-2xx response is returned as *StatusError.
type Transport interface {
	Post(ctx context.Context, url string, payload any) (RawResponse, error)
}

// OnionTransport sends an RPC to target through layered encryption.
// Node status failures are returned as *StatusError.
type OnionTransport interface {
	Send(ctx context.Context, method Method, params map[string]string, target Snode, destination string) (RawResponse, error)
}
