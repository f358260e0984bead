package snode

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash"
)

// KeySet holds the two public keys of a service node.
// Ed25519 routes RPC methods; X25519 addresses onion layers.
type KeySet struct {
	Ed25519 string `json:"ed25519"`
	X25519  string `json:"x25519"`
}

// Snode is the identity of a storage service node.
// It is a comparable value and may be used as a map key.
type Snode struct {
	// Address including scheme, e.g. https://10.0.0.1
	Address string `json:"address"`
	Port    int    `json:"port"`
	Keys    KeySet `json:"keys"`
}

func (s Snode) String() string {
	return s.Address + ":" + strconv.Itoa(s.Port)
}

// RpcUrl is the storage RPC endpoint of the node.
func (s Snode) RpcUrl() string {
	return fmt.Sprintf("%s:%d/storage_rpc/v1", s.Address, s.Port)
}

// Hash is a 64-bit digest of the node identity.
func (s Snode) Hash() uint64 {
	d := xxhash.New()
	d.Write([]byte(s.Address))
	d.Write([]byte{0})
	d.Write([]byte(strconv.Itoa(s.Port)))
	d.Write([]byte{0})
	d.Write([]byte(s.Keys.Ed25519))
	d.Write([]byte{0})
	d.Write([]byte(s.Keys.X25519))
	return d.Sum64()
}

// Method is a storage RPC method name.
type Method string

const (
	MethodGetSwarm    Method = "get_snodes_for_pubkey"
	MethodGetMessages Method = "retrieve"
	MethodSendMessage Method = "store"
	// Seed node JSON-RPC method returning the active node list.
	MethodGetNodeList Method = "get_n_service_nodes"
)

// Envelope is a message retrieved from a swarm and delivered to the application.
type Envelope struct {
	Hash string `json:"hash"`
	Data []byte `json:"data"`
	// Expiration in milliseconds since epoch, zero if unknown.
	Expiration int64 `json:"expiration"`
}

// containsSnode reports whether list has sn.
func containsSnode(list []Snode, sn Snode) bool {
	for _, s := range list {
		if s == sn {
			return true
		}
	}
	return false
}

// removeSnode returns list without sn and whether it was present.
func removeSnode(list []Snode, sn Snode) ([]Snode, bool) {
	out := make([]Snode, 0, len(list))
	found := false
	for _, s := range list {
		if s == sn {
			found = true
			continue
		}
		out = append(out, s)
	}
	return out, found
}

// dedupSnodes keeps the first occurrence of each node.
func dedupSnodes(list []Snode) []Snode {
	seen := make(map[Snode]struct{}, len(list))
	out := make([]Snode, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
