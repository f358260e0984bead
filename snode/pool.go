package snode

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/swarmd/swarmd/std/log"
)

type nodeListParams struct {
	ActiveOnly bool            `json:"active_only"`
	Fields     map[string]bool `json:"fields"`
}

type jsonRpcRequest struct {
	Method Method `json:"method"`
	Params any    `json:"params"`
}

// EnsurePool returns the snode pool, repopulating it from a random seed
// node when it holds fewer than MinPoolSize entries. A repopulated pool
// replaces the old one entirely.
func (n *NetworkState) EnsurePool(ctx context.Context) ([]Snode, error) {
	n.poolMutex.Lock()
	defer n.poolMutex.Unlock()

	pool, err := n.storage.GetSnodePool()
	if err != nil {
		return nil, err
	}
	if len(pool) >= n.config.MinPoolSize {
		return pool, nil
	}

	seed := n.config.SeedNodes[rand.IntN(len(n.config.SeedNodes))]
	log.Info(n, "Populating snode pool", "seed", seed, "current", len(pool))

	req := jsonRpcRequest{
		Method: MethodGetNodeList,
		Params: nodeListParams{
			ActiveOnly: true,
			Fields: map[string]bool{
				"public_ip":      true,
				"storage_port":   true,
				"pubkey_x25519":  true,
				"pubkey_ed25519": true,
			},
		},
	}
	raw, err := n.transport.Post(ctx, seed+"/json_rpc", req)
	if err != nil {
		return nil, fmt.Errorf("failed to query seed node %s: %w", seed, err)
	}

	fresh, err := ParseNodeList(raw)
	if err != nil {
		log.Warn(n, "Failed to update snode pool", "seed", seed, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneric, err)
	}
	if len(fresh) == 0 {
		log.Warn(n, "Got an empty snode pool", "seed", seed)
		return nil, fmt.Errorf("%w: empty snode pool from %s: %w", ErrGeneric, seed, ErrPoolExhausted)
	}

	log.Debug(n, "Persisting snode pool", "count", len(fresh))
	if err := n.storage.SetSnodePool(fresh); err != nil {
		return nil, err
	}
	n.metrics.poolRefreshed(len(fresh))
	return fresh, nil
}

// RandomSnode returns a uniformly random member of the pool.
func (n *NetworkState) RandomSnode(ctx context.Context) (Snode, error) {
	pool, err := n.EnsurePool(ctx)
	if err != nil {
		return Snode{}, err
	}
	if len(pool) == 0 {
		return Snode{}, ErrPoolExhausted
	}
	return pool[rand.IntN(len(pool))], nil
}

// Evict removes sn from the pool. Evicting an absent node is a no-op.
func (n *NetworkState) Evict(sn Snode) error {
	n.poolMutex.Lock()
	defer n.poolMutex.Unlock()

	pool, err := n.storage.GetSnodePool()
	if err != nil {
		return err
	}
	pool, found := removeSnode(pool, sn)
	if !found {
		return nil
	}
	if err := n.storage.SetSnodePool(pool); err != nil {
		return err
	}
	n.metrics.setPoolSize(len(pool))
	log.Debug(n, "Evicted snode from pool", "snode", sn, "pool", len(pool))
	return nil
}
