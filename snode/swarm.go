package snode

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/swarmd/swarmd/std/log"
)

// Swarm returns the snodes holding the identity's mailbox. The cached
// swarm is used while it has at least MinSwarmSize members; otherwise
// a random pool member is asked for the current swarm.
func (n *NetworkState) Swarm(ctx context.Context, identity string) ([]Snode, error) {
	cached, err := n.CachedSwarm(identity)
	if err != nil {
		return nil, err
	}
	if len(cached) >= n.config.MinSwarmSize {
		return cached, nil
	}

	sn, err := n.RandomSnode(ctx)
	if err != nil {
		return nil, err
	}

	log.Debug(n, "Refreshing swarm", "identity", identity, "cached", len(cached), "via", sn)
	raw, err := n.Invoke(ctx, MethodGetSwarm, sn, identity, map[string]string{"pubKey": identity})
	if err != nil {
		return nil, err
	}
	swarm, err := ParseSwarm(raw)
	if err != nil {
		n.MarkBadNode(sn, noIdentity)
		return nil, &NodeError{Kind: ErrParse, Snode: sn, Cause: err}
	}
	if len(swarm) == 0 {
		return nil, fmt.Errorf("%w: %s returned no swarm members for %s", ErrSwarmExhausted, sn, identity)
	}

	unlock := n.swarmLocks.lock(identity)
	defer unlock()
	if err := n.storage.SetSwarm(identity, swarm); err != nil {
		return nil, err
	}
	return swarm, nil
}

// CachedSwarm returns the stored swarm without any network access.
func (n *NetworkState) CachedSwarm(identity string) ([]Snode, error) {
	unlock := n.swarmLocks.lock(identity)
	defer unlock()
	return n.storage.GetSwarm(identity)
}

// DropFromSwarm removes sn from the identity's cached swarm.
// Dropping an absent member is a no-op.
func (n *NetworkState) DropFromSwarm(sn Snode, identity string) error {
	unlock := n.swarmLocks.lock(identity)
	defer unlock()

	swarm, err := n.storage.GetSwarm(identity)
	if err != nil {
		return err
	}
	swarm, found := removeSnode(swarm, sn)
	if !found {
		return nil
	}
	return n.storage.SetSwarm(identity, swarm)
}

// TargetSnodes returns up to count random swarm members for fan-out writes.
// A non-positive count selects TargetSwarmSize.
func (n *NetworkState) TargetSnodes(ctx context.Context, identity string, count int) ([]Snode, error) {
	if count <= 0 {
		count = n.config.TargetSwarmSize
	}
	swarm, err := n.Swarm(ctx, identity)
	if err != nil {
		return nil, err
	}
	shuffled := append([]Snode(nil), swarm...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:min(count, len(shuffled))], nil
}

// SingleTargetSnode returns one random swarm member.
func (n *NetworkState) SingleTargetSnode(ctx context.Context, identity string) (Snode, error) {
	targets, err := n.TargetSnodes(ctx, identity, 1)
	if err != nil {
		return Snode{}, err
	}
	if len(targets) == 0 {
		return Snode{}, ErrSwarmExhausted
	}
	return targets[0], nil
}
