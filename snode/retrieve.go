package snode

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/swarmd/swarmd/std/log"
	"github.com/swarmd/swarmd/std/types/optional"
)

// Fetch retrieves new messages for identity from sn, advances the cursor
// and returns only messages never delivered before.
func (n *NetworkState) Fetch(ctx context.Context, sn Snode, identity string) ([]Envelope, error) {
	resp, err := n.Retrieve(ctx, sn, identity)
	if err != nil {
		return nil, err
	}
	return n.Accept(sn, identity, resp)
}

// Retrieve performs the retrieve RPC from the current cursor without
// touching the cursor or the received set.
func (n *NetworkState) Retrieve(ctx context.Context, sn Snode, identity string) (*MessagesResponse, error) {
	lastHash, err := n.storage.GetLastMessageHash(sn, identity)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"pubKey":   identity,
		"lastHash": lastHash,
	}
	raw, err := n.Invoke(ctx, MethodGetMessages, sn, identity, params)
	if err != nil {
		return nil, err
	}

	resp, err := ParseMessages(raw)
	if err != nil {
		log.Debug(n, "Failed to parse messages", "snode", sn, "err", err)
		n.MarkBadNode(sn, optional.Some(identity))
		return nil, &NodeError{Kind: ErrParse, Snode: sn, Cause: err}
	}
	return resp, nil
}

// Accept applies a retrieve response: the cursor for (sn, identity) moves
// to the last message, and messages are deduplicated against the
// identity's received set. Every new hash is recorded as received even if
// its payload turns out to be unusable.
func (n *NetworkState) Accept(sn Snode, identity string, resp *MessagesResponse) ([]Envelope, error) {
	if len(resp.Messages) > 0 {
		last := resp.Messages[len(resp.Messages)-1]
		if hash, ok := last.Hash.Get(); ok && hash != "" {
			if err := n.storage.SetLastMessageHash(sn, identity, hash); err != nil {
				return nil, err
			}
		} else {
			log.Debug(n, "Failed to update last message hash", "snode", sn, "count", len(resp.Messages))
		}
	}
	return n.removeDuplicates(identity, resp.Messages)
}

func (n *NetworkState) removeDuplicates(identity string, entries []MessageEntry) ([]Envelope, error) {
	unlock := n.receivedLocks.lock(identity)
	defer unlock()

	received, err := n.storage.GetReceivedHashes(identity)
	if err != nil {
		return nil, err
	}
	if received == nil {
		received = make(map[string]struct{})
	}

	out := make([]Envelope, 0, len(entries))
	added, dups := 0, 0
	for _, e := range entries {
		hash, ok := e.Hash.Get()
		if !ok || hash == "" {
			log.Debug(n, "Missing hash value for message", "identity", identity)
			continue
		}
		if _, dup := received[hash]; dup {
			dups++
			continue
		}
		received[hash] = struct{}{}
		added++

		encoded, ok := e.Data.Get()
		if !ok {
			log.Debug(n, "Missing data for message", "hash", hash)
			continue
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			log.Debug(n, "Invalid message data", "hash", hash, "err", err)
			continue
		}
		out = append(out, Envelope{
			Hash:       hash,
			Data:       data,
			Expiration: e.Expiration.GetOr(0),
		})
	}

	if added > 0 {
		if err := n.storage.SetReceivedHashes(identity, received); err != nil {
			return nil, err
		}
	}
	n.metrics.received(len(out), dups)
	return out, nil
}

// GetMessages fetches from one random swarm member, retrying up to
// MaxRetries attempts with a fresh target each time.
func (n *NetworkState) GetMessages(ctx context.Context, identity string) ([]Envelope, error) {
	return backoff.RetryWithData(func() ([]Envelope, error) {
		sn, err := n.SingleTargetSnode(ctx, identity)
		if err != nil {
			return nil, retryable(ctx, err)
		}
		envs, err := n.Fetch(ctx, sn, identity)
		if err != nil {
			log.Debug(n, "Fetching messages failed", "snode", sn, "err", err)
			return nil, retryable(ctx, err)
		}
		return envs, nil
	}, n.retryPolicy(ctx))
}

// retryPolicy allows MaxRetries attempts in total, without delay.
func (n *NetworkState) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(n.config.MaxRetries-1))
	return backoff.WithContext(b, ctx)
}

func retryable(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, ErrCanceled) {
		return backoff.Permanent(err)
	}
	return err
}
