package snode

import (
	"context"
	"errors"
	"fmt"

	"github.com/swarmd/swarmd/std/log"
	"github.com/swarmd/swarmd/std/types/optional"
)

var noIdentity = optional.None[string]()

// Invoke performs one RPC against sn on behalf of identity. Node status
// failures are classified and returned as *NodeError. Invoke never retries.
func (n *NetworkState) Invoke(ctx context.Context, method Method, sn Snode, identity string, params map[string]string) (RawResponse, error) {
	var raw RawResponse
	var err error
	if n.onionEnabled() {
		raw, err = n.onion.Send(ctx, method, params, sn, identity)
	} else {
		raw, err = n.transport.Post(ctx, sn.RpcUrl(), jsonRpcRequest{Method: method, Params: params})
	}
	if err == nil {
		return raw, nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		id := noIdentity
		if identity != "" {
			id = optional.Some(identity)
		}
		c := n.Classify(statusErr.StatusCode, statusErr.Body, sn, id)
		return nil, &NodeError{Kind: c.Err, Snode: sn, Cause: err}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	log.Debug(n, "Unhandled exception", "method", method, "snode", sn, "err", err)
	if errors.Is(err, ErrTransport) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", ErrTransport, err)
}
