package snode

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is a network or IO failure before any node response.
	ErrTransport = errors.New("transport failure")
	// ErrBadNode means the node is unhealthy or out of date.
	ErrBadNode = errors.New("snode is unhealthy or out of date")
	// ErrClockSkew means the local clock disagrees with network consensus.
	ErrClockSkew = errors.New("the user's clock is out of sync with the service node network")
	// ErrStaleMembership means the node no longer serves the identity.
	ErrStaleMembership = errors.New("snode is no longer associated with the public key")
	// ErrDifficultyTooLow means a send was rejected for insufficient proof of work.
	ErrDifficultyTooLow = errors.New("proof of work difficulty too low")
	// ErrPoolExhausted means there are no candidate snodes.
	ErrPoolExhausted = errors.New("snode pool exhausted")
	// ErrSwarmExhausted means there are no usable swarm members.
	ErrSwarmExhausted = errors.New("swarm exhausted")
	// ErrCanceled means the polling loop was stopped during a fetch.
	ErrCanceled = errors.New("polling canceled")
	// ErrParse means a node response did not match the expected schema.
	ErrParse = errors.New("malformed snode response")
	// ErrGeneric is an unclassified failure.
	ErrGeneric = errors.New("an error occurred")
)

// StatusError is a non-2xx response from a node.
type StatusError struct {
	StatusCode int
	Body       RawResponse
}

func (e *StatusError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("snode responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("snode responded with status %d: %s", e.StatusCode, truncate(string(e.Body), 128))
}

// NodeError is a classified failure of a call to one snode.
type NodeError struct {
	// Kind is one of the sentinel errors of this package.
	Kind  error
	Snode Snode
	Cause error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s (snode %s): %v", e.Kind, e.Snode, e.Cause)
}

func (e *NodeError) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
