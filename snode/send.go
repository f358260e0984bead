package snode

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/swarmd/swarmd/snode/pow"
	"github.com/swarmd/swarmd/std/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Message is an outbound message addressed to a recipient's swarm.
type Message struct {
	Recipient string
	// Base64 encoded payload.
	Data string
	// TTL in milliseconds.
	TTL uint64
	// Timestamp in milliseconds since epoch.
	Timestamp uint64
	// Proof of work nonce, filled in by SendMessage.
	Nonce string
}

// Params returns the store RPC parameters for the message.
func (m Message) Params() map[string]string {
	return map[string]string{
		"pubKey":    m.Recipient,
		"ttl":       strconv.FormatUint(m.TTL, 10),
		"timestamp": strconv.FormatUint(m.Timestamp, 10),
		"nonce":     m.Nonce,
		"data":      m.Data,
	}
}

func (m Message) powInput() pow.Input {
	return pow.Input{
		Timestamp: m.Timestamp,
		TTL:       m.TTL,
		Recipient: m.Recipient,
		Data:      m.Data,
	}
}

// PendingSend is the in-flight delivery of a message to one snode.
type PendingSend struct {
	Snode Snode

	done chan struct{}
	resp RawResponse
	err  error
}

// Done is closed when the send has finished, successfully or not.
func (p *PendingSend) Done() <-chan struct{} {
	return p.done
}

// Result blocks until the send finishes.
func (p *PendingSend) Result() (RawResponse, error) {
	<-p.done
	return p.resp, p.err
}

// Wait is Result bounded by ctx.
func (p *PendingSend) Wait(ctx context.Context) (RawResponse, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendMessage computes the proof of work for msg and sends it to a random
// subset of the recipient's swarm. Each send is retried independently and
// reported through its PendingSend.
func (n *NetworkState) SendMessage(ctx context.Context, msg Message) ([]*PendingSend, error) {
	n.broadcastForMessage(EventCalculatingPoW, msg)

	difficulty := n.PowDifficulty()
	nonce, err := pow.Calculate(ctx, msg.powInput(), difficulty)
	if err != nil {
		return nil, err
	}
	msg.Nonce = nonce

	targets, err := backoff.RetryWithData(func() ([]Snode, error) {
		targets, err := n.TargetSnodes(ctx, msg.Recipient, n.config.TargetSwarmSize)
		return targets, retryable(ctx, err)
	}, n.retryPolicy(ctx))
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrSwarmExhausted
	}

	pending := make([]*PendingSend, 0, len(targets))
	for _, sn := range targets {
		p := &PendingSend{Snode: sn, done: make(chan struct{})}
		pending = append(pending, p)
		go n.sendToSnode(ctx, p, msg, difficulty)
	}
	return pending, nil
}

func (n *NetworkState) sendToSnode(ctx context.Context, p *PendingSend, msg Message, difficulty int) {
	defer close(p.done)

	n.broadcastForMessage(EventSendingMessage, msg)
	p.resp, p.err = backoff.RetryWithData(func() (RawResponse, error) {
		// a node raised the target since the nonce was computed
		if current := n.PowDifficulty(); current != difficulty {
			nonce, err := pow.Calculate(ctx, msg.powInput(), current)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			msg.Nonce, difficulty = nonce, current
		}

		raw, err := n.Invoke(ctx, MethodSendMessage, p.Snode, msg.Recipient, msg.Params())
		if err != nil {
			log.Debug(n, "Sending message failed", "snode", p.Snode, "err", err)
			if errors.Is(err, ErrClockSkew) {
				return nil, backoff.Permanent(err)
			}
			return nil, retryable(ctx, err)
		}
		n.updateDifficulty(raw, p.Snode)
		return raw, nil
	}, n.retryPolicy(ctx))
}

// updateDifficulty applies a difficulty hint from a successful send.
func (n *NetworkState) updateDifficulty(raw RawResponse, sn Snode) {
	d, ok := ParseDifficulty(raw).Get()
	if !ok {
		log.Debug(n, "Failed to update proof of work difficulty", "snode", sn)
		return
	}
	if d != n.PowDifficulty() && d >= 1 && d < n.config.MaxDifficulty {
		log.Info(n, "Setting proof of work difficulty", "difficulty", d, "snode", sn)
		n.setPowDifficulty(d)
	}
}

// broadcastForMessage notifies subscribers about user-visible sends,
// which are the ones with a TTL of one or four days.
func (n *NetworkState) broadcastForMessage(ev Event, msg Message) {
	day := uint64(Day.Milliseconds())
	if msg.TTL != day && msg.TTL != 4*day {
		return
	}
	n.events.broadcast(ev, msg.Timestamp)
}

var errDelivered = errors.New("delivered")

// WaitAny waits until one of the sends succeeds and returns its response.
// If all sends fail, the combined errors are returned.
func WaitAny(ctx context.Context, pending []*PendingSend) (RawResponse, error) {
	if len(pending) == 0 {
		return nil, ErrSwarmExhausted
	}

	g, gctx := errgroup.WithContext(ctx)
	var mutex sync.Mutex
	var resp RawResponse
	var delivered bool
	var errs error

	for _, p := range pending {
		g.Go(func() error {
			raw, err := p.Wait(gctx)
			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
				return nil
			}
			if !delivered {
				resp, delivered = raw, true
			}
			return errDelivered
		})
	}
	g.Wait()

	if delivered {
		return resp, nil
	}
	return nil, errs
}
