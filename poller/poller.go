// Package poller long-polls the swarm of an identity for new messages.
package poller

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/swarmd/swarmd/snode"
	"github.com/swarmd/swarmd/std/log"
)

// DefaultInterval is the delay between polling cycles.
const DefaultInterval = time.Second

// MessageHandler receives new messages for an identity.
type MessageHandler func(identity string, envs []snode.Envelope)

type Options struct {
	// Network state shared by all pollers. Required.
	State *snode.NetworkState
	// Identity public key whose swarm is polled. Required.
	Identity string
	// Delay between cycles. Zero selects DefaultInterval.
	Interval time.Duration
	// Time source. Nil selects the wall clock.
	Clock clock.Clock
	// Called with every non-empty batch of new messages.
	OnMessages MessageHandler
}

// Poller runs polling cycles for one identity. Each cycle resolves the
// swarm, then long-polls one random member at a time until every member
// has failed, and the next cycle starts after Interval.
type Poller struct {
	state      *snode.NetworkState
	identity   string
	interval   time.Duration
	clock      clock.Clock
	onMessages MessageHandler

	mutex sync.Mutex
	// token of the running loop, nil when idle
	token *cancelToken
	wg    sync.WaitGroup

	caughtUp atomic.Bool
}

func NewPoller(opts Options) (*Poller, error) {
	if opts.State == nil {
		return nil, errors.New("poller requires a network state")
	}
	if opts.Identity == "" {
		return nil, errors.New("poller requires an identity")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Poller{
		state:      opts.State,
		identity:   opts.Identity,
		interval:   opts.Interval,
		clock:      opts.Clock,
		onMessages: opts.OnMessages,
	}, nil
}

func (p *Poller) String() string {
	return "poller"
}

func (p *Poller) Identity() string {
	return p.identity
}

// IsCaughtUp reports whether a swarm member has answered since start,
// or every member of a cycle has been tried.
func (p *Poller) IsCaughtUp() bool {
	return p.caughtUp.Load()
}

func (p *Poller) IsRunning() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.token != nil
}

// Start begins polling immediately. Starting a running poller is a no-op.
// Canceling ctx stops the poller and aborts its requests.
func (p *Poller) Start(ctx context.Context) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.token != nil {
		return
	}

	tok := newCancelToken()
	p.token = tok
	p.caughtUp.Store(false)
	log.Info(p, "Started polling", "identity", p.identity)

	p.wg.Add(1)
	go p.run(ctx, tok)
}

// Stop ends polling. A fetch in flight is allowed to complete but its
// response is discarded and no further request is made.
func (p *Poller) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stopLocked(nil)
}

// Wait blocks until all polling goroutines have exited.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// stopLocked cancels tok, or the current token when tok is nil.
func (p *Poller) stopLocked(tok *cancelToken) {
	if p.token == nil || (tok != nil && p.token != tok) {
		return
	}
	p.token.cancel()
	p.token = nil
	log.Info(p, "Stopped polling", "identity", p.identity)
}

func (p *Poller) run(ctx context.Context, tok *cancelToken) {
	defer p.wg.Done()

	for {
		p.cycle(ctx, tok)

		timer := p.clock.Timer(p.interval)
		select {
		case <-timer.C:
		case <-tok.done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			p.mutex.Lock()
			p.stopLocked(tok)
			p.mutex.Unlock()
			return
		}
	}
}

// cycle polls swarm members until all of them failed or tok is canceled.
func (p *Poller) cycle(ctx context.Context, tok *cancelToken) {
	if tok.canceled() {
		return
	}

	if _, err := p.state.Swarm(ctx, p.identity); err != nil {
		log.Warn(p, "Failed to resolve swarm", "identity", p.identity, "err", err)
		return
	}

	used := make(map[snode.Snode]struct{})
	for !tok.canceled() {
		sn, ok, err := p.nextSnode(used)
		if err != nil {
			log.Warn(p, "Failed to read swarm", "identity", p.identity, "err", err)
			return
		}
		if !ok {
			p.caughtUp.Store(true)
			return
		}

		err = p.poll(ctx, tok, sn)
		if errors.Is(err, snode.ErrCanceled) {
			return
		}
		log.Debug(p, "Polling snode failed", "identity", p.identity, "snode", sn, "err", err)
		if err := p.state.DropFromSwarm(sn, p.identity); err != nil {
			log.Warn(p, "Failed to drop snode from swarm", "snode", sn, "err", err)
		}
	}
}

// nextSnode picks a random swarm member not yet used in this cycle.
func (p *Poller) nextSnode(used map[snode.Snode]struct{}) (snode.Snode, bool, error) {
	swarm, err := p.state.CachedSwarm(p.identity)
	if err != nil {
		return snode.Snode{}, false, err
	}

	unused := make([]snode.Snode, 0, len(swarm))
	for _, sn := range swarm {
		if _, ok := used[sn]; !ok {
			unused = append(unused, sn)
		}
	}
	if len(unused) == 0 {
		return snode.Snode{}, false, nil
	}

	sn := unused[rand.IntN(len(unused))]
	used[sn] = struct{}{}
	return sn, true, nil
}

// poll long-polls sn until it fails. The returned error is never nil.
func (p *Poller) poll(ctx context.Context, tok *cancelToken, sn snode.Snode) error {
	for {
		if tok.canceled() {
			return snode.ErrCanceled
		}

		resp, err := p.state.Retrieve(ctx, sn, p.identity)
		if err != nil {
			if ctx.Err() != nil {
				return snode.ErrCanceled
			}
			return err
		}
		p.caughtUp.Store(true)

		// stopped while the request was in flight
		if tok.canceled() {
			return snode.ErrCanceled
		}

		envs, err := p.state.Accept(sn, p.identity, resp)
		if err != nil {
			return err
		}
		if len(envs) > 0 && p.onMessages != nil {
			p.onMessages(p.identity, envs)
		}
	}
}

type cancelToken struct {
	done chan struct{}
	once sync.Once
}

func newCancelToken() *cancelToken {
	return &cancelToken{done: make(chan struct{})}
}

func (t *cancelToken) cancel() {
	t.once.Do(func() { close(t.done) })
}

func (t *cancelToken) canceled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
