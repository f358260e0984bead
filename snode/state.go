package snode

import (
	"errors"
	"sync"
	"sync/atomic"
)

type NetworkStateOpts struct {
	// Config of the network client. Nil selects DefaultConfig.
	Config *Config
	// Storage for the pool, swarms and cursors. Required.
	Storage Storage
	// Transport for seed nodes and the direct RPC path. Required.
	Transport Transport
	// Onion transport for node RPCs. Nil forces the direct path.
	Onion OnionTransport
	// Metrics collectors, may be nil.
	Metrics *Metrics
}

// NetworkState owns all process-wide snode state: the pool, failure
// counters, swarm caches and the proof of work difficulty target.
// It is safe for concurrent use by any number of pollers and senders.
type NetworkState struct {
	config    *Config
	storage   Storage
	transport Transport
	onion     OnionTransport
	metrics   *Metrics

	// serializes pool read-modify-write and repopulation
	poolMutex sync.Mutex
	// snode hash -> consecutive failure count
	failures  map[uint64]int
	failMutex sync.Mutex
	// per identity swarm cache lock
	swarmLocks keyedMutex
	// per identity received hash set lock
	receivedLocks keyedMutex

	difficulty atomic.Int64
	events     broadcaster
}

func NewNetworkState(opts NetworkStateOpts) (*NetworkState, error) {
	if opts.Storage == nil {
		return nil, errors.New("network state requires a storage")
	}
	if opts.Transport == nil {
		return nil, errors.New("network state requires a transport")
	}
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if err := opts.Config.Parse(); err != nil {
		return nil, err
	}

	n := &NetworkState{
		config:    opts.Config,
		storage:   opts.Storage,
		transport: opts.Transport,
		onion:     opts.Onion,
		metrics:   opts.Metrics,
		failures:  make(map[uint64]int),
	}
	n.difficulty.Store(int64(opts.Config.InitialDifficulty))
	n.metrics.setDifficulty(opts.Config.InitialDifficulty)
	return n, nil
}

func (n *NetworkState) String() string {
	return "snode"
}

func (n *NetworkState) Config() *Config {
	return n.config
}

func (n *NetworkState) Storage() Storage {
	return n.storage
}

// Subscribe registers a handler for network events.
func (n *NetworkState) Subscribe(h EventHandler) {
	n.events.subscribe(h)
}

// PowDifficulty is the current global proof of work target.
func (n *NetworkState) PowDifficulty() int {
	return int(n.difficulty.Load())
}

func (n *NetworkState) setPowDifficulty(d int) {
	n.difficulty.Store(int64(d))
	n.metrics.setDifficulty(d)
}

// FailureCount returns the consecutive failure count of sn.
func (n *NetworkState) FailureCount(sn Snode) int {
	n.failMutex.Lock()
	defer n.failMutex.Unlock()
	return n.failures[sn.Hash()]
}

func (n *NetworkState) onionEnabled() bool {
	return n.config.UseOnion && n.onion != nil
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) lock(key string) func() {
	m, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mutex := m.(*sync.Mutex)
	mutex.Lock()
	return mutex.Unlock
}
