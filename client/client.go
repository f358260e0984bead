// Package client wires the snode network state, transports, storage and
// pollers into a runnable messaging client.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swarmd/swarmd/poller"
	"github.com/swarmd/swarmd/snode"
	"github.com/swarmd/swarmd/std/log"
	"github.com/swarmd/swarmd/std/utils"
	"github.com/swarmd/swarmd/storage"
	"github.com/swarmd/swarmd/transport"
	"go.uber.org/multierr"
)

type Client struct {
	config   *Config
	store    storage.Storage
	http     *transport.HTTPTransport
	onion    *transport.WsOnionTransport
	registry *prometheus.Registry
	metrics  *snode.Metrics
	state    *snode.NetworkState
	pollers  []*poller.Poller
	server   *http.Server

	mutex   sync.Mutex
	running bool
}

// Options customize a client beyond its configuration.
type Options struct {
	// Receives new messages of every polled identity.
	OnMessages poller.MessageHandler
	// Receives network events.
	OnEvent snode.EventHandler
}

func NewClient(config *Config, opts Options) (*Client, error) {
	if err := config.Parse(); err != nil {
		return nil, fmt.Errorf("failed to validate client config: %w", err)
	}

	c := &Client{
		config:   config,
		http:     transport.NewHTTPTransport(config.RequestTimeout(), config.InsecureTLS),
		registry: prometheus.NewRegistry(),
	}
	c.registry.MustRegister(collectors.NewGoCollector())
	c.metrics = snode.NewMetrics(c.registry)

	store, err := storage.Open(config.StorageUri())
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	c.store = store
	if config.CacheSize > 0 {
		if c.store, err = storage.NewCachingStorage(store, config.CacheSize); err != nil {
			store.Close()
			return nil, err
		}
	}

	var onion snode.OnionTransport
	if config.OnionProxy != "" {
		c.onion = transport.NewWsOnionTransport(config.OnionProxy)
		onion = c.onion
	}

	c.state, err = snode.NewNetworkState(snode.NetworkStateOpts{
		Config:    config.Network,
		Storage:   c.store,
		Transport: c.http,
		Onion:     onion,
		Metrics:   c.metrics,
	})
	if err != nil {
		c.store.Close()
		return nil, fmt.Errorf("failed to create network state: %w", err)
	}
	if opts.OnEvent != nil {
		c.state.Subscribe(opts.OnEvent)
	}

	onMessages := opts.OnMessages
	if onMessages == nil {
		onMessages = logMessages
	}
	for _, id := range config.Identities() {
		p, err := poller.NewPoller(poller.Options{
			State:      c.state,
			Identity:   id,
			Interval:   config.PollInterval(),
			OnMessages: onMessages,
		})
		if err != nil {
			c.store.Close()
			return nil, err
		}
		c.pollers = append(c.pollers, p)
	}

	return c, nil
}

func (c *Client) String() string {
	return "client"
}

func (c *Client) State() *snode.NetworkState {
	return c.state
}

func (c *Client) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Client) Metrics() *snode.Metrics {
	return c.metrics
}

func (c *Client) Pollers() []*poller.Poller {
	return c.pollers
}

// Connect opens the onion proxy connection, if one is configured.
func (c *Client) Connect(ctx context.Context) error {
	if c.onion == nil || c.onion.IsRunning() {
		return nil
	}
	if err := c.onion.Open(ctx); err != nil {
		return fmt.Errorf("failed to connect onion proxy: %w", err)
	}
	return nil
}

// Start connects, starts the metrics endpoint and begins polling every
// configured identity.
func (c *Client) Start(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.running {
		return errors.New("client is already running")
	}

	log.Info(c, "Starting swarmd client", "version", utils.SwarmdVersion, "identity", c.config.Identity)

	if err := c.Connect(ctx); err != nil {
		return err
	}

	if c.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: c.config.MetricsAddr, Handler: mux}
		c.server = server
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(c, "Metrics server failed", "addr", c.config.MetricsAddr, "err", err)
			}
		}()
	}

	for _, p := range c.pollers {
		p.Start(ctx)
	}
	c.running = true
	return nil
}

// Stop ends polling and releases all resources. The client cannot be
// restarted afterwards.
func (c *Client) Stop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, p := range c.pollers {
		p.Stop()
	}
	for _, p := range c.pollers {
		p.Wait()
	}

	var err error
	if c.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, c.server.Shutdown(ctx))
		c.server = nil
	}
	if c.onion != nil {
		err = multierr.Append(err, c.onion.Close())
	}
	err = multierr.Append(err, c.store.Close())

	c.running = false
	log.Info(c, "Stopped swarmd client")
	return err
}

// Send delivers data to the recipient's swarm and waits for the first
// snode to accept it.
func (c *Client) Send(ctx context.Context, recipient string, data []byte, ttl time.Duration) (snode.RawResponse, error) {
	msg := snode.Message{
		Recipient: recipient,
		Data:      encodeData(data),
		TTL:       uint64(ttl.Milliseconds()),
		Timestamp: utils.MakeTimestamp(time.Now()),
	}
	pending, err := c.state.SendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	return snode.WaitAny(ctx, pending)
}

func logMessages(identity string, envs []snode.Envelope) {
	for _, env := range envs {
		log.Info(nil, "Received message", "identity", identity, "hash", env.Hash, "size", len(env.Data),
			"expires", utils.FromTimestamp(uint64(env.Expiration)))
	}
}

func encodeData(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// setupLogging installs the default logger described by config.
func setupLogging(config *Config) {
	logger := log.NewText(os.Stderr)
	if config.LogFormat == "json" {
		logger = log.NewJson(os.Stderr)
	}
	if level, err := log.ParseLevel(config.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	log.SetDefault(logger)
}
