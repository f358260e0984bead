package client

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/swarmd/swarmd/snode"
	"github.com/swarmd/swarmd/std/log"
	"github.com/swarmd/swarmd/std/utils/toolutils"
)

type Config struct {
	// Public key of the identity whose messages are polled.
	Identity string `json:"identity"`
	// Additional identities polled alongside, e.g. groups.
	Groups []string `json:"groups"`
	// Storage URI: mem://, badger:///path or sqlite:///path.
	// Relative paths are resolved against the configuration file.
	Storage string `json:"storage"`
	// Number of swarms, cursors and hash sets cached in memory, 0 to disable.
	CacheSize int `json:"cache_size"`
	// Log level: TRACE, DEBUG, INFO, WARN, ERROR.
	LogLevel string `json:"log_level"`
	// Log format: text or json.
	LogFormat string `json:"log_format"`
	// Prometheus listen address, empty to disable.
	MetricsAddr string `json:"metrics_addr"`
	// Websocket URL of the onion routing proxy. Empty sends directly.
	OnionProxy string `json:"onion_proxy"`
	// Delay between polling cycles.
	PollInterval_ms uint64 `json:"poll_interval_ms"`
	// Timeout of one direct HTTP request, including long polls.
	RequestTimeout_ms uint64 `json:"request_timeout_ms"`
	// Skip TLS verification of snode certificates.
	InsecureTLS bool `json:"insecure_tls"`
	// Snode network parameters.
	Network *snode.Config `json:"network"`

	// Directory of the configuration file.
	BaseDir string `json:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		Identity:          "", // invalid
		Groups:            []string{},
		Storage:           "mem://",
		CacheSize:         256,
		LogLevel:          "INFO",
		LogFormat:         "text",
		MetricsAddr:       "",
		OnionProxy:        "",
		PollInterval_ms:   1000,
		RequestTimeout_ms: 40000,
		InsecureTLS:       true,
		Network:           snode.DefaultConfig(),
	}
}

// ReadConfig reads the client section of a YAML configuration file.
func ReadConfig(file string) (*Config, error) {
	config := struct {
		Config *Config `json:"client"`
	}{
		Config: DefaultConfig(),
	}
	if err := toolutils.ReadYaml(&config, file); err != nil {
		return nil, err
	}
	config.Config.BaseDir = filepath.Dir(file)
	return config.Config, nil
}

func (c *Config) Parse() error {
	if c.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	for _, g := range c.Groups {
		if g == "" || g == c.Identity {
			return fmt.Errorf("invalid group identity %q", g)
		}
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative")
	}
	if c.PollInterval_ms == 0 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	if c.RequestTimeout_ms == 0 {
		return fmt.Errorf("request_timeout_ms must be positive")
	}
	if c.Network == nil {
		c.Network = snode.DefaultConfig()
	}

	// no proxy, no onion path
	c.Network.UseOnion = c.OnionProxy != ""

	if err := c.Network.Parse(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	return nil
}

// Identities returns the main identity followed by the groups.
func (c *Config) Identities() []string {
	return append([]string{c.Identity}, c.Groups...)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollInterval_ms) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout_ms) * time.Millisecond
}

// StorageUri resolves a relative storage path against BaseDir.
func (c *Config) StorageUri() string {
	scheme, path, ok := strings.Cut(c.Storage, "://")
	if !ok || path == "" || filepath.IsAbs(path) || c.BaseDir == "" {
		return c.Storage
	}
	return scheme + "://" + filepath.Join(c.BaseDir, path)
}
