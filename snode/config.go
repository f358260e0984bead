package snode

import (
	"fmt"
	"time"
)

// DefaultSeedNodes are queried when the snode pool is too small.
var DefaultSeedNodes = []string{
	"https://storage.seed1.loki.network",
	"https://storage.seed3.loki.network",
	"https://public.loki.foundation",
}

type Config struct {
	// Seed node base URLs used to populate the snode pool.
	SeedNodes []string `json:"seed_nodes"`
	// Minimum pool size before repopulating from a seed node.
	MinPoolSize int `json:"min_pool_size"`
	// Minimum cached swarm size before refreshing it.
	MinSwarmSize int `json:"min_swarm_size"`
	// Number of swarm members a message is sent to.
	TargetSwarmSize int `json:"target_swarm_size"`
	// Consecutive failures before a snode is evicted.
	FailureThreshold int `json:"failure_threshold"`
	// Attempt ceiling for GetMessages and sends.
	MaxRetries int `json:"max_retries"`
	// Exclusive ceiling for difficulty hints from nodes.
	MaxDifficulty int `json:"max_difficulty"`
	// Proof of work difficulty used until a node says otherwise.
	InitialDifficulty int `json:"initial_difficulty"`
	// Route node RPCs through the onion transport.
	UseOnion bool `json:"use_onion"`
}

func DefaultConfig() *Config {
	return &Config{
		SeedNodes:         append([]string(nil), DefaultSeedNodes...),
		MinPoolSize:       64,
		MinSwarmSize:      2,
		TargetSwarmSize:   2,
		FailureThreshold:  4,
		MaxRetries:        6,
		MaxDifficulty:     100,
		InitialDifficulty: 1,
		UseOnion:          true,
	}
}

func (c *Config) Parse() error {
	if len(c.SeedNodes) == 0 {
		return fmt.Errorf("at least one seed node is required")
	}
	if c.MinSwarmSize < 1 {
		return fmt.Errorf("min_swarm_size must be positive")
	}
	if c.TargetSwarmSize < 1 {
		return fmt.Errorf("target_swarm_size must be positive")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be positive")
	}
	if c.InitialDifficulty < 1 || c.InitialDifficulty >= c.MaxDifficulty {
		return fmt.Errorf("initial_difficulty must be in [1, max_difficulty)")
	}
	return nil
}

// Day is the TTL unit used for user-visible sends.
const Day = 24 * time.Hour
