package snode

import (
	"github.com/swarmd/swarmd/std/log"
	"github.com/swarmd/swarmd/std/types/optional"
)

// Outcome is the action taken for a failed node response.
type Outcome int

const (
	OutcomeBadNode Outcome = iota
	OutcomeClockSkew
	OutcomeStaleMembership
	OutcomeDifficultyAdjusted
	OutcomeUnhandled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBadNode:
		return "bad_node"
	case OutcomeClockSkew:
		return "clock_skew"
	case OutcomeStaleMembership:
		return "stale_membership"
	case OutcomeDifficultyAdjusted:
		return "difficulty_adjusted"
	case OutcomeUnhandled:
		return "unhandled"
	default:
		return "unknown"
	}
}

type Classification struct {
	Outcome Outcome
	// Err is the sentinel kind reported to the caller.
	Err error
}

// Classify interprets a non-2xx node response and applies its side
// effects on the network state. All node failures go through here.
func (n *NetworkState) Classify(statusCode int, body RawResponse, sn Snode, identity optional.Optional[string]) Classification {
	c := n.classify(statusCode, body, sn, identity)
	n.metrics.classified(c.Outcome)
	return c
}

func (n *NetworkState) classify(statusCode int, body RawResponse, sn Snode, identity optional.Optional[string]) Classification {
	switch statusCode {
	case 400, 500, 503:
		// usually the snode is not up to date
		n.MarkBadNode(sn, identity)
		return Classification{Outcome: OutcomeBadNode, Err: ErrBadNode}

	case 406:
		log.Warn(n, "The user's clock is out of sync with the service node network", "snode", sn)
		n.events.broadcast(EventClockOutOfSync, 0)
		return Classification{Outcome: OutcomeClockSkew, Err: ErrClockSkew}

	case 421:
		if id, ok := identity.Get(); ok {
			log.Debug(n, "Invalidating swarm", "identity", id, "snode", sn)
			if err := n.DropFromSwarm(sn, id); err != nil {
				log.Warn(n, "Failed to drop snode from swarm", "snode", sn, "err", err)
			}
		} else {
			log.Debug(n, "Got a 421 without an associated public key", "snode", sn)
		}
		return Classification{Outcome: OutcomeStaleMembership, Err: ErrStaleMembership}

	case 432:
		if d, ok := ParseDifficulty(body).Get(); ok && d >= 1 && d < n.config.MaxDifficulty {
			log.Info(n, "Setting proof of work difficulty", "difficulty", d, "snode", sn)
			n.setPowDifficulty(d)
			return Classification{Outcome: OutcomeDifficultyAdjusted, Err: ErrDifficultyTooLow}
		}
		log.Debug(n, "Rejected proof of work difficulty hint", "snode", sn, "body", truncate(string(body), 64))
		n.MarkBadNode(sn, identity)
		return Classification{Outcome: OutcomeBadNode, Err: ErrBadNode}

	default:
		log.Debug(n, "Unhandled response code", "status", statusCode, "snode", sn)
		n.MarkBadNode(sn, identity)
		return Classification{Outcome: OutcomeUnhandled, Err: ErrGeneric}
	}
}

// MarkBadNode increments the failure count of sn. When the count reaches
// the threshold, sn is evicted from the pool and from the identity's
// swarm, and its count resets to zero.
func (n *NetworkState) MarkBadNode(sn Snode, identity optional.Optional[string]) {
	count, evict := func() (int, bool) {
		n.failMutex.Lock()
		defer n.failMutex.Unlock()

		key := sn.Hash()
		count := n.failures[key] + 1
		if count >= n.config.FailureThreshold {
			delete(n.failures, key)
			return count, true
		}
		n.failures[key] = count
		return count, false
	}()

	log.Debug(n, "Couldn't reach snode", "snode", sn, "failures", count)
	if !evict {
		return
	}

	log.Info(n, "Failure threshold reached, dropping snode", "snode", sn)
	n.metrics.evicted()
	if id, ok := identity.Get(); ok {
		if err := n.DropFromSwarm(sn, id); err != nil {
			log.Warn(n, "Failed to drop snode from swarm", "snode", sn, "err", err)
		}
	}
	if err := n.Evict(sn); err != nil {
		log.Warn(n, "Failed to evict snode from pool", "snode", sn, "err", err)
	}
}
