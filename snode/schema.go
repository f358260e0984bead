package snode

import (
	"encoding/json"
	"fmt"

	"github.com/swarmd/swarmd/std/log"
	"github.com/swarmd/swarmd/std/types/optional"
)

// Each RPC method has its own response schema. A response that does not
// carry the top-level field of its schema is an ErrParse. Individual
// malformed entries inside a valid response are dropped and logged.

type nodeListResponse struct {
	Result *struct {
		States []json.RawMessage `json:"service_node_states"`
	} `json:"result"`
}

type nodeListEntry struct {
	PublicIp    optional.Optional[string]      `json:"public_ip"`
	StoragePort optional.Optional[json.Number] `json:"storage_port"`
	Ed25519     optional.Optional[string]      `json:"pubkey_ed25519"`
	X25519      optional.Optional[string]      `json:"pubkey_x25519"`
}

type swarmResponse struct {
	Snodes []json.RawMessage `json:"snodes"`
}

type swarmEntry struct {
	Ip      optional.Optional[string]      `json:"ip"`
	Port    optional.Optional[json.Number] `json:"port"`
	Ed25519 optional.Optional[string]      `json:"pubkey_ed25519"`
	X25519  optional.Optional[string]      `json:"pubkey_x25519"`
}

// MessageEntry is one stored message as returned by the retrieve method.
type MessageEntry struct {
	Hash       optional.Optional[string] `json:"hash"`
	Data       optional.Optional[string] `json:"data"`
	Expiration optional.Optional[int64]  `json:"expiration"`
}

// MessagesResponse is the parsed response of the retrieve method.
type MessagesResponse struct {
	// Messages in server order, oldest first. Malformed entries are kept
	// as zero values so positions are preserved.
	Messages []MessageEntry
}

type difficultyBody struct {
	Difficulty optional.Optional[int64] `json:"difficulty"`
}

// ParseNodeList parses a seed node get_n_service_nodes response.
func ParseNodeList(raw RawResponse) ([]Snode, error) {
	var resp nodeListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: node list: %w", ErrParse, err)
	}
	if resp.Result == nil || resp.Result.States == nil {
		return nil, fmt.Errorf("%w: node list has no service_node_states", ErrParse)
	}

	snodes := make([]Snode, 0, len(resp.Result.States))
	for _, rawEntry := range resp.Result.States {
		var e nodeListEntry
		if err := json.Unmarshal(rawEntry, &e); err == nil {
			if sn, ok := snodeFromFields(e.PublicIp, e.StoragePort, e.Ed25519, e.X25519); ok {
				snodes = append(snodes, sn)
				continue
			}
		}
		log.Debug(nil, "Failed to parse snode", "entry", string(rawEntry))
	}
	return dedupSnodes(snodes), nil
}

// ParseSwarm parses a get_snodes_for_pubkey response.
func ParseSwarm(raw RawResponse) ([]Snode, error) {
	var resp swarmResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: swarm: %w", ErrParse, err)
	}
	if resp.Snodes == nil {
		return nil, fmt.Errorf("%w: swarm response has no snodes", ErrParse)
	}

	snodes := make([]Snode, 0, len(resp.Snodes))
	for _, rawEntry := range resp.Snodes {
		var e swarmEntry
		if err := json.Unmarshal(rawEntry, &e); err == nil {
			if sn, ok := snodeFromFields(e.Ip, e.Port, e.Ed25519, e.X25519); ok {
				snodes = append(snodes, sn)
				continue
			}
		}
		log.Debug(nil, "Failed to parse snode", "entry", string(rawEntry))
	}
	return dedupSnodes(snodes), nil
}

// ParseMessages parses a retrieve response.
func ParseMessages(raw RawResponse) (*MessagesResponse, error) {
	var resp struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: messages: %w", ErrParse, err)
	}
	if resp.Messages == nil {
		return nil, fmt.Errorf("%w: response has no messages", ErrParse)
	}

	out := &MessagesResponse{Messages: make([]MessageEntry, len(resp.Messages))}
	for i, rawEntry := range resp.Messages {
		if err := json.Unmarshal(rawEntry, &out.Messages[i]); err != nil {
			log.Debug(nil, "Malformed message entry", "entry", string(rawEntry), "err", err)
			out.Messages[i] = MessageEntry{}
		}
	}
	return out, nil
}

// ParseDifficulty extracts a proof of work difficulty hint from a body.
// Bodies that are not JSON objects or carry no hint yield an unset value.
func ParseDifficulty(raw RawResponse) optional.Optional[int] {
	var body difficultyBody
	if len(raw) == 0 || json.Unmarshal(raw, &body) != nil {
		return optional.None[int]()
	}
	return optional.CastInt[int64, int](body.Difficulty)
}

func snodeFromFields(
	ip optional.Optional[string],
	port optional.Optional[json.Number],
	ed25519 optional.Optional[string],
	x25519 optional.Optional[string],
) (Snode, bool) {
	address, okIp := ip.Get()
	portNum, okPort := port.Get()
	edKey, okEd := ed25519.Get()
	xKey, okX := x25519.Get()
	if !okIp || !okPort || !okEd || !okX || address == "" || address == "0.0.0.0" {
		return Snode{}, false
	}

	p, err := portNum.Int64()
	if err != nil || p <= 0 || p > 65535 {
		return Snode{}, false
	}

	return Snode{
		Address: "https://" + address,
		Port:    int(p),
		Keys:    KeySet{Ed25519: edKey, X25519: xKey},
	}, true
}
