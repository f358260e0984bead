package snode_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/swarmd/swarmd/snode"
	"github.com/swarmd/swarmd/storage"
)

type rpcCall struct {
	Url    string
	Method snode.Method
	Params map[string]any
}

// fakeTransport answers direct RPCs through a handler and records calls.
type fakeTransport struct {
	mutex   sync.Mutex
	calls   []rpcCall
	handler func(call rpcCall) (snode.RawResponse, error)
}

func (f *fakeTransport) Post(ctx context.Context, url string, payload any) (snode.RawResponse, error) {
	wire, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var req struct {
		Method snode.Method   `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(wire, &req); err != nil {
		return nil, err
	}

	call := rpcCall{Url: url, Method: req.Method, Params: req.Params}
	f.mutex.Lock()
	f.calls = append(f.calls, call)
	handler := f.handler
	f.mutex.Unlock()

	if handler == nil {
		return nil, fmt.Errorf("no handler")
	}
	return handler(call)
}

func (f *fakeTransport) Calls(method snode.Method) []rpcCall {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := []rpcCall{}
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

type onionCall struct {
	Method      snode.Method
	Params      map[string]string
	Target      snode.Snode
	Destination string
}

type fakeOnion struct {
	mutex   sync.Mutex
	calls   []onionCall
	handler func(call onionCall) (snode.RawResponse, error)
}

func (f *fakeOnion) Send(ctx context.Context, method snode.Method, params map[string]string, target snode.Snode, destination string) (snode.RawResponse, error) {
	call := onionCall{Method: method, Params: params, Target: target, Destination: destination}
	f.mutex.Lock()
	f.calls = append(f.calls, call)
	f.mutex.Unlock()
	return f.handler(call)
}

func testSnodes(n int) []snode.Snode {
	out := make([]snode.Snode, n)
	for i := range out {
		out[i] = snode.Snode{
			Address: fmt.Sprintf("https://10.1.%d.%d", i/256, i%256),
			Port:    22021,
			Keys: snode.KeySet{
				Ed25519: fmt.Sprintf("ed%04d", i),
				X25519:  fmt.Sprintf("x%04d", i),
			},
		}
	}
	return out
}

// directConfig disables the onion path so calls reach fakeTransport.
func directConfig() *snode.Config {
	cfg := snode.DefaultConfig()
	cfg.UseOnion = false
	return cfg
}

func newTestState(t *testing.T, cfg *snode.Config, tr snode.Transport) (*snode.NetworkState, *storage.MemoryStorage) {
	if cfg == nil {
		cfg = directConfig()
	}
	store := storage.NewMemoryStorage()
	state, err := snode.NewNetworkState(snode.NetworkStateOpts{
		Config:    cfg,
		Storage:   store,
		Transport: tr,
	})
	require.NoError(t, err)
	return state, store
}

func statusErr(code int, body string) error {
	return &snode.StatusError{StatusCode: code, Body: snode.RawResponse(body)}
}

func swarmJson(nodes []snode.Snode) snode.RawResponse {
	entries := make([]map[string]string, 0, len(nodes))
	for _, sn := range nodes {
		entries = append(entries, map[string]string{
			"ip":             sn.Address[len("https://"):],
			"port":           fmt.Sprint(sn.Port),
			"pubkey_ed25519": sn.Keys.Ed25519,
			"pubkey_x25519":  sn.Keys.X25519,
		})
	}
	wire, _ := json.Marshal(map[string]any{"snodes": entries})
	return wire
}

func nodeListJson(nodes []snode.Snode) snode.RawResponse {
	entries := make([]map[string]any, 0, len(nodes))
	for _, sn := range nodes {
		entries = append(entries, map[string]any{
			"public_ip":      sn.Address[len("https://"):],
			"storage_port":   sn.Port,
			"pubkey_ed25519": sn.Keys.Ed25519,
			"pubkey_x25519":  sn.Keys.X25519,
		})
	}
	wire, _ := json.Marshal(map[string]any{
		"result": map[string]any{"service_node_states": entries},
	})
	return wire
}

type testMessage struct {
	Hash       string `json:"hash"`
	Data       string `json:"data"`
	Expiration int64  `json:"expiration"`
}

func messagesJson(msgs ...testMessage) snode.RawResponse {
	if msgs == nil {
		msgs = []testMessage{}
	}
	wire, _ := json.Marshal(map[string]any{"messages": msgs})
	return wire
}
