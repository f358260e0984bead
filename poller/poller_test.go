package poller_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"github.com/swarmd/swarmd/poller"
	"github.com/swarmd/swarmd/snode"
	tu "github.com/swarmd/swarmd/std/utils/testutils"
	"github.com/swarmd/swarmd/storage"
)

const identity = "05aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"

type rpcCall struct {
	Url    string
	Method snode.Method
	Params map[string]string
}

type fakeTransport struct {
	mutex   sync.Mutex
	calls   []rpcCall
	handler func(call rpcCall, n int) (snode.RawResponse, error)
}

func (f *fakeTransport) Post(ctx context.Context, url string, payload any) (snode.RawResponse, error) {
	wire, _ := json.Marshal(payload)
	var req struct {
		Method snode.Method      `json:"method"`
		Params map[string]string `json:"params"`
	}
	json.Unmarshal(wire, &req)

	call := rpcCall{Url: url, Method: req.Method, Params: req.Params}
	f.mutex.Lock()
	f.calls = append(f.calls, call)
	n := 0
	for _, c := range f.calls {
		if c.Method == call.Method {
			n++
		}
	}
	f.mutex.Unlock()
	return f.handler(call, n)
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

func testSnodes(n int) []snode.Snode {
	out := make([]snode.Snode, n)
	for i := range out {
		out[i] = snode.Snode{
			Address: fmt.Sprintf("https://10.2.0.%d", i+1),
			Port:    443,
			Keys:    snode.KeySet{Ed25519: fmt.Sprintf("ed%d", i), X25519: fmt.Sprintf("x%d", i)},
		}
	}
	return out
}

func messages(hashes ...string) snode.RawResponse {
	entries := []map[string]string{}
	for _, h := range hashes {
		entries = append(entries, map[string]string{"hash": h, "data": "ZGF0YQ=="})
	}
	wire, _ := json.Marshal(map[string]any{"messages": entries})
	return wire
}

func swarmResponse(nodes []snode.Snode) snode.RawResponse {
	entries := []map[string]string{}
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

func newState(t *testing.T, tr snode.Transport) (*snode.NetworkState, *storage.MemoryStorage) {
	cfg := snode.DefaultConfig()
	cfg.UseOnion = false
	cfg.MinPoolSize = 1
	store := storage.NewMemoryStorage()
	state, err := snode.NewNetworkState(snode.NetworkStateOpts{
		Config:    cfg,
		Storage:   store,
		Transport: tr,
	})
	require.NoError(t, err)
	return state, store
}

// collector records delivered batches.
type collector struct {
	mutex  sync.Mutex
	hashes []string
}

func (c *collector) handle(id string, envs []snode.Envelope) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, e := range envs {
		c.hashes = append(c.hashes, e.Hash)
	}
}

func (c *collector) get() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.hashes...)
}

func TestPollerLongPoll(t *testing.T) {
	tu.SetT(t)
	release := make(chan struct{})
	tr := &fakeTransport{handler: func(call rpcCall, n int) (snode.RawResponse, error) {
		switch n {
		case 1:
			return messages("h1", "h2"), nil
		case 2:
			return messages("h2", "h3"), nil
		default:
			<-release
			return messages("h4"), nil
		}
	}}
	state, store := newState(t, tr)
	swarm := testSnodes(3)
	require.NoError(t, store.SetSwarm(identity, swarm))

	out := &collector{}
	p := tu.NoErr(poller.NewPoller(poller.Options{
		State:      state,
		Identity:   identity,
		Clock:      clock.NewMock(),
		OnMessages: out.handle,
	}))
	require.False(t, p.IsRunning())

	p.Start(context.Background())
	require.True(t, p.IsRunning())
	require.Eventually(t, func() bool { return len(tr.Calls(snode.MethodGetMessages)) == 3 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"h1", "h2", "h3"}, out.get())
	require.True(t, p.IsCaughtUp())

	// the same snode is polled while it is healthy
	calls := tr.Calls(snode.MethodGetMessages)
	require.Equal(t, calls[0].Url, calls[1].Url)
	require.Equal(t, calls[0].Url, calls[2].Url)
	require.Equal(t, "", calls[0].Params["lastHash"])
	require.Equal(t, "h2", calls[1].Params["lastHash"])
	require.Equal(t, "h3", calls[2].Params["lastHash"])
	require.Equal(t, identity, calls[0].Params["pubKey"])

	var polled snode.Snode
	for _, sn := range swarm {
		if sn.RpcUrl() == calls[0].Url {
			polled = sn
		}
	}

	// stop while the third request is pending, then let it complete
	p.Stop()
	require.False(t, p.IsRunning())
	close(release)
	p.Wait()

	require.Equal(t, []string{"h1", "h2", "h3"}, out.get())
	require.Equal(t, "h3", tu.NoErr(store.GetLastMessageHash(polled, identity)))
	received := tu.NoErr(store.GetReceivedHashes(identity))
	require.NotContains(t, received, "h4")
	require.Len(t, tr.Calls(snode.MethodGetMessages), 3)
}

func TestPollerCycles(t *testing.T) {
	tu.SetT(t)
	swarm := testSnodes(2)
	tr := &fakeTransport{handler: func(call rpcCall, n int) (snode.RawResponse, error) {
		if call.Method == snode.MethodGetSwarm {
			return swarmResponse(swarm), nil
		}
		return nil, &snode.StatusError{StatusCode: 500}
	}}
	state, store := newState(t, tr)
	require.NoError(t, store.SetSnodePool(testSnodes(5)[4:]))
	require.NoError(t, store.SetSwarm(identity, swarm))

	mock := clock.NewMock()
	p := tu.NoErr(poller.NewPoller(poller.Options{
		State:    state,
		Identity: identity,
		Clock:    mock,
	}))
	p.Start(context.Background())
	defer p.Wait()
	defer p.Stop()

	// every member is tried once, then the cycle ends caught up
	require.Eventually(t, p.IsCaughtUp, time.Second, 5*time.Millisecond)
	calls := tr.Calls(snode.MethodGetMessages)
	require.Len(t, calls, 2)
	require.NotEqual(t, calls[0].Url, calls[1].Url)
	require.Empty(t, tu.NoErr(store.GetSwarm(identity)))
	require.Empty(t, tr.Calls(snode.MethodGetSwarm))

	// nothing happens until the interval elapses
	time.Sleep(20 * time.Millisecond)
	require.Len(t, tr.Calls(snode.MethodGetMessages), 2)

	require.Eventually(t, func() bool {
		mock.Add(poller.DefaultInterval)
		return len(tr.Calls(snode.MethodGetMessages)) >= 4
	}, time.Second, 5*time.Millisecond)

	// the emptied swarm was resolved again
	require.NotEmpty(t, tr.Calls(snode.MethodGetSwarm))
	require.True(t, p.IsRunning())
}

func TestPollerStartStop(t *testing.T) {
	tu.SetT(t)
	block := make(chan struct{})
	defer close(block)
	tr := &fakeTransport{handler: func(call rpcCall, n int) (snode.RawResponse, error) {
		<-block
		return messages(), nil
	}}
	state, store := newState(t, tr)
	require.NoError(t, store.SetSwarm(identity, testSnodes(2)))

	p := tu.NoErr(poller.NewPoller(poller.Options{State: state, Identity: identity}))
	require.Equal(t, identity, p.Identity())

	// idempotent start
	p.Start(context.Background())
	p.Start(context.Background())
	require.Eventually(t, func() bool { return len(tr.Calls(snode.MethodGetMessages)) == 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, tr.Calls(snode.MethodGetMessages), 1)

	p.Stop()
	p.Stop()
	require.False(t, p.IsRunning())
}

func TestPollerContextCanceled(t *testing.T) {
	tu.SetT(t)
	tr := &fakeTransport{handler: func(call rpcCall, n int) (snode.RawResponse, error) {
		return nil, &snode.StatusError{StatusCode: 503}
	}}
	state, store := newState(t, tr)
	require.NoError(t, store.SetSwarm(identity, testSnodes(2)))

	p := tu.NoErr(poller.NewPoller(poller.Options{State: state, Identity: identity, Clock: clock.NewMock()}))
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.Eventually(t, p.IsCaughtUp, time.Second, 5*time.Millisecond)

	cancel()
	p.Wait()
	require.False(t, p.IsRunning())
}

func TestNewPollerValidation(t *testing.T) {
	tu.SetT(t)
	state, _ := newState(t, &fakeTransport{})
	_, err := poller.NewPoller(poller.Options{Identity: identity})
	require.Error(t, err)
	_, err = poller.NewPoller(poller.Options{State: state})
	require.Error(t, err)
}
