package snode_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/swarmd/swarmd/snode"
	"github.com/swarmd/swarmd/snode/pow"
	tu "github.com/swarmd/swarmd/std/utils/testutils"
)

func testOutbound(ttl time.Duration) snode.Message {
	return snode.Message{
		Recipient: testIdentity,
		Data:      b64("hello swarm"),
		TTL:       uint64(ttl.Milliseconds()),
		Timestamp: 1700000000000,
	}
}

// verifyStore checks the proof of work carried by a store call.
func verifyStore(t *testing.T, call rpcCall, difficulty int) {
	ttl, err := strconv.ParseUint(call.Params["ttl"].(string), 10, 64)
	require.NoError(t, err)
	ts, err := strconv.ParseUint(call.Params["timestamp"].(string), 10, 64)
	require.NoError(t, err)
	in := pow.Input{
		Timestamp: ts,
		TTL:       ttl,
		Recipient: call.Params["pubKey"].(string),
		Data:      call.Params["data"].(string),
	}
	require.NoError(t, pow.Verify(in, call.Params["nonce"].(string), difficulty))
}

type eventLog struct {
	mutex  sync.Mutex
	events map[snode.Event][]uint64
}

func (l *eventLog) handle(ev snode.Event, timestamp uint64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.events[ev] = append(l.events[ev], timestamp)
}

func (l *eventLog) count(ev snode.Event) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.events[ev])
}

func TestSendMessage(t *testing.T) {
	tu.SetT(t)
	tr := &fakeTransport{handler: func(call rpcCall) (snode.RawResponse, error) {
		return snode.RawResponse(`{"difficulty": 1}`), nil
	}}
	state, store := newTestState(t, nil, tr)
	swarm := testSnodes(4)
	require.NoError(t, store.SetSwarm(testIdentity, swarm))

	log := &eventLog{events: map[snode.Event][]uint64{}}
	state.Subscribe(log.handle)

	msg := testOutbound(snode.Day)
	pending := tu.NoErr(state.SendMessage(context.Background(), msg))
	require.Len(t, pending, 2)
	require.NotEqual(t, pending[0].Snode, pending[1].Snode)

	raw := tu.NoErr(snode.WaitAny(context.Background(), pending))
	require.JSONEq(t, `{"difficulty": 1}`, string(raw))
	for _, p := range pending {
		tu.NoErr(p.Result())
	}

	calls := tr.Calls(snode.MethodSendMessage)
	require.Len(t, calls, 2)
	for _, call := range calls {
		require.Equal(t, testIdentity, call.Params["pubKey"])
		require.Equal(t, strconv.FormatUint(msg.TTL, 10), call.Params["ttl"])
		require.Equal(t, "1700000000000", call.Params["timestamp"])
		require.Equal(t, msg.Data, call.Params["data"])
		verifyStore(t, call, 1)
	}

	require.Equal(t, 1, log.count(snode.EventCalculatingPoW))
	require.Equal(t, 2, log.count(snode.EventSendingMessage))
	require.Equal(t, []uint64{msg.Timestamp}, log.events[snode.EventCalculatingPoW])
}

func TestSendMessageEventsByTTL(t *testing.T) {
	tu.SetT(t)
	tr := &fakeTransport{handler: func(call rpcCall) (snode.RawResponse, error) {
		return snode.RawResponse(`{}`), nil
	}}
	state, store := newTestState(t, nil, tr)
	require.NoError(t, store.SetSwarm(testIdentity, testSnodes(2)))

	log := &eventLog{events: map[snode.Event][]uint64{}}
	state.Subscribe(log.handle)

	// only one and four day messages are user visible
	for _, ttl := range []time.Duration{time.Hour, 2 * snode.Day} {
		pending := tu.NoErr(state.SendMessage(context.Background(), testOutbound(ttl)))
		tu.NoErr(snode.WaitAny(context.Background(), pending))
	}
	require.Equal(t, 0, log.count(snode.EventCalculatingPoW))

	pending := tu.NoErr(state.SendMessage(context.Background(), testOutbound(4*snode.Day)))
	for _, p := range pending {
		tu.NoErr(p.Result())
	}
	require.Equal(t, 1, log.count(snode.EventCalculatingPoW))
	require.Equal(t, 2, log.count(snode.EventSendingMessage))
}

func TestSendMessageDifficultyRaised(t *testing.T) {
	tu.SetT(t)
	var attempts atomic.Int32
	tr := &fakeTransport{handler: func(call rpcCall) (snode.RawResponse, error) {
		if attempts.Add(1) == 1 {
			return nil, statusErr(432, `{"difficulty": 10}`)
		}
		return snode.RawResponse(`{"difficulty": 10}`), nil
	}}
	cfg := directConfig()
	cfg.TargetSwarmSize = 1
	state, store := newTestState(t, cfg, tr)
	require.NoError(t, store.SetSwarm(testIdentity, testSnodes(2)))

	pending := tu.NoErr(state.SendMessage(context.Background(), testOutbound(snode.Day)))
	require.Len(t, pending, 1)
	tu.NoErr(snode.WaitAny(context.Background(), pending))
	require.Equal(t, 10, state.PowDifficulty())

	// the retry carries a nonce for the raised target
	calls := tr.Calls(snode.MethodSendMessage)
	require.Len(t, calls, 2)
	verifyStore(t, calls[1], 10)
}

func TestSendMessageDifficultyHint(t *testing.T) {
	tu.SetT(t)
	tr := &fakeTransport{handler: func(call rpcCall) (snode.RawResponse, error) {
		return snode.RawResponse(`{"difficulty": 7}`), nil
	}}
	state, store := newTestState(t, nil, tr)
	require.NoError(t, store.SetSwarm(testIdentity, testSnodes(2)))

	pending := tu.NoErr(state.SendMessage(context.Background(), testOutbound(time.Hour)))
	tu.NoErr(snode.WaitAny(context.Background(), pending))
	require.Equal(t, 7, state.PowDifficulty())
}

func TestSendMessageClockSkew(t *testing.T) {
	tu.SetT(t)
	tr := &fakeTransport{handler: func(call rpcCall) (snode.RawResponse, error) {
		return nil, statusErr(406, "Timestamp error")
	}}
	state, store := newTestState(t, nil, tr)
	require.NoError(t, store.SetSwarm(testIdentity, testSnodes(2)))

	pending := tu.NoErr(state.SendMessage(context.Background(), testOutbound(time.Hour)))
	err := tu.Err(snode.WaitAny(context.Background(), pending))
	require.ErrorIs(t, err, snode.ErrClockSkew)

	// not retried
	require.Len(t, tr.Calls(snode.MethodSendMessage), 2)
}

func TestSendMessageAllFail(t *testing.T) {
	tu.SetT(t)
	tr := &fakeTransport{handler: func(call rpcCall) (snode.RawResponse, error) {
		return nil, statusErr(500, "")
	}}
	cfg := directConfig()
	cfg.FailureThreshold = 100
	cfg.TargetSwarmSize = 1
	state, store := newTestState(t, cfg, tr)
	require.NoError(t, store.SetSwarm(testIdentity, testSnodes(2)))

	pending := tu.NoErr(state.SendMessage(context.Background(), testOutbound(time.Hour)))
	err := tu.Err(snode.WaitAny(context.Background(), pending))
	require.ErrorIs(t, err, snode.ErrBadNode)
	require.Len(t, tr.Calls(snode.MethodSendMessage), 6)
	require.Equal(t, 6, state.FailureCount(pending[0].Snode))
}

func TestSendMessageNoSwarm(t *testing.T) {
	tu.SetT(t)
	tr := &fakeTransport{handler: func(call rpcCall) (snode.RawResponse, error) {
		return nil, errors.New("unreachable")
	}}
	cfg := directConfig()
	cfg.MinPoolSize = 1
	state, store := newTestState(t, cfg, tr)
	require.NoError(t, store.SetSnodePool(testSnodes(1)))

	err := tu.Err(state.SendMessage(context.Background(), testOutbound(time.Hour)))
	require.ErrorIs(t, err, snode.ErrTransport)
	require.Len(t, tr.Calls(snode.MethodGetSwarm), 6)
}

func TestWaitAny(t *testing.T) {
	tu.SetT(t)
	require.ErrorIs(t, tu.Err(snode.WaitAny(context.Background(), nil)), snode.ErrSwarmExhausted)

	// nothing finishes before the deadline
	release := make(chan struct{})
	defer close(release)
	tr := &fakeTransport{handler: func(call rpcCall) (snode.RawResponse, error) {
		<-release
		return nil, errors.New("released")
	}}
	state, store := newTestState(t, nil, tr)
	require.NoError(t, store.SetSwarm(testIdentity, testSnodes(2)))
	pending := tu.NoErr(state.SendMessage(context.Background(), testOutbound(time.Hour)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tu.Err(snode.WaitAny(ctx, pending))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	for _, p := range pending {
		select {
		case <-p.Done():
			t.Fatal("send finished unexpectedly")
		default:
		}
	}
}
