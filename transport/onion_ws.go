package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/swarmd/swarmd/snode"
	"github.com/swarmd/swarmd/std/log"
)

// ErrNotRunning is returned when sending through a closed proxy connection.
var ErrNotRunning = errors.New("onion proxy is not connected")

// OnionRequest asks the proxy to deliver an RPC to Target through an
// onion path. Destination is the identity the request is made for.
type OnionRequest struct {
	Id          string            `json:"id"`
	Method      snode.Method      `json:"method"`
	Params      map[string]string `json:"params"`
	Target      snode.Snode       `json:"target"`
	Destination string            `json:"destination"`
}

// OnionResponse is the reply of the proxy for one request. Error is set
// when no response could be obtained from the target at all.
type OnionResponse struct {
	Id     string `json:"id"`
	Status int    `json:"status"`
	Body   string `json:"body"`
	Error  string `json:"error,omitempty"`
}

// WsOnionTransport sends snode RPCs through an onion routing proxy over
// a websocket. Path building and layered encryption happen in the proxy.
// Requests are multiplexed on a single connection by id.
type WsOnionTransport struct {
	url  string
	conn *websocket.Conn

	running atomic.Bool
	// gorilla connections allow one concurrent writer
	wmutex sync.Mutex

	pending map[string]chan OnionResponse
	pmutex  sync.Mutex
}

func NewWsOnionTransport(url string) *WsOnionTransport {
	return &WsOnionTransport{
		url:     url,
		pending: make(map[string]chan OnionResponse),
	}
}

func (t *WsOnionTransport) String() string {
	return fmt.Sprintf("onion-transport (%s)", t.url)
}

// Open connects to the proxy and starts the receive loop.
func (t *WsOnionTransport) Open(ctx context.Context) error {
	if t.running.Load() {
		return errors.New("onion transport is already running")
	}

	c, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", snode.ErrTransport, err)
	}

	t.conn = c
	t.running.Store(true)

	go t.receive(c)

	return nil
}

func (t *WsOnionTransport) Close() error {
	if !t.running.Swap(false) {
		return nil
	}
	return t.conn.Close()
}

// IsRunning reports whether the proxy connection is up.
func (t *WsOnionTransport) IsRunning() bool {
	return t.running.Load()
}

func (t *WsOnionTransport) Send(ctx context.Context, method snode.Method, params map[string]string, target snode.Snode, destination string) (snode.RawResponse, error) {
	if !t.running.Load() {
		return nil, fmt.Errorf("%w: %w", snode.ErrTransport, ErrNotRunning)
	}

	req := OnionRequest{
		Id:          uuid.NewString(),
		Method:      method,
		Params:      params,
		Target:      target,
		Destination: destination,
	}
	wire, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan OnionResponse, 1)
	t.pmutex.Lock()
	if !t.running.Load() {
		t.pmutex.Unlock()
		return nil, fmt.Errorf("%w: %w", snode.ErrTransport, ErrNotRunning)
	}
	t.pending[req.Id] = ch
	t.pmutex.Unlock()
	defer func() {
		t.pmutex.Lock()
		delete(t.pending, req.Id)
		t.pmutex.Unlock()
	}()

	if err := t.write(wire); err != nil {
		return nil, fmt.Errorf("%w: %w", snode.ErrTransport, err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: %w", snode.ErrTransport, ErrNotRunning)
		}
		if res.Error != "" {
			return nil, fmt.Errorf("%w: onion path: %s", snode.ErrTransport, res.Error)
		}
		if res.Status < 200 || res.Status > 299 {
			return nil, &snode.StatusError{StatusCode: res.Status, Body: snode.RawResponse(res.Body)}
		}
		return snode.RawResponse(res.Body), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WsOnionTransport) write(wire []byte) error {
	t.wmutex.Lock()
	defer t.wmutex.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, wire)
}

func (t *WsOnionTransport) receive(conn *websocket.Conn) {
	for t.running.Load() {
		messageType, wire, err := conn.ReadMessage()
		if err != nil {
			if t.running.Load() {
				log.Error(t, "Onion proxy connection failed", "err", err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var res OnionResponse
		if err := json.Unmarshal(wire, &res); err != nil {
			log.Warn(t, "Invalid onion proxy response", "err", err)
			continue
		}

		t.pmutex.Lock()
		ch, ok := t.pending[res.Id]
		delete(t.pending, res.Id)
		t.pmutex.Unlock()
		if !ok {
			log.Debug(t, "Dropped unsolicited onion response", "id", res.Id)
			continue
		}
		ch <- res
	}

	// fail everything still waiting
	t.pmutex.Lock()
	t.running.Store(false)
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.pmutex.Unlock()
}
