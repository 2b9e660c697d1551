package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/pilot/pkg/browser"
)

// maxMessageSize bounds a single devtools frame. Screenshots arrive as
// base64 payloads inside one message, so the limit is generous.
const maxMessageSize = 64 << 20

type rpcRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcMessage struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("devtools error %d: %s", e.Code, e.Message)
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// eventFunc receives devtools notifications that carry no request id.
type eventFunc func(method string, params json.RawMessage)

// client speaks the devtools JSON-RPC dialect over a single websocket.
// Writes are serialized with a mutex; a background loop routes responses
// to their callers by id and hands notifications to the event callback.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan rpcResult
	closed  bool

	onEvent atomic.Value
	done    chan struct{}
}

func dialClient(ctx context.Context, wsURL string) (*client, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools socket: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{
		conn:    conn,
		pending: make(map[int64]chan rpcResult),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *client) setEventFunc(fn eventFunc) {
	c.onEvent.Store(fn)
}

// call issues one devtools command and waits for its response or ctx.
func (c *client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, browser.ErrConnectionLost
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	err := wsjson.Write(ctx, c.conn, req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%s: %w", method, res.err)
		}
		return res.result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *client) readLoop() {
	defer close(c.done)
	for {
		var msg rpcMessage
		if err := wsjson.Read(context.Background(), c.conn, &msg); err != nil {
			c.failPending(fmt.Errorf("%w: %v", browser.ErrConnectionLost, err))
			return
		}
		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
			if ok {
				res := rpcResult{result: msg.Result}
				if msg.Error != nil {
					res.err = msg.Error
				}
				ch <- res
			}
			continue
		}
		if msg.Method == "" {
			continue
		}
		if fn, ok := c.onEvent.Load().(eventFunc); ok && fn != nil {
			fn(msg.Method, msg.Params)
		}
	}
}

func (c *client) failPending(err error) {
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- rpcResult{err: err}
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *client) close() {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if !already {
		_ = c.conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	<-c.done
}
