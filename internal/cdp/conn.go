// Package cdp speaks the Chrome DevTools protocol to a browser over a single
// websocket and turns page network activity into capture events.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rsclarke/netcap/internal/logging"
)

const (
	handshakeTimeout = 10 * time.Second
	eventBuffer      = 1024
)

// ErrClosed is returned for calls on a connection that has shut down.
var ErrClosed = errors.New("devtools connection closed")

// Error is a protocol error returned by the browser.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("devtools error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("devtools error %d: %s", e.Code, e.Message)
}

// Message is one protocol frame. Responses carry an ID; events carry a Method.
type Message struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *Error          `json:"error,omitempty"`
}

// Conn is a browser-level DevTools connection. Page sessions are multiplexed
// over it by session id.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *Message
	err     error

	events    chan *Message
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Discover resolves a DevTools HTTP endpoint such as http://127.0.0.1:9222 to
// the browser websocket URL. ws:// and wss:// URLs are returned unchanged.
func Discover(ctx context.Context, client *http.Client, devtoolsURL string) (string, error) {
	u, err := url.Parse(devtoolsURL)
	if err != nil {
		return "", fmt.Errorf("parse devtools url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return devtoolsURL, nil
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported devtools url scheme %q", u.Scheme)
	}

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(devtoolsURL, "/")+"/json/version", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query devtools version: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query devtools version: unexpected status %d", resp.StatusCode)
	}

	var version struct {
		Browser              string `json:"Browser"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", fmt.Errorf("decode devtools version: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return "", errors.New("devtools version response has no webSocketDebuggerUrl")
	}
	return version.WebSocketDebuggerURL, nil
}

// Dial opens a DevTools connection to a websocket URL.
func Dial(ctx context.Context, wsURL string, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: handshakeTimeout}).DialContext,
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("dial devtools: %w", err)
	}

	c := &Conn{
		ws:      ws,
		logger:  logger,
		pending: make(map[int64]chan *Message),
		events:  make(chan *Message, eventBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	logger.Info("devtools connected", logging.Endpoint(wsURL))
	return c, nil
}

// Events returns protocol events in arrival order. The channel is closed
// when the connection ends.
func (c *Conn) Events() <-chan *Message {
	return c.events
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the connection down and waits for the reader to exit.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	<-c.done
	return err
}

// Call invokes method on the browser, or on a page session when sessionID is
// set, and decodes the result into result when it is non-nil.
func (c *Conn) Call(ctx context.Context, sessionID, method string, params, result any) error {
	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.forget(id)

	req := struct {
		ID        int64  `json:"id"`
		SessionID string `json:"sessionId,omitempty"`
		Method    string `json:"method"`
		Params    any    `json:"params,omitempty"`
	}{id, sessionID, method, params}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	if err := c.write(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if result == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conn) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		msg := new(Message)
		if err := json.Unmarshal(data, msg); err != nil {
			c.logger.Warn("malformed devtools message", zap.Error(err))
			continue
		}

		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}
		if msg.Method == "" {
			continue
		}

		select {
		case c.events <- msg:
		case <-c.closing:
			c.fail(ErrClosed)
			return
		}
	}
}

func (c *Conn) fail(err error) {
	select {
	case <-c.closing:
		err = ErrClosed
	default:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = fmt.Errorf("%w: %v", ErrClosed, err)
		}
	}

	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	if !errors.Is(err, ErrClosed) {
		c.logger.Warn("devtools connection lost", zap.Error(err))
	}
}
