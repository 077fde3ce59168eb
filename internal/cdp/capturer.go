package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rsclarke/netcap/internal/events"
	"github.com/rsclarke/netcap/internal/logging"
)

// Target domain methods and events.
const (
	setDiscoverTargets = "Target.setDiscoverTargets"
	attachToTarget     = "Target.attachToTarget"
	targetCreated      = "Target.targetCreated"
	targetInfoChanged  = "Target.targetInfoChanged"
	targetDestroyed    = "Target.targetDestroyed"
	attachedToTarget   = "Target.attachedToTarget"
	detachedFromTarget = "Target.detachedFromTarget"
	networkEnable      = "Network.enable"
	pageTargetType     = "page"
)

// TargetInfo describes a browser target.
type TargetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Attached bool   `json:"attached"`
}

// Sink receives connection lifecycle and network events. *capture.Engine
// implements it.
type Sink interface {
	Attach(ctx context.Context, conn events.ConnID) error
	Detach(ctx context.Context, conn events.ConnID) error
	Submit(ctx context.Context, conn events.ConnID, ev events.Event) error
}

// Capturer attaches to every page target of a browser, existing and future,
// enables the Network domain on each and forwards network events to a Sink.
// Each page session is one connection.
type Capturer struct {
	conn   *Conn
	sink   Sink
	logger *zap.Logger

	wg sync.WaitGroup
	// attach calls that failed, by target id
	failed chan string
	stop   chan struct{}

	// owned by the Run goroutine
	attaching map[string]struct{}
	sessions  map[string]string // target id -> session id
}

// NewCapturer creates a Capturer over an open connection.
func NewCapturer(conn *Conn, sink Sink, logger *zap.Logger) *Capturer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{
		conn:      conn,
		sink:      sink,
		logger:    logger,
		failed:    make(chan string),
		stop:      make(chan struct{}),
		attaching: make(map[string]struct{}),
		sessions:  make(map[string]string),
	}
}

// Run enables target discovery and processes events until ctx is cancelled
// or the connection ends. A page whose attach fails is attached again on its
// next target event. Run must be called at most once.
func (c *Capturer) Run(ctx context.Context) error {
	defer c.wg.Wait()
	defer close(c.stop)

	if err := c.conn.Call(ctx, "", setDiscoverTargets, map[string]bool{"discover": true}, nil); err != nil {
		return fmt.Errorf("enable target discovery: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case targetID := <-c.failed:
			delete(c.attaching, targetID)
		case msg, ok := <-c.conn.Events():
			if !ok {
				if err := c.conn.Err(); err != nil {
					return err
				}
				return ErrClosed
			}
			if err := c.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (c *Capturer) handle(ctx context.Context, msg *Message) error {
	switch msg.Method {
	case targetCreated, targetInfoChanged:
		var p struct {
			TargetInfo TargetInfo `json:"targetInfo"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			c.logger.Warn("malformed target event", zap.String("method", msg.Method), zap.Error(err))
			return nil
		}
		c.attach(ctx, p.TargetInfo)

	case attachedToTarget:
		var p struct {
			SessionID  string     `json:"sessionId"`
			TargetInfo TargetInfo `json:"targetInfo"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			c.logger.Warn("malformed target event", zap.String("method", msg.Method), zap.Error(err))
			return nil
		}
		return c.attached(ctx, p.SessionID, p.TargetInfo)

	case detachedFromTarget:
		var p struct {
			SessionID string `json:"sessionId"`
			TargetID  string `json:"targetId"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			c.logger.Warn("malformed target event", zap.String("method", msg.Method), zap.Error(err))
			return nil
		}
		if p.TargetID == "" {
			for target, session := range c.sessions {
				if session == p.SessionID {
					p.TargetID = target
				}
			}
		}
		return c.detach(ctx, p.TargetID)

	case targetDestroyed:
		var p struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			c.logger.Warn("malformed target event", zap.String("method", msg.Method), zap.Error(err))
			return nil
		}
		delete(c.attaching, p.TargetID)
		return c.detach(ctx, p.TargetID)

	default:
		if msg.SessionID == "" {
			return nil
		}
		ev, ok, err := DecodeEvent(msg.Method, msg.Params)
		if err != nil {
			c.logger.Warn("malformed network event", logging.Conn(msg.SessionID), zap.Error(err))
			return nil
		}
		if !ok {
			return nil
		}
		return c.sink.Submit(ctx, events.ConnID(msg.SessionID), ev)
	}
	return nil
}

// attach requests a flat session for a page target. The call runs off the
// event loop because its response is read by the same connection.
func (c *Capturer) attach(ctx context.Context, info TargetInfo) {
	if info.Type != pageTargetType {
		return
	}
	if _, ok := c.sessions[info.TargetID]; ok {
		return
	}
	if _, ok := c.attaching[info.TargetID]; ok {
		return
	}
	c.attaching[info.TargetID] = struct{}{}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		params := map[string]any{"targetId": info.TargetID, "flatten": true}
		if err := c.conn.Call(ctx, "", attachToTarget, params, nil); err != nil && ctx.Err() == nil {
			c.logger.Warn("attach to target failed",
				logging.Target(info.TargetID), logging.URL(info.URL), zap.Error(err))
			select {
			case c.failed <- info.TargetID:
			case <-c.stop:
			}
		}
	}()
}

func (c *Capturer) attached(ctx context.Context, sessionID string, info TargetInfo) error {
	if info.Type != pageTargetType {
		return nil
	}
	delete(c.attaching, info.TargetID)
	if _, ok := c.sessions[info.TargetID]; ok {
		return nil
	}
	c.sessions[info.TargetID] = sessionID

	// The engine must know the connection before the first network event.
	if err := c.sink.Attach(ctx, events.ConnID(sessionID)); err != nil {
		return fmt.Errorf("attach connection: %w", err)
	}
	c.logger.Info("page attached",
		logging.Target(info.TargetID), logging.Conn(sessionID), logging.URL(info.URL))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.conn.Call(ctx, sessionID, networkEnable, nil, nil); err != nil && ctx.Err() == nil {
			c.logger.Warn("enable network domain failed",
				logging.Target(info.TargetID), logging.Conn(sessionID), zap.Error(err))
		}
	}()
	return nil
}

func (c *Capturer) detach(ctx context.Context, targetID string) error {
	sessionID, ok := c.sessions[targetID]
	if !ok {
		return nil
	}
	delete(c.sessions, targetID)

	if err := c.sink.Detach(ctx, events.ConnID(sessionID)); err != nil {
		return fmt.Errorf("detach connection: %w", err)
	}
	c.logger.Info("page detached", logging.Target(targetID), logging.Conn(sessionID))
	return nil
}

// IsClosed reports whether err means the DevTools connection went away.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
