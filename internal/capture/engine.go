package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rsclarke/netcap/internal/emit"
	"github.com/rsclarke/netcap/internal/events"
	"github.com/rsclarke/netcap/internal/filter"
	"github.com/rsclarke/netcap/internal/headers"
	"github.com/rsclarke/netcap/internal/logging"
	"github.com/rsclarke/netcap/internal/settings"
)

// DefaultQueueSize is the inbox capacity used when Config.QueueSize is unset.
const DefaultQueueSize = 1024

// ErrStopped is returned by engine calls made after Run has returned.
var ErrStopped = errors.New("capture engine stopped")

// Body is a response body as returned by the host.
type Body struct {
	Data          string
	Base64Encoded bool
}

// Decode returns the raw body bytes.
func (b Body) Decode() (emit.Payload, error) {
	if !b.Base64Encoded {
		return emit.TextPayload(&b.Data), nil
	}
	raw, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, fmt.Errorf("decode base64 body: %w", err)
	}
	if raw == nil {
		raw = []byte{}
	}
	return emit.Payload(raw), nil
}

// BodyResult is the outcome of a body retrieval. Body is nil when Err is set.
type BodyResult struct {
	Body emit.Payload
	Err  error
}

// BodyFetcher retrieves a finished response body from the host.
type BodyFetcher interface {
	FetchBody(ctx context.Context, conn events.ConnID, id events.TxID) (Body, error)
}

// Emitter receives completed transactions.
type Emitter interface {
	Emit(ctx context.Context, x emit.Exchange)
}

// SettingsSource provides the current settings.
type SettingsSource interface {
	Snapshot() settings.Snapshot
}

// Config configures an Engine.
type Config struct {
	Settings   SettingsSource
	Fetcher    BodyFetcher
	Emitter    Emitter
	Logger     *zap.Logger
	QueueSize  int
	Registerer prometheus.Registerer
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Connections int
	InFlight    int
	Fetching    int
}

// Engine is the correlation engine. All connection state is owned by the
// goroutine running Run; other goroutines talk to it through messages, so
// exactly one message is handled at a time.
type Engine struct {
	settings SettingsSource
	fetcher  BodyFetcher
	emitter  Emitter
	logger   *zap.Logger
	metrics  *metrics

	inbox   chan message
	done    chan struct{}
	stopped sync.Once
	fetches sync.WaitGroup

	// owned by the Run goroutine
	conns    map[events.ConnID]*connection
	fetching int
}

type connection struct {
	store   *Store
	dropped *tombstones
}

type message interface{ message() }

type eventMsg struct {
	conn events.ConnID
	ev   events.Event
}

type attachMsg struct{ conn events.ConnID }

type detachMsg struct{ conn events.ConnID }

type bodyMsg struct {
	conn   events.ConnID
	rec    *Record
	result BodyResult
}

type queryMsg struct {
	fn   func()
	done chan struct{}
}

func (eventMsg) message()  {}
func (attachMsg) message() {}
func (detachMsg) message() {}
func (bodyMsg) message()   {}
func (queryMsg) message()  {}

// New creates an Engine. Call Run to start processing.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Engine{
		settings: cfg.Settings,
		fetcher:  cfg.Fetcher,
		emitter:  cfg.Emitter,
		logger:   logger,
		metrics:  newMetrics(cfg.Registerer),
		inbox:    make(chan message, size),
		done:     make(chan struct{}),
		conns:    make(map[events.ConnID]*connection),
	}
}

// Run processes messages until ctx is cancelled. Outstanding body fetches
// are waited for before Run returns; their results are dropped.
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		e.stopped.Do(func() { close(e.done) })
		e.fetches.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-e.inbox:
			e.handle(ctx, msg)
		}
	}
}

// Submit queues an instrumentation event for conn.
func (e *Engine) Submit(ctx context.Context, conn events.ConnID, ev events.Event) error {
	return e.send(ctx, eventMsg{conn: conn, ev: ev})
}

// Attach makes conn observable. Attaching an attached connection is a no-op.
func (e *Engine) Attach(ctx context.Context, conn events.ConnID) error {
	return e.send(ctx, attachMsg{conn: conn})
}

// Detach forgets conn and every transaction in flight on it. Bodies still
// being fetched for it are never emitted.
func (e *Engine) Detach(ctx context.Context, conn events.ConnID) error {
	return e.send(ctx, detachMsg{conn: conn})
}

// InFlight returns the number of records held for conn.
func (e *Engine) InFlight(ctx context.Context, conn events.ConnID) (int, error) {
	var n int
	err := e.query(ctx, func() {
		if c, ok := e.conns[conn]; ok {
			n = c.store.Len()
		}
	})
	return n, err
}

// Stats returns engine-wide counts.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := e.query(ctx, func() {
		s.Connections = len(e.conns)
		s.Fetching = e.fetching
		for _, c := range e.conns {
			s.InFlight += c.store.Len()
		}
	})
	return s, err
}

// Sync returns once every message queued before it has been handled.
func (e *Engine) Sync(ctx context.Context) error {
	return e.query(ctx, func() {})
}

func (e *Engine) query(ctx context.Context, fn func()) error {
	q := queryMsg{fn: fn, done: make(chan struct{})}
	if err := e.send(ctx, q); err != nil {
		return err
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) send(ctx context.Context, msg message) error {
	select {
	case <-e.done:
		return ErrStopped
	default:
	}
	select {
	case e.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) handle(ctx context.Context, msg message) {
	switch m := msg.(type) {
	case eventMsg:
		e.handleEvent(ctx, m.conn, m.ev)
	case attachMsg:
		e.attach(m.conn)
	case detachMsg:
		e.detach(m.conn)
	case bodyMsg:
		e.handleBody(ctx, m)
	case queryMsg:
		m.fn()
		close(m.done)
	}
}

func (e *Engine) attach(conn events.ConnID) {
	if _, ok := e.conns[conn]; ok {
		return
	}
	e.conns[conn] = &connection{store: NewStore(), dropped: newTombstones(defaultTombstones)}
	e.metrics.connections.Inc()
	e.logger.Debug("connection attached", logging.Conn(string(conn)))
}

func (e *Engine) detach(conn events.ConnID) {
	c, ok := e.conns[conn]
	if !ok {
		return
	}
	delete(e.conns, conn)

	n := c.store.Len()
	e.metrics.connections.Dec()
	e.metrics.inflight.Sub(float64(n))
	e.metrics.outcomes.WithLabelValues(OutcomeDetached).Add(float64(n))
	e.logger.Debug("connection detached", logging.Conn(string(conn)), zap.Int("abandoned", n))
}

func (e *Engine) handleEvent(ctx context.Context, conn events.ConnID, ev events.Event) {
	c, ok := e.conns[conn]
	if !ok {
		e.metrics.unknownConnEvents.Inc()
		return
	}
	e.metrics.events.WithLabelValues(string(ev.Kind())).Inc()

	switch ev := ev.(type) {
	case events.RequestInitiated:
		e.onRequestInitiated(conn, c, ev)
	case events.RequestHeaders:
		e.onRequestHeaders(conn, c, ev)
	case events.ResponseMetadata:
		e.onResponseMetadata(conn, c, ev)
	case events.LoadingFinished:
		e.onLoadingFinished(ctx, conn, c, ev)
	case events.LoadingFailed:
		e.discard(conn, c, ev, OutcomeFailed)
	case events.ConnectionClosed:
		e.discard(conn, c, ev, OutcomeClosed)
	default:
		e.metrics.unhandledEvents.Inc()
		e.logger.Error("unhandled event kind", logging.Conn(string(conn)), logging.Kind(string(ev.Kind())))
	}
}

func (e *Engine) onRequestInitiated(conn events.ConnID, c *connection, ev events.RequestInitiated) {
	if prev, ok := c.store.Get(ev.ID); ok {
		// The host re-uses the id for each redirect hop.
		e.remove(conn, c, prev, Discarded, OutcomeRedirected)
	}
	c.dropped.forget(ev.ID)

	snap := e.settings.Snapshot()
	if !filter.InScope(ev.URL, snap.ServerURL, snap.ScopeDomains) {
		c.dropped.add(ev.ID)
		e.metrics.outcomes.WithLabelValues(OutcomeOutOfScope).Inc()
		e.logger.Debug("request out of scope",
			logging.Conn(string(conn)), logging.TxID(string(ev.ID)), logging.URL(ev.URL))
		return
	}

	c.store.Create(&Record{
		ID:              ev.ID,
		Method:          ev.Method,
		Endpoint:        ev.URL,
		RequestHeaders:  headers.Map{},
		RequestBody:     emit.TextPayload(ev.PostData),
		ResponseHeaders: headers.Map{},
		State:           PendingRequestDetails,
	})
	e.metrics.inflight.Inc()
}

func (e *Engine) onRequestHeaders(conn events.ConnID, c *connection, ev events.RequestHeaders) {
	normalized := headers.Normalize(ev.Headers)
	ok := c.store.Update(ev.ID, func(r *Record) {
		for k, v := range normalized {
			r.RequestHeaders[k] = v
		}
		if r.State == PendingRequestDetails {
			r.State = PendingResponse
		}
	})
	if !ok {
		e.unknown(conn, c, ev)
	}
}

func (e *Engine) onResponseMetadata(conn events.ConnID, c *connection, ev events.ResponseMetadata) {
	ok := c.store.Update(ev.ID, func(r *Record) {
		status := ev.Status
		r.Status = &status
		r.ResponseHeaders = headers.Normalize(ev.Headers)
		r.mimeType = ev.MIMEType
		r.State = PendingBody
	})
	if !ok {
		e.unknown(conn, c, ev)
	}
}

func (e *Engine) onLoadingFinished(ctx context.Context, conn events.ConnID, c *connection, ev events.LoadingFinished) {
	r, ok := c.store.Get(ev.ID)
	if !ok {
		e.unknown(conn, c, ev)
		return
	}
	if r.fetching {
		return
	}
	if r.Status == nil {
		e.remove(conn, c, r, Discarded, OutcomeIncomplete)
		return
	}

	ct := r.contentType()
	if !filter.IsRelevant(ct) {
		e.logger.Debug("response not relevant",
			logging.Conn(string(conn)), logging.TxID(string(r.ID)), logging.ContentType(ct))
		e.remove(conn, c, r, Discarded, OutcomeIrrelevant)
		return
	}

	r.fetching = true
	e.fetching++
	e.fetches.Add(1)
	id := r.ID
	go func() {
		defer e.fetches.Done()

		var res BodyResult
		body, err := e.fetcher.FetchBody(ctx, conn, id)
		if err == nil {
			res.Body, err = body.Decode()
		}
		if err != nil {
			res = BodyResult{Err: err}
		}

		select {
		case e.inbox <- bodyMsg{conn: conn, rec: r, result: res}:
		case <-e.done:
		}
	}()
}

func (e *Engine) handleBody(ctx context.Context, m bodyMsg) {
	e.fetching--

	if m.result.Err != nil {
		e.metrics.bodyFetchErrors.Inc()
		e.logger.Debug("response body unavailable",
			logging.Conn(string(m.conn)), logging.TxID(string(m.rec.ID)), zap.Error(m.result.Err))
	}

	c, ok := e.conns[m.conn]
	if !ok {
		return
	}
	cur, ok := c.store.Get(m.rec.ID)
	if !ok || cur != m.rec {
		return
	}

	x := cur.exchange(m.result.Body)
	e.remove(m.conn, c, cur, Complete, OutcomeEmitted)
	e.emitter.Emit(ctx, x)
}

// discard removes the record for ev's transaction without emitting it.
func (e *Engine) discard(conn events.ConnID, c *connection, ev events.Event, outcome string) {
	r, ok := c.store.Get(ev.Tx())
	if !ok {
		e.unknown(conn, c, ev)
		return
	}
	e.remove(conn, c, r, Discarded, outcome)
}

// remove is the only way a record leaves a store.
func (e *Engine) remove(conn events.ConnID, c *connection, r *Record, state State, outcome string) {
	if !c.store.Remove(r.ID) {
		return
	}
	r.State = state
	c.dropped.add(r.ID)
	e.metrics.inflight.Dec()
	e.metrics.outcomes.WithLabelValues(outcome).Inc()
	fields := []zap.Field{
		logging.Conn(string(conn)),
		logging.TxID(string(r.ID)),
		logging.Method(r.Method),
		logging.URL(r.Endpoint),
		logging.Outcome(outcome),
	}
	if r.Status != nil {
		fields = append(fields, logging.Status(*r.Status))
	}
	e.logger.Debug("transaction finished", fields...)
}

func (e *Engine) unknown(conn events.ConnID, c *connection, ev events.Event) {
	reason := ReasonUnmatched
	if c.dropped.has(ev.Tx()) {
		reason = ReasonDropped
	}
	e.metrics.unknownTx.WithLabelValues(string(ev.Kind()), reason).Inc()
	if reason == ReasonUnmatched {
		e.logger.Debug("event for unknown transaction",
			logging.Conn(string(conn)), logging.TxID(string(ev.Tx())), logging.Kind(string(ev.Kind())))
	}
}
