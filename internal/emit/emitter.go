package emit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rsclarke/netcap/internal/logging"
	"github.com/rsclarke/netcap/internal/settings"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 10 * time.Second

// Transport delivers a serialized document to endpoint.
type Transport interface {
	Index(ctx context.Context, endpoint string, doc []byte) error
}

// SettingsSource provides the current settings.
type SettingsSource interface {
	Snapshot() settings.Snapshot
}

// Config configures an Emitter.
type Config struct {
	Transport  Transport
	Settings   SettingsSource
	Logger     *zap.Logger
	Timeout    time.Duration
	Now        func() time.Time
	Registerer prometheus.Registerer
}

// Emitter serializes exchanges and delivers them without waiting for the result.
type Emitter struct {
	transport  Transport
	settings   SettingsSource
	logger     *zap.Logger
	timeout    time.Duration
	now        func() time.Time
	deliveries *prometheus.CounterVec
	wg         sync.WaitGroup
}

// New creates an Emitter.
func New(cfg Config) *Emitter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netcap",
		Subsystem: "emit",
		Name:      "deliveries_total",
		Help:      "Index document deliveries by result",
	}, []string{"result"})
	if cfg.Registerer != nil {
		cfg.Registerer.MustRegister(deliveries)
	}

	return &Emitter{
		transport:  cfg.Transport,
		settings:   cfg.Settings,
		logger:     logger,
		timeout:    timeout,
		now:        now,
		deliveries: deliveries,
	}
}

// Emit builds the document for x and starts its delivery. It never blocks on
// the network and never reports delivery errors to the caller.
func (e *Emitter) Emit(ctx context.Context, x Exchange) {
	doc := NewDocument(x, e.now())
	body, err := json.Marshal(doc)
	if err != nil {
		e.deliveries.WithLabelValues("encode_error").Inc()
		e.logger.Error("encode index document failed", logging.URL(x.Endpoint), zap.Error(err))
		return
	}

	endpoint := e.settings.Snapshot().IndexURL()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()

		if err := e.transport.Index(dctx, endpoint, body); err != nil {
			e.deliveries.WithLabelValues("error").Inc()
			e.logger.Warn("deliver index document failed",
				logging.Endpoint(endpoint),
				logging.URL(x.Endpoint),
				zap.Error(err))
			return
		}
		e.deliveries.WithLabelValues("ok").Inc()
		e.logger.Debug("index document delivered", logging.Endpoint(endpoint), logging.URL(x.Endpoint))
	}()
}

// Wait blocks until every started delivery has finished.
func (e *Emitter) Wait() {
	e.wg.Wait()
}
