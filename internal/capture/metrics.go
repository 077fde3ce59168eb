package capture

import "github.com/prometheus/client_golang/prometheus"

// Transaction outcomes.
const (
	OutcomeEmitted    = "emitted"
	OutcomeOutOfScope = "out_of_scope"
	OutcomeIrrelevant = "irrelevant"
	OutcomeIncomplete = "incomplete"
	OutcomeFailed     = "failed"
	OutcomeClosed     = "closed"
	OutcomeRedirected = "redirected"
	OutcomeDetached   = "detached"
)

// Reasons an event matched no record.
const (
	ReasonDropped   = "dropped"
	ReasonUnmatched = "unmatched"
)

type metrics struct {
	events            *prometheus.CounterVec
	unknownTx         *prometheus.CounterVec
	unknownConnEvents prometheus.Counter
	unhandledEvents   prometheus.Counter
	outcomes          *prometheus.CounterVec
	inflight          prometheus.Gauge
	connections       prometheus.Gauge
	bodyFetchErrors   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcap",
			Subsystem: "capture",
			Name:      "events_total",
			Help:      "Instrumentation events processed by kind",
		}, []string{"kind"}),
		unknownTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcap",
			Subsystem: "capture",
			Name:      "unknown_transaction_total",
			Help:      "Events referencing no in-flight transaction, by kind and whether the id was recently dropped",
		}, []string{"kind", "reason"}),
		unknownConnEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netcap",
			Subsystem: "capture",
			Name:      "unknown_connection_events_total",
			Help:      "Events for connections that are not attached",
		}),
		unhandledEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netcap",
			Subsystem: "capture",
			Name:      "unhandled_events_total",
			Help:      "Events of a kind the engine does not handle",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcap",
			Subsystem: "capture",
			Name:      "transactions_total",
			Help:      "Transactions leaving the engine by outcome",
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netcap",
			Subsystem: "capture",
			Name:      "inflight",
			Help:      "Transactions currently held by the engine",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netcap",
			Subsystem: "capture",
			Name:      "connections",
			Help:      "Attached connections",
		}),
		bodyFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netcap",
			Subsystem: "capture",
			Name:      "body_fetch_errors_total",
			Help:      "Response bodies that could not be retrieved",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.unknownTx, m.unknownConnEvents, m.unhandledEvents,
			m.outcomes, m.inflight, m.connections, m.bodyFetchErrors)
	}
	return m
}
