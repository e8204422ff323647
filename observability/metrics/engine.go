package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/socious-io/socious-smart-contracts/core/events"
)

// EngineMetrics exposes counters for the native engines. Events emitted by
// the engines drive the counters through the Emitter adapter, so wiring a
// single Tee keeps the engines free of any metrics dependency.
type EngineMetrics struct {
	eventsTotal *prometheus.CounterVec
	rpcRequests *prometheus.CounterVec
	rpcFailures *prometheus.CounterVec
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the process-wide engine metrics, registering them with the
// default Prometheus registry on first use.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "engine_events_total",
				Help: "Count of engine events by event type.",
			}, []string{"type"}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rpc_requests_total",
				Help: "Count of JSON-RPC requests by method.",
			}, []string{"method"}),
			rpcFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rpc_failures_total",
				Help: "Count of failed JSON-RPC requests by method.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			engineRegistry.eventsTotal,
			engineRegistry.rpcRequests,
			engineRegistry.rpcFailures,
		)
	})
	return engineRegistry
}

// ObserveEvent counts one engine event of the given type.
func (m *EngineMetrics) ObserveEvent(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveRPC counts one RPC request, and its failure when failed is set.
func (m *EngineMetrics) ObserveRPC(method string, failed bool) {
	if m == nil || method == "" {
		return
	}
	m.rpcRequests.WithLabelValues(method).Inc()
	if failed {
		m.rpcFailures.WithLabelValues(method).Inc()
	}
}

// Emitter adapts EngineMetrics to the events.Emitter interface so it can sit
// inside an events.Tee next to the real consumer.
type Emitter struct {
	metrics *EngineMetrics
}

func NewEmitter(m *EngineMetrics) *Emitter {
	return &Emitter{metrics: m}
}

func (e *Emitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	e.metrics.ObserveEvent(evt.EventType())
}
