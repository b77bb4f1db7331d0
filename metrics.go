package eqws

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsSubsystem = "socket"

// Metrics holds the prometheus collectors of a Socket. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connectionsActive  prometheus.Gauge
	connectionsTotal   prometheus.Counter
	reconnectsTotal    prometheus.Counter
	transportErrors    prometheus.Counter
	packetsSent        *prometheus.CounterVec
	packetsReceived    *prometheus.CounterVec
	packetsDropped     *prometheus.CounterVec
	rpcCalls           *prometheus.CounterVec
	rpcDuration        prometheus.Histogram
	outboundQueueDepth prometheus.Gauge
}

// NewMetrics creates the collectors under namespace and registers them in reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_active",
			Help:      "Whether the transport is currently open (1) or not (0)",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_total",
			Help:      "Total number of successfully opened transports",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "reconnects_total",
			Help:      "Total number of scheduled reconnections",
		}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "transport_errors_total",
			Help:      "Total number of transport errors",
		}),
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "packets_sent_total",
			Help:      "Total number of packets written to the transport",
		}, []string{"type"}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "packets_received_total",
			Help:      "Total number of valid packets received",
		}, []string{"type"}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "packets_dropped_total",
			Help:      "Total number of packets dropped",
		}, []string{"reason"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "rpc_calls_total",
			Help:      "Total number of settled rpc calls",
		}, []string{"outcome"}),
		rpcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "rpc_duration_seconds",
			Help:      "Time from issuing an rpc call to its settlement",
			Buckets:   prometheus.DefBuckets,
		}),
		outboundQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "outbound_queue_depth",
			Help:      "Packets waiting for the transport to open",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.connectionsActive,
		m.connectionsTotal,
		m.reconnectsTotal,
		m.transportErrors,
		m.packetsSent,
		m.packetsReceived,
		m.packetsDropped,
		m.rpcCalls,
		m.rpcDuration,
		m.outboundQueueDepth,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) opened() {
	if m == nil {
		return
	}
	m.connectionsActive.Set(1)
	m.connectionsTotal.Inc()
}

func (m *Metrics) closed() {
	if m == nil {
		return
	}
	m.connectionsActive.Set(0)
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

func (m *Metrics) transportError() {
	if m == nil {
		return
	}
	m.transportErrors.Inc()
}

func (m *Metrics) sent(t PacketType) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) received(t PacketType) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) rpcSettled(outcome string, since time.Time) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(outcome).Inc()
	if !since.IsZero() {
		m.rpcDuration.Observe(time.Since(since).Seconds())
	}
}

func (m *Metrics) queueDepth(n int) {
	if m == nil {
		return
	}
	m.outboundQueueDepth.Set(float64(n))
}
