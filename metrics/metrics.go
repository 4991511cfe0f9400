// Package metrics exports the counters of a transport.Host to Prometheus.
package metrics

import (
	"github.com/edup2p/peerlink/transport"
	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "peerlink"

// Metrics is a transport.Observer backed by Prometheus collectors.
type Metrics struct {
	datagramsReceived prometheus.Counter
	bytesReceived     prometheus.Counter
	datagramsSent     prometheus.Counter
	bytesSent         prometheus.Counter

	dropped *prometheus.CounterVec
	events  *prometheus.CounterVec

	peers prometheus.Gauge
}

// New creates the collectors under subsystem, and registers them with reg.
func New(reg prometheus.Registerer, subsystem string) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		datagramsReceived: counter("datagrams_received_total", "Datagrams read from the socket."),
		bytesReceived:     counter("received_bytes_total", "Bytes read from the socket."),
		datagramsSent:     counter("datagrams_sent_total", "Datagrams written to the socket."),
		bytesSent:         counter("sent_bytes_total", "Bytes written to the socket."),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "datagrams_dropped_total",
			Help:      "Inbound datagrams discarded, by reason.",
		}, []string{"reason"}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Events queued for the application, by type.",
		}, []string{"type"}),

		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "peers",
			Help:      "Currently registered peers.",
		}),
	}

	reg.MustRegister(
		m.datagramsReceived,
		m.bytesReceived,
		m.datagramsSent,
		m.bytesSent,
		m.dropped,
		m.events,
		m.peers,
	)

	return m
}

func (m *Metrics) DatagramReceived(bytes int) {
	m.datagramsReceived.Inc()
	m.bytesReceived.Add(float64(bytes))
}

func (m *Metrics) DatagramSent(bytes int) {
	m.datagramsSent.Inc()
	m.bytesSent.Add(float64(bytes))
}

func (m *Metrics) DatagramDropped(reason transport.DropReason) {
	m.dropped.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) EventQueued(t transport.EventType) {
	m.events.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) PeersChanged(count int) {
	m.peers.Set(float64(count))
}

var _ transport.Observer = (*Metrics)(nil)
