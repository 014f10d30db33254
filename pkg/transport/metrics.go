package transport

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the optional packet/byte counters attached to an Io.
// A nil *Metrics is valid and makes every observation a no-op, so the hot
// path never branches on configuration beyond one nil check.
type Metrics struct {
	packetsSent     prometheus.Counter
	packetsReceived prometheus.Counter
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
}

// NewMetrics registers transport counters on reg and returns the sink.
// Pass prometheus.DefaultRegisterer for process-wide metrics, or a private
// registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_packets_sent_total",
			Help: "Number of packets handed to the transport sender.",
		}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_packets_received_total",
			Help: "Number of packets returned by the transport receiver.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_bytes_sent_total",
			Help: "Payload bytes handed to the transport sender.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_bytes_received_total",
			Help: "Payload bytes returned by the transport receiver.",
		}),
	}
	reg.MustRegister(m.packetsSent, m.packetsReceived, m.bytesSent, m.bytesReceived)
	return m
}

func (m *Metrics) observeSend(n int) {
	if m == nil {
		return
	}
	m.packetsSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) observeRecv(n int) {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
	m.bytesReceived.Add(float64(n))
}
