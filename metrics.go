package natsgo

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors gonatsd/server.go's Stats struct (there atomic
// counters on the broker; here Prometheus collectors on the client),
// and the specific counters ShubhamRasal-n2s's TUI polls for on a NATS
// connection/stream/consumer.
type Metrics struct {
	MsgsIn        prometheus.Counter
	MsgsOut       prometheus.Counter
	BytesIn       prometheus.Counter
	BytesOut      prometheus.Counter
	Reconnects    prometheus.Counter
	Errors        *prometheus.CounterVec // labeled by Kind
	AckPending    prometheus.Gauge
	Redeliveries  prometheus.Counter
}

// NewMetrics registers a fresh Metrics set under namespace (e.g.
// "natsgo") on reg. Pass prometheus.DefaultRegisterer for the global
// registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		MsgsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "msgs_in_total", Help: "messages received from the server",
		}),
		MsgsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "msgs_out_total", Help: "frames written to the server (PUB, SUB, UNSUB, PING, PONG)",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_in_total", Help: "payload bytes received from the server",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_out_total", Help: "bytes written to the server, control lines included",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total", Help: "successful reconnects",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", Help: "errors observed, labeled by kind",
		}, []string{"kind"}),
		AckPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ack_pending", Help: "JetStream messages delivered but not yet acknowledged",
		}),
		Redeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "redeliveries_total", Help: "JetStream message redeliveries",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.MsgsIn, m.MsgsOut, m.BytesIn, m.BytesOut, m.Reconnects,
			m.Errors, m.AckPending, m.Redeliveries)
	}
	return m
}

func (m *Metrics) recordErr(kind Kind) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind.String()).Inc()
}
