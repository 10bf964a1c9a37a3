package channelmgr

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instrumentation for a ChannelManager:
// mailbox depth, commit latency, and decrypt failures.
type Metrics struct {
	MailboxDepth    *prometheus.GaugeVec
	CommitLatency   prometheus.Histogram
	DecryptFailures prometheus.Counter
	EnvelopesIn     *prometheus.CounterVec
	EnvelopesOut    *prometheus.CounterVec
}

// NewMetrics registers a fresh set of collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spacepanda",
			Subsystem: "channelmgr",
			Name:      "mailbox_depth",
			Help:      "Number of envelopes queued in a channel's mailbox.",
		}, []string{"channel"}),
		CommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spacepanda",
			Subsystem: "channelmgr",
			Name:      "commit_latency_seconds",
			Help:      "Time spent decoding and applying an inbound commit.",
			Buckets:   prometheus.DefBuckets,
		}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spacepanda",
			Subsystem: "channelmgr",
			Name:      "decrypt_failures_total",
			Help:      "Application messages that failed to decrypt.",
		}),
		EnvelopesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spacepanda",
			Subsystem: "channelmgr",
			Name:      "envelopes_in_total",
			Help:      "Inbound envelopes processed, by msg_type.",
		}, []string{"msg_type"}),
		EnvelopesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spacepanda",
			Subsystem: "channelmgr",
			Name:      "envelopes_out_total",
			Help:      "Outbound envelopes sent, by msg_type.",
		}, []string{"msg_type"}),
	}
	reg.MustRegister(m.MailboxDepth, m.CommitLatency, m.DecryptFailures, m.EnvelopesIn, m.EnvelopesOut)
	return m
}

// NewNoopMetrics returns a Metrics registered against a private registry,
// for tests and callers that don't want to share the global default
// registry.
func NewNoopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
