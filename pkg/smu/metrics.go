package smu

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "smu"

// metrics are owned by one instance and only exported once registered.
type metrics struct {
	commands  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	transfers prometheus.Counter
	reads     *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mailbox_commands_total",
			Help:      "Mailbox commands issued, by mailbox and outcome.",
		}, []string{"mailbox", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "mailbox_command_duration_seconds",
			Help:      "Time spent in one mailbox handshake, lock wait included.",
			Buckets:   prometheus.ExponentialBuckets(10e-6, 4, 8),
		}, []string{"mailbox"}),
		transfers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pm_table_transfers_total",
			Help:      "PM table transfers to DRAM requested from firmware.",
		}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pm_table_reads_total",
			Help:      "PM table reads, by outcome.",
		}, []string{"status"}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.commands, m.duration, m.transfers, m.reads}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *metrics) observeCommand(mb Mailbox, status Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(mb.String(), status.String()).Inc()
	m.duration.WithLabelValues(mb.String()).Observe(elapsed.Seconds())
}

func (m *metrics) observeTransfer() {
	if m == nil {
		return
	}
	m.transfers.Inc()
}

func (m *metrics) observeRead(status Status) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(status.String()).Inc()
}
