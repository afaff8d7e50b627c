// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for message and descriptor traffic, labelled by the
// process that observes them.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the IPC collectors.
type Metrics struct {
	// Message path
	Sent       *prometheus.CounterVec
	Dispatched *prometheus.CounterVec
	Cancelled  *prometheus.CounterVec
	Errors     *prometheus.CounterVec
	RetryDepth *prometheus.GaugeVec

	// Descriptor path
	FdsSent     *prometheus.CounterVec
	FdsReceived *prometheus.CounterVec
	FdReceivers *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg. Tests pass a
// fresh prometheus.NewRegistry so instances never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipc_messages_sent_total",
				Help: "Messages accepted by send, by path taken (direct or queued)",
			},
			[]string{"procnum", "path"},
		),
		Dispatched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipc_messages_dispatched_total",
				Help: "Messages drained from inbound rings and handed to a handler",
			},
			[]string{"procnum"},
		),
		Cancelled: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipc_messages_cancelled_total",
				Help: "Queued messages discarded at shutdown",
			},
			[]string{"procnum"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipc_errors_total",
				Help: "IPC failures by kind",
			},
			[]string{"procnum", "kind"},
		),
		RetryDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ipc_retry_queue_depth",
				Help: "Messages waiting in the outbound retry queue",
			},
			[]string{"procnum"},
		),
		FdsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipc_fds_sent_total",
				Help: "Descriptors passed to peers",
			},
			[]string{"procnum"},
		),
		FdsReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipc_fds_received_total",
				Help: "Descriptors received, by outcome",
			},
			[]string{"procnum", "outcome"},
		),
		FdReceivers: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ipc_fd_receivers",
				Help: "Registered or buffering fd receiver entries",
			},
			[]string{"procnum"},
		),
	}
}
