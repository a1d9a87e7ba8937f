package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assignments = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goatchat",
		Subsystem: "dispatch",
		Name:      "assignments_total",
		Help:      "Conversations assigned to an agent",
	})
	transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goatchat",
		Subsystem: "dispatch",
		Name:      "transfers_total",
		Help:      "Conversation transfers, labeled by kind",
	}, []string{"kind"})
	queueNotices = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goatchat",
		Subsystem: "dispatch",
		Name:      "queue_notices_total",
		Help:      "Customers parked in the waiting queue",
	})
	pushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goatchat",
		Subsystem: "dispatch",
		Name:      "push_failures_total",
		Help:      "Outbound frame pushes that failed",
	})
)
