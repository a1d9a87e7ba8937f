package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweptAgents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goatchat",
		Subsystem: "reconciler",
		Name:      "swept_agents_total",
		Help:      "Agents forced offline by the heartbeat sweep",
	})
	drainedConversations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goatchat",
		Subsystem: "reconciler",
		Name:      "drained_conversations_total",
		Help:      "Waiting conversations assigned by the drain pass",
	})
	timeoutTransfers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goatchat",
		Subsystem: "reconciler",
		Name:      "timeout_transfers_total",
		Help:      "Conversations auto-transferred after a reply timeout",
	})
	timeoutFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goatchat",
		Subsystem: "reconciler",
		Name:      "timeout_failures_total",
		Help:      "Timeout candidates not transferred: no available target, or the pick or transfer failed",
	})
)
