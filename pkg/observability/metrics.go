// Package observability exposes process metrics and the read-only
// observation endpoint a running daemon serves on localhost.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExperimentsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pidgin",
		Name:      "experiments_running",
		Help:      "Experiments currently executing in this process.",
	})
	ConversationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pidgin",
		Name:      "conversations_started_total",
		Help:      "Conversations admitted past the parallelism gate.",
	})
	ConversationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pidgin",
		Name:      "conversations_completed_total",
		Help:      "Conversations that reached a non-failure terminal state.",
	})
	ConversationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pidgin",
		Name:      "conversations_failed_total",
		Help:      "Conversations that ended in provider_fatal or setup failure.",
	})
	TurnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pidgin",
		Name:      "turns_completed_total",
		Help:      "Completed turns across all conversations.",
	})
	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pidgin",
		Name:      "provider_retries_total",
		Help:      "Provider calls retried, by reason.",
	}, []string{"reason"})
	ConvergenceScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pidgin",
		Name:      "last_convergence_score",
		Help:      "Convergence score of the most recently completed turn.",
	})
)
