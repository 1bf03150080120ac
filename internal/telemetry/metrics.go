package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsBuilt counts quiz sessions successfully assembled.
	SessionsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "brains",
		Name:      "quiz_sessions_built_total",
		Help:      "Number of quiz sessions built.",
	})

	// ScoresSubmitted counts attempts recorded by the persistence gateway.
	ScoresSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "brains",
		Name:      "scores_submitted_total",
		Help:      "Number of quiz scores persisted.",
	})

	// SeedPoolServed counts candidate pool requests that fell back to the
	// static seed list.
	SeedPoolServed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "brains",
		Name:      "seed_pool_served_total",
		Help:      "Number of candidate pool reads served from the seed list.",
	})
)
