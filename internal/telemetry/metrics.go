package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizparty_sessions_started_total",
		Help: "Trivia sessions created.",
	})

	CluesDealt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizparty_clues_dealt_total",
		Help: "Clues dealt to channels.",
	})

	CluesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizparty_clues_expired_total",
		Help: "Clues whose answer window elapsed with no correct answer.",
	})

	Attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizparty_attempts_total",
		Help: "Answer attempts by verdict.",
	}, []string{"verdict"})
)
