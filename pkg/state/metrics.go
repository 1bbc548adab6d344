package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookmarkAdvances tracks accepted bookmark moves by stream
	BookmarkAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sunwave_bookmark_advances_total",
			Help: "Total number of bookmark advances by stream",
		},
		[]string{"stream"},
	)

	// StateErrors tracks bookmark store errors
	StateErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sunwave_state_errors_total",
			Help: "Total number of bookmark store errors",
		},
		[]string{"operation"}, // "get", "advance", "snapshot"
	)
)
