package expiry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "modledger_expiry_tick_duration_sec",
	Help: "Duration of expiry scanner ticks",
})

var unmuteOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_expiry_outcomes",
	Help: "Number of expired mutes processed, by outcome",
}, []string{"outcome"})
