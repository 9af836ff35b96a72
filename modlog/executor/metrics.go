package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var executeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "modledger_execute_duration_sec",
	Help: "Total duration of moderation requests, across all targets",
}, []string{"action"})

var resultCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_execute_results",
	Help: "Number of per-target results of moderation requests",
}, []string{"action", "status"})
