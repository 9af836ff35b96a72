package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_reconcile_events",
	Help: "Number of member events processed by the mute reconciler",
}, []string{"type", "transition"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_reconcile_errors",
	Help: "Number of member events which failed processing",
}, []string{"type"})
