package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reserveCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_cases_reserved",
	Help: "Number of cases reserved in the ledger",
}, []string{"action"})

var rollbackCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_cases_rolled_back",
	Help: "Number of pending cases deleted after a rejected effect",
}, []string{"action"})

var reserveCollisions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modledger_case_number_collisions",
	Help: "Number of case reservations retried after a unique key collision",
})
