package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var auditPostCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_audit_posts",
	Help: "Number of audit messages posted",
}, []string{"action"})

var auditPostErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_audit_post_errors",
	Help: "Number of audit messages which failed to post",
}, []string{"action"})

var auditEditCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_audit_edits",
	Help: "Number of audit message edits by result",
}, []string{"result"})
