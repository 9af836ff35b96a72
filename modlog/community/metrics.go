package community

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var configCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modledger_community_config_cache_hits",
	Help: "Number of community config lookups served from cache",
})

var configCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modledger_community_config_cache_misses",
	Help: "Number of community config lookups which went to the source",
})
