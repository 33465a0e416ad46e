package matchmaking

import "expvar"

var (
	metricQueueJoins         = expvar.NewInt("queue_joins_total")
	metricQueueLeaves        = expvar.NewInt("queue_leaves_total")
	metricQueueMatches       = expvar.NewInt("queue_matches_total")
	metricQueueMatchFailures = expvar.NewInt("queue_match_failures_total")
)
