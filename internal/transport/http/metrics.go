package httptransport

import "expvar"

var (
	metricSSEConnectionsTotal  = expvar.NewInt("sse_connections_total")
	metricSSEConnectionsActive = expvar.NewInt("sse_connections_active")

	metricAdminFinalizeTotal = expvar.NewInt("admin_finalize_total")
	metricAdminRatingRuns    = expvar.NewInt("admin_rating_runs_total")
)
