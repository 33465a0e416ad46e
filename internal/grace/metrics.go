package grace

import "expvar"

var (
	metricGracePending = expvar.NewInt("grace_pending")
	metricGraceExpired = expvar.NewInt("grace_expired_total")
)
