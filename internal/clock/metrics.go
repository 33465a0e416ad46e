package clock

import "expvar"

var (
	metricClocksActive   = expvar.NewInt("clock_active")
	metricClockTicks     = expvar.NewInt("clock_ticks_total")
	metricClockExpiries  = expvar.NewInt("clock_expiries_total")
	metricClockSnapshots = expvar.NewInt("clock_snapshot_errors_total")
)
