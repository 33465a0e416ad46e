package finalize

import "expvar"

var (
	metricFinalizeApplied    = expvar.NewInt("finalize_applied_total")
	metricFinalizeNoop       = expvar.NewInt("finalize_noop_total")
	metricFinalizeErrors     = expvar.NewInt("finalize_claim_errors_total")
	metricFinalizeStepErrors = expvar.NewMap("finalize_step_errors")
)
