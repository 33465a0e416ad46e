package rating

import "expvar"

var (
	metricBatchPlayers  = expvar.NewInt("rating_batch_players_total")
	metricBatchFailures = expvar.NewInt("rating_batch_failures_total")
	metricBatchAborts   = expvar.NewInt("rating_batch_aborts_total")
	metricBatchCommits  = expvar.NewInt("rating_batch_commits_total")
	metricBatchErrors   = expvar.NewInt("rating_batch_run_errors_total")
)
