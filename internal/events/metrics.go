package events

import "expvar"

var (
	metricEventsPublishedTotal = expvar.NewInt("events_published_total")
	metricEventsDroppedTotal   = expvar.NewInt("events_dropped_total")
	metricTopicsOpen           = expvar.NewInt("events_topics_open")
)
