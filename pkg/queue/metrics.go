package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "octant_jobs_enqueued_total",
		Help: "Number of processing jobs admitted to the queue.",
	})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octant_jobs_processed_total",
		Help: "Number of processing jobs settled, by outcome.",
	}, []string{"outcome"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "octant_queue_depth",
		Help: "Number of envelopes currently queued.",
	})
)
