package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "writer",
		Name:      "mutations_total",
	}, []string{"kind", "result"})
	writerFilesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "writer",
		Name:      "files_created_total",
	})
	writerSegmentsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "writer",
		Name:      "segments_opened_total",
	})
	writerBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "writer",
		Name:      "written_bytes_total",
	})
	writerQueueRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "writer",
		Name:      "queue_rejected_total",
	}, []string{"policy"})
	writerRejectedClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "writer",
		Name:      "closed_rejected_total",
	})
	writerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpxlog",
		Subsystem: "writer",
		Name:      "queue_depth",
	})
	writerIndexerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "writer",
		Name:      "indexer_failures_total",
	})
	writerStateFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "writer",
		Name:      "state_failures_total",
	})
)

func mutationKind(m Mutation) string {
	if m.isWaypoint() {
		return "waypoint"
	}
	return "trackpoint"
}
