package streamer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filerelay_streams_total",
		Help: "Stream requests by mode and outcome.",
	}, []string{"mode", "outcome"})

	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "filerelay_stream_duration_seconds",
		Help:    "Time from request to the end of the relay.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"outcome"})

	streamBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filerelay_stream_bytes_total",
		Help: "Bytes relayed to clients.",
	})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "filerelay_active_streams",
		Help: "Streams currently in progress.",
	})
)
