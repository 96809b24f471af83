package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics. All low-cardinality: camera labels are bounded by the
// allow-set, reasons and channels are enums.

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osprey_events_total",
			Help: "Activity events seen, by admission outcome",
		},
		[]string{"outcome"}, // admitted, rejected_lifecycle, rejected_camera, rejected_duplicate
	)

	StageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osprey_stage_failures_total",
			Help: "Incidents terminally failed, by reason",
		},
		[]string{"reason"},
	)

	IncidentsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osprey_incidents_completed_total",
			Help: "Incidents that reached a terminal stage, by stage",
		},
		[]string{"stage"},
	)

	GateQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osprey_gate_queue_depth",
			Help: "Requests waiting in the inference gate queue",
		},
	)

	GateRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "osprey_gate_rejected_total",
			Help: "Inference requests rejected because the gate queue was full",
		},
	)

	InferenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "osprey_inference_latency_seconds",
			Help:    "Wall time of inference engine calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osprey_dispatch_total",
			Help: "Channel dispatch results",
		},
		[]string{"channel", "status"}, // sent, failed, skipped_already_sent
	)
)
