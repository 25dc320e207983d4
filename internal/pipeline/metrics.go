package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recognition metrics
	recognitionCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pedigree_recognition_calls_total",
			Help: "Total number of label recognition jobs by outcome",
		},
		[]string{"outcome"}, // success, unparsed, timeout, error, panic, cancelled
	)

	recognitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pedigree_recognition_duration_seconds",
			Help:    "Label recognition call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 1.5, 2, 3, 5},
		},
		[]string{"outcome"},
	)

	recognitionInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pedigree_recognition_in_flight",
			Help: "Number of label recognition calls currently in flight",
		},
	)

	// Pipeline metrics
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pedigree_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	detectionsTotal = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pedigree_detections",
			Help:    "Number of merged detections per image",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"kind"}, // nodes, texts
	)

	pipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pedigree_pipeline_runs_total",
			Help: "Total number of pipeline runs by status",
		},
		[]string{"status"}, // ok, degraded, failed
	)
)
