// Package observability provides Prometheus metrics for monitoring the
// detection and notification pipeline.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Detection pipeline
	FramesProcessedTotal  prometheus.Counter
	FrameErrorsTotal      prometheus.Counter
	DetectionsTotal       *prometheus.CounterVec // retained detections by species and source
	DetectionsSkipped     *prometheus.CounterVec // dropped raw detections by reason
	DecisionsTotal        *prometheus.CounterVec // policy decisions by outcome and species

	// Notification delivery
	DeliveriesTotal    *prometheus.CounterVec   // terminal delivery outcomes by channel and status
	DeliveryDuration   *prometheus.HistogramVec // delivery latency by channel
	QuotaSkippedTotal  *prometheus.CounterVec   // alerts skipped for spent quota by channel

	// Datastore
	StoreOperationsTotal *prometheus.CounterVec // operations by name and status
	RecordsPrunedTotal   prometheus.Counter
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.FramesProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rodentwatch_frames_processed_total",
		Help: "Total number of frames run through the pipeline",
	})
	m.FrameErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rodentwatch_frame_errors_total",
		Help: "Total number of frames that ended in a pipeline error",
	})
	m.DetectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rodentwatch_detections_total",
		Help: "Total number of retained detections by species and source",
	}, []string{"species", "source"})
	m.DetectionsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rodentwatch_detections_skipped_total",
		Help: "Total number of raw detections dropped during normalization, by reason",
	}, []string{"reason"})
	m.DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rodentwatch_alert_decisions_total",
		Help: "Total number of alert policy decisions by outcome and species",
	}, []string{"outcome", "species"})

	m.DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rodentwatch_deliveries_total",
		Help: "Total number of terminal notification delivery outcomes by channel and status",
	}, []string{"channel", "status"})
	m.DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rodentwatch_delivery_duration_seconds",
		Help:    "Time taken for notification delivery by channel",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"channel"})
	m.QuotaSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rodentwatch_quota_skipped_total",
		Help: "Total number of alerts skipped because a channel's monthly quota was spent",
	}, []string{"channel"})

	m.StoreOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rodentwatch_store_operations_total",
		Help: "Total number of datastore operations by name and status",
	}, []string{"operation", "status"})
	m.RecordsPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rodentwatch_records_pruned_total",
		Help: "Total number of detection records removed by retention pruning",
	})

	collectors := []prometheus.Collector{
		m.FramesProcessedTotal,
		m.FrameErrorsTotal,
		m.DetectionsTotal,
		m.DetectionsSkipped,
		m.DecisionsTotal,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.QuotaSkippedTotal,
		m.StoreOperationsTotal,
		m.RecordsPrunedTotal,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics collector: %w", err)
		}
	}

	return m, nil
}

// Registry exposes the underlying registry for the metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
