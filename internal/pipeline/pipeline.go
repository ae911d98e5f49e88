// Package pipeline coordinates the stages of frame processing: normalization,
// alert policy evaluation, durable storage and notification dispatch.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/rodentwatch/internal/alert"
	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/datastore"
	"github.com/tphakala/rodentwatch/internal/detection"
	"github.com/tphakala/rodentwatch/internal/errors"
	"github.com/tphakala/rodentwatch/internal/logging"
	"github.com/tphakala/rodentwatch/internal/notify"
	"github.com/tphakala/rodentwatch/internal/observability"
)

// Frame is one unit of classifier output to process.
type Frame struct {
	ID        string
	SourceID  string
	Timestamp time.Time
	Raw       []detection.RawDetection
	Evidence  []byte // optional captured image, stored only when a detection alerts
}

// FrameSource produces frames for the pipeline. The returned channel must be
// closed when the source is done or the context is cancelled.
type FrameSource interface {
	Name() string
	Frames(ctx context.Context) (<-chan Frame, error)
}

// AlertDispatcher submits alerts for asynchronous delivery. Satisfied by
// notify.Dispatcher.
type AlertDispatcher interface {
	Dispatch(alert *notify.Alert)
}

// Coordinator drives frames through the pipeline stages. Frames from
// different sources are processed concurrently; all shared state lives behind
// the tracker, dispatcher and store.
type Coordinator struct {
	settings   *conf.Settings
	tracker    *alert.Tracker
	dispatcher AlertDispatcher
	store      datastore.Interface
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewCoordinator wires the pipeline stages together. The metrics argument may
// be nil when telemetry is disabled.
func NewCoordinator(settings *conf.Settings, tracker *alert.Tracker, dispatcher AlertDispatcher, store datastore.Interface, metrics *observability.Metrics) *Coordinator {
	logger := logging.ForService("pipeline")
	if logger == nil {
		logger = slog.Default().With("service", "pipeline")
	}
	return &Coordinator{
		settings:   settings,
		tracker:    tracker,
		dispatcher: dispatcher,
		store:      store,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run consumes frames from all sources until the context is cancelled or a
// source fails to start. Frame processing errors are logged, not fatal.
func (c *Coordinator) Run(ctx context.Context, sources ...FrameSource) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, source := range sources {
		g.Go(func() error {
			frames, err := source.Frames(gctx)
			if err != nil {
				return errors.New(err).
					Component("pipeline").
					Category(errors.CategoryState).
					Context("source", source.Name()).
					Build()
			}

			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case frame, ok := <-frames:
					if !ok {
						c.logger.Info("frame source closed", "source", source.Name())
						return nil
					}
					if err := c.ProcessFrame(gctx, &frame); err != nil {
						c.logger.Error("frame processing failed",
							"source", source.Name(), "frame_id", frame.ID, "error", err)
					}
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ProcessFrame runs one frame through normalization, policy evaluation,
// storage and dispatch. A failure on one detection does not abort the others;
// the joined error of all failed detections is returned.
func (c *Coordinator) ProcessFrame(ctx context.Context, frame *Frame) error {
	if c.metrics != nil {
		c.metrics.FramesProcessedTotal.Inc()
	}

	dets, skips := detection.Normalize(frame.SourceID, frame.Raw, c.settings.Detection)
	for _, skip := range skips {
		if c.metrics != nil {
			c.metrics.DetectionsSkipped.WithLabelValues(skip.Reason).Inc()
		}
		c.logger.Debug("raw detection dropped",
			"frame_id", frame.ID, "class_id", skip.ClassID,
			"score", skip.Score, "reason", skip.Reason)
	}

	var errs []error
	for i := range dets {
		if err := c.processDetection(ctx, frame, &dets[i]); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		if c.metrics != nil {
			c.metrics.FrameErrorsTotal.Inc()
		}
		return errors.Join(errs...)
	}
	return nil
}

// processDetection takes one normalized detection through decision, storage
// and dispatch. The record is persisted before any notification goes out, so
// a storage failure produces no delivery attempts.
func (c *Coordinator) processDetection(ctx context.Context, frame *Frame, det *detection.Detection) error {
	if c.metrics != nil {
		c.metrics.DetectionsTotal.WithLabelValues(det.Species, det.SourceID).Inc()
	}

	decision := c.tracker.Evaluate(det)
	if c.metrics != nil {
		c.metrics.DecisionsTotal.WithLabelValues(string(decision.Outcome), det.Species).Inc()
	}

	recordID := uuid.New().String()

	evidencePath := ""
	if decision.Outcome == alert.OutcomeAlert && len(frame.Evidence) > 0 {
		path, err := SaveEvidence(c.settings.Realtime.EvidencePath, recordID, frame.Evidence)
		if err != nil {
			// Evidence is best effort; the alert still goes out without it.
			c.logger.Warn("failed to save evidence image",
				"record_id", recordID, "error", err)
		} else {
			evidencePath = path
		}
	}

	record := &datastore.DetectionRecord{
		RecordID:     recordID,
		SourceNode:   c.settings.Main.Name,
		Species:      det.Species,
		Confidence:   det.Confidence,
		BoxX:         det.Box.X,
		BoxY:         det.Box.Y,
		BoxW:         det.Box.W,
		BoxH:         det.Box.H,
		DetectedAt:   det.Timestamp,
		SourceID:     det.SourceID,
		Outcome:      string(decision.Outcome),
		Reason:       decision.Reason,
		CooldownKey:  decision.CooldownKey,
		EvidencePath: evidencePath,
	}

	if err := c.store.Save(ctx, record); err != nil {
		if c.metrics != nil {
			c.metrics.StoreOperationsTotal.WithLabelValues("save", "error").Inc()
		}
		return errors.New(err).
			Component("pipeline").
			Category(errors.CategoryDatabase).
			Context("record_id", recordID).
			Context("species", det.Species).
			Build()
	}
	if c.metrics != nil {
		c.metrics.StoreOperationsTotal.WithLabelValues("save", "success").Inc()
	}

	if decision.Outcome != alert.OutcomeAlert {
		return nil
	}

	c.logger.Info("alerting on detection",
		"record_id", recordID, "species", det.Species,
		"confidence", det.Confidence, "source", det.SourceID,
		"reason", decision.Reason)

	if c.dispatcher != nil {
		c.dispatcher.Dispatch(&notify.Alert{
			ID:           uuid.New().String(),
			RecordID:     recordID,
			Species:      det.Species,
			Confidence:   det.Confidence,
			Timestamp:    det.Timestamp,
			SourceID:     det.SourceID,
			EvidencePath: evidencePath,
		})
	}
	return nil
}
