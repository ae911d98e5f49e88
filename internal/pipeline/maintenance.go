package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/tphakala/rodentwatch/internal/alert"
	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/datastore"
	"github.com/tphakala/rodentwatch/internal/logging"
	"github.com/tphakala/rodentwatch/internal/notify"
	"github.com/tphakala/rodentwatch/internal/observability"
)

// Maintenance runs the periodic background work: retention pruning and
// health logging.
type Maintenance struct {
	settings   *conf.Settings
	store      datastore.Interface
	tracker    *alert.Tracker
	dispatcher *notify.Dispatcher
	metrics    *observability.Metrics
	scheduler  gocron.Scheduler
	logger     *slog.Logger
}

func NewMaintenance(settings *conf.Settings, store datastore.Interface, tracker *alert.Tracker, dispatcher *notify.Dispatcher, metrics *observability.Metrics) *Maintenance {
	logger := logging.ForService("maintenance")
	if logger == nil {
		logger = slog.Default().With("service", "maintenance")
	}
	return &Maintenance{
		settings:   settings,
		store:      store,
		tracker:    tracker,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// Start schedules the maintenance jobs.
func (m *Maintenance) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	m.scheduler = scheduler

	if m.settings.Retention.Enabled {
		_, err := scheduler.NewJob(
			gocron.DurationJob(m.settings.Retention.CheckInterval),
			gocron.NewTask(m.runPrune),
		)
		if err != nil {
			return err
		}
	}

	if m.settings.Realtime.HealthInterval > 0 {
		_, err := scheduler.NewJob(
			gocron.DurationJob(m.settings.Realtime.HealthInterval),
			gocron.NewTask(m.logHealth),
		)
		if err != nil {
			return err
		}
	}

	scheduler.Start()
	return nil
}

// Stop shuts down the scheduler, waiting for running jobs.
func (m *Maintenance) Stop() error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Shutdown()
}

// runPrune removes detection records older than the retention window.
func (m *Maintenance) runPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -m.settings.Retention.Days)
	result, err := m.store.Prune(ctx, cutoff)
	if err != nil {
		m.logger.Error("retention prune failed", "cutoff", cutoff, "error", err)
		return
	}

	if m.metrics != nil {
		m.metrics.RecordsPrunedTotal.Add(float64(result.RecordsDeleted))
	}
	if result.RecordsDeleted > 0 || result.EvidenceErrors > 0 {
		m.logger.Info("retention prune completed",
			"cutoff", cutoff,
			"records_deleted", result.RecordsDeleted,
			"attempts_deleted", result.AttemptsDeleted,
			"evidence_deleted", result.EvidenceDeleted,
			"evidence_errors", result.EvidenceErrors)
	}
}

// logHealth emits one periodic status line with pipeline counters.
func (m *Maintenance) logHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := []any{}

	if m.tracker != nil {
		stats := m.tracker.Stats()
		active := 0
		for _, cd := range stats.Cooldowns {
			if cd.Active {
				active++
			}
		}
		args = append(args,
			"alerts_total", stats.TotalAlerts,
			"cooldowns_active", active)
	}

	if m.store != nil {
		stats, err := m.store.Stats(ctx)
		if err != nil {
			m.logger.Warn("failed to read datastore stats", "error", err)
		} else {
			args = append(args,
				"records_total", stats.TotalRecords,
				"attempts_sent", stats.AttemptsByStatus["SENT"],
				"attempts_failed", stats.AttemptsByStatus["FAILED"])
		}
	}

	if m.dispatcher != nil {
		qs := m.dispatcher.QueueStats()
		args = append(args,
			"deliveries_ok", qs.SuccessfulJobs,
			"deliveries_failed", qs.FailedJobs,
			"delivery_retries", qs.RetryAttempts)
	}

	m.logger.Info("health", args...)
}
