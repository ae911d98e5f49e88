// Package realtime implements the main operating mode: consume classifier
// frames from stdin and run them through the alerting pipeline.
package realtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/rodentwatch/internal/alert"
	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/datastore"
	"github.com/tphakala/rodentwatch/internal/errors"
	"github.com/tphakala/rodentwatch/internal/logging"
	"github.com/tphakala/rodentwatch/internal/notify"
	"github.com/tphakala/rodentwatch/internal/observability"
	"github.com/tphakala/rodentwatch/internal/pipeline"
)

// Command creates the realtime command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Process classifier frames from stdin in real time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
	return cmd
}

func run(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if settings.Realtime.Telemetry.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		metrics = m
		observability.NewEndpoint(settings.Realtime.Telemetry.Listen, metrics).Start(ctx)
	}

	store := datastore.New(settings)
	if store == nil {
		return errors.Newf("no database output enabled in configuration").
			Component("realtime").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error("failed to close datastore", "error", err)
		}
	}()

	tracker := alert.NewTracker(settings.Alerts, nil)

	var dispatcher *notify.Dispatcher
	if settings.Notify.Enabled {
		recorder := pipeline.NewStoreRecorder(store, metrics)
		d, err := notify.NewDispatcher(settings.Notify, recorder, nil)
		if err != nil {
			return err
		}
		dispatcher = d
		if metrics != nil {
			dispatcher.SetDeliveryObserver(func(channel string, elapsed time.Duration) {
				metrics.DeliveryDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
			})
		}
		dispatcher.Start(ctx)
		defer func() {
			if err := dispatcher.Stop(); err != nil {
				logging.Warn("dispatcher did not drain cleanly", "error", err)
			}
		}()
		logging.Info("notification channels active", "channels", dispatcher.Channels())
	} else {
		logging.Info("notifications disabled, detections will only be recorded")
	}

	var coordinator *pipeline.Coordinator
	if dispatcher != nil {
		coordinator = pipeline.NewCoordinator(settings, tracker, dispatcher, store, metrics)
	} else {
		coordinator = pipeline.NewCoordinator(settings, tracker, nil, store, metrics)
	}

	maintenance := pipeline.NewMaintenance(settings, store, tracker, dispatcher, metrics)
	if err := maintenance.Start(); err != nil {
		return err
	}
	defer func() {
		if err := maintenance.Stop(); err != nil {
			logging.Warn("maintenance scheduler did not stop cleanly", "error", err)
		}
	}()

	logging.Info("realtime pipeline started",
		"node", settings.Main.Name,
		"confidence_threshold", settings.Detection.ConfidenceThreshold,
		"cooldown", settings.Alerts.Cooldown,
		"cooldown_scope", settings.Alerts.Scope)

	source := pipeline.NewReaderSource(settings.Main.Name, os.Stdin)
	return coordinator.Run(ctx, source)
}
