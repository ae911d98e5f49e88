package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/errors"
	"github.com/tphakala/rodentwatch/internal/jobqueue"
	"github.com/tphakala/rodentwatch/internal/logging"
)

// channelState couples a configured channel with its provider and its
// concurrency limiter.
type channelState struct {
	cfg      conf.ChannelConfig
	provider Provider
	sem      *semaphore.Weighted
}

// DeliveryObserver receives the duration of every completed send attempt.
type DeliveryObserver func(channel string, elapsed time.Duration)

// Dispatcher routes alerts to channels in priority order. Delivery is
// asynchronous: Dispatch returns immediately and the job queue drives
// retries. When a channel fails permanently or its monthly quota is spent,
// the alert falls back to the next channel by priority.
type Dispatcher struct {
	channels []*channelState
	queue    *jobqueue.JobQueue
	ledger   *QuotaLedger
	recorder AttemptRecorder
	observe  DeliveryObserver
	logger   *slog.Logger
}

// NewDispatcher builds providers for all enabled channels and validates their
// configuration. The recorder may be nil when attempt persistence is not
// wanted (tests, dry runs). The clock is injectable for quota tests.
func NewDispatcher(settings conf.NotifySettings, recorder AttemptRecorder, clk clock.Clock) (*Dispatcher, error) {
	logger := logging.ForService("notify")
	if logger == nil {
		logger = slog.Default().With("service", "notify")
	}

	limits := make(map[string]int)
	var channels []*channelState

	for i := range settings.Channels {
		cfg := settings.Channels[i]
		if !cfg.Enabled {
			continue
		}

		provider, err := buildProvider(&cfg)
		if err != nil {
			return nil, err
		}
		if err := provider.ValidateConfig(); err != nil {
			return nil, err
		}

		concurrency := cfg.Concurrency
		if concurrency <= 0 {
			concurrency = 1
		}
		channels = append(channels, &channelState{
			cfg:      cfg,
			provider: provider,
			sem:      semaphore.NewWeighted(int64(concurrency)),
		})
		limits[cfg.Name] = cfg.MonthlyQuota
	}

	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].cfg.Priority < channels[j].cfg.Priority
	})

	return &Dispatcher{
		channels: channels,
		queue:    jobqueue.NewJobQueueWithOptions(1000, 2*time.Minute),
		ledger:   NewQuotaLedger(limits, clk),
		recorder: recorder,
		logger:   logger,
	}, nil
}

func buildProvider(cfg *conf.ChannelConfig) (Provider, error) {
	switch cfg.Type {
	case "shoutrrr":
		return NewShoutrrrProvider(cfg.Name, cfg.URLs, cfg.Timeout), nil
	case "webhook":
		return NewWebhookProvider(cfg.Name, cfg.Endpoint, cfg.Method, cfg.Headers, cfg.Timeout), nil
	case "mqtt":
		return NewMQTTProvider(cfg.Name, cfg.Broker, cfg.Topic, cfg.ClientID, cfg.Username, cfg.Password, cfg.Timeout), nil
	case "script":
		return NewScriptProvider(cfg.Name, cfg.Command, cfg.Args), nil
	default:
		return nil, errors.Newf("unknown channel type %q for channel %s", cfg.Type, cfg.Name).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// SetDeliveryObserver installs a callback timing each send attempt. Must be
// called before the first Dispatch.
func (d *Dispatcher) SetDeliveryObserver(fn DeliveryObserver) {
	d.observe = fn
}

// Start begins processing queued deliveries.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.StartWithContext(ctx)
}

// Stop drains in-flight deliveries and disconnects stateful providers.
func (d *Dispatcher) Stop() error {
	err := d.queue.StopWithTimeout(30 * time.Second)
	for _, ch := range d.channels {
		if closer, ok := ch.provider.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	return err
}

// Channels returns the names of the active channels in priority order.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.cfg.Name
	}
	return names
}

// QueueStats exposes the underlying delivery queue counters.
func (d *Dispatcher) QueueStats() jobqueue.Stats {
	return d.queue.GetStats()
}

// Dispatch submits the alert to the highest-priority channel. It never
// blocks on delivery; failures are handled by the retry and fallback chain.
func (d *Dispatcher) Dispatch(alert *Alert) {
	if len(d.channels) == 0 {
		d.logger.Warn("no notification channels configured, dropping alert",
			"alert_id", alert.ID, "species", alert.Species)
		return
	}
	d.dispatchFrom(0, alert)
}

// dispatchFrom tries channel idx, falling through on spent quota.
func (d *Dispatcher) dispatchFrom(idx int, alert *Alert) {
	if idx >= len(d.channels) {
		d.logger.Error("alert undeliverable, all channels failed or exhausted",
			"alert_id", alert.ID, "species", alert.Species, "channels", len(d.channels))
		return
	}

	ch := d.channels[idx]

	// A channel over its monthly quota is skipped outright: no attempt is
	// made and no retry budget is spent before falling back.
	if !d.ledger.Available(ch.cfg.Name) {
		d.logger.Warn("channel monthly quota exhausted, falling back",
			"alert_id", alert.ID, "channel", ch.cfg.Name,
			"quota", ch.cfg.MonthlyQuota, "used", d.ledger.Used(ch.cfg.Name))
		d.record(&Attempt{
			AlertID:  alert.ID,
			RecordID: alert.RecordID,
			Channel:  ch.cfg.Name,
			Status:   StatusExhausted,
		})
		d.dispatchFrom(idx+1, alert)
		return
	}

	action := &deliverAction{channel: ch, alert: alert, observe: d.observe}
	retry := jobqueue.RetryConfig{
		MaxRetries:   ch.cfg.MaxRetries,
		InitialDelay: ch.cfg.Backoff,
		MaxDelay:     ch.cfg.MaxBackoff,
		Multiplier:   2.0,
	}

	_, err := d.queue.Enqueue(action, retry, func(job *jobqueue.Job) {
		d.onDeliveryDone(idx, alert, job)
	})
	if err != nil {
		d.logger.Error("failed to enqueue delivery",
			"alert_id", alert.ID, "channel", ch.cfg.Name, "error", err)
		d.record(&Attempt{
			AlertID:   alert.ID,
			RecordID:  alert.RecordID,
			Channel:   ch.cfg.Name,
			Status:    StatusFailed,
			LastError: err.Error(),
		})
		// Remaining channels cannot be enqueued either, but each still gets
		// a terminal attempt row rather than being silently abandoned.
		d.dispatchFrom(idx+1, alert)
	}
}

// onDeliveryDone records the terminal outcome and chains the fallback.
func (d *Dispatcher) onDeliveryDone(idx int, alert *Alert, job *jobqueue.Job) {
	ch := d.channels[idx]

	if job.Status == jobqueue.JobStatusCompleted {
		d.ledger.Consume(ch.cfg.Name)
		d.logger.Info("alert delivered",
			"alert_id", alert.ID, "channel", ch.cfg.Name, "attempts", job.Attempts)
		d.record(&Attempt{
			AlertID:  alert.ID,
			RecordID: alert.RecordID,
			Channel:  ch.cfg.Name,
			Status:   StatusSent,
			Attempts: job.Attempts,
			SentAt:   time.Now(),
		})
		return
	}

	lastErr := ""
	if job.LastError != nil {
		lastErr = job.LastError.Error()
	}
	d.logger.Warn("channel delivery failed, falling back",
		"alert_id", alert.ID, "channel", ch.cfg.Name,
		"attempts", job.Attempts, "error", lastErr)
	d.record(&Attempt{
		AlertID:   alert.ID,
		RecordID:  alert.RecordID,
		Channel:   ch.cfg.Name,
		Status:    StatusFailed,
		Attempts:  job.Attempts,
		LastError: lastErr,
	})
	d.dispatchFrom(idx+1, alert)
}

func (d *Dispatcher) record(attempt *Attempt) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.recorder.RecordAttempt(ctx, attempt); err != nil {
		d.logger.Error("failed to persist delivery attempt",
			"alert_id", attempt.AlertID, "channel", attempt.Channel,
			"status", attempt.Status, "error", err)
	}
}

// deliverAction is one alert-on-one-channel delivery, executed by the queue.
type deliverAction struct {
	channel *channelState
	alert   *Alert
	observe DeliveryObserver
}

func (a *deliverAction) Description() string {
	return fmt.Sprintf("deliver alert %s via %s", a.alert.ID, a.channel.cfg.Name)
}

func (a *deliverAction) Execute(ctx context.Context) error {
	if err := a.channel.sem.Acquire(ctx, 1); err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryDelivery).
			Context("channel", a.channel.cfg.Name).
			Retryable(true).
			Build()
	}
	defer a.channel.sem.Release(1)

	if a.channel.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.channel.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := a.channel.provider.Send(ctx, a.alert)
	if a.observe != nil {
		a.observe(a.channel.cfg.Name, time.Since(start))
	}
	return err
}
