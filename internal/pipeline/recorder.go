package pipeline

import (
	"context"
	"time"

	"github.com/tphakala/rodentwatch/internal/datastore"
	"github.com/tphakala/rodentwatch/internal/notify"
	"github.com/tphakala/rodentwatch/internal/observability"
)

// StoreRecorder persists delivery attempt outcomes into the datastore and
// counts them. It implements notify.AttemptRecorder.
type StoreRecorder struct {
	store   datastore.Interface
	metrics *observability.Metrics
}

func NewStoreRecorder(store datastore.Interface, metrics *observability.Metrics) *StoreRecorder {
	return &StoreRecorder{store: store, metrics: metrics}
}

func (r *StoreRecorder) RecordAttempt(ctx context.Context, attempt *notify.Attempt) error {
	if r.metrics != nil {
		r.metrics.DeliveriesTotal.WithLabelValues(attempt.Channel, string(attempt.Status)).Inc()
		if attempt.Status == notify.StatusExhausted {
			r.metrics.QuotaSkippedTotal.WithLabelValues(attempt.Channel).Inc()
		}
	}

	var sentAt *time.Time
	if !attempt.SentAt.IsZero() {
		t := attempt.SentAt
		sentAt = &t
	}

	return r.store.RecordAttempt(ctx, &datastore.NotificationAttempt{
		RecordID:  attempt.RecordID,
		AlertID:   attempt.AlertID,
		Channel:   attempt.Channel,
		Status:    string(attempt.Status),
		Attempts:  attempt.Attempts,
		LastError: attempt.LastError,
		SentAt:    sentAt,
	})
}
