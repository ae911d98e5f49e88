// Package notify delivers alerts to the configured channels: shoutrrr
// services, webhooks, MQTT and local scripts. Delivery is asynchronous with
// per-channel retry, monthly quota enforcement and priority fallback.
package notify

import (
	"context"
	"time"
)

// Alert is the notification payload produced for a detection that passed the
// cooldown policy.
type Alert struct {
	ID           string    // unique alert id
	RecordID     string    // id of the stored detection record
	Species      string
	Confidence   float64
	Timestamp    time.Time
	SourceID     string
	EvidencePath string // optional path to the captured frame
}

// AttemptStatus is the lifecycle state of one channel delivery attempt chain.
type AttemptStatus string

const (
	StatusPending   AttemptStatus = "PENDING"
	StatusSent      AttemptStatus = "SENT"
	StatusFailed    AttemptStatus = "FAILED"
	StatusExhausted AttemptStatus = "EXHAUSTED" // monthly quota reached, never attempted
)

// Attempt describes the outcome of delivering one alert on one channel.
type Attempt struct {
	AlertID   string
	RecordID  string
	Channel   string
	Status    AttemptStatus
	Attempts  int
	LastError string
	SentAt    time.Time
}

// AttemptRecorder persists delivery attempt outcomes. Implemented by the
// datastore; kept as an interface so the dispatcher stays storage-agnostic.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *Attempt) error
}

// Provider sends alerts over one transport. Send must honor the context and
// return errors classified through the errors package: retryable for
// transient transport failures, terminal for anything a retry cannot fix.
type Provider interface {
	Name() string
	ValidateConfig() error
	Send(ctx context.Context, alert *Alert) error
}
