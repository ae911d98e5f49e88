// model.go defines the persisted data model: detection records and their
// notification delivery attempts.
package datastore

import "time"

// DetectionRecord is one normalized detection together with its policy
// decision. Every detection that passes normalization is stored, whether it
// alerted or was suppressed.
type DetectionRecord struct {
	ID         uint   `gorm:"primaryKey"`
	RecordID   string `gorm:"uniqueIndex;size:36"` // uuid assigned by the pipeline
	SourceNode string
	Species    string  `gorm:"index:idx_records_species;index:idx_records_species_time"`
	Confidence float64 `gorm:"index:idx_records_confidence"`

	// Normalized bounding box, fractions of frame size.
	BoxX float64
	BoxY float64
	BoxW float64
	BoxH float64

	DetectedAt time.Time `gorm:"index:idx_records_time;index:idx_records_species_time"`
	SourceID   string    `gorm:"index:idx_records_source"`

	// Policy decision.
	Outcome     string `gorm:"type:varchar(16);index:idx_records_outcome"` // ALERT or SUPPRESSED
	Reason      string `gorm:"type:varchar(32)"`
	CooldownKey string

	EvidencePath string

	Attempts []NotificationAttempt `gorm:"foreignKey:RecordID;references:RecordID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
}

// NotificationAttempt is the terminal outcome of delivering one alert on one
// channel. One row per (alert, channel) pair, updated monotonically: a
// terminal status is never overwritten by an earlier one.
type NotificationAttempt struct {
	ID       uint   `gorm:"primaryKey"`
	RecordID string `gorm:"index;size:36"`
	AlertID  string `gorm:"size:36;uniqueIndex:idx_attempts_alert_channel"`
	Channel  string `gorm:"uniqueIndex:idx_attempts_alert_channel;index:idx_attempts_channel"`

	Status    string `gorm:"type:varchar(16);index:idx_attempts_status"` // PENDING, SENT, FAILED, EXHAUSTED
	Attempts  int
	LastError string     `gorm:"type:text"`
	SentAt    *time.Time // set only for SENT

	CreatedAt time.Time
	UpdatedAt time.Time
}
