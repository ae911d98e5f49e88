// interfaces.go defines the interface for the database operations
package datastore

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/errors"
)

// Interface abstracts the underlying database implementation and defines the
// operations the pipeline needs.
type Interface interface {
	Open() error
	Close() error
	Save(ctx context.Context, record *DetectionRecord) error
	Get(ctx context.Context, recordID string) (DetectionRecord, error)
	RecordAttempt(ctx context.Context, attempt *NotificationAttempt) error
	GetAttempts(ctx context.Context, recordID string) ([]NotificationAttempt, error)
	Search(ctx context.Context, filter SearchFilter) ([]DetectionRecord, error)
	Prune(ctx context.Context, olderThan time.Time) (PruneResult, error)
	Stats(ctx context.Context) (Stats, error)
}

// SearchFilter narrows a record search. Zero values mean "any".
type SearchFilter struct {
	Species        string
	SourceID       string
	Outcome        string // decision outcome, ALERT or SUPPRESSED
	DeliveryStatus string // matches records with an attempt in this status
	Since          time.Time
	Until          time.Time
	Limit          int
	Offset         int
}

// PruneResult summarizes one retention pass.
type PruneResult struct {
	RecordsDeleted  int64
	AttemptsDeleted int64
	EvidenceDeleted int
	EvidenceErrors  int
}

// Stats is a summary of the stored data for health logging.
type Stats struct {
	TotalRecords     int64
	RecordsBySpecies map[string]int64
	AttemptsByStatus map[string]int64
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a DataStore instance based on the configured output.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// Save stores one detection record.
func (ds *DataStore) Save(ctx context.Context, record *DetectionRecord) error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}

	if err := ds.DB.WithContext(ctx).Create(record).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("record_id", record.RecordID).
			Build()
	}
	return nil
}

// Get retrieves a record by its uuid, attempts included.
func (ds *DataStore) Get(ctx context.Context, recordID string) (DetectionRecord, error) {
	var record DetectionRecord
	err := ds.DB.WithContext(ctx).
		Preload("Attempts").
		Where("record_id = ?", recordID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DetectionRecord{}, errors.Newf("record %s not found", recordID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return DetectionRecord{}, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return record, nil
}

// statusRank orders attempt statuses for the monotonic update rule. PENDING
// may advance to any terminal status; terminal statuses never regress.
func statusRank(status string) int {
	switch status {
	case "PENDING":
		return 0
	case "SENT", "FAILED", "EXHAUSTED":
		return 1
	default:
		return -1
	}
}

// RecordAttempt upserts the delivery attempt row for one (alert, channel)
// pair. The update is idempotent and monotonic: re-recording the same status
// is harmless, and a terminal status is never replaced by PENDING.
func (ds *DataStore) RecordAttempt(ctx context.Context, attempt *NotificationAttempt) error {
	if statusRank(attempt.Status) < 0 {
		return errors.Newf("invalid attempt status %q", attempt.Status).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing NotificationAttempt
		err := tx.Where("alert_id = ? AND channel = ?", attempt.AlertID, attempt.Channel).
			First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(attempt).Error
		case err != nil:
			return err
		}

		if statusRank(attempt.Status) < statusRank(existing.Status) {
			// Stale update, terminal state wins.
			return nil
		}

		existing.Status = attempt.Status
		existing.Attempts = attempt.Attempts
		existing.LastError = attempt.LastError
		existing.SentAt = attempt.SentAt
		return tx.Save(&existing).Error
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("alert_id", attempt.AlertID).
			Context("channel", attempt.Channel).
			Build()
	}
	return nil
}

// GetAttempts returns all delivery attempts for a record.
func (ds *DataStore) GetAttempts(ctx context.Context, recordID string) ([]NotificationAttempt, error) {
	var attempts []NotificationAttempt
	err := ds.DB.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("channel").
		Find(&attempts).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return attempts, nil
}

// Search returns records matching the filter, newest first.
func (ds *DataStore) Search(ctx context.Context, filter SearchFilter) ([]DetectionRecord, error) {
	query := ds.DB.WithContext(ctx).Model(&DetectionRecord{})

	if filter.Species != "" {
		query = query.Where("species = ?", filter.Species)
	}
	if filter.SourceID != "" {
		query = query.Where("source_id = ?", filter.SourceID)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}
	if filter.DeliveryStatus != "" {
		query = query.Where(
			"record_id IN (?)",
			ds.DB.Model(&NotificationAttempt{}).Select("record_id").Where("status = ?", filter.DeliveryStatus),
		)
	}
	if !filter.Since.IsZero() {
		query = query.Where("detected_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("detected_at < ?", filter.Until)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var records []DetectionRecord
	if err := query.Order("detected_at DESC").Find(&records).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return records, nil
}

// Prune deletes records older than the cutoff together with their attempts
// and evidence files. Evidence removal is best effort, missing files are not
// an error.
func (ds *DataStore) Prune(ctx context.Context, olderThan time.Time) (PruneResult, error) {
	var result PruneResult

	var evidencePaths []string
	err := ds.DB.WithContext(ctx).Model(&DetectionRecord{}).
		Where("detected_at < ? AND evidence_path <> ''", olderThan).
		Pluck("evidence_path", &evidencePaths).Error
	if err != nil {
		return result, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempts := tx.Where(
			"record_id IN (?)",
			tx.Model(&DetectionRecord{}).Select("record_id").Where("detected_at < ?", olderThan),
		).Delete(&NotificationAttempt{})
		if attempts.Error != nil {
			return attempts.Error
		}
		result.AttemptsDeleted = attempts.RowsAffected

		records := tx.Where("detected_at < ?", olderThan).Delete(&DetectionRecord{})
		if records.Error != nil {
			return records.Error
		}
		result.RecordsDeleted = records.RowsAffected
		return nil
	})
	if err != nil {
		return result, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	for _, path := range evidencePaths {
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				result.EvidenceErrors++
			}
			continue
		}
		result.EvidenceDeleted++
	}

	return result, nil
}

// Stats summarizes stored records and attempts.
func (ds *DataStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		RecordsBySpecies: make(map[string]int64),
		AttemptsByStatus: make(map[string]int64),
	}

	if err := ds.DB.WithContext(ctx).Model(&DetectionRecord{}).Count(&stats.TotalRecords).Error; err != nil {
		return stats, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	type countRow struct {
		Key   string
		Count int64
	}

	var bySpecies []countRow
	err := ds.DB.WithContext(ctx).Model(&DetectionRecord{}).
		Select("species AS key, COUNT(*) AS count").
		Group("species").
		Scan(&bySpecies).Error
	if err != nil {
		return stats, fmt.Errorf("counting records by species: %w", err)
	}
	for _, row := range bySpecies {
		stats.RecordsBySpecies[row.Key] = row.Count
	}

	var byStatus []countRow
	err = ds.DB.WithContext(ctx).Model(&NotificationAttempt{}).
		Select("status AS key, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return stats, fmt.Errorf("counting attempts by status: %w", err)
	}
	for _, row := range byStatus {
		stats.AttemptsByStatus[row.Key] = row.Count
	}

	return stats, nil
}
