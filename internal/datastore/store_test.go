package datastore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	store, ok := New(settings).(*SQLiteStore)
	require.True(t, ok)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(species string, detectedAt time.Time) *DetectionRecord {
	return &DetectionRecord{
		RecordID:    uuid.New().String(),
		SourceNode:  "test-node",
		Species:     species,
		Confidence:  0.87,
		BoxX:        0.1,
		BoxY:        0.2,
		BoxW:        0.3,
		BoxH:        0.4,
		DetectedAt:  detectedAt,
		SourceID:    "cam1",
		Outcome:     "ALERT",
		Reason:      "first_sighting",
		CooldownKey: species,
	}
}

func TestSaveAndGetRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("norway_rat", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	rec.EvidencePath = "/tmp/evidence.jpg"
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, rec.RecordID)
	require.NoError(t, err)
	assert.Equal(t, rec.RecordID, got.RecordID)
	assert.Equal(t, "norway_rat", got.Species)
	assert.InDelta(t, 0.87, got.Confidence, 1e-9)
	assert.InDelta(t, 0.3, got.BoxW, 1e-9)
	assert.Equal(t, "ALERT", got.Outcome)
	assert.Equal(t, "first_sighting", got.Reason)
	assert.Equal(t, "/tmp/evidence.jpg", got.EvidencePath)
	assert.True(t, got.DetectedAt.Equal(rec.DetectedAt))
}

func TestGetMissingRecord(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), uuid.New().String())
	require.Error(t, err)
	assert.Equal(t, errors.CategoryNotFound, errors.CategoryOf(err))
}

func TestRecordAttemptUpsertAndMonotonicStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("mouse", time.Now().UTC())
	require.NoError(t, store.Save(ctx, rec))

	alertID := uuid.New().String()
	pending := &NotificationAttempt{
		RecordID: rec.RecordID,
		AlertID:  alertID,
		Channel:  "webhook",
		Status:   "PENDING",
	}
	require.NoError(t, store.RecordAttempt(ctx, pending))

	sentAt := time.Now().UTC()
	sent := &NotificationAttempt{
		RecordID: rec.RecordID,
		AlertID:  alertID,
		Channel:  "webhook",
		Status:   "SENT",
		Attempts: 2,
		SentAt:   &sentAt,
	}
	require.NoError(t, store.RecordAttempt(ctx, sent))

	// A stale PENDING after the terminal SENT must not regress the row.
	require.NoError(t, store.RecordAttempt(ctx, &NotificationAttempt{
		RecordID: rec.RecordID,
		AlertID:  alertID,
		Channel:  "webhook",
		Status:   "PENDING",
	}))

	attempts, err := store.GetAttempts(ctx, rec.RecordID)
	require.NoError(t, err)
	require.Len(t, attempts, 1, "one row per alert and channel")
	assert.Equal(t, "SENT", attempts[0].Status)
	assert.Equal(t, 2, attempts[0].Attempts)
	require.NotNil(t, attempts[0].SentAt)
}

func TestRecordAttemptIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("mouse", time.Now().UTC())
	require.NoError(t, store.Save(ctx, rec))

	attempt := &NotificationAttempt{
		RecordID: rec.RecordID,
		AlertID:  uuid.New().String(),
		Channel:  "mqtt",
		Status:   "FAILED",
		Attempts: 3,
	}
	require.NoError(t, store.RecordAttempt(ctx, attempt))
	require.NoError(t, store.RecordAttempt(ctx, attempt))

	attempts, err := store.GetAttempts(ctx, rec.RecordID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestRecordAttemptRejectsInvalidStatus(t *testing.T) {
	store := newTestStore(t)

	err := store.RecordAttempt(context.Background(), &NotificationAttempt{
		AlertID: uuid.New().String(),
		Channel: "webhook",
		Status:  "BOGUS",
	})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
}

func TestSearchFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, testRecord("norway_rat", base)))
	require.NoError(t, store.Save(ctx, testRecord("norway_rat", base.Add(time.Hour))))
	require.NoError(t, store.Save(ctx, testRecord("mouse", base.Add(2*time.Hour))))

	rats, err := store.Search(ctx, SearchFilter{Species: "norway_rat"})
	require.NoError(t, err)
	assert.Len(t, rats, 2)
	// Newest first.
	assert.True(t, rats[0].DetectedAt.After(rats[1].DetectedAt))

	windowed, err := store.Search(ctx, SearchFilter{
		Since: base.Add(30 * time.Minute),
		Until: base.Add(90 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "norway_rat", windowed[0].Species)

	limited, err := store.Search(ctx, SearchFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSearchByDeliveryStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	delivered := testRecord("norway_rat", base)
	failed := testRecord("mouse", base.Add(time.Hour))
	unattempted := testRecord("roof_rat", base.Add(2*time.Hour))
	require.NoError(t, store.Save(ctx, delivered))
	require.NoError(t, store.Save(ctx, failed))
	require.NoError(t, store.Save(ctx, unattempted))

	sentAt := base.Add(time.Minute)
	require.NoError(t, store.RecordAttempt(ctx, &NotificationAttempt{
		RecordID: delivered.RecordID,
		AlertID:  uuid.New().String(),
		Channel:  "webhook",
		Status:   "SENT",
		Attempts: 1,
		SentAt:   &sentAt,
	}))
	require.NoError(t, store.RecordAttempt(ctx, &NotificationAttempt{
		RecordID: failed.RecordID,
		AlertID:  uuid.New().String(),
		Channel:  "webhook",
		Status:   "FAILED",
		Attempts: 2,
	}))

	sent, err := store.Search(ctx, SearchFilter{DeliveryStatus: "SENT"})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, delivered.RecordID, sent[0].RecordID)

	undelivered, err := store.Search(ctx, SearchFilter{DeliveryStatus: "FAILED"})
	require.NoError(t, err)
	require.Len(t, undelivered, 1)
	assert.Equal(t, failed.RecordID, undelivered[0].RecordID)

	// Delivery status combines with the other filters.
	none, err := store.Search(ctx, SearchFilter{Species: "norway_rat", DeliveryStatus: "FAILED"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPruneDeletesOldRecordsAttemptsAndEvidence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	evidenceDir := t.TempDir()

	old := testRecord("norway_rat", time.Now().UTC().Add(-40*24*time.Hour))
	old.EvidencePath = filepath.Join(evidenceDir, "old.jpg")
	require.NoError(t, os.WriteFile(old.EvidencePath, []byte("jpeg"), 0o644))
	require.NoError(t, store.Save(ctx, old))
	require.NoError(t, store.RecordAttempt(ctx, &NotificationAttempt{
		RecordID: old.RecordID,
		AlertID:  uuid.New().String(),
		Channel:  "webhook",
		Status:   "SENT",
	}))

	fresh := testRecord("mouse", time.Now().UTC())
	require.NoError(t, store.Save(ctx, fresh))

	result, err := store.Prune(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RecordsDeleted)
	assert.Equal(t, int64(1), result.AttemptsDeleted)
	assert.Equal(t, 1, result.EvidenceDeleted)
	assert.NoFileExists(t, old.EvidencePath)

	_, err = store.Get(ctx, old.RecordID)
	assert.Error(t, err)
	_, err = store.Get(ctx, fresh.RecordID)
	assert.NoError(t, err)
}

func TestStatsCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testRecord("norway_rat", time.Now().UTC())))
	require.NoError(t, store.Save(ctx, testRecord("norway_rat", time.Now().UTC())))
	mouse := testRecord("mouse", time.Now().UTC())
	require.NoError(t, store.Save(ctx, mouse))
	require.NoError(t, store.RecordAttempt(ctx, &NotificationAttempt{
		RecordID: mouse.RecordID,
		AlertID:  uuid.New().String(),
		Channel:  "webhook",
		Status:   "SENT",
	}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalRecords)
	assert.Equal(t, int64(2), stats.RecordsBySpecies["norway_rat"])
	assert.Equal(t, int64(1), stats.RecordsBySpecies["mouse"])
	assert.Equal(t, int64(1), stats.AttemptsByStatus["SENT"])
}
