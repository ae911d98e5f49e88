package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/rodentwatch/internal/alert"
	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/datastore"
	"github.com/tphakala/rodentwatch/internal/detection"
	"github.com/tphakala/rodentwatch/internal/errors"
	"github.com/tphakala/rodentwatch/internal/notify"
)

// fakeStore is an in-memory datastore.Interface with failure injection.
type fakeStore struct {
	mu          sync.Mutex
	records     []datastore.DetectionRecord
	attempts    []datastore.NotificationAttempt
	failSpecies string // Save fails for records of this species
}

func (s *fakeStore) Open() error  { return nil }
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) Save(ctx context.Context, record *datastore.DetectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSpecies != "" && record.Species == s.failSpecies {
		return errors.Newf("disk full").Category(errors.CategoryDatabase).Build()
	}
	s.records = append(s.records, *record)
	return nil
}

func (s *fakeStore) Get(ctx context.Context, recordID string) (datastore.DetectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].RecordID == recordID {
			return s.records[i], nil
		}
	}
	return datastore.DetectionRecord{}, errors.Newf("not found").Category(errors.CategoryNotFound).Build()
}

func (s *fakeStore) RecordAttempt(ctx context.Context, attempt *datastore.NotificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *attempt)
	return nil
}

func (s *fakeStore) GetAttempts(ctx context.Context, recordID string) ([]datastore.NotificationAttempt, error) {
	return nil, nil
}

func (s *fakeStore) Search(ctx context.Context, filter datastore.SearchFilter) ([]datastore.DetectionRecord, error) {
	return nil, nil
}

func (s *fakeStore) Prune(ctx context.Context, olderThan time.Time) (datastore.PruneResult, error) {
	return datastore.PruneResult{}, nil
}

func (s *fakeStore) Stats(ctx context.Context) (datastore.Stats, error) {
	return datastore.Stats{}, nil
}

func (s *fakeStore) savedRecords() []datastore.DetectionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]datastore.DetectionRecord(nil), s.records...)
}

type fakeDispatcher struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (d *fakeDispatcher) Dispatch(alert *notify.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, *alert)
}

func (d *fakeDispatcher) dispatched() []notify.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Alert(nil), d.alerts...)
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Main.Name = "test-node"
	settings.Detection = conf.DetectionSettings{ConfidenceThreshold: 0.25, NMSThreshold: 0.45}
	settings.Alerts = conf.AlertSettings{Cooldown: 10 * time.Minute, Scope: conf.ScopeSpecies}
	settings.Realtime.EvidencePath = t.TempDir()
	return settings
}

func newTestCoordinator(t *testing.T, store datastore.Interface) (*Coordinator, *fakeDispatcher) {
	t.Helper()
	settings := testSettings(t)
	dispatcher := &fakeDispatcher{}
	tracker := alert.NewTracker(settings.Alerts, nil)
	return NewCoordinator(settings, tracker, dispatcher, store, nil), dispatcher
}

func rawDet(classID int, score, x float64) detection.RawDetection {
	return detection.RawDetection{
		ClassID:   classID,
		Score:     score,
		Box:       detection.Box{X: x, Y: 0.1, W: 0.2, H: 0.2},
		FrameTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testFrame(raw ...detection.RawDetection) *Frame {
	return &Frame{
		ID:        "frame-1",
		SourceID:  "cam1",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Raw:       raw,
	}
}

func TestProcessFrameStoresAndDispatches(t *testing.T) {
	store := &fakeStore{}
	c, dispatcher := newTestCoordinator(t, store)

	// Two species, both first sightings.
	err := c.ProcessFrame(context.Background(), testFrame(rawDet(0, 0.9, 0.1), rawDet(2, 0.8, 0.6)))
	require.NoError(t, err)

	records := store.savedRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "ALERT", records[0].Outcome)
	assert.Equal(t, "test-node", records[0].SourceNode)

	alerts := dispatcher.dispatched()
	require.Len(t, alerts, 2)
	assert.Equal(t, records[0].RecordID, alerts[0].RecordID)
}

func TestProcessFrameSuppressedDetectionIsStoredNotDispatched(t *testing.T) {
	store := &fakeStore{}
	c, dispatcher := newTestCoordinator(t, store)

	require.NoError(t, c.ProcessFrame(context.Background(), testFrame(rawDet(0, 0.9, 0.1))))
	require.NoError(t, c.ProcessFrame(context.Background(), testFrame(rawDet(0, 0.9, 0.1))))

	records := store.savedRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "ALERT", records[0].Outcome)
	assert.Equal(t, "SUPPRESSED", records[1].Outcome)
	assert.Equal(t, "cooldown_active", records[1].Reason)

	// Only the alerting detection produced a notification.
	assert.Len(t, dispatcher.dispatched(), 1)
}

// Storage failure for an alerting detection produces an error and no
// notification attempts.
func TestStoreFailurePreventsDispatch(t *testing.T) {
	store := &fakeStore{failSpecies: "norway_rat"}
	c, dispatcher := newTestCoordinator(t, store)

	err := c.ProcessFrame(context.Background(), testFrame(rawDet(0, 0.9, 0.1)))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryDatabase, errors.CategoryOf(err))
	assert.Empty(t, dispatcher.dispatched())
	assert.Empty(t, store.savedRecords())
}

// A failing detection does not abort the rest of the frame.
func TestProcessFramePerDetectionIsolation(t *testing.T) {
	store := &fakeStore{failSpecies: "norway_rat"}
	c, dispatcher := newTestCoordinator(t, store)

	err := c.ProcessFrame(context.Background(), testFrame(rawDet(0, 0.9, 0.1), rawDet(2, 0.8, 0.6)))
	require.Error(t, err)

	records := store.savedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "mouse", records[0].Species)
	assert.Len(t, dispatcher.dispatched(), 1)
}

func TestProcessFrameSavesEvidenceOnAlertOnly(t *testing.T) {
	store := &fakeStore{}
	c, dispatcher := newTestCoordinator(t, store)

	frame := testFrame(rawDet(0, 0.9, 0.1))
	frame.Evidence = []byte("jpeg bytes")
	require.NoError(t, c.ProcessFrame(context.Background(), frame))

	records := store.savedRecords()
	require.Len(t, records, 1)
	require.NotEmpty(t, records[0].EvidencePath)
	assert.FileExists(t, records[0].EvidencePath)
	assert.Equal(t, records[0].EvidencePath, dispatcher.dispatched()[0].EvidencePath)

	// Second sighting within cooldown: suppressed, evidence not written.
	dir := filepath.Dir(records[0].EvidencePath)
	before, err := os.ReadDir(dir)
	require.NoError(t, err)

	suppressed := testFrame(rawDet(0, 0.9, 0.1))
	suppressed.Evidence = []byte("more jpeg bytes")
	require.NoError(t, c.ProcessFrame(context.Background(), suppressed))

	after, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

// chanSource feeds a fixed set of frames, then closes.
type chanSource struct {
	name   string
	frames []Frame
}

func (s *chanSource) Name() string { return s.name }

func (s *chanSource) Frames(ctx context.Context) (<-chan Frame, error) {
	out := make(chan Frame)
	go func() {
		defer close(out)
		for _, f := range s.frames {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func TestRunProcessesSourcesAndShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &fakeStore{}
	c, dispatcher := newTestCoordinator(t, store)

	source := &chanSource{
		name:   "cam1",
		frames: []Frame{*testFrame(rawDet(0, 0.9, 0.1)), *testFrame(rawDet(2, 0.8, 0.6))},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Run(ctx, source))
	assert.Len(t, store.savedRecords(), 2)
	assert.Len(t, dispatcher.dispatched(), 2)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store)

	// A source that never closes its channel on its own.
	forever := make(chan Frame)
	src := frameSourceFunc{
		name: "cam1",
		frames: func(ctx context.Context) (<-chan Frame, error) {
			go func() {
				<-ctx.Done()
				close(forever)
			}()
			return forever, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, src) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

type frameSourceFunc struct {
	name   string
	frames func(ctx context.Context) (<-chan Frame, error)
}

func (f frameSourceFunc) Name() string                                       { return f.name }
func (f frameSourceFunc) Frames(ctx context.Context) (<-chan Frame, error)   { return f.frames(ctx) }
