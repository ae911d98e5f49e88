package alert

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/detection"
)

func det(species, source string) *detection.Detection {
	return &detection.Detection{
		Species:    species,
		Confidence: 0.9,
		SourceID:   source,
	}
}

func newTestTracker(cooldown time.Duration, scope string) (*Tracker, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewTracker(conf.AlertSettings{Cooldown: cooldown, Scope: scope}, mock), mock
}

func TestEvaluateFirstSightingAlerts(t *testing.T) {
	tr, _ := newTestTracker(10*time.Minute, conf.ScopeSpecies)

	d := tr.Evaluate(det("norway_rat", "cam1"))
	assert.Equal(t, OutcomeAlert, d.Outcome)
	assert.Equal(t, ReasonFirstSighting, d.Reason)
	assert.Equal(t, "norway_rat", d.CooldownKey)
}

// Scenario: two norway_rat sightings 5s apart with a 600s cooldown. The first
// alerts, the second is suppressed.
func TestEvaluateCooldownSuppressesSecondSighting(t *testing.T) {
	tr, mock := newTestTracker(600*time.Second, conf.ScopeSpecies)

	first := tr.Evaluate(det("norway_rat", "cam1"))
	require.Equal(t, OutcomeAlert, first.Outcome)

	mock.Add(5 * time.Second)
	second := tr.Evaluate(det("norway_rat", "cam1"))
	assert.Equal(t, OutcomeSuppressed, second.Outcome)
	assert.Equal(t, ReasonCooldownActive, second.Reason)
}

func TestEvaluateAlertsAgainAfterCooldown(t *testing.T) {
	tr, mock := newTestTracker(10*time.Minute, conf.ScopeSpecies)

	require.Equal(t, OutcomeAlert, tr.Evaluate(det("mouse", "cam1")).Outcome)

	mock.Add(10 * time.Minute) // elapsed == cooldown, allowed again
	d := tr.Evaluate(det("mouse", "cam1"))
	assert.Equal(t, OutcomeAlert, d.Outcome)
	assert.Equal(t, ReasonCooldownPassed, d.Reason)
}

func TestEvaluateDistinctKeysIndependent(t *testing.T) {
	tr, _ := newTestTracker(10*time.Minute, conf.ScopeSpecies)

	assert.Equal(t, OutcomeAlert, tr.Evaluate(det("norway_rat", "cam1")).Outcome)
	assert.Equal(t, OutcomeAlert, tr.Evaluate(det("roof_rat", "cam1")).Outcome)
	assert.Equal(t, OutcomeAlert, tr.Evaluate(det("mouse", "cam1")).Outcome)
}

func TestKeyScopes(t *testing.T) {
	species, _ := newTestTracker(time.Minute, conf.ScopeSpecies)
	assert.Equal(t, "norway_rat", species.KeyFor(det("norway_rat", "cam1")))

	combined, _ := newTestTracker(time.Minute, conf.ScopeSpeciesSource)
	assert.Equal(t, "norway_rat|cam1", combined.KeyFor(det("norway_rat", "cam1")))

	global, _ := newTestTracker(time.Minute, conf.ScopeGlobal)
	assert.Equal(t, "global", global.KeyFor(det("norway_rat", "cam1")))
}

func TestScopeSpeciesSourceSeparatesCameras(t *testing.T) {
	tr, _ := newTestTracker(10*time.Minute, conf.ScopeSpeciesSource)

	assert.Equal(t, OutcomeAlert, tr.Evaluate(det("norway_rat", "cam1")).Outcome)
	assert.Equal(t, OutcomeAlert, tr.Evaluate(det("norway_rat", "cam2")).Outcome)
	assert.Equal(t, OutcomeSuppressed, tr.Evaluate(det("norway_rat", "cam1")).Outcome)
}

func TestClockRegressionKeepsCooldownActive(t *testing.T) {
	tr, mock := newTestTracker(10*time.Minute, conf.ScopeSpecies)

	require.Equal(t, OutcomeAlert, tr.Evaluate(det("norway_rat", "cam1")).Outcome)

	// Clock jumps backwards; the negative elapsed time must clamp to zero.
	mock.Set(mock.Now().Add(-time.Hour))
	d := tr.Evaluate(det("norway_rat", "cam1"))
	assert.Equal(t, OutcomeSuppressed, d.Outcome)
}

// At most one alert per key under concurrent submission: many goroutines
// evaluating the same key simultaneously must produce exactly one ALERT.
func TestEvaluateConcurrentSameKeySingleAlert(t *testing.T) {
	tr, _ := newTestTracker(10*time.Minute, conf.ScopeSpecies)

	const workers = 64
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, workers)

	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			outcomes <- tr.Evaluate(det("norway_rat", "cam1")).Outcome
		}()
	}
	close(start)
	wg.Wait()
	close(outcomes)

	alerts := 0
	for o := range outcomes {
		if o == OutcomeAlert {
			alerts++
		}
	}
	assert.Equal(t, 1, alerts)
}

// Multiple detections of the same key within one frame: only the first
// transitions state.
func TestSameFrameDuplicatesSuppressed(t *testing.T) {
	tr, _ := newTestTracker(10*time.Minute, conf.ScopeSpecies)

	frame := []*detection.Detection{
		det("norway_rat", "cam1"),
		det("norway_rat", "cam1"),
		det("norway_rat", "cam1"),
	}

	var alerts int
	for _, d := range frame {
		if tr.Evaluate(d).Outcome == OutcomeAlert {
			alerts++
		}
	}
	assert.Equal(t, 1, alerts)
}

func TestStatsSnapshot(t *testing.T) {
	tr, mock := newTestTracker(10*time.Minute, conf.ScopeSpecies)

	tr.Evaluate(det("norway_rat", "cam1"))
	mock.Add(11 * time.Minute)
	tr.Evaluate(det("norway_rat", "cam1"))
	tr.Evaluate(det("mouse", "cam1"))
	mock.Add(3 * time.Minute)

	st := tr.Stats()
	assert.Equal(t, 3, st.TotalAlerts)
	assert.Equal(t, 2, st.AlertsBySpecies["norway_rat"])
	assert.Equal(t, 1, st.AlertsBySpecies["mouse"])

	cd, ok := st.Cooldowns["mouse"]
	require.True(t, ok)
	assert.True(t, cd.Active)
	assert.Equal(t, 7*time.Minute, cd.Remaining)
}
