// Package alert implements the stateful cooldown policy that decides whether
// a detection results in an operator alert or is suppressed as a duplicate.
package alert

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/detection"
)

// Outcome of a policy evaluation.
type Outcome string

const (
	OutcomeAlert      Outcome = "ALERT"
	OutcomeSuppressed Outcome = "SUPPRESSED"
)

// Decision reasons.
const (
	ReasonFirstSighting  = "first_sighting"
	ReasonCooldownPassed = "cooldown_passed"
	ReasonCooldownActive = "cooldown_active"
)

// Decision is the result of evaluating one detection against the cooldown
// policy. Exactly one decision is produced per detection.
type Decision struct {
	Outcome     Outcome
	Reason      string
	CooldownKey string
	DecidedAt   time.Time
}

// shardCount is the number of lock stripes for cooldown state. Evaluations
// for the same key always land on the same shard and are serialized there;
// keys on different shards never contend.
const shardCount = 32

type shard struct {
	mu        sync.Mutex
	lastAlert map[string]time.Time
}

// Tracker holds the last-alert time per cooldown key. All cooldown state is
// encapsulated here and only observable through Evaluate and Stats.
type Tracker struct {
	cooldown time.Duration
	scope    string
	clock    clock.Clock
	shards   [shardCount]shard

	countMu sync.Mutex
	counts  map[string]int
}

// NewTracker creates a cooldown tracker from the alert settings. The clock is
// injectable for tests; pass clock.New() in production.
func NewTracker(cfg conf.AlertSettings, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	t := &Tracker{
		cooldown: cfg.Cooldown,
		scope:    cfg.Scope,
		clock:    clk,
		counts:   make(map[string]int),
	}
	for i := range t.shards {
		t.shards[i].lastAlert = make(map[string]time.Time)
	}
	return t
}

// KeyFor computes the cooldown key for a detection under the configured scope.
func (t *Tracker) KeyFor(d *detection.Detection) string {
	switch t.scope {
	case conf.ScopeSpeciesSource:
		return d.Species + "|" + d.SourceID
	case conf.ScopeGlobal:
		return "global"
	default: // conf.ScopeSpecies
		return d.Species
	}
}

func (t *Tracker) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &t.shards[h.Sum32()%shardCount]
}

// Evaluate decides whether the detection may alert. The check and the state
// update happen atomically under the key's shard lock, so two concurrent
// evaluations of the same key can never both observe an expired cooldown.
func (t *Tracker) Evaluate(d *detection.Detection) Decision {
	key := t.KeyFor(d)
	now := t.clock.Now()

	s := t.shardFor(key)
	s.mu.Lock()
	last, exists := s.lastAlert[key]

	if !exists {
		s.lastAlert[key] = now
		s.mu.Unlock()
		t.countAlert(d.Species)
		return Decision{Outcome: OutcomeAlert, Reason: ReasonFirstSighting, CooldownKey: key, DecidedAt: now}
	}

	// Clamp against backward clock adjustments: a negative elapsed time
	// keeps the cooldown active rather than re-arming it.
	elapsed := now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}

	if elapsed >= t.cooldown {
		s.lastAlert[key] = now
		s.mu.Unlock()
		t.countAlert(d.Species)
		return Decision{Outcome: OutcomeAlert, Reason: ReasonCooldownPassed, CooldownKey: key, DecidedAt: now}
	}

	s.mu.Unlock()
	return Decision{Outcome: OutcomeSuppressed, Reason: ReasonCooldownActive, CooldownKey: key, DecidedAt: now}
}

func (t *Tracker) countAlert(species string) {
	t.countMu.Lock()
	t.counts[species]++
	t.countMu.Unlock()
}

// CooldownStatus describes one key's suppression state.
type CooldownStatus struct {
	LastAlert time.Time
	Active    bool
	Remaining time.Duration
}

// Stats is a point-in-time snapshot of the tracker state for health logging.
type Stats struct {
	TotalAlerts     int
	AlertsBySpecies map[string]int
	Cooldowns       map[string]CooldownStatus
}

// Stats returns a snapshot of alert counts and active cooldowns.
func (t *Tracker) Stats() Stats {
	now := t.clock.Now()

	st := Stats{
		AlertsBySpecies: make(map[string]int),
		Cooldowns:       make(map[string]CooldownStatus),
	}

	t.countMu.Lock()
	for species, n := range t.counts {
		st.AlertsBySpecies[species] = n
		st.TotalAlerts += n
	}
	t.countMu.Unlock()

	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for key, last := range s.lastAlert {
			remaining := t.cooldown - now.Sub(last)
			if remaining < 0 {
				remaining = 0
			}
			st.Cooldowns[key] = CooldownStatus{
				LastAlert: last,
				Active:    remaining > 0,
				Remaining: remaining,
			}
		}
		s.mu.Unlock()
	}

	return st
}
