package notify

import (
	"sync"

	"github.com/benbjohnson/clock"
)

// QuotaLedger tracks confirmed sends per channel against a monthly limit.
// The window is the calendar month of the current local time; counters reset
// lazily when the month rolls over. A limit of zero means unlimited.
type QuotaLedger struct {
	mu     sync.Mutex
	clock  clock.Clock
	limits map[string]int
	counts map[string]int
	months map[string]string // channel -> "2006-01" the count belongs to
}

// NewQuotaLedger creates a ledger with per-channel monthly limits. The clock
// is injectable for tests; pass clock.New() in production.
func NewQuotaLedger(limits map[string]int, clk clock.Clock) *QuotaLedger {
	if clk == nil {
		clk = clock.New()
	}
	return &QuotaLedger{
		clock:  clk,
		limits: limits,
		counts: make(map[string]int),
		months: make(map[string]string),
	}
}

func (q *QuotaLedger) monthKey() string {
	return q.clock.Now().Format("2006-01")
}

// rolloverLocked resets a channel's counter if its month has passed.
// Must be called with q.mu held.
func (q *QuotaLedger) rolloverLocked(channel, month string) {
	if q.months[channel] != month {
		q.months[channel] = month
		q.counts[channel] = 0
	}
}

// Available reports whether the channel still has quota this month.
func (q *QuotaLedger) Available(channel string) bool {
	limit, ok := q.limits[channel]
	if !ok || limit <= 0 {
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.rolloverLocked(channel, q.monthKey())
	return q.counts[channel] < limit
}

// Consume records one confirmed send. Call only after the provider reported
// success, so failed attempts never count against the quota.
func (q *QuotaLedger) Consume(channel string) {
	limit, ok := q.limits[channel]
	if !ok || limit <= 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.rolloverLocked(channel, q.monthKey())
	q.counts[channel]++
}

// Used returns the number of sends counted against the channel this month.
func (q *QuotaLedger) Used(channel string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rolloverLocked(channel, q.monthKey())
	return q.counts[channel]
}
