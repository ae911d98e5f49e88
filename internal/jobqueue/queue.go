// Package jobqueue provides a cancellable job queue with retry capabilities
// for asynchronous tasks with configurable backoff policies.
package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tphakala/rodentwatch/internal/errors"
	"github.com/tphakala/rodentwatch/internal/logging"
)

// Common errors returned by job queue operations
var (
	ErrNilAction    = errors.NewStd("cannot enqueue nil action")
	ErrQueueStopped = errors.NewStd("job queue has been stopped")
	ErrQueueFull    = errors.NewStd("job queue is full")
)

// RetryConfig holds the configuration for retry behavior of an action
type RetryConfig struct {
	MaxRetries   int           // Total attempt budget, the first try included
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Backoff multiplier for each subsequent retry
}

// Action is a unit of work the queue can execute. Execute is called with a
// per-attempt context; returning an error marked retryable (see the errors
// package) schedules another attempt, any other error fails the job at once.
type Action interface {
	Execute(ctx context.Context) error
	Description() string
}

// JobStatus represents the current status of a job in the queue
type JobStatus int

const (
	JobStatusPending JobStatus = iota
	JobStatusRunning
	JobStatusCompleted
	JobStatusFailed
	JobStatusRetrying
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "Pending"
	case JobStatusRunning:
		return "Running"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusFailed:
		return "Failed"
	case JobStatusRetrying:
		return "Retrying"
	default:
		return "Unknown"
	}
}

// Job represents a unit of work in the job queue
type Job struct {
	ID          string
	Action      Action
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	NextRetryAt time.Time
	Status      JobStatus
	LastError   error
	Config      RetryConfig

	// OnDone, when set, is invoked exactly once after the job reaches a
	// terminal status (Completed or Failed), outside the queue lock.
	OnDone func(job *Job)
}

// Stats tracks counters about job processing.
type Stats struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	DroppedJobs    int
	RetryAttempts  int
}

// JobQueue manages a queue of jobs that can be retried
type JobQueue struct {
	jobs               []*Job
	mu                 sync.Mutex
	stats              Stats
	jobCounter         int
	stopCh             chan struct{}
	runningJobs        sync.WaitGroup
	isRunning          bool
	maxJobs            int
	attemptTimeout     time.Duration
	processCancel      context.CancelFunc
	processingInterval time.Duration
	logger             *slog.Logger
}

// NewJobQueue creates a new job queue with default settings
func NewJobQueue() *JobQueue {
	return NewJobQueueWithOptions(1000, 30*time.Second)
}

// NewJobQueueWithOptions creates a new job queue with custom limits.
func NewJobQueueWithOptions(maxJobs int, attemptTimeout time.Duration) *JobQueue {
	logger := logging.ForService("jobqueue")
	if logger == nil {
		logger = slog.Default().With("service", "jobqueue")
	}
	return &JobQueue{
		jobs:               make([]*Job, 0),
		stopCh:             make(chan struct{}),
		maxJobs:            maxJobs,
		attemptTimeout:     attemptTimeout,
		processingInterval: time.Second,
		logger:             logger,
	}
}

// SetProcessingInterval sets the processing interval, mainly for tests.
func (q *JobQueue) SetProcessingInterval(interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processingInterval = interval
}

// StartWithContext starts the job queue processing loop.
func (q *JobQueue) StartWithContext(ctx context.Context) {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	q.stopCh = make(chan struct{})

	processCtx, cancel := context.WithCancel(ctx)
	q.processCancel = cancel
	q.mu.Unlock()

	go q.processJobs(processCtx)
}

// Start starts the job queue processing with a background context.
func (q *JobQueue) Start() {
	q.StartWithContext(context.Background())
}

// Stop stops the job queue with a default drain timeout.
func (q *JobQueue) Stop() error {
	return q.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout stops the queue: no new attempts are started, in-flight
// attempts are given until the timeout to finish, then cancelled. Jobs still
// pending or awaiting a retry are failed so their callbacks observe a
// terminal status.
func (q *JobQueue) StopWithTimeout(timeout time.Duration) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	cancel := q.processCancel
	q.processCancel = nil
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.runningJobs.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timed out waiting for jobs to complete after %v", timeout)
	}

	// Cancel only after draining so in-flight attempts get a chance to finish.
	if cancel != nil {
		cancel()
	}

	// Jobs still waiting to run or to retry will never execute. Fail them so
	// their completion callbacks fire and no job is left without a terminal
	// status.
	q.mu.Lock()
	var abandoned []*Job
	for _, job := range q.jobs {
		if job.Status == JobStatusPending || job.Status == JobStatusRetrying {
			job.Status = JobStatusFailed
			if job.LastError == nil {
				job.LastError = ErrQueueStopped
			}
			q.stats.FailedJobs++
			abandoned = append(abandoned, job)
		}
	}
	q.mu.Unlock()

	for _, job := range abandoned {
		if job.OnDone != nil {
			job.OnDone(job)
		}
	}
	return err
}

// Enqueue adds a job to the queue. The returned job is owned by the queue;
// callers observe completion through the OnDone callback.
func (q *JobQueue) Enqueue(action Action, config RetryConfig, onDone func(*Job)) (*Job, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return nil, ErrQueueStopped
	}

	if len(q.jobs) >= q.maxJobs {
		if !q.dropOldestPendingLocked() {
			q.stats.DroppedJobs++
			return nil, fmt.Errorf("%w: maximum queue size (%d) reached", ErrQueueFull, q.maxJobs)
		}
	}

	q.jobCounter++
	job := &Job{
		ID:          fmt.Sprintf("job-%d", q.jobCounter),
		Action:      action,
		MaxAttempts: max(1, config.MaxRetries),
		CreatedAt:   time.Now(),
		NextRetryAt: time.Now(), // ready to run immediately
		Status:      JobStatusPending,
		Config:      config,
		OnDone:      onDone,
	}

	q.jobs = append(q.jobs, job)
	q.stats.TotalJobs++

	return job, nil
}

// dropOldestPendingLocked removes the oldest pending job to make room.
// Must be called with q.mu held.
func (q *JobQueue) dropOldestPendingLocked() bool {
	oldestIdx := -1
	var oldestTime time.Time

	for i, job := range q.jobs {
		if job.Status == JobStatusPending {
			if oldestIdx == -1 || job.CreatedAt.Before(oldestTime) {
				oldestIdx = i
				oldestTime = job.CreatedAt
			}
		}
	}
	if oldestIdx == -1 {
		return false
	}

	dropped := q.jobs[oldestIdx]
	q.jobs = append(q.jobs[:oldestIdx], q.jobs[oldestIdx+1:]...)
	q.stats.DroppedJobs++
	q.logger.Warn("dropped oldest pending job to make room",
		"job_id", dropped.ID, "action", dropped.Action.Description())
	return true
}

// processJobs is the main processing loop.
func (q *JobQueue) processJobs(ctx context.Context) {
	q.mu.Lock()
	interval := q.processingInterval
	q.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			q.cleanupFinishedJobs()
			q.processDueJobs(ctx)
		}
	}
}

// cleanupFinishedJobs drops terminal jobs from the active list.
func (q *JobQueue) cleanupFinishedJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	active := q.jobs[:0]
	for _, job := range q.jobs {
		if job.Status != JobStatusCompleted && job.Status != JobStatusFailed {
			active = append(active, job)
		}
	}
	q.jobs = active
}

// backoffDelay calculates the delay before the next retry attempt:
// exponential with the configured multiplier, jittered, capped at MaxDelay.
func backoffDelay(config RetryConfig, attemptNum int) time.Duration {
	backoff := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attemptNum))

	jitterFactor := 0.9 + 0.2*float64(time.Now().Nanosecond())/1e9
	backoff *= jitterFactor

	if backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}

// processDueJobs launches jobs whose retry time has arrived.
func (q *JobQueue) processDueJobs(ctx context.Context) {
	q.mu.Lock()
	var due []*Job
	now := time.Now()
	for _, job := range q.jobs {
		if (job.Status == JobStatusPending || job.Status == JobStatusRetrying) && !job.NextRetryAt.After(now) {
			job.Status = JobStatusRunning
			due = append(due, job)
		}
	}
	q.mu.Unlock()

	for _, job := range due {
		q.runningJobs.Add(1)
		go func(j *Job) {
			defer q.runningJobs.Done()
			q.executeJob(ctx, j)
		}(job)
	}
}

// executeJob runs one attempt and handles retry classification.
func (q *JobQueue) executeJob(ctx context.Context, job *Job) {
	job.Attempts++

	if job.Attempts > 1 {
		q.mu.Lock()
		q.stats.RetryAttempts++
		q.mu.Unlock()
		q.logger.Debug("retrying job",
			"job_id", job.ID, "action", job.Action.Description(),
			"attempt", job.Attempts, "max_attempts", job.MaxAttempts)
	}

	execCtx, cancel := context.WithTimeout(ctx, q.attemptTimeout)
	defer cancel()

	// The result travels over a buffered channel so the timeout path never
	// races with the action goroutine's return value.
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("job execution panicked: %v", r)
			}
		}()
		errCh <- job.Action.Execute(execCtx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-execCtx.Done():
		err = fmt.Errorf("job execution aborted: %w", execCtx.Err())
	}

	var finished bool
	q.mu.Lock()
	if err != nil {
		job.LastError = err

		retryable := errors.IsRetryable(err) && ctx.Err() == nil
		if !retryable || job.Attempts >= job.MaxAttempts {
			job.Status = JobStatusFailed
			q.stats.FailedJobs++
			finished = true
		} else {
			job.Status = JobStatusRetrying
			delay := backoffDelay(job.Config, job.Attempts)
			job.NextRetryAt = time.Now().Add(delay)
		}
	} else {
		job.Status = JobStatusCompleted
		q.stats.SuccessfulJobs++
		finished = true
	}
	status := job.Status
	q.mu.Unlock()

	switch status {
	case JobStatusFailed:
		q.logger.Warn("job permanently failed",
			"job_id", job.ID, "action", job.Action.Description(),
			"attempts", job.Attempts, "error", err)
	case JobStatusRetrying:
		q.logger.Debug("job failed, will retry",
			"job_id", job.ID, "action", job.Action.Description(),
			"attempt", job.Attempts, "max_attempts", job.MaxAttempts, "error", err)
	case JobStatusCompleted:
		if job.Attempts > 1 {
			q.logger.Info("job succeeded after retries",
				"job_id", job.ID, "action", job.Action.Description(), "attempts", job.Attempts)
		}
	}

	if finished && job.OnDone != nil {
		job.OnDone(job)
	}
}

// GetStats returns a snapshot of the current job statistics
func (q *JobQueue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// ProcessImmediately processes pending jobs without waiting for the ticker.
// Intended for tests.
func (q *JobQueue) ProcessImmediately(ctx context.Context) {
	q.cleanupFinishedJobs()
	q.processDueJobs(ctx)
}
