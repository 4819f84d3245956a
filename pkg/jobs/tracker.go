// Package jobs tracks long-running server-side jobs (sales imports, demand
// predictions) from submission to a terminal outcome.
//
// Each tracked job is polled by its own goroutine on a fixed interval, so one
// job reaching SUCCESS or FAILED never affects another. Observations are
// monotonic: a status ranking below the last accepted one is discarded.
// Transient poll failures keep the last-known status and are retried on the
// next tick, up to a bounded number of consecutive failures and a maximum
// total wait; past either bound the job is abandoned, which is reported
// separately from FAILED.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/inventoryctl/pkg/apiclient"
)

const (
	// DefaultPollInterval is the delay between two polls of the same job.
	DefaultPollInterval = 3 * time.Second

	// DefaultMaxConsecutiveErrors is how many polls in a row may fail before
	// a job is abandoned.
	DefaultMaxConsecutiveErrors = 5

	// DefaultMaxWait bounds how long a job may stay non-terminal.
	DefaultMaxWait = 30 * time.Minute

	defaultEventBuffer = 64
)

var (
	// ErrAbandoned marks a job whose tracking stopped without a terminal
	// status. The job may still complete on the server.
	ErrAbandoned = errors.New("job tracking abandoned")

	// ErrTrackerClosed is returned when tracking is requested after Close.
	ErrTrackerClosed = errors.New("tracker is closed")

	// ErrNoJobID is returned by Submit when the server's answer names no job.
	ErrNoJobID = fmt.Errorf("%w: submission has no job id", apiclient.ErrDecode)
)

// Fetcher reads a job's current state. *apiclient.Client implements it.
type Fetcher interface {
	JobStatus(ctx context.Context, jobID int64) (*apiclient.JobStatusResponse, error)
}

// SubmitFunc starts a job on the server, e.g. a bound call to
// (*apiclient.Client).UploadSales.
type SubmitFunc func(ctx context.Context) (*apiclient.JobSubmission, error)

// Submission is the handle of a job accepted by the server.
type Submission struct {
	JobID   int64
	Status  Status
	Message string
}

// EventKind names what happened to a tracked job.
type EventKind string

const (
	// EventStatus reports an accepted non-terminal transition.
	EventStatus EventKind = "status"

	// EventPollError reports a failed poll. The job keeps its last-known
	// status and is polled again.
	EventPollError EventKind = "poll_error"

	// EventTerminal reports SUCCESS or FAILED. Polling for the job has ended.
	EventTerminal EventKind = "terminal"

	// EventAbandoned reports that polling gave up. Err wraps ErrAbandoned.
	EventAbandoned EventKind = "abandoned"
)

// Event is emitted on the tracker's event channel.
type Event struct {
	Kind  EventKind
	JobID int64
	Job   Job
	Err   error
	At    time.Time
}

// Tracker polls the jobs of one workflow. The tracked id list is append-only
// and owned by the tracker.
//
// A Tracker is safe for concurrent use.
type Tracker struct {
	fetcher   Fetcher
	interval  time.Duration
	maxErrors int
	maxWait   time.Duration
	after     func(time.Duration) <-chan time.Time
	now       func() time.Time
	logger    *zap.Logger
	metrics   *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	// sendMu is held shared by each event send and exclusively by Close,
	// so that no send starts or completes after Close returns.
	sendMu sync.RWMutex

	mu     sync.Mutex
	closed bool
	order  []int64
	jobs   map[int64]*Job
	active int
	idle   chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithInterval sets the delay between polls of a job.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithMaxConsecutiveErrors sets how many failed polls in a row abandon a job.
// n <= 0 disables the bound.
func WithMaxConsecutiveErrors(n int) Option {
	return func(t *Tracker) {
		t.maxErrors = n
	}
}

// WithMaxWait sets how long a job may stay non-terminal before it is
// abandoned. d <= 0 disables the bound.
func WithMaxWait(d time.Duration) Option {
	return func(t *Tracker) {
		t.maxWait = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithAfter replaces time.After for scheduling polls.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(t *Tracker) {
		if after != nil {
			t.after = after
		}
	}
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(t *Tracker) {
		if n >= 0 {
			t.events = make(chan Event, n)
		}
	}
}

// NewTracker creates a tracker that polls through f.
func NewTracker(f Fetcher, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	t := &Tracker{
		fetcher:   f,
		interval:  DefaultPollInterval,
		maxErrors: DefaultMaxConsecutiveErrors,
		maxWait:   DefaultMaxWait,
		after:     time.After,
		now:       time.Now,
		logger:    zap.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan Event, defaultEventBuffer),
		jobs:      make(map[int64]*Job),
		idle:      idle,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit starts a job with fn and begins tracking it. Errors from fn are
// returned unchanged and leave the tracker untouched, as does a response
// without a positive job id (ErrNoJobID).
func (t *Tracker) Submit(ctx context.Context, fn SubmitFunc) (Submission, error) {
	if t.isClosed() {
		return Submission{}, ErrTrackerClosed
	}
	resp, err := fn(ctx)
	if err != nil {
		return Submission{}, err
	}
	if resp == nil || resp.JobID <= 0 {
		return Submission{}, ErrNoJobID
	}

	status, perr := ParseStatus(resp.Status)
	if perr != nil {
		status = StatusPending
	}
	sub := Submission{JobID: resp.JobID, Status: status, Message: resp.Message}
	if err := t.Track(resp.JobID, status); err != nil {
		return sub, err
	}
	return sub, nil
}

// Track starts polling an existing job. initial is the last status known for
// it; a terminal or unknown initial status is treated as PENDING so that the
// outcome is still fetched. Tracking an id twice is a no-op.
func (t *Tracker) Track(id int64, initial Status) error {
	if initial.Terminal() || !initial.Valid() {
		initial = StatusPending
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}
	if _, ok := t.jobs[id]; ok {
		t.mu.Unlock()
		return nil
	}
	t.order = append(t.order, id)
	t.jobs[id] = &Job{ID: id, Status: initial, Result: Pending{}}
	if t.active == 0 {
		t.idle = make(chan struct{})
	}
	t.active++
	t.mu.Unlock()

	t.metrics.trackStarted()
	t.logger.Debug("Tracking job", zap.Int64("job_id", id), zap.String("status", string(initial)))

	go t.run(id)
	return nil
}

// Tracked returns the tracked job ids in the order they were added.
func (t *Tracker) Tracked() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int64, len(t.order))
	copy(out, t.order)
	return out
}

// Latest returns the last accepted observation of a job.
func (t *Tracker) Latest(id int64) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Events returns the channel on which job events are delivered. Pollers block
// while it is full, so a consumer should keep draining it.
func (t *Tracker) Events() <-chan Event {
	return t.events
}

// Wait blocks until no job is being polled or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.active == 0 {
			t.mu.Unlock()
			return nil
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops all polling. Responses that arrive afterwards are discarded
// and no further events are produced. Close is idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()

	// Wait out sends already in flight; blocked ones give up on ctx.
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tracker) run(id int64) {
	defer t.finish(id)

	start := t.now()
	failures := 0
	var lastErr error

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.after(t.interval):
		}

		if t.maxWait > 0 && t.now().Sub(start) >= t.maxWait {
			t.abandon(id, fmt.Errorf("%w: still not finished after %s", ErrAbandoned, t.maxWait))
			return
		}

		resp, err := t.fetcher.JobStatus(t.ctx, id)
		if t.ctx.Err() != nil {
			return
		}

		if err == nil {
			var ok bool
			if ok, err = t.observe(id, resp); err == nil {
				failures = 0
				if ok {
					return
				}
				continue
			}
		}

		if apiclient.IsUnauthenticated(err) {
			t.abandon(id, fmt.Errorf("%w: %w", ErrAbandoned, err))
			return
		}

		failures++
		lastErr = err
		t.metrics.observePollError()
		t.logger.Warn("Job poll failed; keeping last-known status",
			zap.Int64("job_id", id),
			zap.Int("consecutive_failures", failures),
			zap.Error(err))
		if !t.emitIfOpen(id, EventPollError, err) {
			return
		}

		if t.maxErrors > 0 && failures >= t.maxErrors {
			t.abandon(id, fmt.Errorf("%w: %d consecutive poll failures: %w", ErrAbandoned, failures, lastErr))
			return
		}
	}
}

// observe applies a poll response. It reports whether the job reached a
// terminal status.
func (t *Tracker) observe(id int64, resp *apiclient.JobStatusResponse) (bool, error) {
	if resp == nil {
		return false, fmt.Errorf("job %d: empty status response", id)
	}
	status, err := ParseStatus(resp.Status)
	if err != nil {
		return false, fmt.Errorf("job %d: %w", id, err)
	}
	t.metrics.observePoll(status)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return true, nil
	}
	cur := t.jobs[id]
	if status.Rank() < cur.Status.Rank() {
		t.mu.Unlock()
		t.logger.Debug("Discarding out-of-order job status",
			zap.Int64("job_id", id),
			zap.String("current", string(cur.Status)),
			zap.String("observed", string(status)))
		return false, nil
	}

	changed := status != cur.Status
	cur.Status = status
	cur.CreatedAt = resp.CreatedAt.Time
	cur.StartedAt = resp.StartedAt.TimePtr()
	cur.CompletedAt = resp.CompletedAt.TimePtr()
	cur.Result = ResultFromResponse(status, resp.Result)
	snapshot := *cur
	t.mu.Unlock()

	switch {
	case status.Terminal():
		t.metrics.observeEnd(string(status))
		t.logger.Info("Job finished", zap.Int64("job_id", id), zap.String("status", string(status)))
		t.emit(Event{Kind: EventTerminal, JobID: id, Job: snapshot, At: t.now()})
		return true, nil
	case changed:
		t.logger.Debug("Job status changed", zap.Int64("job_id", id), zap.String("status", string(status)))
		t.emit(Event{Kind: EventStatus, JobID: id, Job: snapshot, At: t.now()})
	}
	return false, nil
}

func (t *Tracker) abandon(id int64, cause error) {
	t.metrics.observeEnd("ABANDONED")
	t.logger.Warn("Abandoning job", zap.Int64("job_id", id), zap.Error(cause))
	t.emitIfOpen(id, EventAbandoned, cause)
}

// emitIfOpen snapshots the job and emits an event unless the tracker is
// closed. It reports whether the tracker is still open.
func (t *Tracker) emitIfOpen(id int64, kind EventKind, err error) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	snapshot := *t.jobs[id]
	t.mu.Unlock()

	t.emit(Event{Kind: kind, JobID: id, Job: snapshot, Err: err, At: t.now()})
	return true
}

func (t *Tracker) emit(ev Event) {
	t.sendMu.RLock()
	defer t.sendMu.RUnlock()

	if t.ctx.Err() != nil {
		return
	}
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

func (t *Tracker) finish(id int64) {
	t.metrics.trackStopped()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	if t.active == 0 {
		close(t.idle)
	}
}
