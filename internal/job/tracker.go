package job

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/marketpulse/realtime/internal/event"
	"github.com/marketpulse/realtime/internal/model"
	"github.com/marketpulse/realtime/internal/sched"
)

// Channel is the slice of the connection manager the tracker reads.
type Channel interface {
	State() model.ConnectionState
	OnStatusChange(fn func(model.ConnectionState)) (cancel func())
}

// Events is the dispatcher surface used for push subscriptions.
type Events interface {
	On(kind event.Kind, jobID string, fn event.Listener) *event.Subscription
}

// StatusFetcher fetches job status over REST for the polling fallback.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (model.JobStatusPayload, error)
}

// ResultCache receives the invalidation request when a job completes.
type ResultCache interface {
	Invalidate(scope string)
}

// Config holds tracker configuration.
type Config struct {
	PollInterval time.Duration // Fallback poll cadence
	ResultScope  string        // Cache scope invalidated on completion
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		ResultScope:  "jobs",
	}
}

// Tracker maintains the execution state of one job at a time. It is the
// library-side equivalent of the dashboard's job-progress hook: the
// presentation layer reads Snapshot, registers Watch callbacks, and
// calls Retry or Reset; everything else reacts to channel events and
// poll results.
type Tracker struct {
	cfg     Config
	channel Channel
	events  Events
	fetcher StatusFetcher
	cache   ResultCache
	sched   sched.Scheduler
	logger  *slog.Logger

	cancelStatus func()

	mu          sync.Mutex
	snap        model.JobSnapshot
	subs        []*event.Subscription
	polling     bool
	pollGen     int // bumped on every poll stop; in-flight results with a stale gen are dropped
	pollTimer   sched.Timer
	invalidated bool
	closed      bool
	nextWatchID int
	watchers    []watcher
}

type watcher struct {
	id int
	fn func(model.JobSnapshot)
}

// NewTracker creates a tracker. It starts idle; call Track to activate.
func NewTracker(cfg Config, channel Channel, events Events, fetcher StatusFetcher, cache ResultCache, scheduler sched.Scheduler, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if scheduler == nil {
		scheduler = sched.New()
	}

	t := &Tracker{
		cfg:     cfg,
		channel: channel,
		events:  events,
		fetcher: fetcher,
		cache:   cache,
		sched:   scheduler,
		logger:  logger,
		snap:    model.JobSnapshot{Status: model.JobIdle},
	}
	t.cancelStatus = channel.OnStatusChange(t.onChannelState)
	return t
}

// Track starts tracking the given job, discarding any previous job's
// state and subscriptions. The delivery path follows the channel: push
// subscriptions while connected, the polling loop otherwise.
func (t *Tracker) Track(jobID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	t.releaseJobLocked()
	t.snap = model.JobSnapshot{JobID: jobID, Status: model.JobActive}
	t.invalidated = false

	if t.channel.State() == model.Connected {
		t.subscribeLocked(jobID)
	} else {
		t.startPollingLocked()
	}

	watchers, snap := t.watchersLocked()
	t.mu.Unlock()

	t.logger.Info("tracking job", "job_id", jobID)
	notify(watchers, snap)
}

// Snapshot returns a copy of the current job state.
func (t *Tracker) Snapshot() model.JobSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Clone()
}

// Watch registers a callback invoked with a state copy on every change,
// and once immediately with the current state. The returned cancel func
// must be called on teardown.
func (t *Tracker) Watch(fn func(model.JobSnapshot)) (cancel func()) {
	t.mu.Lock()
	t.nextWatchID++
	id := t.nextWatchID
	t.watchers = append(t.watchers, watcher{id: id, fn: fn})
	snap := t.snap.Clone()
	t.mu.Unlock()

	fn(snap)

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, w := range t.watchers {
			if w.id == id {
				t.watchers = append(t.watchers[:i], t.watchers[i+1:]...)
				return
			}
		}
	}
}

// Retry restarts a failed job's tracking from a clean state. A job
// failure is never retried automatically; this is the explicit
// user-initiated action.
func (t *Tracker) Retry() {
	t.mu.Lock()
	if t.closed || t.snap.Status != model.JobError {
		t.mu.Unlock()
		return
	}
	jobID := t.snap.JobID
	t.mu.Unlock()

	t.Track(jobID)
}

// Reset releases the current job and returns the tracker to idle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.releaseJobLocked()
	t.snap = model.JobSnapshot{Status: model.JobIdle}
	watchers, snap := t.watchersLocked()
	t.mu.Unlock()

	notify(watchers, snap)
}

// Close releases every subscription, watcher, and timer. No callback
// fires after Close returns.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.releaseJobLocked()
	t.watchers = nil
	t.mu.Unlock()

	t.cancelStatus()
}

// -----------------------------------------------------------------------------
// Push path
// -----------------------------------------------------------------------------

// subscribeLocked registers the job's push listeners; caller holds mu.
func (t *Tracker) subscribeLocked(jobID string) {
	t.subs = []*event.Subscription{
		t.events.On(event.KindJobProgress, jobID, t.onProgress),
		t.events.On(event.KindJobComplete, jobID, t.onComplete),
		t.events.On(event.KindJobError, jobID, t.onError),
	}
}

func (t *Tracker) onProgress(ev event.Event) {
	var payload model.ProgressPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.logger.Warn("malformed progress payload", "job_id", ev.JobID, "error", err)
		return
	}

	ts := ev.ReceivedAt
	if ts.IsZero() {
		ts = t.sched.Now()
	}

	t.mu.Lock()
	changed := t.applyProgressLocked(payload.Progress, payload.CurrentActivity, payload.EstimatedSecondsRemaining, ts)
	t.finishLocked(changed)
}

func (t *Tracker) onComplete(ev event.Event) {
	t.mu.Lock()
	changed := t.completeLocked()
	t.finishLocked(changed)
}

func (t *Tracker) onError(ev event.Event) {
	var payload model.ErrorPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.logger.Warn("malformed error payload", "job_id", ev.JobID, "error", err)
		payload.Message = "job failed"
	}

	t.mu.Lock()
	changed := t.failLocked(payload.Message)
	t.finishLocked(changed)
}

// -----------------------------------------------------------------------------
// Poll path
// -----------------------------------------------------------------------------

// startPollingLocked begins the fallback loop; caller holds mu. The
// first fetch is scheduled immediately, later ones at the interval.
func (t *Tracker) startPollingLocked() {
	t.polling = true
	t.pollGen++
	gen := t.pollGen
	t.pollTimer = t.sched.Schedule(0, func() { t.pollTick(gen) })
}

// stopPollingLocked cancels the loop and invalidates in-flight fetches.
func (t *Tracker) stopPollingLocked() {
	t.polling = false
	t.pollGen++
	if t.pollTimer != nil {
		t.pollTimer.Stop()
		t.pollTimer = nil
	}
}

// pollTick fetches job status once and schedules the next tick while
// the job is still active and polling is still the delivery path.
func (t *Tracker) pollTick(gen int) {
	t.mu.Lock()
	if t.closed || !t.polling || gen != t.pollGen {
		t.mu.Unlock()
		return
	}
	jobID := t.snap.JobID
	t.mu.Unlock()

	// Timeout is the status client's own request timeout.
	payload, err := t.fetcher.JobStatus(context.Background(), jobID)

	t.mu.Lock()
	if t.closed || !t.polling || gen != t.pollGen || t.snap.JobID != jobID {
		t.mu.Unlock()
		return
	}

	if err != nil {
		// Transient; the next tick tries again.
		t.logger.Warn("status poll failed", "job_id", jobID, "error", err)
		t.pollTimer = t.sched.Schedule(t.cfg.PollInterval, func() { t.pollTick(gen) })
		t.mu.Unlock()
		return
	}

	changed := t.applyPayloadLocked(payload)
	if t.snap.Status == model.JobActive {
		t.pollTimer = t.sched.Schedule(t.cfg.PollInterval, func() { t.pollTick(gen) })
	}
	t.finishLocked(changed)
}

// applyPayloadLocked folds a REST status payload into the state.
func (t *Tracker) applyPayloadLocked(payload model.JobStatusPayload) bool {
	status, ok := model.ParseJobStatus(payload.Status)
	if !ok {
		t.logger.Warn("unknown job status ignored", "job_id", t.snap.JobID, "status", payload.Status)
		return false
	}

	switch status {
	case model.JobActive:
		return t.applyProgressLocked(payload.Progress, payload.CurrentActivity, payload.EstimatedSecondsRemaining, t.sched.Now())
	case model.JobCompleted:
		return t.completeLocked()
	case model.JobError:
		return t.failLocked(payload.Error)
	}
	return false
}

// -----------------------------------------------------------------------------
// State transitions (all require mu held)
// -----------------------------------------------------------------------------

// applyProgressLocked applies a progress update. Progress is monotonic
// while active: an update older than the current value (possible when
// push and poll race around a fallback transition) is dropped entirely,
// and an activity message equal to the current one is not re-appended.
func (t *Tracker) applyProgressLocked(progress int, activity string, eta *int, ts time.Time) bool {
	if t.snap.Status != model.JobActive {
		return false
	}
	if progress < t.snap.Progress {
		t.logger.Debug("stale progress update dropped",
			"job_id", t.snap.JobID,
			"current", t.snap.Progress,
			"got", progress,
		)
		return false
	}

	changed := false
	if progress > t.snap.Progress {
		t.snap.Progress = progress
		changed = true
	}
	if activity != "" && activity != t.snap.CurrentActivity {
		t.snap.CurrentActivity = activity
		t.snap.AppendActivity(ts, activity)
		changed = true
	}
	if eta != nil {
		v := *eta
		t.snap.EstimatedSecondsRemaining = &v
		changed = true
	}

	if t.snap.Progress >= 100 {
		t.completeLocked()
		changed = true
	}
	return changed
}

// completeLocked finalizes the job. Duplicate completion signals (e.g.
// duplicate delivery, push and poll racing) collapse: state moves once
// and the result-scope invalidation is requested once; the cache
// synchronizer's debounce absorbs whatever still arrives together.
func (t *Tracker) completeLocked() bool {
	if t.snap.Status != model.JobActive {
		return false
	}
	t.snap.Progress = 100
	t.snap.Status = model.JobCompleted
	t.snap.EstimatedSecondsRemaining = nil
	t.stopPollingLocked()
	t.cancelSubsLocked()
	return true
}

// failLocked records a server-reported job failure. Polling stops and
// nothing is retried automatically.
func (t *Tracker) failLocked(msg string) bool {
	if t.snap.Status != model.JobActive {
		return false
	}
	if msg == "" {
		msg = "job failed"
	}
	t.snap.Status = model.JobError
	t.snap.Err = msg
	t.snap.EstimatedSecondsRemaining = nil
	t.stopPollingLocked()
	t.cancelSubsLocked()
	return true
}

// onChannelState switches the delivery path when the channel changes
// underneath an active job.
func (t *Tracker) onChannelState(state model.ConnectionState) {
	t.mu.Lock()
	if t.closed || t.snap.Status != model.JobActive {
		t.mu.Unlock()
		return
	}

	switch {
	case state == model.Connected && t.polling:
		t.stopPollingLocked()
		t.subscribeLocked(t.snap.JobID)
		t.logger.Info("job updates switched to push", "job_id", t.snap.JobID)
	case state != model.Connected && len(t.subs) > 0:
		t.cancelSubsLocked()
		t.startPollingLocked()
		t.logger.Info("job updates switched to polling", "job_id", t.snap.JobID)
	}
	t.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Plumbing
// -----------------------------------------------------------------------------

// releaseJobLocked drops every per-job resource; caller holds mu.
func (t *Tracker) releaseJobLocked() {
	t.cancelSubsLocked()
	t.stopPollingLocked()
}

func (t *Tracker) cancelSubsLocked() {
	for _, sub := range t.subs {
		sub.Cancel()
	}
	t.subs = nil
}

// finishLocked completes a mutation: it performs the one-shot result
// invalidation and watcher notification outside the lock. Caller holds
// mu; finishLocked unlocks it.
func (t *Tracker) finishLocked(changed bool) {
	invalidate := false
	if t.snap.Status == model.JobCompleted && !t.invalidated {
		t.invalidated = true
		invalidate = true
	}

	var watchers []watcher
	var snap model.JobSnapshot
	if changed {
		watchers, snap = t.watchersLocked()
	}
	t.mu.Unlock()

	if invalidate {
		t.cache.Invalidate(t.cfg.ResultScope)
	}
	if changed {
		notify(watchers, snap)
	}
}

// watchersLocked snapshots watchers and state; caller holds mu.
func (t *Tracker) watchersLocked() ([]watcher, model.JobSnapshot) {
	watchers := make([]watcher, len(t.watchers))
	copy(watchers, t.watchers)
	return watchers, t.snap.Clone()
}

func notify(watchers []watcher, snap model.JobSnapshot) {
	for _, w := range watchers {
		w.fn(snap)
	}
}
