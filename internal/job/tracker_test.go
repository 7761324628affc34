package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/realtime/internal/event"
	"github.com/marketpulse/realtime/internal/model"
	"github.com/marketpulse/realtime/internal/sched"
)

type fakeChannel struct {
	mu     sync.Mutex
	state  model.ConnectionState
	nextID int
	cbs    map[int]func(model.ConnectionState)
}

func newFakeChannel(state model.ConnectionState) *fakeChannel {
	return &fakeChannel{state: state, cbs: make(map[int]func(model.ConnectionState))}
}

func (c *fakeChannel) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) OnStatusChange(fn func(model.ConnectionState)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.cbs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.cbs, id)
	}
}

func (c *fakeChannel) setState(s model.ConnectionState) {
	c.mu.Lock()
	c.state = s
	cbs := make([]func(model.ConnectionState), 0, len(c.cbs))
	for _, fn := range c.cbs {
		cbs = append(cbs, fn)
	}
	c.mu.Unlock()

	for _, fn := range cbs {
		fn(s)
	}
}

// fakeFetcher serves queued payloads in order, the last one sticking.
type fakeFetcher struct {
	mu    sync.Mutex
	queue []model.JobStatusPayload
	err   error
	calls int
}

func (f *fakeFetcher) JobStatus(_ context.Context, _ string) (model.JobStatusPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.JobStatusPayload{}, f.err
	}
	if len(f.queue) == 0 {
		return model.JobStatusPayload{Status: "active"}, nil
	}
	p := f.queue[0]
	if len(f.queue) > 1 {
		f.queue = f.queue[1:]
	}
	return p, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCache struct {
	mu     sync.Mutex
	scopes []string
}

func (c *fakeCache) Invalidate(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes = append(c.scopes, scope)
}

func (c *fakeCache) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.scopes))
	copy(out, c.scopes)
	return out
}

type trackerEnv struct {
	tracker    *Tracker
	dispatcher *event.Dispatcher
	channel    *fakeChannel
	fetcher    *fakeFetcher
	cache      *fakeCache
	clock      *sched.Manual
}

func newTrackerEnv(t *testing.T, state model.ConnectionState) *trackerEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &trackerEnv{
		dispatcher: event.NewDispatcher(logger),
		channel:    newFakeChannel(state),
		fetcher:    &fakeFetcher{},
		cache:      &fakeCache{},
		clock:      sched.NewManual(time.Unix(0, 0)),
	}
	env.tracker = NewTracker(DefaultConfig(), env.channel, env.dispatcher, env.fetcher, env.cache, env.clock, logger)
	t.Cleanup(env.tracker.Close)
	return env
}

func progressEv(jobID string, progress int, activity string) event.Event {
	payload, _ := json.Marshal(model.ProgressPayload{Progress: progress, CurrentActivity: activity})
	return event.Event{Kind: event.KindJobProgress, JobID: jobID, Payload: payload}
}

func completeEv(jobID string) event.Event {
	return event.Event{Kind: event.KindJobComplete, JobID: jobID, Payload: []byte(`{}`)}
}

func errorEv(jobID, msg string) event.Event {
	payload, _ := json.Marshal(model.ErrorPayload{Message: msg})
	return event.Event{Kind: event.KindJobError, JobID: jobID, Payload: payload}
}

func TestTracker_PushLifecycle(t *testing.T) {
	env := newTrackerEnv(t, model.Connected)
	env.tracker.Track("q-1")

	env.dispatcher.Dispatch(progressEv("q-1", 10, "parsing question"))
	env.dispatcher.Dispatch(progressEv("q-1", 45, "scoring markets"))
	env.dispatcher.Dispatch(progressEv("q-1", 45, "scoring markets")) // duplicate delivery
	env.dispatcher.Dispatch(completeEv("q-1"))

	snap := env.tracker.Snapshot()
	assert.Equal(t, model.JobCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Nil(t, snap.EstimatedSecondsRemaining)
	require.Len(t, snap.ActivityLog, 2, "duplicate activity must not re-append")
	assert.Equal(t, "parsing question", snap.ActivityLog[0].Message)
	assert.Equal(t, "scoring markets", snap.ActivityLog[1].Message)

	assert.Equal(t, []string{"jobs"}, env.cache.all())
	assert.Equal(t, 0, env.fetcher.count(), "push path must not poll")
}

func TestTracker_ProgressNeverRegresses(t *testing.T) {
	env := newTrackerEnv(t, model.Connected)
	env.tracker.Track("q-1")

	env.dispatcher.Dispatch(progressEv("q-1", 50, "halfway"))
	env.dispatcher.Dispatch(progressEv("q-1", 30, "rewound"))

	snap := env.tracker.Snapshot()
	assert.Equal(t, 50, snap.Progress)
	assert.Equal(t, "halfway", snap.CurrentActivity)
	assert.Len(t, snap.ActivityLog, 1, "stale update must not touch the log")
}

func TestTracker_ActivityLogCapped(t *testing.T) {
	env := newTrackerEnv(t, model.Connected)
	env.tracker.Track("q-1")

	msgs := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	for i, msg := range msgs {
		env.dispatcher.Dispatch(progressEv("q-1", i+1, msg))
	}

	snap := env.tracker.Snapshot()
	require.Len(t, snap.ActivityLog, model.ActivityLogCap)
	assert.Equal(t, "c", snap.ActivityLog[0].Message, "oldest entries evicted first")
	assert.Equal(t, "l", snap.ActivityLog[len(snap.ActivityLog)-1].Message)
}

func TestTracker_ErrorThenRetry(t *testing.T) {
	env := newTrackerEnv(t, model.Connected)
	env.tracker.Track("q-1")

	env.dispatcher.Dispatch(progressEv("q-1", 30, "working"))
	env.dispatcher.Dispatch(errorEv("q-1", "query timed out"))

	snap := env.tracker.Snapshot()
	assert.Equal(t, model.JobError, snap.Status)
	assert.Equal(t, "query timed out", snap.Err)

	// No automatic recovery: further events change nothing.
	env.dispatcher.Dispatch(progressEv("q-1", 60, "ghost update"))
	assert.Equal(t, model.JobError, env.tracker.Snapshot().Status)

	env.tracker.Retry()
	snap = env.tracker.Snapshot()
	assert.Equal(t, model.JobActive, snap.Status)
	assert.Equal(t, 0, snap.Progress, "retry restarts from a clean state")
	assert.Empty(t, snap.Err)

	env.dispatcher.Dispatch(progressEv("q-1", 20, "second attempt"))
	assert.Equal(t, 20, env.tracker.Snapshot().Progress)
}

func TestTracker_PollsWhileDegraded(t *testing.T) {
	env := newTrackerEnv(t, model.Degraded)
	env.fetcher.queue = []model.JobStatusPayload{
		{Progress: 60, Status: "active", CurrentActivity: "crunching"},
		{Progress: 100, Status: "completed"},
	}

	env.tracker.Track("q-1")
	assert.Zero(t, env.dispatcher.ListenerCount(event.KindJobProgress, "q-1"),
		"no push subscriptions off the connected state")

	env.clock.Advance(0) // first poll fires immediately
	snap := env.tracker.Snapshot()
	assert.Equal(t, model.JobActive, snap.Status)
	assert.Equal(t, 60, snap.Progress)
	assert.Equal(t, "crunching", snap.CurrentActivity)

	env.clock.Advance(2 * time.Second)
	snap = env.tracker.Snapshot()
	assert.Equal(t, model.JobCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, []string{"jobs"}, env.cache.all())

	// Terminal state stops the loop.
	calls := env.fetcher.count()
	env.clock.Advance(10 * time.Second)
	assert.Equal(t, calls, env.fetcher.count())
}

func TestTracker_PollErrorKeepsTrying(t *testing.T) {
	env := newTrackerEnv(t, model.Degraded)
	env.fetcher.err = errors.New("status endpoint down")

	env.tracker.Track("q-1")
	env.clock.Advance(0)
	env.clock.Advance(2 * time.Second)
	env.clock.Advance(2 * time.Second)

	assert.Equal(t, 3, env.fetcher.count())
	assert.Equal(t, model.JobActive, env.tracker.Snapshot().Status)
}

func TestTracker_SwitchesPathsWithChannel(t *testing.T) {
	env := newTrackerEnv(t, model.Connected)
	env.tracker.Track("q-1")
	env.dispatcher.Dispatch(progressEv("q-1", 40, "ranking"))

	// The first poll result predates the last push update; it is dropped
	// rather than regressing progress or re-logging activity.
	env.fetcher.queue = []model.JobStatusPayload{
		{Progress: 30, Status: "active", CurrentActivity: "old news"},
		{Progress: 70, Status: "active", CurrentActivity: "summarizing"},
	}

	env.channel.setState(model.Degraded)
	assert.Zero(t, env.dispatcher.ListenerCount(event.KindJobProgress, "q-1"))

	env.clock.Advance(0)
	snap := env.tracker.Snapshot()
	assert.Equal(t, 40, snap.Progress)
	assert.NotContains(t, snap.CurrentActivity, "old news")

	env.clock.Advance(2 * time.Second)
	assert.Equal(t, 70, env.tracker.Snapshot().Progress)

	// Recovery switches back to push and stops the loop.
	env.channel.setState(model.Connected)
	calls := env.fetcher.count()
	env.clock.Advance(10 * time.Second)
	assert.Equal(t, calls, env.fetcher.count())

	env.dispatcher.Dispatch(progressEv("q-1", 90, "finalizing"))
	assert.Equal(t, 90, env.tracker.Snapshot().Progress)
}

func TestTracker_CompletionInvalidatesOnce(t *testing.T) {
	env := newTrackerEnv(t, model.Connected)
	env.tracker.Track("q-1")

	env.dispatcher.Dispatch(completeEv("q-1"))
	env.dispatcher.Dispatch(completeEv("q-1"))

	assert.Equal(t, []string{"jobs"}, env.cache.all())
}

func TestTracker_WatchAndCancel(t *testing.T) {
	env := newTrackerEnv(t, model.Connected)
	env.tracker.Track("q-1")

	var mu sync.Mutex
	var seen []model.JobSnapshot
	cancel := env.tracker.Watch(func(s model.JobSnapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	env.dispatcher.Dispatch(progressEv("q-1", 25, "collecting"))

	mu.Lock()
	require.Len(t, seen, 2, "one immediate snapshot plus one update")
	assert.Equal(t, 0, seen[0].Progress)
	assert.Equal(t, 25, seen[1].Progress)
	mu.Unlock()

	cancel()
	env.dispatcher.Dispatch(progressEv("q-1", 50, "more"))

	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
}

func TestTracker_Reset(t *testing.T) {
	env := newTrackerEnv(t, model.Connected)
	env.tracker.Track("q-1")
	require.Equal(t, 1, env.dispatcher.ListenerCount(event.KindJobProgress, "q-1"))

	env.tracker.Reset()

	assert.Zero(t, env.dispatcher.ListenerCount(event.KindJobProgress, "q-1"))
	assert.Zero(t, env.dispatcher.ListenerCount(event.KindJobComplete, "q-1"))
	snap := env.tracker.Snapshot()
	assert.Equal(t, model.JobIdle, snap.Status)
	assert.Empty(t, snap.JobID)
}

func TestTracker_CloseStopsEverything(t *testing.T) {
	env := newTrackerEnv(t, model.Degraded)
	env.tracker.Track("q-1")

	env.tracker.Close()
	env.clock.Advance(10 * time.Second)
	assert.Zero(t, env.fetcher.count(), "no fetch may run after Close")

	env.tracker.Track("q-2")
	assert.Equal(t, "q-1", env.tracker.Snapshot().JobID, "closed tracker rejects new jobs")
}
