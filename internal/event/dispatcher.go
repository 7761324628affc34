package event

import (
	"log/slog"
	"sync"
)

// Listener receives dispatched events. It must not block; long work
// belongs on the listener's own goroutine.
type Listener func(ev Event)

// Subscription is the handle returned by On. The registering component
// owns it and must call Cancel on teardown; after Cancel the listener
// is never invoked again.
type Subscription struct {
	d      *Dispatcher
	key    subKey
	id     int
	cancel sync.Once
}

// Cancel removes the listener from the dispatcher. Safe to call more
// than once.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.d.remove(s.key, s.id)
	})
}

type subKey struct {
	kind  Kind
	jobID string
}

type subEntry struct {
	id int
	fn Listener
}

// Dispatcher fans events out to listeners registered per (kind, jobID).
// Listeners for one key fire in registration order, each in isolation:
// a panic in one listener is recovered and logged, and delivery to the
// rest continues. No ordering is guaranteed across keys.
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[subKey][]subEntry
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger,
		subs:   make(map[subKey][]subEntry),
	}
}

// On registers a listener for events of the given kind. jobID narrows
// job-scoped kinds to a single job and must be "" for global kinds.
func (d *Dispatcher) On(kind Kind, jobID string, fn Listener) *Subscription {
	key := subKey{kind: kind, jobID: jobID}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[key] = append(d.subs[key], subEntry{id: id, fn: fn})
	d.mu.Unlock()

	return &Subscription{d: d, key: key, id: id}
}

// Dispatch delivers an event to every listener currently registered for
// its (kind, jobID). Events of KindUnknown are logged and dropped so a
// wire name this build does not know can never crash the dispatch loop.
func (d *Dispatcher) Dispatch(ev Event) {
	if ev.Kind == KindUnknown {
		d.logger.Debug("dropping unknown event", "payload_len", len(ev.Payload))
		return
	}

	key := subKey{kind: ev.Kind, jobID: ev.JobID}

	d.mu.Lock()
	entries := make([]subEntry, len(d.subs[key]))
	copy(entries, d.subs[key])
	d.mu.Unlock()

	for _, e := range entries {
		d.deliver(e, ev)
	}
}

// deliver invokes one listener, containing any panic.
func (d *Dispatcher) deliver(e subEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panicked",
				"kind", ev.Kind.String(),
				"job_id", ev.JobID,
				"panic", r,
			)
		}
	}()
	e.fn(ev)
}

// remove deletes a listener by id; no-op if already gone.
func (d *Dispatcher) remove(key subKey, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.subs[key]
	for i, e := range entries {
		if e.id == id {
			d.subs[key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(d.subs[key]) == 0 {
		delete(d.subs, key)
	}
}

// ListenerCount reports the number of live listeners for a key. Used by
// stats surfaces and tests.
func (d *Dispatcher) ListenerCount(kind Kind, jobID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[subKey{kind: kind, jobID: jobID}])
}
