package cache

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/marketpulse/realtime/internal/event"
	"github.com/marketpulse/realtime/internal/sched"
)

// Invalidator is the cache layer this subsystem drives. One call per
// key prefix requests a refetch of every key under it.
type Invalidator interface {
	Invalidate(keyPrefix string)
}

// InvalidatorFunc is a function adapter for Invalidator.
type InvalidatorFunc func(keyPrefix string)

func (f InvalidatorFunc) Invalidate(keyPrefix string) { f(keyPrefix) }

// Config holds synchronizer configuration.
type Config struct {
	// DebounceWindow coalesces same-scope invalidations; calls within
	// the window of the first one collapse into a single refetch.
	DebounceWindow time.Duration

	// Scopes maps scope tags to their fixed key-prefix sets. The
	// taxonomy is fixed at build/config time; unknown tags at runtime
	// are logged and ignored.
	Scopes map[string][]string
}

// DefaultConfig returns the built-in scope taxonomy and window.
func DefaultConfig() Config {
	return Config{
		DebounceWindow: 500 * time.Millisecond,
		Scopes: map[string][]string{
			"dashboard": {"dashboard:"},
			"pricing":   {"pricing:", "dashboard:pricing:"},
			"sentiment": {"sentiment:", "dashboard:sentiment:"},
			"jobs":      {"jobs:"},
		},
	}
}

// Synchronizer coalesces invalidation requests per scope and forwards
// them to the cache layer.
type Synchronizer struct {
	cfg         Config
	invalidator Invalidator
	sched       sched.Scheduler
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]sched.Timer
	closed  bool
}

// NewSynchronizer creates a synchronizer. A zero DebounceWindow
// disables coalescing only in tests; production config validates it.
func NewSynchronizer(cfg Config, invalidator Invalidator, scheduler sched.Scheduler, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if scheduler == nil {
		scheduler = sched.New()
	}
	return &Synchronizer{
		cfg:         cfg,
		invalidator: invalidator,
		sched:       scheduler,
		logger:      logger,
		pending:     make(map[string]sched.Timer),
	}
}

// Invalidate requests a refetch of every key prefix mapped to scope.
// Calls for the same scope within the debounce window collapse into one
// refetch; different scopes are independent. Unknown scopes are logged
// and ignored; the scope taxonomy evolves independently of this
// subsystem and must never crash it.
func (s *Synchronizer) Invalidate(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if _, ok := s.cfg.Scopes[scope]; !ok {
		s.logger.Warn("unknown invalidation scope ignored", "scope", scope)
		return
	}

	if _, inFlight := s.pending[scope]; inFlight {
		// Absorbed into the already-scheduled refetch.
		return
	}

	s.pending[scope] = s.sched.Schedule(s.cfg.DebounceWindow, func() {
		s.flush(scope)
	})
}

// HandleEvent routes a data:updated event to its scope. Registered with
// the dispatcher by the application wiring.
func (s *Synchronizer) HandleEvent(ev event.Event) {
	if ev.Kind != event.KindDataUpdated {
		return
	}

	var payload struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		s.logger.Warn("malformed data:updated payload", "error", err)
		return
	}

	s.Invalidate(payload.Type)
}

// Close cancels every pending debounce timer; nothing fires afterwards.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for scope, timer := range s.pending {
		timer.Stop()
		delete(s.pending, scope)
	}
}

// flush forwards one scope's prefixes to the cache layer.
func (s *Synchronizer) flush(scope string) {
	s.mu.Lock()
	delete(s.pending, scope)
	if s.closed {
		s.mu.Unlock()
		return
	}
	prefixes := s.cfg.Scopes[scope]
	s.mu.Unlock()

	for _, prefix := range prefixes {
		s.invalidator.Invalidate(prefix)
	}

	s.logger.Debug("cache scope invalidated", "scope", scope, "prefixes", len(prefixes))
}
