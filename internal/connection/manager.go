package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/marketpulse/realtime/internal/event"
	"github.com/marketpulse/realtime/internal/model"
	"github.com/marketpulse/realtime/internal/sched"
)

// Manager owns the single logical live-channel connection for the whole
// application. It drives every ConnectionState transition: bounded
// reconnection with backoff, degradation after the retry budget is
// exhausted, and recovery on a later manual Connect.
//
// One Manager instance is created at application start and passed to
// every consumer; consumers read state and register callbacks but never
// transition state themselves.
type Manager struct {
	cfg        ManagerConfig
	dispatcher *event.Dispatcher
	sched      sched.Scheduler
	logger     *slog.Logger
	dial       dialFunc

	mu sync.Mutex

	state model.ConnectionState
	tr    transport

	// gen identifies the current connect cycle. Disconnect and each new
	// Connect bump it; async results carrying a stale gen are dropped,
	// so two cycles can never race a connection into place.
	gen int

	// failures counts consecutive failed attempts in this cycle.
	failures int

	retryTimer sched.Timer

	// fallbackDone marks that the one-shot fallback signal fired for the
	// current degradation episode. Cleared only on confirmed success, so
	// failed manual reconnects from degraded do not re-signal.
	fallbackDone bool

	nextCBID    int
	statusCBs   []callback[func(model.ConnectionState)]
	fallbackCBs []callback[func()]
}

type callback[F any] struct {
	id int
	fn F
}

// NewManager creates a connection manager. The dispatcher receives
// every decoded inbound event plus the local connect/disconnect events.
func NewManager(cfg ManagerConfig, dispatcher *event.Dispatcher, scheduler sched.Scheduler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if scheduler == nil {
		scheduler = sched.New()
	}

	m := &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		sched:      scheduler,
		logger:     logger,
		state:      model.Disconnected,
	}
	m.dial = m.dialWebsocket
	return m
}

// dialWebsocket is the default dialer: a fresh websocket Client.
func (m *Manager) dialWebsocket(ctx context.Context) (transport, error) {
	c := NewClient(ClientConfig{
		URL:          m.cfg.URL,
		AuthToken:    m.cfg.AuthToken,
		DialTimeout:  m.cfg.DialTimeout,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}, m.logger)

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect initiates a connection attempt. Idempotent: if the channel is
// already connected or an attempt is in flight, it returns nil
// immediately; concurrent calls coalesce into the single attempt.
//
// The first attempt runs synchronously (bounded by the dial timeout);
// on failure the retry policy continues in the background, so a non-nil
// return is not terminal. Calling Connect while degraded starts a fresh
// retry cycle and, on success, clears the degraded episode.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == model.Connected || m.state == model.Connecting {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.failures = 0
	m.state = model.Connecting
	cbs := m.statusCallbacksLocked()
	m.mu.Unlock()

	m.notify(cbs, model.Connecting)
	return m.attempt(ctx, gen)
}

// Disconnect tears down the channel, cancels any pending retry, and
// transitions to disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == model.Disconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	tr := m.tr
	m.tr = nil
	m.failures = 0
	m.fallbackDone = false
	m.state = model.Disconnected
	cbs := m.statusCallbacksLocked()
	m.mu.Unlock()

	if tr != nil {
		tr.Close()
	}

	m.logger.Info("channel disconnected")
	m.notify(cbs, model.Disconnected)
	m.dispatcher.Dispatch(event.Event{Kind: event.KindDisconnect, ReceivedAt: m.sched.Now()})
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the live channel is up.
func (m *Manager) IsConnected() bool {
	return m.State() == model.Connected
}

// IsPollingFallback reports whether the channel is degraded and polling
// substitutes for push delivery.
func (m *Manager) IsPollingFallback() bool {
	return m.State() == model.Degraded
}

// Emit sends an outbound event on the live channel. Delivery is best
// effort: when the channel is not connected the event is logged and
// dropped, never an error. Callers must not depend on delivery while
// degraded.
func (m *Manager) Emit(kind event.Kind, jobID string, payload any) {
	m.mu.Lock()
	st := m.state
	tr := m.tr
	m.mu.Unlock()

	name := event.WireName(kind, jobID)

	if st != model.Connected || tr == nil {
		m.logger.Warn("emit dropped, channel not connected", "event", name, "state", st.String())
		return
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			m.logger.Warn("emit dropped, payload not serializable", "event", name, "error", err)
			return
		}
		raw = b
	}

	data, err := event.EncodeFrame(event.Event{Kind: kind, JobID: jobID, Payload: raw})
	if err != nil {
		m.logger.Warn("emit dropped, frame encoding failed", "event", name, "error", err)
		return
	}

	if err := tr.Send(data); err != nil {
		m.logger.Warn("emit failed", "event", name, "error", err)
	}
}

// On registers a listener with the event dispatcher; provided here so
// consumers holding the manager need not reach for the dispatcher.
func (m *Manager) On(kind event.Kind, jobID string, fn event.Listener) *event.Subscription {
	return m.dispatcher.On(kind, jobID, fn)
}

// OnStatusChange registers a callback invoked with the new state on
// every transition. The returned cancel func must be called on
// teardown.
func (m *Manager) OnStatusChange(fn func(model.ConnectionState)) (cancel func()) {
	m.mu.Lock()
	m.nextCBID++
	id := m.nextCBID
	m.statusCBs = append(m.statusCBs, callback[func(model.ConnectionState)]{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, cb := range m.statusCBs {
			if cb.id == id {
				m.statusCBs = append(m.statusCBs[:i], m.statusCBs[i+1:]...)
				return
			}
		}
	}
}

// OnFallback registers a callback fired exactly once per degradation
// episode, when the retry budget is exhausted. The presentation layer
// uses it for the "using polling" banner.
func (m *Manager) OnFallback(fn func()) (cancel func()) {
	m.mu.Lock()
	m.nextCBID++
	id := m.nextCBID
	m.fallbackCBs = append(m.fallbackCBs, callback[func()]{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, cb := range m.fallbackCBs {
			if cb.id == id {
				m.fallbackCBs = append(m.fallbackCBs[:i], m.fallbackCBs[i+1:]...)
				return
			}
		}
	}
}

// attempt runs one dial for the given cycle and records the outcome.
func (m *Manager) attempt(ctx context.Context, gen int) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	tr, err := m.dial(dialCtx)
	cancel()

	if err != nil {
		m.attemptFailed(gen, err)
		return err
	}

	m.mu.Lock()
	if gen != m.gen || m.state != model.Connecting {
		// A Disconnect or newer Connect raced this attempt; discard.
		m.mu.Unlock()
		tr.Close()
		return nil
	}
	m.tr = tr
	m.state = model.Connected
	m.failures = 0
	m.fallbackDone = false
	cbs := m.statusCallbacksLocked()
	m.mu.Unlock()

	go m.readLoop(gen, tr)

	m.logger.Info("channel connected", "url", m.cfg.URL)
	m.notify(cbs, model.Connected)
	m.dispatcher.Dispatch(event.Event{Kind: event.KindConnect, ReceivedAt: m.sched.Now()})
	return nil
}

// attemptFailed counts a failed attempt and either schedules the next
// retry or degrades the connection.
func (m *Manager) attemptFailed(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state != model.Connecting {
		m.mu.Unlock()
		return
	}

	m.failures++
	failures := m.failures

	if failures >= m.cfg.MaxAttempts {
		m.state = model.Degraded
		signal := !m.fallbackDone
		m.fallbackDone = true
		cbs := m.statusCallbacksLocked()
		fcbs := make([]callback[func()], len(m.fallbackCBs))
		copy(fcbs, m.fallbackCBs)
		m.mu.Unlock()

		m.logger.Warn("retry budget exhausted, entering degraded mode",
			"attempts", failures,
			"error", err,
		)
		m.notify(cbs, model.Degraded)
		if signal {
			for _, cb := range fcbs {
				cb.fn()
			}
		}
		return
	}

	delay := m.cfg.RetryBaseDelay << (failures - 1)
	m.retryTimer = m.sched.Schedule(delay, func() { m.retry(gen) })
	m.mu.Unlock()

	m.logger.Warn("connection attempt failed, will retry",
		"attempt", failures,
		"next_in", delay,
		"error", err,
	)
}

// retry runs a scheduled reconnection attempt for a still-current cycle.
func (m *Manager) retry(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != model.Connecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	attempt := m.failures + 1
	m.mu.Unlock()

	m.logger.Info("retrying connection", "attempt", attempt)
	m.attempt(context.Background(), gen)
}

// readLoop decodes inbound frames and dispatches them until the
// transport fails or is closed.
func (m *Manager) readLoop(gen int, tr transport) {
	for {
		select {
		case msg, ok := <-tr.Messages():
			if !ok {
				return
			}
			ev, err := event.DecodeFrame(msg.Data, msg.ReceivedAt)
			if err != nil {
				m.logger.Warn("malformed frame dropped", "error", err)
				continue
			}
			m.dispatcher.Dispatch(ev)

		case err := <-tr.Errors():
			m.channelError(gen, err)
			return
		}
	}
}

// channelError handles a network failure during an active session:
// connected → connecting, re-entering the retry policy. It does not
// degrade directly; only exhausting retries degrades.
func (m *Manager) channelError(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state != model.Connected {
		m.mu.Unlock()
		return
	}
	tr := m.tr
	m.tr = nil
	m.failures = 0
	m.state = model.Connecting
	m.retryTimer = m.sched.Schedule(m.cfg.RetryBaseDelay, func() { m.retry(gen) })
	cbs := m.statusCallbacksLocked()
	m.mu.Unlock()

	if tr != nil {
		tr.Close()
	}

	m.logger.Warn("channel error, reconnecting", "error", err)
	m.notify(cbs, model.Connecting)
}

// statusCallbacksLocked snapshots status callbacks; caller holds mu.
func (m *Manager) statusCallbacksLocked() []callback[func(model.ConnectionState)] {
	cbs := make([]callback[func(model.ConnectionState)], len(m.statusCBs))
	copy(cbs, m.statusCBs)
	return cbs
}

// notify invokes status callbacks outside the lock.
func (m *Manager) notify(cbs []callback[func(model.ConnectionState)], state model.ConnectionState) {
	for _, cb := range cbs {
		cb.fn(state)
	}
}
