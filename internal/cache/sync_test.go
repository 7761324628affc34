package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/realtime/internal/event"
	"github.com/marketpulse/realtime/internal/sched"
)

type recordingInvalidator struct {
	mu       sync.Mutex
	prefixes []string
}

func (r *recordingInvalidator) Invalidate(keyPrefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes = append(r.prefixes, keyPrefix)
}

func (r *recordingInvalidator) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.prefixes))
	copy(out, r.prefixes)
	return out
}

func newTestSync() (*Synchronizer, *recordingInvalidator, *sched.Manual) {
	inv := &recordingInvalidator{}
	clock := sched.NewManual(time.Unix(0, 0))
	s := NewSynchronizer(DefaultConfig(), inv, clock, nil)
	return s, inv, clock
}

func TestSynchronizer_CoalescesSameScope(t *testing.T) {
	s, inv, clock := newTestSync()

	// Five calls within the window → exactly one refetch per prefix.
	for i := 0; i < 5; i++ {
		s.Invalidate("pricing")
	}
	clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []string{"pricing:", "dashboard:pricing:"}, inv.all())
}

func TestSynchronizer_DistinctScopesIndependent(t *testing.T) {
	s, inv, clock := newTestSync()

	s.Invalidate("pricing")
	s.Invalidate("sentiment")
	clock.Advance(500 * time.Millisecond)

	got := inv.all()
	assert.Contains(t, got, "pricing:")
	assert.Contains(t, got, "sentiment:")
	assert.Len(t, got, 4, "two scopes, two prefixes each")
}

func TestSynchronizer_WindowReopensAfterFlush(t *testing.T) {
	s, inv, clock := newTestSync()

	s.Invalidate("jobs")
	clock.Advance(500 * time.Millisecond)
	require.Len(t, inv.all(), 1)

	// A call after the flush starts a fresh window.
	s.Invalidate("jobs")
	clock.Advance(500 * time.Millisecond)
	assert.Len(t, inv.all(), 2)
}

func TestSynchronizer_UnknownScopeIgnored(t *testing.T) {
	s, inv, clock := newTestSync()

	assert.NotPanics(t, func() { s.Invalidate("forecasting") })
	clock.Advance(time.Second)

	assert.Empty(t, inv.all())
}

func TestSynchronizer_HandleEvent(t *testing.T) {
	s, inv, clock := newTestSync()

	s.HandleEvent(event.Event{
		Kind:    event.KindDataUpdated,
		Payload: []byte(`{"type":"sentiment"}`),
	})
	clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []string{"sentiment:", "dashboard:sentiment:"}, inv.all())
}

func TestSynchronizer_HandleEventMalformed(t *testing.T) {
	s, inv, clock := newTestSync()

	assert.NotPanics(t, func() {
		s.HandleEvent(event.Event{Kind: event.KindDataUpdated, Payload: []byte("garbage")})
	})
	clock.Advance(time.Second)
	assert.Empty(t, inv.all())
}

func TestSynchronizer_CloseCancelsPending(t *testing.T) {
	s, inv, clock := newTestSync()

	s.Invalidate("pricing")
	s.Close()
	clock.Advance(time.Second)

	assert.Empty(t, inv.all(), "nothing may fire after Close")

	// And further calls are no-ops.
	s.Invalidate("pricing")
	clock.Advance(time.Second)
	assert.Empty(t, inv.all())
}
