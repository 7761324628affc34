// jobsim is a standalone MarketPulse server simulator for exercising the
// realtime client end to end: it serves the live channel over websocket,
// runs fake jobs that emit progress/complete/error events, broadcasts
// periodic data:updated events, and answers the REST status endpoint the
// polling fallback uses.
// Usage: go run ./cmd/jobsim --addr :8080
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-pkgz/rest"
	rlog "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/routegroup"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marketpulse/realtime/internal/event"
	"github.com/marketpulse/realtime/internal/model"
	"github.com/marketpulse/realtime/internal/version"
)

var activities = []string{
	"parsing question",
	"selecting markets",
	"fetching price history",
	"scoring sentiment",
	"ranking results",
	"rendering summary",
}

var dataScopes = []string{"dashboard", "pricing", "sentiment"}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	stepInterval := flag.Duration("step", 800*time.Millisecond, "simulated job step interval")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting jobsim", "version", version.Version, "addr", *addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	sim := newSimulator(*stepInterval, logger)
	go sim.broadcastDataUpdates(ctx)

	router := routegroup.New(http.NewServeMux())
	router.Use(
		rest.RealIP,
		rest.Recoverer(rlog.Std),
		rest.Throttle(1000),
		rest.AppInfo("jobsim", "marketpulse", version.Version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024),
	)

	router.HandleFunc("GET /realtime", sim.handleChannel)

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.HandleFunc("POST /jobs", sim.handleCreateJob)
		api.HandleFunc("GET /jobs/{id}/status", sim.handleJobStatus)
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "addr", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// simJob is one fake job's mutable state.
type simJob struct {
	id       string
	progress int
	status   model.JobStatus
	activity string
	eta      int
	failAt   int // progress threshold at which the job fails; 0 means never
}

// simulator owns the fake jobs and the set of connected channel clients.
type simulator struct {
	stepInterval time.Duration
	logger       *slog.Logger
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	jobs    map[string]*simJob
	clients map[*websocket.Conn]struct{}
}

func newSimulator(stepInterval time.Duration, logger *slog.Logger) *simulator {
	return &simulator{
		stepInterval: stepInterval,
		logger:       logger,
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		jobs:         make(map[string]*simJob),
		clients:      make(map[*websocket.Conn]struct{}),
	}
}

// handleChannel upgrades the connection and keeps it registered until
// the peer goes away. The read loop only consumes control frames; the
// simulator pushes everything.
func (s *simulator) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("channel client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
			s.logger.Info("channel client disconnected", "remote", conn.RemoteAddr().String())
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleCreateJob starts a fake job and returns its ID. An optional
// {"fail": true} body makes the job error out partway through.
func (s *simulator) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fail bool `json:"fail"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means defaults
	}

	j := &simJob{
		id:       uuid.New().String(),
		status:   model.JobActive,
		activity: activities[0],
	}
	if req.Fail {
		j.failAt = 30 + rand.Intn(50)
	}

	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	go s.runJob(j.id)

	s.logger.Info("job created", "job_id", j.id, "will_fail", req.Fail)
	w.WriteHeader(http.StatusCreated)
	rest.RenderJSON(w, rest.JSON{"jobId": j.id})
}

// handleJobStatus serves the REST payload the polling fallback consumes.
func (s *simulator) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	payload := s.statusPayloadLocked(j)
	s.mu.Unlock()

	rest.RenderJSON(w, payload)
}

// statusPayloadLocked builds the wire payload for a job; caller holds mu.
func (s *simulator) statusPayloadLocked(j *simJob) model.JobStatusPayload {
	payload := model.JobStatusPayload{
		Progress:        j.progress,
		Status:          j.status.String(),
		CurrentActivity: j.activity,
	}
	switch j.status {
	case model.JobActive:
		eta := j.eta
		payload.EstimatedSecondsRemaining = &eta
	case model.JobError:
		payload.Error = "simulated job failure"
	}
	return payload
}

// runJob advances one job until it completes or fails, emitting a
// channel event per step.
func (s *simulator) runJob(id string) {
	ticker := time.NewTicker(s.stepInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		j, ok := s.jobs[id]
		if !ok || j.status != model.JobActive {
			s.mu.Unlock()
			return
		}

		j.progress += 5 + rand.Intn(16)
		if j.failAt > 0 && j.progress >= j.failAt {
			j.status = model.JobError
			s.mu.Unlock()
			s.broadcast(event.KindJobError, id, model.ErrorPayload{Message: "simulated job failure"})
			return
		}
		if j.progress >= 100 {
			j.progress = 100
			j.status = model.JobCompleted
			s.mu.Unlock()
			s.broadcast(event.KindJobComplete, id, model.CompletePayload{})
			s.broadcast(event.KindDataUpdated, "", model.DataUpdatedPayload{Type: "jobs"})
			return
		}

		j.activity = activities[(j.progress*len(activities))/100]
		j.eta = int(float64(100-j.progress) / 100 * 12)
		payload := model.ProgressPayload{
			Progress:                  j.progress,
			CurrentActivity:           j.activity,
			EstimatedSecondsRemaining: &j.eta,
		}
		s.mu.Unlock()

		s.broadcast(event.KindJobProgress, id, payload)
	}
}

// broadcastDataUpdates cycles data:updated events through the scopes so
// the client's cache synchronizer has something to coalesce.
func (s *simulator) broadcastDataUpdates(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scope := dataScopes[i%len(dataScopes)]
			s.broadcast(event.KindDataUpdated, "", model.DataUpdatedPayload{Type: scope})
		}
	}
}

// broadcast encodes one event and writes it to every connected client,
// dropping clients whose writes fail.
func (s *simulator) broadcast(kind event.Kind, jobID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("payload marshal failed", "error", err)
		return
	}
	data, err := event.EncodeFrame(event.Event{Kind: kind, JobID: jobID, Payload: raw})
	if err != nil {
		s.logger.Error("frame encode failed", "error", err)
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Warn("client write failed, dropping", "error", err)
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			c.Close()
		}
	}
}
