package model

import "time"

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnectionState describes the live channel as seen by consumers.
// Transitions are driven only by the connection manager; everything
// else reads it.
type ConnectionState int

const (
	// Disconnected means no channel and no attempt in flight.
	Disconnected ConnectionState = iota
	// Connecting means an attempt (initial or retry) is in flight.
	Connecting
	// Connected means the live channel is up and push delivery works.
	Connected
	// Degraded means retry attempts have been exhausted since the last
	// successful connection; polling substitutes for push delivery.
	Degraded
)

// String returns the lowercase name used in logs and banners.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

// -----------------------------------------------------------------------------
// Job Execution State
// -----------------------------------------------------------------------------

// JobStatus is the lifecycle phase of a tracked job.
type JobStatus int

const (
	JobIdle JobStatus = iota
	JobActive
	JobCompleted
	JobError
)

// String returns the wire/REST representation of the status.
func (s JobStatus) String() string {
	switch s {
	case JobIdle:
		return "idle"
	case JobActive:
		return "active"
	case JobCompleted:
		return "completed"
	case JobError:
		return "error"
	}
	return "unknown"
}

// ParseJobStatus maps a wire status string to a JobStatus. Unknown
// strings map to JobIdle with ok=false so callers can log and ignore.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch s {
	case "idle":
		return JobIdle, true
	case "active":
		return JobActive, true
	case "completed":
		return JobCompleted, true
	case "error":
		return JobError, true
	}
	return JobIdle, false
}

// ActivityLogCap bounds the activity log; oldest entries are evicted
// first when the cap is reached.
const ActivityLogCap = 10

// ActivityEntry is one line of a job's activity history.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// JobSnapshot is the execution state of a single tracked job. Exactly
// one snapshot is live per active job; the tracker resets it when a new
// job starts.
type JobSnapshot struct {
	JobID           string          `json:"jobId"`
	Progress        int             `json:"progress"` // 0-100, monotonic while active
	Status          JobStatus       `json:"-"`
	CurrentActivity string          `json:"currentActivity"`
	ActivityLog     []ActivityEntry `json:"activityLog"`

	// EstimatedSecondsRemaining is nil when the server has not provided
	// an estimate, and is cleared on completion.
	EstimatedSecondsRemaining *int `json:"estimatedSecondsRemaining,omitempty"`

	// Err carries the server-reported failure message when Status is
	// JobError.
	Err string `json:"error,omitempty"`
}

// AppendActivity appends an entry to the log, evicting the oldest entry
// once the cap is reached.
func (j *JobSnapshot) AppendActivity(ts time.Time, msg string) {
	j.ActivityLog = append(j.ActivityLog, ActivityEntry{Timestamp: ts, Message: msg})
	if len(j.ActivityLog) > ActivityLogCap {
		j.ActivityLog = j.ActivityLog[len(j.ActivityLog)-ActivityLogCap:]
	}
}

// Clone returns a deep copy safe to hand to watchers.
func (j JobSnapshot) Clone() JobSnapshot {
	out := j
	if j.ActivityLog != nil {
		out.ActivityLog = make([]ActivityEntry, len(j.ActivityLog))
		copy(out.ActivityLog, j.ActivityLog)
	}
	if j.EstimatedSecondsRemaining != nil {
		v := *j.EstimatedSecondsRemaining
		out.EstimatedSecondsRemaining = &v
	}
	return out
}

// -----------------------------------------------------------------------------
// Wire Payloads
// -----------------------------------------------------------------------------

// ProgressPayload is the payload of a <job>:progress event.
type ProgressPayload struct {
	Progress                  int    `json:"progress"`
	CurrentActivity           string `json:"currentActivity,omitempty"`
	EstimatedSecondsRemaining *int   `json:"estimatedSecondsRemaining,omitempty"`
}

// CompletePayload is the payload of a <job>:complete event.
type CompletePayload struct {
	CurrentActivity string `json:"currentActivity,omitempty"`
}

// ErrorPayload is the payload of a <job>:error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// DataUpdatedPayload is the payload of a data:updated event; Type names
// the invalidation scope affected by the change.
type DataUpdatedPayload struct {
	Type string `json:"type"`
}

// JobStatusPayload is the REST job-status response consumed by the
// polling fallback.
type JobStatusPayload struct {
	Progress                  int    `json:"progress"`
	Status                    string `json:"status"`
	CurrentActivity           string `json:"currentActivity,omitempty"`
	EstimatedSecondsRemaining *int   `json:"estimatedSecondsRemaining,omitempty"`
	Error                     string `json:"error,omitempty"`
}
