package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind is the closed set of event kinds the subsystem handles.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnect
	KindDisconnect
	KindJobProgress
	KindJobComplete
	KindJobError
	KindDataUpdated
)

// String returns a stable name for logging.
func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindJobProgress:
		return "job_progress"
	case KindJobComplete:
		return "job_complete"
	case KindJobError:
		return "job_error"
	case KindDataUpdated:
		return "data_updated"
	}
	return "unknown"
}

// Event is a single inbound or local event. JobID is set only for the
// job-scoped kinds.
type Event struct {
	Kind       Kind
	JobID      string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Frame is the JSON envelope carried on the live channel.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Wire event names. Job-scoped events are "<jobID>:<suffix>".
const (
	wireConnect     = "connect"
	wireDisconnect  = "disconnect"
	wireDataUpdated = "data:updated"

	suffixProgress = ":progress"
	suffixComplete = ":complete"
	suffixError    = ":error"
)

// ParseWireName translates a wire event name into a kind and, for
// job-scoped events, the job ID. Unrecognized names yield KindUnknown.
func ParseWireName(name string) (kind Kind, jobID string) {
	switch name {
	case wireConnect:
		return KindConnect, ""
	case wireDisconnect:
		return KindDisconnect, ""
	case wireDataUpdated:
		return KindDataUpdated, ""
	}

	switch {
	case strings.HasSuffix(name, suffixProgress):
		jobID = strings.TrimSuffix(name, suffixProgress)
		kind = KindJobProgress
	case strings.HasSuffix(name, suffixComplete):
		jobID = strings.TrimSuffix(name, suffixComplete)
		kind = KindJobComplete
	case strings.HasSuffix(name, suffixError):
		jobID = strings.TrimSuffix(name, suffixError)
		kind = KindJobError
	}

	if jobID == "" {
		return KindUnknown, ""
	}
	return kind, jobID
}

// WireName translates a kind (and job ID where applicable) back into
// its wire event name. Returns "" for kinds with no wire form.
func WireName(kind Kind, jobID string) string {
	switch kind {
	case KindConnect:
		return wireConnect
	case KindDisconnect:
		return wireDisconnect
	case KindDataUpdated:
		return wireDataUpdated
	case KindJobProgress:
		return jobID + suffixProgress
	case KindJobComplete:
		return jobID + suffixComplete
	case KindJobError:
		return jobID + suffixError
	}
	return ""
}

// DecodeFrame parses a raw channel message into an Event.
func DecodeFrame(data []byte, receivedAt time.Time) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, err
	}

	kind, jobID := ParseWireName(f.Event)
	return Event{
		Kind:       kind,
		JobID:      jobID,
		Payload:    f.Payload,
		ReceivedAt: receivedAt,
	}, nil
}

// EncodeFrame builds the raw channel message for an outbound event.
func EncodeFrame(ev Event) ([]byte, error) {
	return json.Marshal(Frame{
		Event:   WireName(ev.Kind, ev.JobID),
		Payload: ev.Payload,
	})
}
