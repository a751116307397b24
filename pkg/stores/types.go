package stores

import (
	"time"
)

// SessionStatus represents the lifecycle state of a resolution session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Session represents one engine run against a set of targets.
type Session struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// SessionSummary is a session with aggregate counts for status output.
type SessionSummary struct {
	Session
	Resolutions int `json:"resolutions"`
	Failures    int `json:"failures"`
	Installs    int `json:"installs"`
}

// Resolution is a journal row for one completed resolution attempt.
type Resolution struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Capability string    `json:"capability"`
	TargetID   string    `json:"target_id"`
	Variant    string    `json:"variant,omitempty"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Cached     bool      `json:"cached"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Probe is a journal row for one probe chain run.
type Probe struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Capability string    `json:"capability"`
	TargetID   string    `json:"target_id"`
	Attempts   int       `json:"attempts"`
	Succeeded  bool      `json:"succeeded"`
	WorkIndex  int       `json:"work_index"`
	ExitCode   int       `json:"exit_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// Install is a journal row for one installation strategy attempt.
type Install struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Capability string    `json:"capability"`
	TargetID   string    `json:"target_id"`
	Strategy   string    `json:"strategy"`
	Succeeded  bool      `json:"succeeded"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is an append-only log row mirroring a telemetry event.
type Event struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"event_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	Capability string    `json:"capability,omitempty"`
	TargetID   string    `json:"target_id,omitempty"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	Details    *string   `json:"details,omitempty"` // JSON blob
	Timestamp  time.Time `json:"timestamp"`
}
