package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a server-side job.
//
// NOTE: These values are the wire contract of the job status endpoint and are
// also persisted in the history database.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Rank orders statuses along the lifecycle: PENDING < RUNNING < terminal.
// SUCCESS and FAILED share the top rank. Unknown statuses rank below PENDING.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusRunning:
		return 2
	case StatusSuccess, StatusFailed:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether no further transition can follow.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	return s.Rank() > 0
}

// ParseStatus parses a wire status. Matching is case-insensitive.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown job status %q", s)
	}
	return st, nil
}

// Job is the client-side mirror of a job's last accepted observation.
type Job struct {
	ID          int64      `json:"job_id"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      Result     `json:"-"`
}
