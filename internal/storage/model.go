package storage

import (
	"time"
)

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// RunStatus is the lifecycle state of a coordination run.
type RunStatus string

func (s RunStatus) String() string {
	return string(s)
}

// Run is the stored record of a coordination run.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Status     RunStatus  `json:"status"`
	Params     *string    `json:"params,omitempty"` // JSON encoded run parameters
	Results    int64      `json:"results"`
	Flagged    int64      `json:"flagged"`
	Error      *string    `json:"error,omitempty"`
}

// RunOutcome is recorded when a run ends.
type RunOutcome struct {
	Status  RunStatus
	Results int64
	Flagged int64
	Err     error
}
