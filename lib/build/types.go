package build

import (
	"time"

	"github.com/kilnbuild/kiln/lib/descriptor"
)

// Status is the lifecycle state of a build job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Build is one build job: a descriptor consumed by the pipeline, producing
// either exactly one tagged image or nothing.
type Build struct {
	ID         string                 `json:"id"`
	Status     Status                 `json:"status"`
	Descriptor *descriptor.Descriptor `json:"descriptor"`
	ImageID    string                 `json:"image_id,omitempty"` // set on success
	Error      string                 `json:"error,omitempty"`    // set on failure
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}
