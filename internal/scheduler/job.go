// SPDX-License-Identifier: MIT

// Package scheduler is the persistent single-node job queue: workers lease
// jobs per resource class, maintain heartbeats, and a reaper recovers jobs
// whose lease expired.
package scheduler

import (
	"encoding/json"
	"strings"

	"github.com/videocatalog/videocatalog/internal/fault"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusLeased    Status = "leased"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Resource is the coarse concurrency class a job occupies.
type Resource string

const (
	ResourceHeavyAIGPU Resource = "heavy_ai_gpu"
	ResourceLightCPU   Resource = "light_cpu"
	ResourceIOLight    Resource = "io_light"
)

// Resources lists every known class in scheduling order.
var Resources = []Resource{ResourceHeavyAIGPU, ResourceLightCPU, ResourceIOLight}

// ParseResource validates a resource class string.
func ParseResource(raw string) (Resource, error) {
	switch Resource(strings.ToLower(strings.TrimSpace(raw))) {
	case ResourceHeavyAIGPU:
		return ResourceHeavyAIGPU, nil
	case ResourceLightCPU:
		return ResourceLightCPU, nil
	case ResourceIOLight:
		return ResourceIOLight, nil
	default:
		return "", fault.Newf(fault.Validation, "unknown resource class %q", raw)
	}
}

// Job is one persistent unit of background work.
type Job struct {
	ID           int64           `json:"id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	Resource     Resource        `json:"resource"`
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	LeaseOwner   *string         `json:"lease_owner,omitempty"`
	LeaseUTC     *string         `json:"lease_utc,omitempty"`
	HeartbeatUTC *string         `json:"heartbeat_utc,omitempty"`
	CreatedUTC   string          `json:"created_utc"`
	StartedUTC   *string         `json:"started_utc,omitempty"`
	EndedUTC     *string         `json:"ended_utc,omitempty"`
	ErrorCode    *string         `json:"error_code,omitempty"`
	ErrorMsg     *string         `json:"error_msg,omitempty"`
	NotBeforeUTC *string         `json:"not_before_utc,omitempty"`
}

// EnqueueRequest is the input to Store.Enqueue.
type EnqueueRequest struct {
	Kind        string
	Payload     any
	Priority    int
	Resource    Resource
	MaxAttempts int
	// Dedup skips the insert when a job of the same kind is already in
	// {queued, leased, running}.
	Dedup bool
}

func (r EnqueueRequest) validate() error {
	if strings.TrimSpace(r.Kind) == "" {
		return fault.New(fault.Validation, "job kind is required")
	}
	if _, err := ParseResource(string(r.Resource)); err != nil {
		return err
	}
	return nil
}
