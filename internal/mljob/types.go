// Package mljob submits directories of code as Snowflake ML jobs (job
// services running in a compute pool) and reads back their state.
package mljob

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Status is the state a job service reports.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusRunning       Status = "RUNNING"
	StatusDone          Status = "DONE"
	StatusFailed        Status = "FAILED"
	StatusCancelling    Status = "CANCELLING"
	StatusCancelled     Status = "CANCELLED"
	StatusInternalError Status = "INTERNAL_ERROR"
	StatusDeleted       Status = "DELETED"
	StatusUnknown       Status = "UNKNOWN"
)

// ParseStatus maps a service status string onto Status. Unrecognised values become StatusUnknown.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusRunning, StatusDone, StatusFailed, StatusCancelling,
		StatusCancelled, StatusInternalError, StatusDeleted:
		return st
	default:
		return StatusUnknown
	}
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled, StatusInternalError, StatusDeleted:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Result is the outcome the launcher records after the entrypoint finishes.
// Value holds the entrypoint's __return__ global as JSON.
type Result struct {
	Success   bool            `json:"success"`
	Value     json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Traceback string          `json:"traceback,omitempty"`
}

// Object decodes Value as a JSON object. It returns nil when Value is not an object.
func (r *Result) Object() map[string]any {
	if r == nil || len(r.Value) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(r.Value, &m); err != nil {
		return nil
	}
	return m
}

// Job is a handle on a submitted job. Every method reads remote state; none changes it.
type Job interface {
	// ID is the fully qualified job service name.
	ID() string
	Status(ctx context.Context) (Status, error)
	Logs(ctx context.Context) (string, error)
	Result(ctx context.Context) (*Result, error)
}

// Client submits jobs and looks up existing ones.
type Client interface {
	SubmitDirectory(ctx context.Context, opts SubmitOptions) (Job, error)
	GetJob(ctx context.Context, id string) (Job, error)
}

// SubmitOptions describes one directory submission.
type SubmitOptions struct {
	// Local directory uploaded as the job payload
	Dir string
	// Entrypoint script, relative to Dir
	Entrypoint string
	// Arguments passed to the entrypoint
	Args []string
	// Extra pip requirements installed before the entrypoint runs
	PipRequirements []string
	// External access integrations, needed for pip installs from PyPI
	ExternalAccessIntegrations []string

	ComputePool string
	Stage       string
}

// SubmitError is returned when a submission fails after a job id was allocated.
type SubmitError struct {
	JobID string
	Op    string
	Err   error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit job %s: %s: %v", e.JobID, e.Op, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// NewJobID allocates a job service name: MLJOB_ followed by 32 upper-case hex digits.
func NewJobID() string {
	return "MLJOB_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// ShortID returns the last dot-separated component of a qualified job id.
func ShortID(id string) string {
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}
