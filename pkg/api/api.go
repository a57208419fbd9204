// Package api contains the JSON structs the CLI prints with --json.
// Scripts driving mljob decode these.
package api

import "encoding/json"

// JobResult is the value a job's entrypoint recorded.
type JobResult struct {
	Success   bool            `json:"success"`
	Value     json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Traceback string          `json:"traceback,omitempty"`
}

// SubmitSummary is the outcome of submitting and watching one job.
type SubmitSummary struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	TimedOut bool   `json:"timed_out"`
	LogFile  string `json:"log_file,omitempty"`

	Result *JobResult `json:"result,omitempty"`

	// Artifacts maps result keys to downloaded local files
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// JobStatusResponse is printed by `mljob status --json`.
type JobStatusResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// SetupResponse is printed by `mljob setup --json`.
type SetupResponse struct {
	ComputePool  string `json:"compute_pool"`
	Stage        string `json:"stage"`
	StageCreated bool   `json:"stage_created"`
}

// ErrorResponse is the standard error output format.
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}
