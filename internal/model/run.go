// Package model defines the domain types shared across the tank index pipeline.
package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run represents a single invocation of the pipeline.
type Run struct {
	ID        string    `json:"id"`
	Stages    []string  `json:"stages"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PhaseStatus represents the current state of a pipeline stage within a run.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// RunPhase is one stage execution recorded against a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseResult holds the outcome of a pipeline stage.
type PhaseResult struct {
	Name      string         `json:"name"`
	Status    PhaseStatus    `json:"status"`
	Duration  int64          `json:"duration_ms"`
	InputHash string         `json:"input_hash,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Checkpoint records the last completed execution of a stage: the hash of
// everything it read and the artifacts it produced.
type Checkpoint struct {
	Stage       string    `json:"stage"`
	InputHash   string    `json:"input_hash"`
	Outputs     []string  `json:"outputs"`
	RunID       string    `json:"run_id"`
	CompletedAt time.Time `json:"completed_at"`
}
