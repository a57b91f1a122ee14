// Package types holds the domain model shared across the store, the agent
// loop, the browser driver and the API surface.
package types

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether s is one of the three terminal states.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// RecordingStatus is the lifecycle state of a Recording Session.
type RecordingStatus string

const (
	RecordingInitializing RecordingStatus = "initializing"
	RecordingRecording    RecordingStatus = "recording"
	RecordingPaused       RecordingStatus = "paused"
	RecordingStopping     RecordingStatus = "stopping"
	RecordingStopped      RecordingStatus = "stopped"
	RecordingError        RecordingStatus = "error"
)

// LogLevel is the severity of a RunLog entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Variable describes a single workflow template variable.
type Variable struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default string `json:"default,omitempty"`
}

// Workflow is the user-authored automation template. The core treats it as
// immutable; it is only ever written by the external workflow-CRUD
// collaborator.
type Workflow struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	TaskDescription string            `json:"task_description"`
	StopWhen        string            `json:"stop_when,omitempty"`
	MaxSteps        int               `json:"max_steps,omitempty"`
	Variables       []Variable        `json:"variables,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Version         int               `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Run is one execution of the agent loop.
type Run struct {
	ID                string            `json:"id"`
	WorkflowID        string            `json:"workflow_id,omitempty"`
	TaskDescription   string            `json:"task_description"`
	CustomInstructions string           `json:"custom_instructions,omitempty"`
	StopWhen          string            `json:"stop_when,omitempty"`
	MaxSteps          int               `json:"max_steps"`
	LLMProvider       string            `json:"llm_provider"`
	LLMModel          string            `json:"llm_model"`
	Status            RunStatus         `json:"status"`
	Error             string            `json:"error,omitempty"`
	Result            string            `json:"result,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// RunStep is one append-only record of a dispatched tool call.
type RunStep struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	StepNumber int       `json:"step_number"`
	ToolName   string    `json:"tool_name"`
	Params     string    `json:"params"` // JSON-encoded
	Success    bool      `json:"success"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"` // base64 PNG
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// RunLog is one append-only log line emitted while driving a run.
type RunLog struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"` // insertion-order tiebreaker
}

// StoredFile is a file created by the write_file tool and owned by the Store.
type StoredFile struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path"`
	MimeType   string    `json:"mime_type"`
	FileSize   int64     `json:"file_size"`
	CreatedAt  time.Time `json:"created_at"`
}

// Note is a persisted save_note/recall_notes entry. Notes are exempt from
// history compaction: they are the agent's explicit, durable scratchpad.
type Note struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings is the singleton configuration row, guarded by optimistic
// concurrency via Version.
type Settings struct {
	DefaultProvider string `json:"default_provider"`
	DefaultModel    string `json:"default_model"`
	DefaultHeadless bool   `json:"default_headless"`
	ViewportWidth   int    `json:"viewport_width"`
	ViewportHeight  int    `json:"viewport_height"`
	Version         int    `json:"version"`
}

// Page describes pagination parameters shared by list operations.
type Page struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Normalize fills in defaults and clamps PerPage.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 20
	}
	if p.PerPage > 200 {
		p.PerPage = 200
	}
	return p
}

// RunFilter narrows list_runs.
type RunFilter struct {
	Status     RunStatus
	WorkflowID string
}
