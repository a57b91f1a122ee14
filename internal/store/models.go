package store

import "time"

// Gorm row models. Kept separate from types.* so the persistence shape
// (flat columns, JSON-encoded metadata) can evolve independently of the
// domain model the rest of the core depends on.

type runRow struct {
	ID                 string `gorm:"primaryKey"`
	WorkflowID         string
	TaskDescription    string
	CustomInstructions string
	StopWhen           string
	MaxSteps           int
	LLMProvider        string
	LLMModel           string
	Status             string `gorm:"index"`
	Error              string
	Result             string
	Metadata           string // JSON-encoded map[string]string
	StartedAt          time.Time
	CompletedAt        *time.Time
}

func (runRow) TableName() string { return "runs" }

type runStepRow struct {
	ID         string `gorm:"primaryKey"`
	RunID      string `gorm:"index"`
	StepNumber int
	ToolName   string
	Params     string
	Success    bool
	Result     string
	Error      string
	Screenshot string
	DurationMS int64
	Timestamp  time.Time
}

func (runStepRow) TableName() string { return "run_steps" }

type runLogRow struct {
	ID        string `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	Level     string
	Message   string
	Timestamp time.Time
	Seq       int64
}

func (runLogRow) TableName() string { return "run_logs" }

type storedFileRow struct {
	ID         string `gorm:"primaryKey"`
	RunID      string `gorm:"index"`
	WorkflowID string
	FileName   string
	FilePath   string
	MimeType   string
	FileSize   int64
	CreatedAt  time.Time
}

func (storedFileRow) TableName() string { return "stored_files" }

type noteRow struct {
	ID        string `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	Key       string
	Value     string
	CreatedAt time.Time
}

func (noteRow) TableName() string { return "notes" }

type settingsRow struct {
	ID              int `gorm:"primaryKey"`
	DefaultProvider string
	DefaultModel    string
	DefaultHeadless bool
	ViewportWidth   int
	ViewportHeight  int
	Version         int
}

func (settingsRow) TableName() string { return "settings" }
