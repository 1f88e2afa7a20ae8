package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

// RunStatus represents the status of a pipeline run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Bar is one asset's pricing record for one session. Missing fields are
// NaN in memory and NULL in the database.
type Bar struct {
	Asset   string    `json:"asset"`
	Session time.Time `json:"session"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  float64   `json:"volume"`
}

// Run records one pipeline evaluation
type Run struct {
	ID           string     `json:"id"`
	PipelineName string     `json:"pipeline_name"`
	StartSession string     `json:"start_session"` // YYYY-MM-DD
	EndSession   string     `json:"end_session"`   // YYYY-MM-DD
	Status       RunStatus  `json:"status"`
	RowCount     int        `json:"row_count"`
	Error        *string    `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Bar operations
	UpsertBars(ctx context.Context, bars []Bar) error
	GetWindow(ctx context.Context, column string, sessions []time.Time, assets []string) (*pipeline.Frame, error)
	Assets(ctx context.Context) ([]string, error)
	Sessions(ctx context.Context) ([]time.Time, error)
	CountBars(ctx context.Context) (int64, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, rowCount int, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
