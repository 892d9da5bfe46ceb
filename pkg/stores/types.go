package stores

import (
	"context"
	"errors"
	"time"

	"github.com/edgechute/chuted/pkg/chute"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// UpdateRecord is the persisted history entry of one update.
type UpdateRecord struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Chute       string     `json:"chute"`
	State       string     `json:"state"`
	Error       *string    `json:"error,omitempty"`
	Responses   string     `json:"responses"` // JSON array
	Messages    string     `json:"messages"`  // JSON array
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
}

// Event is an append-only log entry attached to an update.
type Event struct {
	ID        int64     `json:"id"`
	UpdateID  *string   `json:"update_id,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// ChuteStore holds the installed chute records.
type ChuteStore interface {
	GetChute(ctx context.Context, name string) (*chute.Chute, error)
	SaveChute(ctx context.Context, c *chute.Chute) error
	DeleteChute(ctx context.Context, name string) error
	DeleteAllChutes(ctx context.Context) (int64, error)
	ListChutes(ctx context.Context) ([]*chute.Chute, error)
}

// HistoryStore records updates and their events.
type HistoryStore interface {
	CreateUpdate(ctx context.Context, rec *UpdateRecord) error
	FinishUpdate(ctx context.Context, rec *UpdateRecord) error
	GetUpdate(ctx context.Context, id string) (*UpdateRecord, error)
	ListUpdates(ctx context.Context, chuteName *string, limit, offset int) ([]*UpdateRecord, error)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, updateID *string, limit, offset int) ([]*Event, error)
}

// Store defines the interface for the persistence layer.
type Store interface {
	ChuteStore
	HistoryStore

	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error
}
