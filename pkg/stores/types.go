package stores

import (
	"context"
	"time"

	"github.com/twistedbytes/genproj/pkg/engine"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Invocation is one recorded project file generation.
type Invocation struct {
	ID                string        `json:"id"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	EngineRoot        string        `json:"engine_root"`
	ProjectDescriptor string        `json:"project_descriptor"`
	Command           []string      `json:"command"`
	ExitCode          *int          `json:"exit_code,omitempty"`
	Kind              string        `json:"kind"` // empty on success
	Error             *string       `json:"error,omitempty"`
	StdoutLines       int           `json:"stdout_lines"`
	StderrLines       int           `json:"stderr_lines"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Succeeded reports whether the invocation regenerated project files.
func (i *Invocation) Succeeded() bool {
	return i.Kind == ""
}

// InvocationFilter narrows ListInvocations. Zero values match everything.
type InvocationFilter struct {
	ProjectDescriptor string
	Kind              *string // pointer so success ("") can be selected
	Limit             int
	Offset            int
}

// Event represents an append-only host event (refresh requests, error dialogs).
type Event struct {
	ID        int64      `json:"id"`
	EventID   string     `json:"event_id"`
	Type      string     `json:"type"`
	Source    string     `json:"source"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Stats summarizes recorded invocations.
type Stats struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	ByKind    map[string]int `json:"by_kind"`
	LastRun   *time.Time     `json:"last_run,omitempty"`
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.Recorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Invocation operations
	GetInvocation(ctx context.Context, id string) (*Invocation, error)
	ListInvocations(ctx context.Context, filter InvocationFilter) ([]*Invocation, error)
	PruneInvocations(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) (*Stats, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, eventType *string, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
