package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/twistedbytes/genproj/pkg/engine"
	"github.com/twistedbytes/genproj/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own empty database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// dsn builds the modernc.org/sqlite connection string.
func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}
	if s.cfg.Path != memoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return s.cfg.Path + "?" + strings.Join(pragmas, "&")
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	s.db = db
	if err := s.HealthCheck(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// m.Close would close s.db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Record stores a finished invocation. It implements engine.Recorder.
func (s *SQLiteStore) Record(ctx context.Context, outcome *engine.Outcome) error {
	if outcome == nil {
		return fmt.Errorf("outcome is nil")
	}
	return s.SaveInvocation(ctx, invocationFromOutcome(outcome))
}

// SaveInvocation inserts an invocation. A missing ID is generated.
func (s *SQLiteStore) SaveInvocation(ctx context.Context, inv *Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	if inv.Command == nil {
		inv.Command = []string{}
	}

	command, err := json.Marshal(inv.Command)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	query := `
		INSERT INTO invocations (
			id, started_at, duration_ms, engine_root, project_descriptor, command,
			exit_code, kind, error, stdout_lines, stderr_lines, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		inv.ID,
		inv.StartedAt.UTC(),
		inv.Duration.Milliseconds(),
		inv.EngineRoot,
		inv.ProjectDescriptor,
		string(command),
		inv.ExitCode,
		inv.Kind,
		inv.Error,
		inv.StdoutLines,
		inv.StderrLines,
		inv.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save invocation: %w", err)
	}

	return nil
}

const invocationColumns = `
	id, started_at, duration_ms, engine_root, project_descriptor, command,
	exit_code, kind, error, stdout_lines, stderr_lines, created_at
`

// GetInvocation retrieves an invocation by ID
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)

	inv, err := scanInvocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invocation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invocation: %w", err)
	}

	return inv, nil
}

// ListInvocations returns invocations newest first.
func (s *SQLiteStore) ListInvocations(ctx context.Context, filter InvocationFilter) ([]*Invocation, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProjectDescriptor != "" {
		where = append(where, "project_descriptor = ?")
		args = append(args, filter.ProjectDescriptor)
	}
	if filter.Kind != nil {
		where = append(where, "kind = ?")
		args = append(args, *filter.Kind)
	}

	query := `SELECT ` + invocationColumns + ` FROM invocations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // no limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	invocations := []*Invocation{}
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		invocations = append(invocations, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}

	return invocations, nil
}

// PruneInvocations deletes invocations started before the given time.
func (s *SQLiteStore) PruneInvocations(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune invocations: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned invocations: %w", err)
	}
	return n, nil
}

// Stats summarizes the recorded invocations.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM invocations GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByKind: map[string]int{}}
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.Total += count
		if kind == "" {
			stats.Succeeded = count
			continue
		}
		stats.ByKind[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}

	if stats.Total > 0 {
		last, err := s.ListInvocations(ctx, InvocationFilter{Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(last) == 1 {
			t := last[0].StartedAt
			stats.LastRun = &t
		}
	}

	return stats, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	query := `
		INSERT INTO events (event_id, type, source, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.Type,
		event.Source,
		string(event.Level),
		event.Message,
		event.Details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents retrieves events newest first, optionally of one type.
func (s *SQLiteStore) ListEvents(ctx context.Context, eventType *string, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, event_id, type, source, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR type = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, eventType, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			event   Event
			level   string
			details sql.NullString
		)
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.Type,
			&event.Source,
			&level,
			&event.Message,
			&details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Level = EventLevel(level)
		if details.Valid {
			event.Details = &details.String
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// EventSubscriber returns a telemetry subscriber that appends every
// published event to the store. Failures are logged, not returned.
func (s *SQLiteStore) EventSubscriber(logger *telemetry.Logger) telemetry.EventSubscriber {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	logger = logger.NewComponentLogger("stores")

	return func(e telemetry.Event) {
		event, err := eventFromTelemetry(e)
		if err == nil {
			err = s.AppendEvent(context.Background(), event)
		}
		if err != nil {
			logger.WithError(err).WithField("event_type", e.Type).Warn("Failed to record event")
		}
	}
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row rowScanner) (*Invocation, error) {
	var (
		inv        Invocation
		durationMs int64
		command    string
		exitCode   sql.NullInt64
		errMsg     sql.NullString
	)

	err := row.Scan(
		&inv.ID,
		&inv.StartedAt,
		&durationMs,
		&inv.EngineRoot,
		&inv.ProjectDescriptor,
		&command,
		&exitCode,
		&inv.Kind,
		&errMsg,
		&inv.StdoutLines,
		&inv.StderrLines,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Duration = time.Duration(durationMs) * time.Millisecond
	if err := json.Unmarshal([]byte(command), &inv.Command); err != nil {
		return nil, fmt.Errorf("invalid command column: %w", err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		inv.ExitCode = &code
	}
	if errMsg.Valid {
		inv.Error = &errMsg.String
	}

	return &inv, nil
}

func invocationFromOutcome(o *engine.Outcome) *Invocation {
	inv := &Invocation{
		ID:                o.ID,
		StartedAt:         o.StartedAt,
		Duration:          o.Duration,
		EngineRoot:        o.EngineRoot,
		ProjectDescriptor: o.ProjectDescriptor,
		Command:           append([]string(nil), o.Command...),
		Kind:              string(o.Kind),
		StdoutLines:       o.StdoutLines,
		StderrLines:       o.StderrLines,
	}
	if o.ExitCode != nil {
		code := *o.ExitCode
		inv.ExitCode = &code
	}
	if o.Error != "" {
		msg := o.Error
		inv.Error = &msg
	}
	return inv
}

func eventFromTelemetry(e telemetry.Event) (*Event, error) {
	event := &Event{
		EventID:   e.ID,
		Type:      e.Type,
		Source:    e.Source,
		Level:     EventLevel(e.Level),
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}

	switch event.Level {
	case EventLevelInfo, EventLevelWarning, EventLevelError:
	case "":
		event.Level = EventLevelInfo
	default:
		return nil, fmt.Errorf("unknown event level %q", e.Level)
	}

	if len(e.Data) > 0 {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event data: %w", err)
		}
		details := string(data)
		event.Details = &details
	}

	return event, nil
}
