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

	"github.com/edgechute/chuted/pkg/chute"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
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

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// SaveChute inserts or replaces a chute record, including its cache.
func (s *SQLiteStore) SaveChute(ctx context.Context, c *chute.Chute) error {
	if !c.IsValid() {
		return fmt.Errorf("cannot save chute without a name")
	}

	definition, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode chute %s: %w", c.Name, err)
	}
	cache, err := json.Marshal(c.CacheContents())
	if err != nil {
		return fmt.Errorf("failed to encode cache of chute %s: %w", c.Name, err)
	}

	query := `
		INSERT INTO chutes (name, state, version, owner, definition, cache, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			state = excluded.state,
			version = excluded.version,
			owner = excluded.owner,
			definition = excluded.definition,
			cache = excluded.cache,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		c.Name,
		string(c.State),
		c.Version,
		c.Owner,
		string(definition),
		string(cache),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save chute %s: %w", c.Name, err)
	}

	return nil
}

// GetChute retrieves a chute record by name.
func (s *SQLiteStore) GetChute(ctx context.Context, name string) (*chute.Chute, error) {
	query := `SELECT definition, cache FROM chutes WHERE name = ?`

	var definition, cache string
	err := s.db.QueryRowContext(ctx, query, name).Scan(&definition, &cache)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chute %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chute %s: %w", name, err)
	}

	return decodeChute(definition, cache)
}

// ListChutes returns every installed chute ordered by name.
func (s *SQLiteStore) ListChutes(ctx context.Context) ([]*chute.Chute, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition, cache FROM chutes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chutes: %w", err)
	}
	defer rows.Close()

	chutes := []*chute.Chute{}
	for rows.Next() {
		var definition, cache string
		if err := rows.Scan(&definition, &cache); err != nil {
			return nil, fmt.Errorf("failed to scan chute: %w", err)
		}
		c, err := decodeChute(definition, cache)
		if err != nil {
			return nil, err
		}
		chutes = append(chutes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chutes: %w", err)
	}

	return chutes, nil
}

// DeleteChute removes a chute record.
func (s *SQLiteStore) DeleteChute(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chutes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete chute %s: %w", name, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("chute %s: %w", name, ErrNotFound)
	}

	return nil
}

// DeleteAllChutes removes every chute record and returns how many were removed.
func (s *SQLiteStore) DeleteAllChutes(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chutes`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chutes: %w", err)
	}
	return result.RowsAffected()
}

func decodeChute(definition, cache string) (*chute.Chute, error) {
	c := chute.New("")
	if err := json.Unmarshal([]byte(definition), c); err != nil {
		return nil, fmt.Errorf("failed to decode chute: %w", err)
	}
	c.Normalize()

	values := map[string]any{}
	if err := json.Unmarshal([]byte(cache), &values); err != nil {
		return nil, fmt.Errorf("failed to decode cache of chute %s: %w", c.Name, err)
	}
	c.UpdateCache(values)
	return c, nil
}

// CreateUpdate records the start of an update.
func (s *SQLiteStore) CreateUpdate(ctx context.Context, rec *UpdateRecord) error {
	query := `
		INSERT INTO updates (id, type, chute, state, error, responses, messages, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Type,
		rec.Chute,
		rec.State,
		rec.Error,
		orDefault(rec.Responses, "[]"),
		orDefault(rec.Messages, "[]"),
		rec.StartedAt.UTC(),
		rec.CompletedAt,
		rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to create update %s: %w", rec.ID, err)
	}

	return nil
}

// FinishUpdate stores the final state, responses and duration of an update.
func (s *SQLiteStore) FinishUpdate(ctx context.Context, rec *UpdateRecord) error {
	query := `
		UPDATE updates
		SET state = ?, error = ?, responses = ?, messages = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?
	`

	completedAt := time.Now().UTC()
	if rec.CompletedAt != nil {
		completedAt = rec.CompletedAt.UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		rec.State,
		rec.Error,
		orDefault(rec.Responses, "[]"),
		orDefault(rec.Messages, "[]"),
		completedAt,
		rec.DurationMS,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish update %s: %w", rec.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update %s: %w", rec.ID, ErrNotFound)
	}

	rec.CompletedAt = &completedAt
	return nil
}

// GetUpdate retrieves an update record by ID.
func (s *SQLiteStore) GetUpdate(ctx context.Context, id string) (*UpdateRecord, error) {
	query := `
		SELECT id, type, chute, state, error, responses, messages, started_at, completed_at, duration_ms
		FROM updates
		WHERE id = ?
	`

	rec, err := scanUpdate(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get update: %w", err)
	}

	return rec, nil
}

// ListUpdates lists updates, newest first, optionally restricted to one chute.
func (s *SQLiteStore) ListUpdates(ctx context.Context, chuteName *string, limit, offset int) ([]*UpdateRecord, error) {
	query := `
		SELECT id, type, chute, state, error, responses, messages, started_at, completed_at, duration_ms
		FROM updates
		WHERE (? IS NULL OR chute = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, chuteName, chuteName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	defer rows.Close()

	records := []*UpdateRecord{}
	for rows.Next() {
		rec, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating updates: %w", err)
	}

	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpdate(row scanner) (*UpdateRecord, error) {
	rec := &UpdateRecord{}
	var completedAt sql.NullTime
	err := row.Scan(
		&rec.ID,
		&rec.Type,
		&rec.Chute,
		&rec.State,
		&rec.Error,
		&rec.Responses,
		&rec.Messages,
		&rec.StartedAt,
		&completedAt,
		&rec.DurationMS,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}

// AppendEvent appends an event to the log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (update_id, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.UpdateID,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events in insertion order, optionally for one update.
func (s *SQLiteStore) GetEvents(ctx context.Context, updateID *string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, update_id, type, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR update_id = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, updateID, updateID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.UpdateID,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
