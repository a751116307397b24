package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/capstan/pkg/engine"
	"github.com/openfroyo/capstan/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the SQLite-backed resolution journal. It implements the
// engine.Journal interface. The journal is write-only from the engine;
// resolution never reads it back.
type SQLiteStore struct {
	db   *sql.DB
	path string
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

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
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

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// StartSession creates a session row. An empty id gets a generated UUID;
// the final id is returned.
func (s *SQLiteStore) StartSession(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.New().String()
	}

	query := `
		INSERT INTO sessions (id, status, started_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, id, SessionStatusRunning, now, now); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	return id, nil
}

// FinishSession marks a session completed or failed.
func (s *SQLiteStore) FinishSession(ctx context.Context, id string, status SessionStatus) error {
	query := `
		UPDATE sessions
		SET status = ?, completed_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, status, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", id)
	}

	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, status, started_at, completed_at, created_at
		FROM sessions
		WHERE id = ?
	`

	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.Status,
		&session.StartedAt,
		&session.CompletedAt,
		&session.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// ListSessions lists sessions newest-first with aggregate counts.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*SessionSummary, error) {
	query := `
		SELECT s.id, s.status, s.started_at, s.completed_at, s.created_at,
			   (SELECT COUNT(*) FROM resolutions r WHERE r.session_id = s.id),
			   (SELECT COUNT(*) FROM resolutions r WHERE r.session_id = s.id AND r.outcome != 'resolved'),
			   (SELECT COUNT(*) FROM installs i WHERE i.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	summaries := []*SessionSummary{}
	for rows.Next() {
		summary := &SessionSummary{}
		err := rows.Scan(
			&summary.ID,
			&summary.Status,
			&summary.StartedAt,
			&summary.CompletedAt,
			&summary.CreatedAt,
			&summary.Resolutions,
			&summary.Failures,
			&summary.Installs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return summaries, nil
}

// ensureSession creates the session row if the engine journals against a
// session the CLI never started explicitly.
func (s *SQLiteStore) ensureSession(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}

	query := `
		INSERT INTO sessions (id, status, started_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, id, SessionStatusRunning, now, now); err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}

	return nil
}

// RecordResolution records the outcome of one resolution attempt.
func (s *SQLiteStore) RecordResolution(ctx context.Context, rec engine.ResolutionRecord) error {
	if err := s.ensureSession(ctx, rec.SessionID); err != nil {
		return err
	}

	query := `
		INSERT INTO resolutions (
			session_id, capability, target_id, variant, outcome,
			error_kind, error, cached, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.SessionID,
		string(rec.Capability),
		rec.TargetID,
		rec.Variant,
		rec.Outcome,
		rec.ErrorKind,
		rec.Error,
		rec.Cached,
		rec.DurationMS,
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to record resolution: %w", err)
	}

	return nil
}

// RecordProbe records one probe chain execution.
func (s *SQLiteStore) RecordProbe(ctx context.Context, rec engine.ProbeRecord) error {
	if err := s.ensureSession(ctx, rec.SessionID); err != nil {
		return err
	}

	query := `
		INSERT INTO probes (
			session_id, capability, target_id, attempts, succeeded,
			work_index, exit_code, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.SessionID,
		string(rec.Capability),
		rec.TargetID,
		rec.Attempts,
		rec.Succeeded,
		rec.Index,
		rec.ExitCode,
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to record probe: %w", err)
	}

	return nil
}

// RecordInstall records one installation strategy attempt.
func (s *SQLiteStore) RecordInstall(ctx context.Context, rec engine.InstallRecord) error {
	if err := s.ensureSession(ctx, rec.SessionID); err != nil {
		return err
	}

	query := `
		INSERT INTO installs (
			session_id, capability, target_id, strategy, succeeded,
			error, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.SessionID,
		string(rec.Capability),
		rec.TargetID,
		rec.Strategy,
		rec.Succeeded,
		rec.Error,
		rec.DurationMS,
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to record install: %w", err)
	}

	return nil
}

// ListResolutions lists resolution rows for a session, oldest first.
func (s *SQLiteStore) ListResolutions(ctx context.Context, sessionID string, limit, offset int) ([]*Resolution, error) {
	query := `
		SELECT id, session_id, capability, target_id, variant, outcome,
			   error_kind, error, cached, duration_ms, created_at
		FROM resolutions
		WHERE session_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolutions: %w", err)
	}
	defer rows.Close()

	resolutions := []*Resolution{}
	for rows.Next() {
		res := &Resolution{}
		err := rows.Scan(
			&res.ID,
			&res.SessionID,
			&res.Capability,
			&res.TargetID,
			&res.Variant,
			&res.Outcome,
			&res.ErrorKind,
			&res.Error,
			&res.Cached,
			&res.DurationMS,
			&res.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resolution: %w", err)
		}
		resolutions = append(resolutions, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolutions: %w", err)
	}

	return resolutions, nil
}

// ListProbes lists probe rows for a session, oldest first.
func (s *SQLiteStore) ListProbes(ctx context.Context, sessionID string, limit, offset int) ([]*Probe, error) {
	query := `
		SELECT id, session_id, capability, target_id, attempts, succeeded,
			   work_index, exit_code, created_at
		FROM probes
		WHERE session_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list probes: %w", err)
	}
	defer rows.Close()

	probes := []*Probe{}
	for rows.Next() {
		probe := &Probe{}
		err := rows.Scan(
			&probe.ID,
			&probe.SessionID,
			&probe.Capability,
			&probe.TargetID,
			&probe.Attempts,
			&probe.Succeeded,
			&probe.WorkIndex,
			&probe.ExitCode,
			&probe.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan probe: %w", err)
		}
		probes = append(probes, probe)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating probes: %w", err)
	}

	return probes, nil
}

// ListInstalls lists install rows for a session, oldest first.
func (s *SQLiteStore) ListInstalls(ctx context.Context, sessionID string, limit, offset int) ([]*Install, error) {
	query := `
		SELECT id, session_id, capability, target_id, strategy, succeeded,
			   error, duration_ms, created_at
		FROM installs
		WHERE session_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list installs: %w", err)
	}
	defer rows.Close()

	installs := []*Install{}
	for rows.Next() {
		install := &Install{}
		err := rows.Scan(
			&install.ID,
			&install.SessionID,
			&install.Capability,
			&install.TargetID,
			&install.Strategy,
			&install.Succeeded,
			&install.Error,
			&install.DurationMS,
			&install.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan install: %w", err)
		}
		installs = append(installs, install)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating installs: %w", err)
	}

	return installs, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (event_id, session_id, type, source, capability, target_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.SessionID,
		event.Type,
		event.Source,
		event.Capability,
		event.TargetID,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
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

// EventSubscriber returns a telemetry subscriber that persists published
// events into the journal. Persistence failures are swallowed; the event
// stream must never take down a resolution.
func (s *SQLiteStore) EventSubscriber() telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		var details *string
		if len(event.Data) > 0 {
			if data, err := json.Marshal(event.Data); err == nil {
				str := string(data)
				details = &str
			}
		}

		_ = s.AppendEvent(context.Background(), &Event{
			EventID:    event.ID,
			SessionID:  event.SessionID,
			Type:       event.Type,
			Source:     event.Source,
			Capability: event.Capability,
			TargetID:   event.TargetID,
			Level:      event.Level,
			Message:    event.Message,
			Details:    details,
			Timestamp:  event.Timestamp,
		})
	}
}

// ListEvents retrieves events with optional filters and pagination
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID *string, level *string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, event_id, session_id, type, source, capability, target_id, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR session_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, sessionID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.SessionID,
			&event.Type,
			&event.Source,
			&event.Capability,
			&event.TargetID,
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

// PruneSessions deletes sessions older than the cutoff along with their
// journal rows.
func (s *SQLiteStore) PruneSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE started_at < ?`

	result, err := s.db.ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
