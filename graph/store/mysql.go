package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" driver
)

// MySQLStore archives runs in MySQL (or a wire-compatible server), for
// deployments where several orchestrator replicas share one run history.
//
// DSN format is the go-sql-driver one, e.g.
// "user:pass@tcp(localhost:3306)/coursegraph".
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects, verifies the connection and ensures the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	m := &MySQLStore{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id VARCHAR(64) NOT NULL PRIMARY KEY,
			task TEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			output LONGTEXT NOT NULL,
			failed_step VARCHAR(255) NOT NULL DEFAULT '',
			failed_path VARCHAR(1024) NOT NULL DEFAULT '',
			error_text TEXT NOT NULL,
			state JSON NOT NULL,
			events JSON NOT NULL,
			loops JSON NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL,
			INDEX idx_runs_started (started_at),
			INDEX idx_runs_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}
	return nil
}

func (m *MySQLStore) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	enc, err := encodeRun(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			task = VALUES(task),
			status = VALUES(status),
			output = VALUES(output),
			failed_step = VALUES(failed_step),
			failed_path = VALUES(failed_path),
			error_text = VALUES(error_text),
			state = VALUES(state),
			events = VALUES(events),
			loops = VALUES(loops),
			started_at = VALUES(started_at),
			finished_at = VALUES(finished_at)
	`
	_, err = m.db.ExecContext(ctx, query,
		run.ID, run.Task, run.Status, run.Output,
		run.FailedStep, run.FailedPath, run.Error,
		enc.state, enc.events, enc.loops,
		run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

func (m *MySQLStore) LoadRun(ctx context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Run{}, ErrClosed
	}

	row := m.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM workflow_runs WHERE run_id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return run, nil
}

func (m *MySQLStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	query := "SELECT " + runColumns + " FROM workflow_runs ORDER BY started_at DESC, run_id ASC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// Close closes the connection pool. Calling it twice is a no-op.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping checks that the server is reachable.
func (m *MySQLStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.db.PingContext(ctx)
}

// Stats returns connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	return m.db.Stats()
}
