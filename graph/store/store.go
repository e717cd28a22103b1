// Package store archives finished workflow runs.
//
// The archive is write-after-completion only: runs are saved once they have
// succeeded or failed and are never read back to resume execution. A crash
// while a run is in flight loses that run.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a run ID is not in the archive.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store is closed")

// Run is the archived form of one workflow run.
type Run struct {
	ID     string `json:"id"`
	Task   string `json:"task"`
	Status string `json:"status"`
	Output string `json:"output"`

	// FailedStep, FailedPath and Error are set for failed runs.
	FailedStep string `json:"failed_step,omitempty"`
	FailedPath string `json:"failed_path,omitempty"`
	Error      string `json:"error,omitempty"`

	State  map[string]any `json:"state,omitempty"`
	Events []Event        `json:"events,omitempty"`
	Loops  []Loop         `json:"loops,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Event is an archived trace entry.
type Event struct {
	Seq       int    `json:"seq"`
	Author    string `json:"author"`
	Content   string `json:"content,omitempty"`
	Partial   bool   `json:"partial,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
	Escalate  bool   `json:"escalate,omitempty"`
}

// Loop is an archived loop termination.
type Loop struct {
	Name       string `json:"name"`
	Iterations int    `json:"iterations"`
	State      string `json:"state"`
}

// Store persists finished runs.
//
// Implementations must be safe for concurrent use. SaveRun with an existing
// ID replaces the stored run.
type Store interface {
	SaveRun(ctx context.Context, run Run) error
	LoadRun(ctx context.Context, id string) (Run, error)

	// ListRuns returns up to limit runs, most recently started first.
	// A limit <= 0 means no limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	Close() error
}

// encodedRun holds the JSON columns shared by the SQL stores.
type encodedRun struct {
	state  string
	events string
	loops  string
}

func encodeRun(run Run) (encodedRun, error) {
	var enc encodedRun
	state, err := json.Marshal(nonNilState(run.State))
	if err != nil {
		return enc, fmt.Errorf("failed to marshal state: %w", err)
	}
	events, err := json.Marshal(nonNilSlice(run.Events))
	if err != nil {
		return enc, fmt.Errorf("failed to marshal events: %w", err)
	}
	loops, err := json.Marshal(nonNilSlice(run.Loops))
	if err != nil {
		return enc, fmt.Errorf("failed to marshal loops: %w", err)
	}
	enc.state, enc.events, enc.loops = string(state), string(events), string(loops)
	return enc, nil
}

func decodeRun(run *Run, enc encodedRun) error {
	if err := json.Unmarshal([]byte(enc.state), &run.State); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(enc.events), &run.Events); err != nil {
		return fmt.Errorf("failed to unmarshal events: %w", err)
	}
	if err := json.Unmarshal([]byte(enc.loops), &run.Loops); err != nil {
		return fmt.Errorf("failed to unmarshal loops: %w", err)
	}
	return nil
}

func nonNilState(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// runColumns is the column list both SQL stores select, in scanRun order.
const runColumns = "run_id, task, status, output, failed_step, failed_path, error_text, state, events, loops, started_at, finished_at"

func scanRun(row rowScanner) (Run, error) {
	var (
		run                 Run
		enc                 encodedRun
		startedNs, finishNs int64
	)
	if err := row.Scan(&run.ID, &run.Task, &run.Status, &run.Output,
		&run.FailedStep, &run.FailedPath, &run.Error,
		&enc.state, &enc.events, &enc.loops, &startedNs, &finishNs); err != nil {
		return Run{}, err
	}
	if err := decodeRun(&run, enc); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, startedNs).UTC()
	run.FinishedAt = time.Unix(0, finishNs).UTC()
	return run, nil
}
