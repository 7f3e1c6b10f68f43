package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.WorkflowStore on an embedded SQLite database.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	// WAL lets API readers proceed while a run writes.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Save implements core.WorkflowStore.
func (s *SQLiteStore) Save(ctx context.Context, wc *core.WorkflowContext) error {
	snapshot, checksum, err := encodeSnapshot(wc)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (
			id, status, instruction, intent_type, current_phase, stop_reason,
			iteration_count, snapshot, checksum, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			intent_type = excluded.intent_type,
			current_phase = excluded.current_phase,
			stop_reason = excluded.stop_reason,
			iteration_count = excluded.iteration_count,
			snapshot = excluded.snapshot,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at`,
		string(wc.ID), string(wc.Status), wc.Instruction, string(wc.Intent.Type), string(wc.CurrentPhase),
		string(wc.StopReason), wc.Iterations, string(snapshot), checksum, formatTime(wc.CreatedAt), now,
	)
	if err != nil {
		return fmt.Errorf("upserting workflow: %w", err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), -1) FROM tool_calls WHERE workflow_id = ?", string(wc.ID),
	).Scan(&stored); err != nil {
		return fmt.Errorf("reading stored tool calls: %w", err)
	}

	pending := pendingCalls(wc, stored)
	if len(pending) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tool_calls (workflow_id, seq, phase, attempt, tool, ok, failure_kind, record, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(workflow_id, seq) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("preparing tool call insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range pending {
			record, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshaling tool call %d: %w", r.Seq, err)
			}
			ok := 0
			if r.OK() {
				ok = 1
			}
			if _, err := stmt.ExecContext(ctx, string(wc.ID), r.Seq, string(r.Phase), r.Attempt, string(r.Tool),
				ok, failureKind(r), string(record), formatTime(r.StartedAt)); err != nil {
				return fmt.Errorf("inserting tool call %d: %w", r.Seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing workflow: %w", err)
	}
	return nil
}

// SaveReport implements core.WorkflowStore.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *core.FinalReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE workflows SET report = ?, updated_at = ? WHERE id = ?",
		string(data), formatTime(time.Now()), string(report.WorkflowID))
	if err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("workflow", string(report.WorkflowID))
	}
	return nil
}

// Load implements core.WorkflowStore.
func (s *SQLiteStore) Load(ctx context.Context, id core.WorkflowID) (*core.WorkflowContext, error) {
	var snapshot, checksum string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot, checksum FROM workflows WHERE id = ?", string(id)).
		Scan(&snapshot, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("workflow", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow: %w", err)
	}

	wc, err := decodeSnapshot(id, []byte(snapshot), checksum)
	if err != nil {
		return nil, err
	}
	calls, err := s.ToolCalls(ctx, id)
	if err != nil {
		return nil, err
	}
	wc.ToolCalls = calls
	return wc, nil
}

// LoadReport implements core.WorkflowStore.
func (s *SQLiteStore) LoadReport(ctx context.Context, id core.WorkflowID) (*core.FinalReport, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT report FROM workflows WHERE id = ?", string(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !data.Valid) {
		return nil, core.ErrNotFound("report", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading report: %w", err)
	}
	var report core.FinalReport
	if err := json.Unmarshal([]byte(data.String), &report); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "decoding report").WithCause(err)
	}
	return &report, nil
}

// ToolCalls implements core.WorkflowStore.
func (s *SQLiteStore) ToolCalls(ctx context.Context, id core.WorkflowID) ([]core.ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT record FROM tool_calls WHERE workflow_id = ? ORDER BY seq", string(id))
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer rows.Close()

	calls := []core.ToolCallRecord{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning tool call: %w", err)
		}
		var r core.ToolCallRecord
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, core.ErrState(core.CodeStateCorrupted, "decoding tool call").WithCause(err)
		}
		calls = append(calls, r)
	}
	return calls, rows.Err()
}

// List implements core.WorkflowStore.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]core.WorkflowSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, instruction, created_at, updated_at
		FROM workflows ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	out := []core.WorkflowSummary{}
	for rows.Next() {
		var (
			ws                   core.WorkflowSummary
			id, status           string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&id, &status, &ws.Instruction, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		ws.ID = core.WorkflowID(id)
		ws.Status = core.WorkflowStatus(status)
		ws.CreatedAt = parseTime(createdAt)
		ws.UpdatedAt = parseTime(updatedAt)
		out = append(out, ws)
	}
	return out, rows.Err()
}

// Close implements core.WorkflowStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
