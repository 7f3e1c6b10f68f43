package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	instruction     TEXT NOT NULL,
	intent_type     TEXT NOT NULL DEFAULT '',
	current_phase   TEXT NOT NULL DEFAULT '',
	stop_reason     TEXT NOT NULL DEFAULT '',
	iteration_count INTEGER NOT NULL DEFAULT 0,
	snapshot        TEXT NOT NULL,
	checksum        TEXT NOT NULL,
	report          TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflows_updated_at ON workflows(updated_at);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);

CREATE TABLE IF NOT EXISTS tool_calls (
	workflow_id  TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	phase        TEXT NOT NULL,
	attempt      INTEGER NOT NULL,
	tool         TEXT NOT NULL,
	ok           BOOLEAN NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	record       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	PRIMARY KEY (workflow_id, seq)
);`

// PostgresStore implements core.WorkflowStore on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Save implements core.WorkflowStore.
func (s *PostgresStore) Save(ctx context.Context, wc *core.WorkflowContext) error {
	snapshot, checksum, err := encodeSnapshot(wc)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (
			id, status, instruction, intent_type, current_phase, stop_reason,
			iteration_count, snapshot, checksum, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			intent_type = EXCLUDED.intent_type,
			current_phase = EXCLUDED.current_phase,
			stop_reason = EXCLUDED.stop_reason,
			iteration_count = EXCLUDED.iteration_count,
			snapshot = EXCLUDED.snapshot,
			checksum = EXCLUDED.checksum,
			updated_at = EXCLUDED.updated_at`,
		string(wc.ID), string(wc.Status), wc.Instruction, string(wc.Intent.Type), string(wc.CurrentPhase),
		string(wc.StopReason), wc.Iterations, string(snapshot), checksum, formatTime(wc.CreatedAt), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting workflow: %w", err)
	}

	var stored int
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(seq), -1) FROM tool_calls WHERE workflow_id = $1", string(wc.ID),
	).Scan(&stored); err != nil {
		return fmt.Errorf("reading stored tool calls: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range pendingCalls(wc, stored) {
		record, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling tool call %d: %w", r.Seq, err)
		}
		batch.Queue(`
			INSERT INTO tool_calls (workflow_id, seq, phase, attempt, tool, ok, failure_kind, record, started_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (workflow_id, seq) DO NOTHING`,
			string(wc.ID), r.Seq, string(r.Phase), r.Attempt, string(r.Tool), r.OK(), failureKind(r),
			string(record), formatTime(r.StartedAt))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting tool calls: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing workflow: %w", err)
	}
	return nil
}

// SaveReport implements core.WorkflowStore.
func (s *PostgresStore) SaveReport(ctx context.Context, report *core.FinalReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	tag, err := s.pool.Exec(ctx, "UPDATE workflows SET report = $1, updated_at = $2 WHERE id = $3",
		string(data), formatTime(time.Now()), string(report.WorkflowID))
	if err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound("workflow", string(report.WorkflowID))
	}
	return nil
}

// Load implements core.WorkflowStore.
func (s *PostgresStore) Load(ctx context.Context, id core.WorkflowID) (*core.WorkflowContext, error) {
	var snapshot, checksum string
	err := s.pool.QueryRow(ctx, "SELECT snapshot, checksum FROM workflows WHERE id = $1", string(id)).
		Scan(&snapshot, &checksum)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (s *PostgresStore) LoadReport(ctx context.Context, id core.WorkflowID) (*core.FinalReport, error) {
	var data *string
	err := s.pool.QueryRow(ctx, "SELECT report FROM workflows WHERE id = $1", string(id)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && data == nil) {
		return nil, core.ErrNotFound("report", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading report: %w", err)
	}
	var report core.FinalReport
	if err := json.Unmarshal([]byte(*data), &report); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "decoding report").WithCause(err)
	}
	return &report, nil
}

// ToolCalls implements core.WorkflowStore.
func (s *PostgresStore) ToolCalls(ctx context.Context, id core.WorkflowID) ([]core.ToolCallRecord, error) {
	rows, err := s.pool.Query(ctx, "SELECT record FROM tool_calls WHERE workflow_id = $1 ORDER BY seq", string(id))
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
func (s *PostgresStore) List(ctx context.Context, limit int) ([]core.WorkflowSummary, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	// A NULL limit is LIMIT ALL.
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, instruction, created_at, updated_at
		FROM workflows ORDER BY updated_at DESC LIMIT $1`, limitArg)
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
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
