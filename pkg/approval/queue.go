// Package approval implements the durable approval queue: tier-gated actions
// wait here as pending records until an owner approves or rejects them, and
// approved records track a separate execution lifecycle.
package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Review statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Execution statuses.
const (
	ExecutionNotExecuted = "not_executed"
	ExecutionExecuted    = "executed"
)

// Record is one approval row.
type Record struct {
	ID              int64          `json:"id"`
	ProfileName     string         `json:"profile_name"`
	ToolName        string         `json:"tool_name"`
	Tier            string         `json:"tier"`
	Payload         map[string]any `json:"payload"`
	Status          string         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	ReviewedAt      *time.Time     `json:"reviewed_at,omitempty"`
	ExecutionStatus string         `json:"execution_status"`
	ExecutedAt      *time.Time     `json:"executed_at,omitempty"`
	ExecutionResult map[string]any `json:"execution_result,omitempty"`
}

// Queue is the durable approval queue. Lifecycle invariants are enforced by
// guarded UPDATE predicates, so races resolve to a single winner.
type Queue struct {
	db *sql.DB
}

// NewQueue returns a queue over the shared database handle.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts a pending approval and returns its id.
func (q *Queue) Enqueue(ctx context.Context, profileName, toolName, tier string, payload map[string]any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode approval payload: %w", err)
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO approval_queue (profile_name, tool_name, tier, payload) VALUES (?, ?, ?, ?)`,
		profileName, toolName, tier, string(raw))
	if err != nil {
		return 0, fmt.Errorf("enqueue approval: %w", err)
	}
	return res.LastInsertId()
}

// Resolve transitions pending→approved or pending→rejected, stamping
// reviewed_at. Returns false when the record is not pending (or absent).
func (q *Queue) Resolve(ctx context.Context, id int64, approve bool) (bool, error) {
	status := StatusRejected
	if approve {
		status = StatusApproved
	}
	res, err := q.db.ExecContext(ctx, `
        UPDATE approval_queue
        SET status = ?, reviewed_at = CURRENT_TIMESTAMP
        WHERE id = ? AND status = 'pending'`,
		status, id)
	if err != nil {
		return false, fmt.Errorf("resolve approval %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkExecuted records the execution result. It succeeds only when the record
// is approved and not yet executed; otherwise it returns false untouched.
func (q *Queue) MarkExecuted(ctx context.Context, id int64, result map[string]any) (bool, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("encode execution result: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `
        UPDATE approval_queue
        SET execution_status = 'executed',
            executed_at = CURRENT_TIMESTAMP,
            execution_result = ?
        WHERE id = ? AND status = 'approved' AND execution_status != 'executed'`,
		string(raw), id)
	if err != nil {
		return false, fmt.Errorf("mark approval %d executed: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const recordColumns = `id, profile_name, tool_name, tier, payload, status, created_at, reviewed_at,
       execution_status, executed_at, execution_result`

// Get returns an approval by id, or nil when absent.
func (q *Queue) Get(ctx context.Context, id int64) (*Record, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM approval_queue WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ListPending returns up to limit pending approvals, oldest first.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]Record, error) {
	return q.list(ctx,
		`SELECT `+recordColumns+` FROM approval_queue WHERE status = 'pending' ORDER BY id ASC LIMIT ?`,
		limit)
}

// ListRecent returns up to limit approvals in any state, newest first.
func (q *Queue) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	return q.list(ctx,
		`SELECT `+recordColumns+` FROM approval_queue ORDER BY id DESC LIMIT ?`,
		limit)
}

func (q *Queue) list(ctx context.Context, query string, limit int) ([]Record, error) {
	rows, err := q.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                    Record
		payload                string
		createdAt              string
		reviewedAt, executedAt sql.NullString
		executionResult        sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.ProfileName, &rec.ToolName, &rec.Tier, &payload,
		&rec.Status, &createdAt, &reviewedAt,
		&rec.ExecutionStatus, &executedAt, &executionResult); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode approval %d payload: %w", rec.ID, err)
	}
	rec.CreatedAt = parseTime(createdAt)
	if reviewedAt.Valid {
		t := parseTime(reviewedAt.String)
		rec.ReviewedAt = &t
	}
	if executedAt.Valid {
		t := parseTime(executedAt.String)
		rec.ExecutedAt = &t
	}
	if executionResult.Valid && executionResult.String != "" {
		if err := json.Unmarshal([]byte(executionResult.String), &rec.ExecutionResult); err != nil {
			return nil, fmt.Errorf("decode approval %d result: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}
