package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message directions.
const (
	DirectionInbox  = "inbox"
	DirectionOutbox = "outbox"
	DirectionRelay  = "relay"
)

// ErrNonceExists is returned when an inbound nonce has already been recorded.
var ErrNonceExists = errors.New("nonce already recorded")

// Message is one append-only interop message record.
type Message struct {
	ID        int64          `json:"id"`
	Direction string         `json:"direction"`
	Source    string         `json:"source_node"`
	Target    string         `json:"target_node"`
	TaskType  string         `json:"task_type"`
	Payload   map[string]any `json:"payload"`
	Nonce     string         `json:"nonce"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// MessageLog records interop traffic and owns the nonce ledger. Rows are never
// mutated after insert.
type MessageLog struct {
	store *Store
}

// NewMessageLog returns a message log over the shared store.
func NewMessageLog(store *Store) *MessageLog {
	return &MessageLog{store: store}
}

// SeenNonce reports whether nonce is already in the ledger.
func (m *MessageLog) SeenNonce(ctx context.Context, nonce string) (bool, error) {
	var found string
	err := m.store.db.QueryRowContext(ctx,
		`SELECT nonce FROM interop_nonces WHERE nonce = ?`, nonce).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check nonce: %w", err)
	}
	return true, nil
}

// RecordInbound inserts the nonce and the inbox message in one transaction.
// A duplicate nonce aborts the transaction and no message row is written.
func (m *MessageLog) RecordInbound(ctx context.Context, msg Message) (int64, error) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode message payload: %w", err)
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	tx, err := m.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin inbound tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO interop_nonces (nonce, source_node, target_node) VALUES (?, ?, ?)`,
		msg.Nonce, msg.Source, msg.Target,
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrNonceExists
		}
		return 0, fmt.Errorf("record nonce: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO interop_messages (direction, source_node, target_node, task_type, payload, nonce, status)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		DirectionInbox, msg.Source, msg.Target, msg.TaskType, string(raw), msg.Nonce, msg.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("record inbound message: %w", err)
	}
	id, _ := res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit inbound: %w", err)
	}
	return id, nil
}

// Append records an outbox or relay message. Each insert commits individually.
func (m *MessageLog) Append(ctx context.Context, msg Message) (int64, error) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode message payload: %w", err)
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	res, err := m.store.db.ExecContext(ctx,
		`INSERT INTO interop_messages (direction, source_node, target_node, task_type, payload, nonce, status)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.Direction, msg.Source, msg.Target, msg.TaskType, string(raw), msg.Nonce, msg.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit messages, newest first.
func (m *MessageLog) Recent(ctx context.Context, limit int) ([]Message, error) {
	rows, err := m.store.db.QueryContext(ctx, `
        SELECT id, direction, source_node, target_node, task_type, payload, nonce, status, created_at
        FROM interop_messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var (
			msg       Message
			payload   string
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.Direction, &msg.Source, &msg.Target, &msg.TaskType, &payload, &msg.Nonce, &msg.Status, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &msg.Payload); err != nil {
			return nil, fmt.Errorf("decode message %d payload: %w", msg.ID, err)
		}
		msg.CreatedAt = parseSQLiteTime(createdAt)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// LastOutboxSent returns the epoch seconds of the most recent outbox message
// to target with the given task type and status "sent", or (0, false) when
// none exists.
func (m *MessageLog) LastOutboxSent(ctx context.Context, target, taskType string) (int64, bool, error) {
	var ts sql.NullInt64
	err := m.store.db.QueryRowContext(ctx, `
        SELECT CAST(strftime('%s', created_at) AS INTEGER)
        FROM interop_messages
        WHERE direction = 'outbox' AND target_node = ? AND task_type = ? AND status = 'sent'
        ORDER BY id DESC LIMIT 1`,
		target, taskType).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("last outbox timestamp: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}
