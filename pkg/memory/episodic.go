package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one episodic record. Decisions mirror the policy engine's verdicts.
type Event struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	ToolName  string         `json:"tool_name,omitempty"`
	Decision  string         `json:"decision,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// EpisodicStore is the append-only event log consumed by every component.
type EpisodicStore struct {
	store *Store
}

// NewEpisodicStore returns an episodic log over the shared store.
func NewEpisodicStore(store *Store) *EpisodicStore {
	return &EpisodicStore{store: store}
}

// Record appends one event. toolName and decision may be empty.
func (e *EpisodicStore) Record(ctx context.Context, eventType string, payload map[string]any, toolName, decision string) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode event payload: %w", err)
	}

	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	res, err := e.store.db.ExecContext(ctx,
		`INSERT INTO episodic_memory (event_type, tool_name, decision, payload) VALUES (?, ?, ?, ?)`,
		eventType, nullable(toolName), nullable(decision), string(raw),
	)
	if err != nil {
		return 0, fmt.Errorf("record event: %w", err)
	}
	return res.LastInsertId()
}

// Latest returns up to limit events, newest first.
func (e *EpisodicStore) Latest(ctx context.Context, limit int) ([]Event, error) {
	rows, err := e.store.db.QueryContext(ctx,
		`SELECT id, event_type, tool_name, decision, payload, created_at
         FROM episodic_memory ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			ev             Event
			tool, decision sql.NullString
			payload        string
			createdAt      string
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &tool, &decision, &payload, &createdAt); err != nil {
			return nil, err
		}
		ev.ToolName = tool.String
		ev.Decision = decision.String
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode event %d payload: %w", ev.ID, err)
		}
		ev.CreatedAt = parseSQLiteTime(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// parseSQLiteTime parses CURRENT_TIMESTAMP values ("2006-01-02 15:04:05").
func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}
