package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Fact is one durable key/value profile fact.
type Fact struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FactStore holds explicit key/value facts about the running profile.
type FactStore struct {
	store *Store
}

// NewFactStore returns a fact store over the shared store.
func NewFactStore(store *Store) *FactStore {
	return &FactStore{store: store}
}

// Set upserts a fact, refreshing updated_at.
func (f *FactStore) Set(ctx context.Context, key, value string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	_, err := f.store.db.ExecContext(ctx, `
        INSERT INTO profile_memory (key, value, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET
            value = excluded.value,
            updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("set fact %q: %w", key, err)
	}
	return nil
}

// Get returns the value for key, or "" and false when absent.
func (f *FactStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := f.store.db.QueryRowContext(ctx,
		`SELECT value FROM profile_memory WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get fact %q: %w", key, err)
	}
	return value, true, nil
}

// Delete removes a fact, reporting whether it existed.
func (f *FactStore) Delete(ctx context.Context, key string) (bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	res, err := f.store.db.ExecContext(ctx, `DELETE FROM profile_memory WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete fact %q: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns all facts ordered by key.
func (f *FactStore) List(ctx context.Context) ([]Fact, error) {
	rows, err := f.store.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM profile_memory ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var facts []Fact
	for rows.Next() {
		var fact Fact
		var updatedAt string
		if err := rows.Scan(&fact.Key, &fact.Value, &updatedAt); err != nil {
			return nil, err
		}
		fact.UpdatedAt = parseSQLiteTime(updatedAt)
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}
