package memory

import (
	"context"
	"fmt"
)

// UsageSummary aggregates LLM API usage, optionally over a trailing window.
type UsageSummary struct {
	Enabled               bool   `json:"enabled"`
	WindowDays            int    `json:"window_days,omitempty"`
	TotalCalls            int64  `json:"total_calls"`
	TotalPromptTokens     int64  `json:"total_prompt_tokens"`
	TotalCompletionTokens int64  `json:"total_completion_tokens"`
	TotalTokens           int64  `json:"total_tokens"`
	Profile               string `json:"profile,omitempty"`
}

// UsageStore persists per-call LLM token accounting.
type UsageStore struct {
	store *Store
}

// NewUsageStore returns a usage store over the shared store.
func NewUsageStore(store *Store) *UsageStore {
	return &UsageStore{store: store}
}

// Record appends one API call's token counts.
func (u *UsageStore) Record(ctx context.Context, profileName, caller, model string, promptTokens, completionTokens int) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	_, err := u.store.db.ExecContext(ctx,
		`INSERT INTO api_usage (profile_name, caller, model, prompt_tokens, completion_tokens)
         VALUES (?, ?, ?, ?, ?)`,
		profileName, caller, model, promptTokens, completionTokens)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Summary aggregates usage; windowDays <= 0 means all time.
func (u *UsageStore) Summary(ctx context.Context, windowDays int) (UsageSummary, error) {
	query := `
        SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
        FROM api_usage`
	args := []any{}
	if windowDays > 0 {
		query += ` WHERE created_at >= datetime('now', ?)`
		args = append(args, fmt.Sprintf("-%d days", windowDays))
	}

	var out UsageSummary
	out.Enabled = true
	out.WindowDays = max(windowDays, 0)
	err := u.store.db.QueryRowContext(ctx, query, args...).
		Scan(&out.TotalCalls, &out.TotalPromptTokens, &out.TotalCompletionTokens)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("usage summary: %w", err)
	}
	out.TotalTokens = out.TotalPromptTokens + out.TotalCompletionTokens
	return out, nil
}
