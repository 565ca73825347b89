package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Project is one idea/project record.
type Project struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectStore records ideas and projects.
type ProjectStore struct {
	store *Store
}

// NewProjectStore returns a project store over the shared store.
func NewProjectStore(store *Store) *ProjectStore {
	return &ProjectStore{store: store}
}

// Create inserts a project and returns its id.
func (p *ProjectStore) Create(ctx context.Context, title, body, status string) (int64, error) {
	if status == "" {
		status = "active"
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	res, err := p.store.db.ExecContext(ctx,
		`INSERT INTO project_memory (title, body, status) VALUES (?, ?, ?)`,
		title, body, status)
	if err != nil {
		return 0, fmt.Errorf("create project: %w", err)
	}
	return res.LastInsertId()
}

// ProjectUpdate carries optional field changes; nil fields are untouched.
type ProjectUpdate struct {
	Title  *string
	Body   *string
	Status *string
}

// Update applies non-nil fields and refreshes updated_at. Returns false when
// the row does not exist or no fields were given.
func (p *ProjectStore) Update(ctx context.Context, id int64, upd ProjectUpdate) (bool, error) {
	var (
		fields []string
		args   []any
	)
	if upd.Title != nil {
		fields = append(fields, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Body != nil {
		fields = append(fields, "body = ?")
		args = append(args, *upd.Body)
	}
	if upd.Status != nil {
		fields = append(fields, "status = ?")
		args = append(args, *upd.Status)
	}
	if len(fields) == 0 {
		return false, nil
	}
	args = append(args, id)

	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	res, err := p.store.db.ExecContext(ctx,
		`UPDATE project_memory SET `+strings.Join(fields, ", ")+`, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		args...)
	if err != nil {
		return false, fmt.Errorf("update project %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Get returns a project by id, or nil when absent.
func (p *ProjectStore) Get(ctx context.Context, id int64) (*Project, error) {
	row := p.store.db.QueryRowContext(ctx,
		`SELECT id, title, body, status, created_at, updated_at FROM project_memory WHERE id = ?`, id)
	proj, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return proj, err
}

// Latest returns up to limit projects ordered by recency, optionally filtered
// by status.
func (p *ProjectStore) Latest(ctx context.Context, limit int, status string) ([]Project, error) {
	query := `SELECT id, title, body, status, created_at, updated_at FROM project_memory`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	return p.queryProjects(ctx, query, args...)
}

// SearchLike returns projects whose title or body contains the query term.
func (p *ProjectStore) SearchLike(ctx context.Context, term string, limit int) ([]Project, error) {
	like := "%" + strings.TrimSpace(term) + "%"
	return p.queryProjects(ctx, `
        SELECT id, title, body, status, created_at, updated_at
        FROM project_memory
        WHERE title LIKE ? OR body LIKE ?
        ORDER BY updated_at DESC LIMIT ?`,
		like, like, limit)
}

// Delete removes a project, reporting whether it existed.
func (p *ProjectStore) Delete(ctx context.Context, id int64) (bool, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	res, err := p.store.db.ExecContext(ctx, `DELETE FROM project_memory WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete project %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *ProjectStore) queryProjects(ctx context.Context, query string, args ...any) ([]Project, error) {
	rows, err := p.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []Project
	for rows.Next() {
		proj, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *proj)
	}
	return projects, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var (
		proj                 Project
		createdAt, updatedAt string
	)
	if err := row.Scan(&proj.ID, &proj.Title, &proj.Body, &proj.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	proj.CreatedAt = parseSQLiteTime(createdAt)
	proj.UpdatedAt = parseSQLiteTime(updatedAt)
	return &proj, nil
}
