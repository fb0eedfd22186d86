package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/0MATRIX0/agent-connect/internal/model"
)

// ProjectRepository provides data access for projects.
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create validates and registers a project. The path is made absolute and
// must be an existing directory that no other project uses.
func (r *ProjectRepository) Create(ctx context.Context, name, path string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: name and path are required", model.ErrInvalidProject)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidProject, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: path does not exist: %s", model.ErrInvalidProject, abs)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: path is not a directory: %s", model.ErrInvalidProject, abs)
	}

	if existing, err := r.getByPath(ctx, abs); err == nil {
		return nil, fmt.Errorf("%w at this path: %s", model.ErrProjectExists, existing.Name)
	} else if !errors.Is(err, model.ErrProjectNotFound) {
		return nil, err
	}

	project := &model.Project{
		ID:        uuid.NewString(),
		Name:      name,
		Path:      abs,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO projects (id, name, path, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query, project.ID, project.Name, project.Path, project.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%w at this path: %s", model.ErrProjectExists, abs)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return project, nil
}

// Get retrieves a project by its ID.
func (r *ProjectRepository) Get(ctx context.Context, id string) (*model.Project, error) {
	query := `SELECT id, name, path, created_at FROM projects WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *ProjectRepository) getByPath(ctx context.Context, path string) (*model.Project, error) {
	query := `SELECT id, name, path, created_at FROM projects WHERE path = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, path))
}

func (r *ProjectRepository) scanOne(row *sql.Row) (*model.Project, error) {
	p := &model.Project{}
	err := row.Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// List retrieves all projects in registration order.
func (r *ProjectRepository) List(ctx context.Context) ([]*model.Project, error) {
	query := `
		SELECT id, name, path, created_at
		FROM projects
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*model.Project{}
	for rows.Next() {
		p := &model.Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

// Delete removes a project and returns it.
func (r *ProjectRepository) Delete(ctx context.Context, id string) (*model.Project, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete project: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return nil, model.ErrProjectNotFound
	}

	return p, nil
}
