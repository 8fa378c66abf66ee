package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/projectdesk/internal/logger"
	"github.com/projectdesk/internal/model"
)

type ProjectRepository struct {
	pool *pgxpool.Pool
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

func (r *ProjectRepository) Create(ctx context.Context, p *model.Project) error {
	defer logger.DeferLogDuration("project.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO projects (id, name, progress, created_by, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, p.Progress, p.CreatedBy, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("projectRepo.Create: %w", err)
	}
	return nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*model.Project, error) {
	defer logger.DeferLogDuration("project.GetByID", time.Now())()
	p := &model.Project{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, progress, created_by, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Progress, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("projectRepo.GetByID: %w", err)
	}
	return p, nil
}

// IsMember reports whether a user may read and write a project's channel.
func (r *ProjectRepository) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	defer logger.DeferLogDuration("project.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("projectRepo.IsMember: %w", err)
	}
	return exists, nil
}

func (r *ProjectRepository) GetMemberIDs(ctx context.Context, projectID string) ([]string, error) {
	defer logger.DeferLogDuration("project.GetMemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM project_members WHERE project_id = $1`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("projectRepo.GetMemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("projectRepo.GetMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("projectRepo.GetMemberIDs rows: %w", err)
	}
	return ids, nil
}

func (r *ProjectRepository) AddMember(ctx context.Context, projectID, userID string) error {
	defer logger.DeferLogDuration("project.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("projectRepo.AddMember: %w", err)
	}
	return nil
}
