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

type ProgressRepository struct {
	pool *pgxpool.Pool
}

func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

// SetProgress updates the project's denormalized current value and appends a
// history record in one transaction. Last committed write wins; concurrent
// updates are not serialized beyond that.
func (r *ProgressRepository) SetProgress(ctx context.Context, projectID, authorID string, value int, note string, at time.Time) (*model.Project, *model.ProgressUpdate, error) {
	defer logger.DeferLogDuration("progress.SetProgress", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("progressRepo.SetProgress begin: %w", err)
	}
	defer tx.Rollback(ctx)

	p := &model.Project{}
	err = tx.QueryRow(ctx,
		`UPDATE projects SET progress = $2 WHERE id = $1
		 RETURNING id, name, progress, created_by, created_at`,
		projectID, value,
	).Scan(&p.ID, &p.Name, &p.Progress, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("progressRepo.SetProgress update: %w", err)
	}

	u := &model.ProgressUpdate{
		ProjectID: projectID,
		AuthorID:  authorID,
		Value:     value,
		Note:      note,
		CreatedAt: at,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO progress_updates (project_id, author_id, value, note, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.ProjectID, u.AuthorID, u.Value, u.Note, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("progressRepo.SetProgress history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("progressRepo.SetProgress commit: %w", err)
	}
	return p, u, nil
}

// History returns the newest-first progress audit trail for a project.
func (r *ProgressRepository) History(ctx context.Context, projectID string, limit, offset int) ([]model.ProgressUpdate, error) {
	defer logger.DeferLogDuration("progress.History", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, project_id, author_id, value, note, created_at
		 FROM progress_updates
		 WHERE project_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, projectID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("progressRepo.History query: %w", err)
	}
	defer rows.Close()

	updates := make([]model.ProgressUpdate, 0, limit)
	for rows.Next() {
		var u model.ProgressUpdate
		if err := rows.Scan(&u.ID, &u.ProjectID, &u.AuthorID, &u.Value, &u.Note, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("progressRepo.History scan: %w", err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("progressRepo.History rows: %w", err)
	}
	return updates, nil
}
