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

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists a message with its attachments in one transaction and fills
// in the server-assigned ids. The id must exist before any broadcast: clients
// deduplicate by it.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO messages (project_id, sender_id, body, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		m.ProjectID, m.SenderID, m.Body, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("msgRepo.Create insert: %w", err)
	}

	for i := range m.Attachments {
		a := &m.Attachments[i]
		err = tx.QueryRow(ctx,
			`INSERT INTO attachments (message_id, type, url, original_name, width, height)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			m.ID, a.Type, a.URL, a.OriginalName, a.Width, a.Height,
		).Scan(&a.ID)
		if err != nil {
			return fmt.Errorf("msgRepo.Create attachment: %w", err)
		}
		a.MessageID = m.ID
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	sender := &model.UserPublic{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.project_id, m.sender_id, m.body, m.created_at,
		        u.id, u.name, u.avatar_url
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.ProjectID, &m.SenderID, &m.Body, &m.CreatedAt,
		&sender.ID, &sender.Name, &sender.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	m.Sender = sender
	if err := r.loadAttachments(ctx, []*model.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// GetProjectMessages returns a newest-first page of a project's messages with
// senders and attachments.
func (r *MessageRepository) GetProjectMessages(ctx context.Context, projectID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetProjectMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.project_id, m.sender_id, m.body, m.created_at,
		        u.id, u.name, u.avatar_url
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.project_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $2 OFFSET $3`, projectID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetProjectMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.SenderID, &m.Body, &m.CreatedAt,
			&sender.ID, &sender.Name, &sender.AvatarURL); err != nil {
			return nil, fmt.Errorf("msgRepo.GetProjectMessages scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetProjectMessages rows: %w", err)
	}

	refs := make([]*model.Message, len(messages))
	for i := range messages {
		refs[i] = &messages[i]
	}
	if err := r.loadAttachments(ctx, refs); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *MessageRepository) loadAttachments(ctx context.Context, messages []*model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(messages))
	byID := make(map[int64]*model.Message, len(messages))
	for _, m := range messages {
		m.Attachments = []model.Attachment{}
		ids = append(ids, m.ID)
		byID[m.ID] = m
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, message_id, type, url, original_name, width, height
		 FROM attachments
		 WHERE message_id = ANY($1)
		 ORDER BY id`, ids,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.loadAttachments query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Type, &a.URL, &a.OriginalName, &a.Width, &a.Height); err != nil {
			return fmt.Errorf("msgRepo.loadAttachments scan: %w", err)
		}
		if m, ok := byID[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("msgRepo.loadAttachments rows: %w", err)
	}
	return nil
}
