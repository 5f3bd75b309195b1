package adapter

import (
	"context"
	"errors"

	chat "taskchat/internal/pkg/chat/application/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgChatRepository struct {
	pool *pgxpool.Pool
}

func NewPgChatRepository(pool *pgxpool.Pool) *PgChatRepository {
	return &PgChatRepository{pool: pool}
}

func (r *PgChatRepository) FindConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgChatRepository: nil pool")
	}
	var c chat.Conversation
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, task_id::text, client_id::text, worker_id::text, created_at, last_message_at
		FROM chat.conversation
		WHERE id = $1::uuid
	`, id).Scan(&c.ID, &c.TaskID, &c.ClientID, &c.WorkerID, &c.CreatedAt, &c.LastMessageAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateMessage inserts the message and touches the conversation recency in
// one transaction. A failed touch rolls the insert back, which keeps the
// "no fan-out without a fully persisted state" guarantee simple upstream.
func (r *PgChatRepository) CreateMessage(ctx context.Context, m chat.Message) (*chat.Message, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgChatRepository: nil pool")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO chat.message (conversation_id, sender_id, task_id, content, read, created_at)
		VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6)
		RETURNING id::text
	`, m.ConversationID, m.SenderID, m.TaskID, m.Content, m.Read, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return nil, err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE chat.conversation
		SET last_message_at = $2
		WHERE id = $1::uuid
	`, m.ConversationID, m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, chat.ErrConversationNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &m, nil
}
