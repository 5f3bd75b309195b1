package adapter

import (
	"context"
	"errors"

	chat "taskchat/internal/pkg/chat/application/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgUserDirectory resolves users from the marketplace's account table.
type PgUserDirectory struct {
	pool *pgxpool.Pool
}

func NewPgUserDirectory(pool *pgxpool.Pool) *PgUserDirectory {
	return &PgUserDirectory{pool: pool}
}

func (d *PgUserDirectory) FindUserByID(ctx context.Context, id string) (*chat.User, error) {
	if d == nil || d.pool == nil {
		return nil, errors.New("PgUserDirectory: nil pool")
	}
	var u chat.User
	err := d.pool.QueryRow(ctx,
		`SELECT id::text, name FROM app_user WHERE id = $1::uuid`,
		id,
	).Scan(&u.ID, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
