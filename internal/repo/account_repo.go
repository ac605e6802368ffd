package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/postmill/internal/domain"
)

// AccountRepo хранит привязанные аккаунты владельцев на платформах.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Link создаёт или заменяет привязку.
func (r *AccountRepo) Link(ctx context.Context, acc domain.LinkedAccount) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO linked_accounts (owner_id, platform, account_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner_id, platform) DO UPDATE
		SET account_id = EXCLUDED.account_id, updated_at = NOW()
	`, acc.OwnerID, acc.Platform, acc.AccountID)
	if err != nil {
		return fmt.Errorf("link account: %w", err)
	}
	return nil
}

// Get возвращает привязку владельца на платформе.
func (r *AccountRepo) Get(ctx context.Context, owner uuid.UUID, platform domain.Platform) (*domain.LinkedAccount, error) {
	acc := domain.LinkedAccount{OwnerID: owner, Platform: platform}
	err := r.pool.QueryRow(ctx, `
		SELECT account_id FROM linked_accounts WHERE owner_id = $1 AND platform = $2
	`, owner, platform).Scan(&acc.AccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get linked account: %w", err)
	}
	return &acc, nil
}
