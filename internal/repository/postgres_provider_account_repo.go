package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/storefront/internal/model"
)

// PostgresProviderAccountRepo はPostgreSQLを使用した外部IdP紐付けリポジトリ。
type PostgresProviderAccountRepo struct {
	db *sql.DB
}

// NewPostgresProviderAccountRepo はPostgresProviderAccountRepoを生成する。
func NewPostgresProviderAccountRepo(db *sql.DB) *PostgresProviderAccountRepo {
	return &PostgresProviderAccountRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresProviderAccountRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.ProviderAccount, error) {
	account := &model.ProviderAccount{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM provider_accounts
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&account.ID, &account.UserID, &account.Provider, &account.ProviderUserID, &account.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find provider account: %w", err)
	}

	return account, nil
}

// ListByUserID はユーザーに紐づく外部IdPアカウントを作成順に返す。
func (r *PostgresProviderAccountRepo) ListByUserID(ctx context.Context, userID string) ([]*model.ProviderAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM provider_accounts
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.ProviderAccount
	for rows.Next() {
		account := &model.ProviderAccount{}
		if err := rows.Scan(&account.ID, &account.UserID, &account.Provider, &account.ProviderUserID, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provider accounts: %w", err)
	}
	return accounts, nil
}

// compile-time interface check
var _ ProviderAccountRepository = (*PostgresProviderAccountRepo)(nil)
