package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/storefront/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `u.id, u.email, u.name, COALESCE(u.password_hash, ''), u.created_at, u.updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。
// 同じメールアドレスの外部IdPアカウントが複数ある場合もパスワード付きアカウントを優先する。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE lower(u.email) = lower($1)
		 ORDER BY (u.password_hash IS NULL), u.created_at
		 LIMIT 1`,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// CreateWithPassword はパスワード付きのユーザーを作成する。
func (r *PostgresUserRepo) CreateWithPassword(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewEmailTakenError()
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// InsertIfAbsent は外部IdPアカウントに紐づくユーザーを、存在しなければ作成する。
//
// ユーザーとprovider_accountsを同一トランザクションで挿入し、
// (provider, provider_user_id)の一意制約で競合した場合はロールバックして先行したユーザーを読み直す。
func (r *PostgresUserRepo) InsertIfAbsent(ctx context.Context, account *model.ProviderAccount, user *model.User) (*model.User, bool, error) {
	existing, err := r.findByProviderAccount(ctx, account.Provider, account.ProviderUserID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	inserted, err := r.insertWithAccount(ctx, account, user)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return user, true, nil
	}

	winner, err := r.findByProviderAccount(ctx, account.Provider, account.ProviderUserID)
	if err != nil {
		return nil, false, err
	}
	if winner == nil {
		return nil, false, fmt.Errorf("provider account %s/%s vanished after conflict", account.Provider, account.ProviderUserID)
	}
	return winner, false, nil
}

func (r *PostgresUserRepo) insertWithAccount(ctx context.Context, account *model.ProviderAccount, user *model.User) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert user: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO provider_accounts (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider, provider_user_id) DO NOTHING`,
		account.ID, user.ID, account.Provider, account.ProviderUserID, account.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert provider account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// 他のリクエストが先に作成した。deferのRollbackで自分のusers行も破棄する。
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	account.UserID = user.ID
	return true, nil
}

func (r *PostgresUserRepo) findByProviderAccount(ctx context.Context, provider, providerUserID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 JOIN provider_accounts pa ON pa.user_id = u.id
		 WHERE pa.provider = $1 AND pa.provider_user_id = $2`,
		provider, providerUserID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider account: %w", err)
	}
	return user, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するprovider_accounts、sessionsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
