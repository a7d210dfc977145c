package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/storefront/internal/model"
)

// PostgresOrderRepo はPostgreSQLを使用した注文リポジトリ。
type PostgresOrderRepo struct {
	db *sql.DB
}

// NewPostgresOrderRepo はPostgresOrderRepoを生成する。
func NewPostgresOrderRepo(db *sql.DB) *PostgresOrderRepo {
	return &PostgresOrderRepo{db: db}
}

// FindByID は指定IDの注文を取得する。見つからない場合はnilを返す。
func (r *PostgresOrderRepo) FindByID(ctx context.Context, id string) (*model.Order, error) {
	order := &model.Order{}
	var owner sql.NullString
	var items []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, status, total, currency, items, created_at, updated_at
		 FROM orders
		 WHERE id = $1`,
		id,
	).Scan(&order.ID, &owner, &order.Status, &order.Total, &order.Currency, &items, &order.CreatedAt, &order.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", err)
	}

	order.UserID = owner.String
	order.Items = items
	return order, nil
}

// compile-time interface check
var _ OrderRepository = (*PostgresOrderRepo)(nil)
