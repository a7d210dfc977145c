// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/storefront/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// パスワードを持つアカウントを優先して返す。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithPassword はパスワード付きのユーザーを作成する。
	// メールアドレスが既に使われている場合はEMAIL_TAKENのAPIErrorを返す。
	CreateWithPassword(ctx context.Context, user *model.User) error

	// InsertIfAbsent は外部IdPアカウントに紐づくユーザーを、存在しなければ作成する。
	// 同じ(provider, provider_user_id)に対する同時呼び出しでも作成されるユーザーは1件で、
	// 全呼び出しが同じユーザーを受け取る。createdは自分の呼び出しで作成した場合にtrue。
	InsertIfAbsent(ctx context.Context, account *model.ProviderAccount, user *model.User) (stored *model.User, created bool, err error)

	// DeleteByID は指定IDのユーザーを削除する。
	// provider_accounts、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// ProviderAccountRepository は外部IdP紐付け情報の永続化インターフェース。
type ProviderAccountRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.ProviderAccount, error)

	// ListByUserID はユーザーに紐づく外部IdPアカウントを作成順に返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.ProviderAccount, error)
}

// SessionRepository はセッションレコードの永続化インターフェース。
// トークン本体は保存せず、失効判定に必要なメタデータのみを保持する。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// OrderRepository は注文データの参照インターフェース。
type OrderRepository interface {
	// FindByID は指定IDの注文を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Order, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
