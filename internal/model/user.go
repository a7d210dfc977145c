// Package model はドメインモデルを定義する。
package model

import "time"

// User はストアフロントのローカルアカウントを表す。
// 外部IdPでログインしたユーザーも必ず1件のUserを持つ。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string // ローカル認証を持たないアカウントでは空
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はメールアドレス+パスワードでのログインが可能なアカウントかを返す。
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// ProviderAccount は外部IdPのアカウントとローカルユーザーの紐付けを表す。
// (provider, provider_user_id) はユニーク。
type ProviderAccount struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Identity は認証済みの主体を表す。
// IdPアダプターが生成し、セッション発行後はセッションのクレームとしてのみ保持される。
type Identity struct {
	SubjectID   string
	DisplayName string
	Email       string
	Provider    string // "password", "github", "google", "kakao", "naver"
}

// Session はユーザーのログインセッションを表す。
// Tokenはクライアントに渡す署名済みのセッションエビデンス。
type Session struct {
	ID        string
	UserID    string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpired は指定時刻においてセッションが期限切れかを返す。
// now == ExpiresAt の時点で期限切れとして扱う。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
