// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

// SessionRevoker はユーザーの全セッションを失効させる。
// session.Authorityが実装する。
type SessionRevoker interface {
	Revoke(ctx context.Context, subjectID string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo     repository.UserRepository
	sessions     SessionRevoker
	storeTimeout time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sessions SessionRevoker, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	return &Service{
		userRepo:     userRepo,
		sessions:     sessions,
		storeTimeout: storeTimeout,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: provider_accounts）
// 注文は外部ストアの所有物のため削除せず、user_idがNULLになる。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを失効（Redisストアの場合はCASCADEが効かないため明示的に削除する）
	if s.sessions != nil {
		if err := s.sessions.Revoke(ctx, userID); err != nil {
			return fmt.Errorf("セッションの失効に失敗しました: %w", err)
		}
	}

	// 2. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
