package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

// TextSanitizer はIdPから受け取った文字列をプレーンテキストに正規化する。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) SanitizeText(raw string) string { return strings.TrimSpace(raw) }

// ResolverConfig はResolverの設定。
type ResolverConfig struct {
	ProviderTimeout time.Duration
	StoreTimeout    time.Duration
}

// Resolver は資格情報を検証してIdentityに変換する。
type Resolver struct {
	users     repository.UserRepository
	providers map[Provider]ProviderVerifier
	passwords *PasswordHasher
	sanitizer TextSanitizer
	cfg       ResolverConfig
	now       func() time.Time
}

// NewResolver はResolverを生成する。providersに含まれないIdPのトークンは拒否される。
func NewResolver(
	users repository.UserRepository,
	providers map[Provider]ProviderVerifier,
	passwords *PasswordHasher,
	sanitizer TextSanitizer,
	cfg ResolverConfig,
) *Resolver {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 5 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if sanitizer == nil {
		sanitizer = passthroughSanitizer{}
	}
	if providers == nil {
		providers = map[Provider]ProviderVerifier{}
	}
	return &Resolver{
		users:     users,
		providers: providers,
		passwords: passwords,
		sanitizer: sanitizer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Resolve は資格情報を検証し、認証済みのIdentityを返す。
//
// 失敗時は次のAPIErrorを返す:
//   - INVALID_CREDENTIALS: パスワード不一致、未登録メールアドレス、IdPによるトークン拒否、未設定のIdP
//   - PROVIDER_UNAVAILABLE: IdPの障害またはタイムアウト
//   - STORE_UNAVAILABLE: データストアの障害
func (r *Resolver) Resolve(ctx context.Context, cred Credential) (*model.Identity, error) {
	switch cred.Kind {
	case KindPassword:
		return r.resolvePassword(ctx, cred)
	case KindDelegated:
		return r.resolveDelegated(ctx, cred)
	default:
		return nil, model.NewInvalidCredentialsError()
	}
}

func (r *Resolver) resolvePassword(ctx context.Context, cred Credential) (*model.Identity, error) {
	storeCtx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	user, err := r.users.FindByEmail(storeCtx, cred.Email)
	if err != nil {
		slog.Error("failed to look up user by email", slog.String("error", err.Error()))
		return nil, model.NewStoreUnavailableError()
	}

	// 未登録とパスワード不一致を応答時間で区別できないよう、常にbcrypt比較を1回行う
	if !user.HasPassword() {
		r.passwords.CompareDummy(cred.Secret)
		return nil, model.NewInvalidCredentialsError()
	}
	if !r.passwords.Compare(user.PasswordHash, cred.Secret) {
		return nil, model.NewInvalidCredentialsError()
	}

	return &model.Identity{
		SubjectID:   user.ID,
		DisplayName: user.Name,
		Email:       user.Email,
		Provider:    providerPassword,
	}, nil
}

func (r *Resolver) resolveDelegated(ctx context.Context, cred Credential) (*model.Identity, error) {
	verifier, ok := r.providers[cred.Provider]
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	providerCtx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	profile, err := verifier.VerifyToken(providerCtx, cred.Token)
	cancel()
	if errors.Is(err, ErrTokenRejected) {
		return nil, model.NewInvalidCredentialsError()
	}
	if err != nil {
		slog.Warn("identity provider unavailable",
			slog.String("provider", string(cred.Provider)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderUnavailableError()
	}

	user, err := r.provision(ctx, cred.Provider, profile)
	if err != nil {
		return nil, err
	}

	return &model.Identity{
		SubjectID:   user.ID,
		DisplayName: user.Name,
		Email:       user.Email,
		Provider:    string(cred.Provider),
	}, nil
}

// provision はIdPアカウントに紐づくユーザーを取得し、初回ログインであれば作成する。
func (r *Resolver) provision(ctx context.Context, provider Provider, profile *ProviderProfile) (*model.User, error) {
	now := r.now()
	candidate := &model.User{
		ID:        uuid.NewString(),
		Email:     strings.TrimSpace(profile.Email),
		Name:      r.sanitizer.SanitizeText(profile.DisplayName),
		CreatedAt: now,
		UpdatedAt: now,
	}
	account := &model.ProviderAccount{
		ID:             uuid.NewString(),
		UserID:         candidate.ID,
		Provider:       string(provider),
		ProviderUserID: profile.ProviderUserID,
		CreatedAt:      now,
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	user, created, err := r.users.InsertIfAbsent(storeCtx, account, candidate)
	if err != nil {
		slog.Error("failed to provision user",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError()
	}
	if created {
		slog.Info("new user created",
			slog.String("user_id", user.ID),
			slog.String("provider", string(provider)),
		)
	}
	return user, nil
}
