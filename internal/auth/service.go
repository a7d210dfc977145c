package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

var tracer = otel.Tracer("github.com/hitoshi/storefront/internal/auth")

// CredentialResolver は資格情報をIdentityに変換する。
type CredentialResolver interface {
	Resolve(ctx context.Context, cred Credential) (*model.Identity, error)
}

// SessionIssuer はセッションの発行と失効を行う。
type SessionIssuer interface {
	Issue(ctx context.Context, identity *model.Identity) (*model.Session, error)
	RevokeSession(ctx context.Context, sessionID string) error
	SessionID(evidence string) (string, bool)
}

// SignInResult はサインイン成功時の結果。
type SignInResult struct {
	Identity *model.Identity
	Session  *model.Session
}

// CurrentUser はログイン中ユーザーのプロフィール。
type CurrentUser struct {
	User      *model.User
	Providers []string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	ProviderTimeout time.Duration
	StoreTimeout    time.Duration
}

// Service はサインイン、会員登録、OAuthコードフロー、ログアウトを提供する。
type Service struct {
	resolver  CredentialResolver
	sessions  SessionIssuer
	users     repository.UserRepository
	accounts  repository.ProviderAccountRepository
	flows     map[Provider]CodeExchanger
	passwords *PasswordHasher
	metrics   metrics.MetricsCollector
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	resolver CredentialResolver,
	sessions SessionIssuer,
	users repository.UserRepository,
	accounts repository.ProviderAccountRepository,
	flows map[Provider]CodeExchanger,
	passwords *PasswordHasher,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if flows == nil {
		flows = map[Provider]CodeExchanger{}
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 5 * time.Second
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 3 * time.Second
	}
	return &Service{
		resolver:  resolver,
		sessions:  sessions,
		users:     users,
		accounts:  accounts,
		flows:     flows,
		passwords: passwords,
		metrics:   collector,
		config:    config,
		now:       time.Now,
	}
}

// SignIn は資格情報を検証し、新しいセッションを発行する。
func (s *Service) SignIn(ctx context.Context, cred Credential) (*SignInResult, error) {
	ctx, span := tracer.Start(ctx, "auth.SignIn")
	defer span.End()
	span.SetAttributes(
		attribute.String("auth.kind", string(cred.Kind)),
		attribute.String("auth.provider", cred.ProviderLabel()),
	)

	result, err := s.signIn(ctx, cred)
	s.metrics.RecordSignIn(string(cred.Kind), cred.ProviderLabel(), signInResultLabel(err))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if model.HasCode(err, model.ErrCodeInvalidCredentials) {
			slog.Warn("sign-in rejected",
				slog.String("kind", string(cred.Kind)),
				slog.String("provider", cred.ProviderLabel()),
			)
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("user.id", result.Identity.SubjectID))
	return result, nil
}

func (s *Service) signIn(ctx context.Context, cred Credential) (*SignInResult, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	identity, err := s.resolver.Resolve(ctx, cred)
	if err != nil {
		return nil, err
	}

	return s.issue(ctx, identity)
}

func (s *Service) issue(ctx context.Context, identity *model.Identity) (*SignInResult, error) {
	sess, err := s.sessions.Issue(ctx, identity)
	if err != nil {
		slog.Error("failed to issue session",
			slog.String("user_id", identity.SubjectID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError()
	}

	slog.Info("session issued",
		slog.String("user_id", identity.SubjectID),
		slog.String("provider", identity.Provider),
	)
	return &SignInResult{Identity: identity, Session: sess}, nil
}

func signInResultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case model.HasCode(err, model.ErrCodeInvalidCredentials):
		return metrics.ResultInvalidCredentials
	case model.HasCode(err, model.ErrCodeProviderUnavailable):
		return metrics.ResultProviderUnavailable
	default:
		return metrics.ResultError
	}
}

// Register はメールアドレスとパスワードでアカウントを作成し、セッションを発行する。
func (s *Service) Register(ctx context.Context, email, password, name string) (*SignInResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Register")
	defer span.End()

	cred := PasswordCredential(email, password)
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(cred.Secret)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        cred.Email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	err = s.users.CreateWithPassword(storeCtx, user)
	cancel()
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		slog.Error("failed to create user", slog.String("error", err.Error()))
		return nil, model.NewStoreUnavailableError()
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return s.issue(ctx, &model.Identity{
		SubjectID:   user.ID,
		DisplayName: user.Name,
		Email:       user.Email,
		Provider:    providerPassword,
	})
}

// LoginURL はIdPの認可URLを返す。
func (s *Service) LoginURL(provider Provider, state string) (string, error) {
	flow, ok := s.flows[provider]
	if !ok {
		return "", model.NewValidationError("未対応のプロバイダーです")
	}
	return flow.AuthCodeURL(state), nil
}

// CompleteOAuth は認可コードをアクセストークンに交換し、トークン認証と同じ経路でサインインする。
func (s *Service) CompleteOAuth(ctx context.Context, provider Provider, code string) (*SignInResult, error) {
	flow, ok := s.flows[provider]
	if !ok {
		return nil, model.NewValidationError("未対応のプロバイダーです")
	}
	if code == "" {
		return nil, model.NewValidationError("認可コードがありません")
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	token, err := flow.Exchange(exchangeCtx, code)
	cancel()
	if err != nil {
		label := metrics.ResultProviderUnavailable
		apiErr := model.NewProviderUnavailableError()
		if errors.Is(err, ErrTokenRejected) {
			label = metrics.ResultInvalidCredentials
			apiErr = model.NewInvalidCredentialsError()
		} else {
			slog.Warn("oauth code exchange failed",
				slog.String("provider", string(provider)),
				slog.String("error", err.Error()),
			)
		}
		s.metrics.RecordSignIn(string(KindDelegated), string(provider), label)
		return nil, apiErr
	}

	return s.SignIn(ctx, DelegatedCredential(provider, token))
}

// Logout はエビデンスが示すセッションを失効させる。
// 無効なエビデンスの場合は何もしない。
func (s *Service) Logout(ctx context.Context, evidence string) error {
	sessionID, ok := s.sessions.SessionID(evidence)
	if !ok {
		return nil
	}

	if err := s.sessions.RevokeSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// CurrentUser はIdentityに対応するユーザーと紐づくIdPの一覧を返す。
func (s *Service) CurrentUser(ctx context.Context, identity *model.Identity) (*CurrentUser, error) {
	if identity == nil {
		return nil, model.NewUnauthorizedError()
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	user, err := s.users.FindByID(storeCtx, identity.SubjectID)
	if err != nil {
		slog.Error("failed to find user", slog.String("error", err.Error()))
		return nil, model.NewStoreUnavailableError()
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	accounts, err := s.accounts.ListByUserID(storeCtx, user.ID)
	if err != nil {
		slog.Error("failed to list provider accounts", slog.String("error", err.Error()))
		return nil, model.NewStoreUnavailableError()
	}

	providers := make([]string, 0, len(accounts)+1)
	if user.HasPassword() {
		providers = append(providers, providerPassword)
	}
	for _, a := range accounts {
		providers = append(providers, a.Provider)
	}

	return &CurrentUser{User: user, Providers: providers}, nil
}
