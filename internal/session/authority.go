// Package session はセッションの発行・検証・失効を担う。
//
// セッションエビデンスはHS256で署名したJWTで、jtiに対応するセッションレコードを
// ストアに保持する。署名と期限が正しくても、レコードが失効していれば無効として扱う。
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

const defaultIssuer = "storefront"

// Config はセッション発行の設定。
type Config struct {
	Secret       []byte
	TTL          time.Duration
	Issuer       string
	StoreTimeout time.Duration
}

// Claims はセッショントークンに埋め込むクレーム。
type Claims struct {
	jwt.RegisteredClaims

	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"prv"`
}

// Authority はセッションの発行・検証・失効を行う。
type Authority struct {
	cfg     Config
	store   repository.SessionRepository
	metrics metrics.MetricsCollector
	now     func() time.Time
	parser  *jwt.Parser

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// Option はAuthorityのオプション設定。
type Option func(*Authority)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// WithMetrics はメトリクス収集器を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(a *Authority) { a.metrics = m }
}

// NewAuthority はAuthorityを生成する。
func NewAuthority(cfg Config, store repository.SessionRepository, opts ...Option) (*Authority, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("session TTL must be positive: %s", cfg.TTL)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}

	a := &Authority{
		cfg:     cfg,
		store:   store,
		metrics: metrics.NopCollector{},
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(a.now),
	)
	return a, nil
}

// TTL はセッションの有効期間を返す。
func (a *Authority) TTL() time.Duration {
	return a.cfg.TTL
}

func (a *Authority) newSessionID(now time.Time) (string, error) {
	a.entropyMu.Lock()
	defer a.entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), a.entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return id.String(), nil
}

// Issue はIdentityに対する新しいセッションを発行する。
// 同じIdentityで複数回呼んだ場合も、それぞれ独立に検証・失効できるセッションになる。
func (a *Authority) Issue(ctx context.Context, identity *model.Identity) (*model.Session, error) {
	if identity == nil || identity.SubjectID == "" {
		return nil, errors.New("identity with subject is required")
	}

	// JWTのNumericDateは秒精度のため、記録する時刻も秒に揃える
	issuedAt := a.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(a.cfg.TTL)

	id, err := a.newSessionID(issuedAt)
	if err != nil {
		return nil, err
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   identity.SubjectID,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name:     identity.DisplayName,
		Email:    identity.Email,
		Provider: identity.Provider,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	sess := &model.Session{
		ID:        id,
		UserID:    identity.SubjectID,
		Token:     token,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}

	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	if err := a.store.Create(storeCtx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	return sess, nil
}

// parse はエビデンスの署名・形式・期限を検証してクレームを返す。
func (a *Authority) parse(evidence string) (*Claims, error) {
	if evidence == "" {
		return nil, errors.New("empty evidence")
	}
	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(evidence, claims, func(*jwt.Token) (interface{}, error) {
		return a.cfg.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("incomplete session claims")
	}
	return claims, nil
}

// Verify はエビデンスを検証し、有効であればIdentityを返す。
// 改ざん・期限切れ・失効・ストア障害のいずれの場合もnilを返し、エラーは返さない。
func (a *Authority) Verify(ctx context.Context, evidence string) *model.Identity {
	claims, err := a.parse(evidence)
	if err != nil {
		slog.Debug("session verification failed", slog.String("reason", err.Error()))
		a.metrics.RecordSessionVerify(metrics.ResultInvalid)
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	record, err := a.store.FindByID(storeCtx, claims.ID)
	a.metrics.RecordStoreLatency("session_find", time.Since(start))
	if err != nil {
		slog.Warn("session store lookup failed",
			slog.String("session_id", claims.ID),
			slog.String("error", err.Error()),
		)
		a.metrics.RecordSessionVerify(metrics.ResultError)
		return nil
	}
	if record == nil || record.UserID != claims.Subject || record.IsExpired(a.now()) {
		a.metrics.RecordSessionVerify(metrics.ResultRevoked)
		return nil
	}

	a.metrics.RecordSessionVerify(metrics.ResultValid)
	return &model.Identity{
		SubjectID:   claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
		Provider:    claims.Provider,
	}
}

// SessionID は署名と期限が正しいエビデンスからセッションIDを取り出す。
// ストアは参照しない。
func (a *Authority) SessionID(evidence string) (string, bool) {
	claims, err := a.parse(evidence)
	if err != nil {
		return "", false
	}
	return claims.ID, true
}

// Revoke は指定ユーザーの全セッションを失効させる。
func (a *Authority) Revoke(ctx context.Context, subjectID string) error {
	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	if err := a.store.DeleteByUserID(storeCtx, subjectID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}

// RevokeSession は指定セッションのみを失効させる。
func (a *Authority) RevokeSession(ctx context.Context, sessionID string) error {
	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	if err := a.store.DeleteByID(storeCtx, sessionID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}
