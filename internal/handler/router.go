package handler

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          middleware.Verifier
	CORSAllowedOrigin string
	TrustedProxies    []*net.IPNet
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 注文
	OrderGate OrderGate

	// ユーザー
	UserService UserServiceInterface

	// ヘルスチェック
	DB            Pinger
	HealthTimeout time.Duration
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	TrustedProxy → Recovery → Logging → SecurityHeaders → CORS → CSRF → (ルートごと) Session → RateLimit
//
// TrustedProxyはTrustedProxiesが空なら何もしない。
// 注文ルートはゲート自身がエビデンスを検証するため、セッションミドルウェアを通さない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	healthTimeout := deps.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 2 * time.Second
	}

	r.Use(middleware.NewTrustedProxyMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	orderHandler := NewOrderHandler(deps.OrderGate)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	sessionMW := middleware.NewSessionMiddleware(deps.Verifier)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.DB, healthTimeout))
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		// サインイン試行はIPごとに制限する
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.SignInMiddleware())
			r.Post("/signin", authHandler.SignIn)
			r.Post("/register", authHandler.Register)
			r.Get("/{provider}/callback", authHandler.Callback)
		})
		r.Get("/{provider}/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.With(sessionMW).Get("/me", authHandler.Me)
	})

	// --- 注文（ゲートが認証を行う） ---
	r.With(deps.RateLimiter.GeneralMiddleware()).Get("/api/orders/{id}", orderHandler.GetOrder)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(sessionMW)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}
