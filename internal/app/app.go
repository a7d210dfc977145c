package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/storefront/internal/auth"
	"github.com/hitoshi/storefront/internal/config"
	"github.com/hitoshi/storefront/internal/database"
	"github.com/hitoshi/storefront/internal/handler"
	"github.com/hitoshi/storefront/internal/logger"
	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/order"
	"github.com/hitoshi/storefront/internal/repository"
	"github.com/hitoshi/storefront/internal/security"
	"github.com/hitoshi/storefront/internal/session"
	"github.com/hitoshi/storefront/internal/telemetry"
	"github.com/hitoshi/storefront/internal/user"
	"github.com/hitoshi/storefront/internal/worker/cleanup"
)

const (
	serviceName     = "storefront"
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMで全サブコマンドが停止する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return NewCLI(w).RunContext(ctx, append([]string{serviceName}, args...))
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, cfg.StoreTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// openSessionStore は設定に応じたセッションストアを返す。
// 返されるcloseはRedisクライアントを閉じる。PostgreSQLの場合は何もしない。
func openSessionStore(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.SessionRepository, func(), error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return repository.NewPostgresSessionRepo(db), func() {}, nil
	}

	client, err := database.OpenRedis(ctx, cfg.RedisURL, cfg.StoreTimeout)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("redis session store connected")
	return repository.NewRedisSessionRepo(client), func() { client.Close() }, nil
}

// providerConfigs は設定済みの外部IdPを返す。
func providerConfigs(cfg *config.Config) map[auth.Provider]config.ProviderConfig {
	all := map[auth.Provider]config.ProviderConfig{
		auth.ProviderGitHub: cfg.GitHub,
		auth.ProviderGoogle: cfg.Google,
		auth.ProviderKakao:  cfg.Kakao,
		auth.ProviderNaver:  cfg.Naver,
	}
	enabled := make(map[auth.Provider]config.ProviderConfig, len(all))
	for name, pc := range all {
		if pc.Enabled() {
			enabled[name] = pc
		}
	}
	return enabled
}

// buildProviders は設定済みの外部IdPアダプターを生成し、エンドポイントを静的検証する。
func buildProviders(cfg *config.Config, client *http.Client) (map[auth.Provider]*auth.OAuthProvider, error) {
	providers := make(map[auth.Provider]*auth.OAuthProvider)
	for name, pc := range providerConfigs(cfg) {
		p, err := auth.NewOAuthProvider(name, auth.ProviderSettings{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  pc.RedirectURL,
		}, client)
		if err != nil {
			return nil, err
		}
		for _, endpoint := range p.Endpoints() {
			if err := security.ValidateEndpoint(endpoint); err != nil {
				return nil, fmt.Errorf("%s endpoint rejected: %w", name, err)
			}
		}
		providers[name] = p
	}
	return providers, nil
}

// newRegistry はプロセスメトリクスを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildRouter は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
// 返されるRateLimiterはシャットダウン時に停止すること。
func buildRouter(cfg *config.Config, db *sql.DB, sessions repository.SessionRepository, collector metrics.MetricsCollector) (http.Handler, *middleware.RateLimiter, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	accountRepo := repository.NewPostgresProviderAccountRepo(db)
	orderRepo := repository.NewPostgresOrderRepo(db)

	// 2. セッション認証局
	authority, err := session.NewAuthority(session.Config{
		Secret:       []byte(cfg.SessionSecret),
		TTL:          cfg.SessionTTL,
		StoreTimeout: cfg.StoreTimeout,
	}, sessions, session.WithMetrics(collector))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session authority: %w", err)
	}

	// 3. 外部IdP
	providers, err := buildProviders(cfg, security.NewProviderClient(cfg.ProviderTimeout))
	if err != nil {
		return nil, nil, err
	}
	verifiers := make(map[auth.Provider]auth.ProviderVerifier, len(providers))
	flows := make(map[auth.Provider]auth.CodeExchanger, len(providers))
	for name, p := range providers {
		verifiers[name] = p
		flows[name] = p
		slog.Info("identity provider enabled", slog.String("provider", string(name)))
	}

	// 4. ドメインサービスの初期化
	hasher := auth.NewPasswordHasher(0)
	resolver := auth.NewResolver(userRepo, verifiers, hasher, security.NewProfileSanitizer(), auth.ResolverConfig{
		ProviderTimeout: cfg.ProviderTimeout,
		StoreTimeout:    cfg.StoreTimeout,
	})
	authService := auth.NewService(resolver, authority, userRepo, accountRepo, flows, hasher, collector, auth.ServiceConfig{
		ProviderTimeout: cfg.ProviderTimeout,
		StoreTimeout:    cfg.StoreTimeout,
	})

	policy, err := order.ParsePolicy(cfg.OrderAccessPolicy)
	if err != nil {
		return nil, nil, err
	}
	gate := order.NewGate(authority, orderRepo, policy, cfg.StoreTimeout, collector)
	userService := user.NewService(userRepo, authority, cfg.StoreTimeout)

	// 5. ルーターの構築
	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, nil, err
	}
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSignIn),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Verifier:          authority,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustedProxies:    trustedProxies,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:  slog.Default(),
		Metrics: collector,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		OrderGate:   gate,
		UserService: userService,

		DB:            db,
		HealthTimeout: cfg.StoreTimeout,
	})

	return router, rateLimiter, nil
}

// runServe はAPIサーバーモードで起動する。
// APIサーバーとメトリクスサーバーを並行して動かし、ctxのキャンセルで
// 両方をグレースフルシャットダウンする。
func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
		slog.String("order_access_policy", cfg.OrderAccessPolicy),
	)

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, closeSessions, err := openSessionStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	router, rateLimiter, err := buildRouter(cfg, db, sessions, collector)
	if err != nil {
		return err
	}
	defer rateLimiter.Stop()

	apiServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{apiServer, metricsServer} {
		g.Go(func() error {
			slog.Info("HTTP server starting", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down HTTP servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(
			apiServer.Shutdown(shutdownCtx),
			metricsServer.Shutdown(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを一定間隔で実行し、削除件数をメトリクスとして公開する。
// ctxのキャンセルで停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting application",
		slog.String("command", string(CommandWorker)),
		slog.String("session_store", cfg.SessionStore),
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, closeSessions, err := openSessionStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	if cfg.SessionStore == config.SessionStoreRedis {
		slog.Info("redis expires sessions by TTL; cleanup runs as a no-op")
	}

	reg := newRegistry()
	job := cleanup.NewCleanupJob(sessions, slog.Default(), metrics.NewCollector(reg), cfg.StoreTimeout)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		job.Start(gctx, cfg.SessionCleanupInterval)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	return checkHealth(ctx, fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(ctx context.Context, healthURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
