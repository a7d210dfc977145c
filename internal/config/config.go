// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// minSessionSecretLength はセッション署名鍵の最小バイト数。
const minSessionSecretLength = 32

// セッションストアの種別。
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// 注文アクセスポリシーの種別。
const (
	OrderPolicyAnySession = "any_session"
	OrderPolicyOwnerOnly  = "owner_only"
)

// ProviderConfig は外部IdP（OAuth 2.0クライアント）ごとの設定。
// ClientIDが空のプロバイダーは登録されない。
type ProviderConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Enabled はプロバイダーが設定済みかを返す。
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != ""
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL  string        `env:"DATABASE_URL,required,notEmpty"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`

	// Session
	SessionSecret          string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionTTL             time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionStore           string        `env:"SESSION_STORE" envDefault:"postgres"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`
	RedisURL               string        `env:"REDIS_URL"`

	// Identity providers
	ProviderTimeout time.Duration  `env:"PROVIDER_TIMEOUT" envDefault:"5s"`
	GitHub          ProviderConfig `envPrefix:"GITHUB_"`
	Google          ProviderConfig `envPrefix:"GOOGLE_"`
	Kakao           ProviderConfig `envPrefix:"KAKAO_"`
	Naver           ProviderConfig `envPrefix:"NAVER_"`

	// Orders
	OrderAccessPolicy string `env:"ORDER_ACCESS_POLICY" envDefault:"any_session"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitSignIn  int `env:"RATE_LIMIT_SIGNIN" envDefault:"10"`

	// Logging / Telemetry
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTELEndpoint string `env:"OTEL_ENDPOINT"`

	// Server
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	BaseURL     string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool   `env:"-"`
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// 転送ヘッダーを信用するリバースプロキシ（CIDRまたはIP、カンマ区切り）。
	// 空の場合はX-Forwarded-Forを無視し、接続元アドレスでレート制限する。
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	return cfg, nil
}

// validate は値の組み合わせを検証する。
func (c *Config) validate() error {
	if len(c.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive: %s", c.SessionTTL)
	}

	switch c.SessionStore {
	case SessionStorePostgres:
	case SessionStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_STORE=%s", SessionStoreRedis)
		}
	default:
		return fmt.Errorf("unsupported SESSION_STORE: %q", c.SessionStore)
	}

	switch c.OrderAccessPolicy {
	case OrderPolicyAnySession, OrderPolicyOwnerOnly:
	default:
		return fmt.Errorf("unsupported ORDER_ACCESS_POLICY: %q", c.OrderAccessPolicy)
	}

	if c.StoreTimeout <= 0 || c.ProviderTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT and PROVIDER_TIMEOUT must be positive")
	}

	for _, p := range c.TrustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", p, err)
			}
		} else if net.ParseIP(p) == nil {
			return fmt.Errorf("invalid TRUSTED_PROXIES entry %q", p)
		}
	}
	return nil
}
