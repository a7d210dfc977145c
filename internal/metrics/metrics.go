// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値。
const (
	ResultSuccess             = "success"
	ResultInvalidCredentials  = "invalid_credentials"
	ResultProviderUnavailable = "provider_unavailable"
	ResultError               = "error"

	ResultAllowed      = "allowed"
	ResultUnauthorized = "unauthorized"
	ResultNotFound     = "not_found"
	ResultUnavailable  = "unavailable"

	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultRevoked = "revoked"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordSignIn(kind, provider, result string)
	RecordGateRequest(result string)
	RecordSessionVerify(result string)
	RecordStoreLatency(operation string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn         *prometheus.CounterVec
	gateRequests   *prometheus.CounterVec
	sessionVerify  *prometheus.CounterVec
	storeLatency   *prometheus.HistogramVec
	httpStatus     *prometheus.CounterVec
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_signin_total",
			Help: "ログイン試行の合計数（認証方式・プロバイダー・結果別）",
		}, []string{"kind", "provider", "result"}),
		gateRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_gate_requests_total",
			Help: "注文アクセスゲートのリクエスト数（結果別）",
		}, []string{"result"}),
		sessionVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_session_verify_total",
			Help: "セッション検証の合計数（結果別）",
		}, []string{"result"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_store_latency_seconds",
			Help:    "データストア呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.signIn,
		c.gateRequests,
		c.sessionVerify,
		c.storeLatency,
		c.httpStatus,
		c.sessionsPurged,
	)

	return c
}

// RecordSignIn はログイン試行の結果を記録する。
func (c *Collector) RecordSignIn(kind, provider, result string) {
	c.signIn.WithLabelValues(kind, provider, result).Inc()
}

// RecordGateRequest はアクセスゲートの判定結果を記録する。
func (c *Collector) RecordGateRequest(result string) {
	c.gateRequests.WithLabelValues(result).Inc()
}

// RecordSessionVerify はセッション検証の結果を記録する。
func (c *Collector) RecordSessionVerify(result string) {
	c.sessionVerify.WithLabelValues(result).Inc()
}

// RecordStoreLatency はデータストア呼び出しのレイテンシを記録する。
func (c *Collector) RecordStoreLatency(operation string, duration time.Duration) {
	c.storeLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordSignIn(string, string, string)      {}
func (NopCollector) RecordGateRequest(string)                 {}
func (NopCollector) RecordSessionVerify(string)               {}
func (NopCollector) RecordStoreLatency(string, time.Duration) {}
func (NopCollector) RecordHTTPStatus(int)                     {}
func (NopCollector) RecordSessionsPurged(int64)               {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
