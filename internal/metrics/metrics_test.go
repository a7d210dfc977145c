package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gatherFamily はレジストリから指定名のメトリクスファミリーを取得する。
func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスの指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordSignIn_CountsByLabels はログイン試行が方式・プロバイダー・結果別に数えられることを検証する。
func TestRecordSignIn_CountsByLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignIn("password", "password", ResultSuccess)
	c.RecordSignIn("password", "password", ResultInvalidCredentials)
	c.RecordSignIn("delegated", "kakao", ResultSuccess)
	c.RecordSignIn("delegated", "kakao", ResultSuccess)

	mf := gatherFamily(t, reg, "storefront_signin_total")
	if len(mf.GetMetric()) != 3 {
		t.Fatalf("expected 3 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		if labelValue(m, "provider") == "kakao" {
			if got := m.GetCounter().GetValue(); got != 2 {
				t.Errorf("signin_total{provider=kakao} = %v, want 2", got)
			}
			if labelValue(m, "kind") != "delegated" {
				t.Errorf("kind = %q, want delegated", labelValue(m, "kind"))
			}
		}
	}
}

func TestRecordGateRequest_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGateRequest(ResultAllowed)
	c.RecordGateRequest(ResultUnauthorized)
	c.RecordGateRequest(ResultUnauthorized)

	mf := gatherFamily(t, reg, "storefront_gate_requests_total")
	for _, m := range mf.GetMetric() {
		got := m.GetCounter().GetValue()
		switch labelValue(m, "result") {
		case ResultAllowed:
			if got != 1 {
				t.Errorf("gate_requests_total{result=allowed} = %v, want 1", got)
			}
		case ResultUnauthorized:
			if got != 2 {
				t.Errorf("gate_requests_total{result=unauthorized} = %v, want 2", got)
			}
		default:
			t.Errorf("unexpected result label: %s", labelValue(m, "result"))
		}
	}
}

func TestRecordSessionVerify_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionVerify(ResultRevoked)

	mf := gatherFamily(t, reg, "storefront_session_verify_total")
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("session_verify_total = %v, want 1", got)
	}
	if got := labelValue(mf.GetMetric()[0], "result"); got != ResultRevoked {
		t.Errorf("result = %q, want %q", got, ResultRevoked)
	}
}

func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)

	mf := gatherFamily(t, reg, "storefront_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		val := m.GetCounter().GetValue()
		switch labelValue(m, "status_code") {
		case "200":
			if val != 2 {
				t.Errorf("http_status_total{status_code=200} = %v, want 2", val)
			}
		case "401":
			if val != 1 {
				t.Errorf("http_status_total{status_code=401} = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected label value: %s", labelValue(m, "status_code"))
		}
	}
}

func TestRecordStoreLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStoreLatency("order_find", 100*time.Millisecond)
	c.RecordStoreLatency("order_find", 2*time.Second)

	mf := gatherFamily(t, reg, "storefront_store_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

func TestRecordSessionsPurged_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsPurged(10)
	c.RecordSessionsPurged(5)

	mf := gatherFamily(t, reg, "storefront_sessions_purged_total")
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 15 {
		t.Errorf("sessions_purged_total = %v, want 15", got)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignIn("password", "password", ResultSuccess)
	c.RecordGateRequest(ResultNotFound)
	c.RecordSessionVerify(ResultValid)
	c.RecordStoreLatency("session_find", 5*time.Millisecond)
	c.RecordHTTPStatus(404)
	c.RecordSessionsPurged(1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, metric := range []string{
		"storefront_signin_total",
		"storefront_gate_requests_total",
		"storefront_session_verify_total",
		"storefront_store_latency_seconds",
		"storefront_http_status_total",
		"storefront_sessions_purged_total",
	} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordSessionsPurged(1)
	c2.RecordSessionsPurged(2)

	if got := gatherFamily(t, reg1, "storefront_sessions_purged_total").GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("reg1 sessions_purged = %v, want 1", got)
	}
	if got := gatherFamily(t, reg2, "storefront_sessions_purged_total").GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("reg2 sessions_purged = %v, want 2", got)
	}
}

func TestNopCollector_DoesNotPanic(t *testing.T) {
	var c MetricsCollector = NopCollector{}
	c.RecordSignIn("password", "password", ResultSuccess)
	c.RecordGateRequest(ResultAllowed)
	c.RecordSessionVerify(ResultValid)
	c.RecordStoreLatency("order_find", time.Millisecond)
	c.RecordHTTPStatus(200)
	c.RecordSessionsPurged(3)
}
