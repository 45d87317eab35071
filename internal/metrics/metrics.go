// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セキュアドリクエストクライアントとロールリゾルバから利用する。
type MetricsCollector interface {
	RecordRequest(statusCode int, duration time.Duration)
	RecordRequestError()
	RecordAuthFailure(statusCode int)
	RecordRoleFetch(result string)
	RecordSignIn(method string)
	RecordForcedSignOut()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	requestTotal   *prometheus.CounterVec
	requestErrors  prometheus.Counter
	requestLatency prometheus.Histogram
	authFailures   *prometheus.CounterVec
	roleFetchTotal *prometheus.CounterVec
	signInTotal    *prometheus.CounterVec
	forcedSignOuts prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitgate_api_requests_total",
			Help: "HTTPステータスコード別のAPIリクエスト数",
		}, []string{"status_code"}),
		requestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitgate_api_request_errors_total",
			Help: "ネットワークエラー等で完了しなかったAPIリクエスト数",
		}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitgate_api_request_latency_seconds",
			Help:    "APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitgate_auth_failures_total",
			Help: "認可エラー（401/403）の発生数",
		}, []string{"status_code"}),
		roleFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitgate_role_fetch_total",
			Help: "結果別のロール取得数",
		}, []string{"result"}),
		signInTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitgate_sign_in_total",
			Help: "方式別のサインイン成功数",
		}, []string{"method"}),
		forcedSignOuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitgate_forced_sign_outs_total",
			Help: "認可エラーによる強制サインアウト数",
		}),
	}

	reg.MustRegister(
		c.requestTotal,
		c.requestErrors,
		c.requestLatency,
		c.authFailures,
		c.roleFetchTotal,
		c.signInTotal,
		c.forcedSignOuts,
	)

	return c
}

// RecordRequest はAPIリクエストの完了を記録する。
func (c *Collector) RecordRequest(statusCode int, duration time.Duration) {
	c.requestTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.requestLatency.Observe(duration.Seconds())
}

// RecordRequestError は完了しなかったAPIリクエストを記録する。
func (c *Collector) RecordRequestError() {
	c.requestErrors.Inc()
}

// RecordAuthFailure は認可エラーを記録する。
func (c *Collector) RecordAuthFailure(statusCode int) {
	c.authFailures.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRoleFetch はロール取得の結果を記録する。resultは success / error / unknown_role。
func (c *Collector) RecordRoleFetch(result string) {
	c.roleFetchTotal.WithLabelValues(result).Inc()
}

// RecordSignIn はサインイン成功を記録する。methodは password / social / signup。
func (c *Collector) RecordSignIn(method string) {
	c.signInTotal.WithLabelValues(method).Inc()
}

// RecordForcedSignOut は強制サインアウトを記録する。
func (c *Collector) RecordForcedSignOut() {
	c.forcedSignOuts.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
