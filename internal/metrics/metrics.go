// Package metrics はgateway・topictracker・notifierが共有するPrometheusコレクタを提供する。
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	loginAttemptsTotal         *prometheus.CounterVec
	forwardRequestsTotal       *prometheus.CounterVec
	pipelineStagesTotal        *prometheus.CounterVec
	pipelineRunsTotal          *prometheus.CounterVec
	publishTotal               *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec

	once sync.Once
)

// Init はコレクタを登録する。複数回呼び出しても安全。
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		loginAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_login_attempts_total",
				Help: "Total number of login attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		forwardRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_forward_requests_total",
				Help: "Total number of forwarded requests, labeled by method and outcome.",
			},
			[]string{"method", "outcome"},
		)

		pipelineStagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stages_total",
				Help: "Total number of pipeline stage executions, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Total number of pipeline runs, labeled by terminal state.",
			},
			[]string{"state"},
		)

		publishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_publish_total",
				Help: "Total number of broker publish attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_messages_total",
				Help: "Total number of consumed notification messages, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler はメトリクスを公開するhttp.Handlerを返す。
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// GinMiddleware はリクエスト数とレイテンシを記録するginミドルウェアを返す。
// ルートが無いリクエストはroute="unmatched"として記録する。
func GinMiddleware() gin.HandlerFunc {
	Init()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// ObserveHTTPRequest はHTTPリクエストのメトリクスを記録する。
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveLogin はログイン試行の結果を記録する。
func ObserveLogin(outcome string) {
	Init()
	loginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveForward は転送結果を記録する。
func ObserveForward(method, outcome string) {
	Init()
	forwardRequestsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveStage はパイプラインのステージ結果を記録する。
func ObserveStage(stage, outcome string) {
	Init()
	pipelineStagesTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveRun はパイプライン実行の終端状態を記録する。
func ObserveRun(state string) {
	Init()
	pipelineRunsTotal.WithLabelValues(state).Inc()
}

// ObservePublish はブローカーへの発行結果を記録する。
func ObservePublish(outcome string) {
	Init()
	publishTotal.WithLabelValues(outcome).Inc()
}

// ObserveNotification は通知メッセージの処理結果を記録する。
func ObserveNotification(outcome string) {
	Init()
	notificationsTotal.WithLabelValues(outcome).Inc()
}
