package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// 同名指标重复注册会 panic，api 和测试都走 Init。
	once sync.Once

	// HTTPRequestsTotal route 用路由模板（/:id），不要用真实 path，否则 label 无限增长。
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request latency distributions.",
			// 重定向是热路径，低延迟段分得细一些
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Redirects：跳转入口的结果分布。
	//
	// outcome：redirected / not_found / bad_geo / misconfigured / lookup_error
	Redirects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redirects_total",
			Help: "Redirect requests by outcome.",
		},
		[]string{"outcome"},
	)

	// CacheOperations：目的地集合缓存命中情况。
	//
	// layer：l1（ristretto）/ l2（redis）/ bloom
	// result：hit / hit_negative / miss / reject
	CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Destination cache lookups by layer and result.",
		},
		[]string{"layer", "result"},
	)

	// EvaluationTriggers：触发评估的次数，result 区分新建与去重（started / duplicate / error）。
	EvaluationTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_triggers_total",
			Help: "Destination evaluation triggers by backend and result.",
		},
		[]string{"backend", "result"},
	)

	// EvaluationCheckAttempts：单次探测的结果（healthy / unhealthy / unreachable / transient / fatal）。
	EvaluationCheckAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_check_attempts_total",
			Help: "Destination check attempts by result.",
		},
		[]string{"result"},
	)

	// EvaluationOutcomes：工作流终态，每个 run 只记一次。
	EvaluationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_outcomes_total",
			Help: "Terminal destination evaluation states.",
		},
		[]string{"state"},
	)

	// EvaluationCheckDuration：单次探测耗时。
	EvaluationCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluation_check_duration_seconds",
			Help:    "Latency of a single destination check attempt.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Init 注册全部指标，可重复调用。
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
			Redirects,
			CacheOperations,
			EvaluationTriggers,
			EvaluationCheckAttempts,
			EvaluationOutcomes,
			EvaluationCheckDuration,
		)
	})
}
