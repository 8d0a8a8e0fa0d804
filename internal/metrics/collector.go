// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 生成后端指标
	generationRequestsTotal *prometheus.CounterVec
	generationDuration      *prometheus.HistogramVec
	generationTokensUsed    *prometheus.CounterVec

	// 回复流水线指标
	pipelineOutcomes *prometheus.CounterVec
	pipelineAttempts *prometheus.HistogramVec
	assessmentScores *prometheus.HistogramVec
	stateTransitions *prometheus.CounterVec
	dedupHits        *prometheus.CounterVec
	dispatchResends  *prometheus.CounterVec

	// 调度器指标
	organicTicks      prometheus.Counter
	organicDispatches *prometheus.CounterVec
	organicSkips      *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 生成后端指标
	c.generationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of generation backend requests",
		},
		[]string{"provider", "persona", "status"},
	)

	c.generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation backend request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "persona"},
	)

	c.generationTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "type"}, // type: prompt, completion
	)

	// 回复流水线指标
	c.pipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Total number of reply pipeline runs by final outcome",
		},
		[]string{"persona", "outcome"}, // outcome: accepted, exhausted
	)

	c.pipelineAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_attempts",
			Help:      "Generation attempts consumed per reply pipeline run",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10, 15},
		},
		[]string{"persona"},
	)

	c.assessmentScores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_score",
			Help:      "Quality assessment scores per candidate",
			Buckets:   []float64{1, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"persona", "tier"},
	)

	c.stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_state_transitions_total",
			Help:      "Total number of retry state machine transitions",
		},
		[]string{"persona", "from_state", "to_state"},
	)

	c.dedupHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "Total number of candidates rejected as near-duplicates",
		},
		[]string{"persona"},
	)

	c.dispatchResends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_resends_total",
			Help:      "Total number of one-shot resends after a failed dispatch",
		},
		[]string{"status"}, // status: success, failure
	)

	// 调度器指标
	c.organicTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "organic_ticks_total",
			Help:      "Total number of organic coordinator poll ticks",
		},
	)

	c.organicDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "organic_dispatches_total",
			Help:      "Total number of organic replies dispatched",
		},
		[]string{"persona", "trigger"}, // trigger: fresh_start, follow_up
	)

	c.organicSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "organic_skips_total",
			Help:      "Total number of channel evaluations skipped",
		},
		[]string{"reason"}, // reason: cooldown, no_trigger, empty_channel, error
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 生成后端指标记录
// =============================================================================

// RecordGeneration 记录一次生成后端调用
func (c *Collector) RecordGeneration(provider, persona, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.generationRequestsTotal.WithLabelValues(provider, persona, status).Inc()
	c.generationDuration.WithLabelValues(provider, persona).Observe(duration.Seconds())
	c.generationTokensUsed.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	c.generationTokensUsed.WithLabelValues(provider, "completion").Add(float64(completionTokens))
}

// =============================================================================
// 🎭 回复流水线指标记录
// =============================================================================

// RecordPipelineOutcome 记录一次流水线运行的最终结果
func (c *Collector) RecordPipelineOutcome(persona, outcome string, attempts int) {
	c.pipelineOutcomes.WithLabelValues(persona, outcome).Inc()
	c.pipelineAttempts.WithLabelValues(persona).Observe(float64(attempts))
}

// RecordAssessment 记录一次候选评分
func (c *Collector) RecordAssessment(persona, tier string, score float64) {
	c.assessmentScores.WithLabelValues(persona, tier).Observe(score)
}

// RecordStateTransition 记录重试状态机转换
func (c *Collector) RecordStateTransition(persona, fromState, toState string) {
	c.stateTransitions.WithLabelValues(persona, fromState, toState).Inc()
}

// RecordDedupHit 记录一次近重复拒绝
func (c *Collector) RecordDedupHit(persona string) {
	c.dedupHits.WithLabelValues(persona).Inc()
}

// RecordDispatchResend 记录一次补发
func (c *Collector) RecordDispatchResend(status string) {
	c.dispatchResends.WithLabelValues(status).Inc()
}

// =============================================================================
// 🌱 调度器指标记录
// =============================================================================

// RecordOrganicTick 记录一次轮询
func (c *Collector) RecordOrganicTick() {
	c.organicTicks.Inc()
}

// RecordOrganicDispatch 记录一次主动发言
func (c *Collector) RecordOrganicDispatch(persona, trigger string) {
	c.organicDispatches.WithLabelValues(persona, trigger).Inc()
}

// RecordOrganicSkip 记录一次跳过
func (c *Collector) RecordOrganicSkip(reason string) {
	c.organicSkips.WithLabelValues(reason).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
