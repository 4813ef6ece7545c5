// Package metrics 定义 Prometheus 指标：HTTP 请求、分片上传、配额提交、合并任务与回收站清理.
//
//	metrics.UploadChunks.WithLabelValues(metrics.ResultOK).Inc()
//	metrics.ReclaimedBytes.Add(float64(n))
package metrics

import (
	"net/http"
	_ "net/http/pprof" // 自动注册pprof端点
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yeisme/panvault/pkg/configs"
)

// 结果标签取值.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

const namespace = "panvault"

// 全局指标变量.
var (
	// RequestCounter HTTP请求计数器.
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration HTTP请求持续时间.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// ActiveConnections 活跃连接数.
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	// UploadChunks 处理的分片数，按结果区分.
	UploadChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_chunks_total",
			Help:      "Upload chunks handled, by result",
		},
		[]string{"result"},
	)

	// UploadOutcomes 上传结束状态（instant/uploading/completed）.
	UploadOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_outcomes_total",
			Help:      "Upload responses by reported status",
		},
		[]string{"status"},
	)

	// QuotaCommits 配额提交次数，按结果区分.
	QuotaCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_commits_total",
			Help:      "Quota commit attempts, by result",
		},
		[]string{"result"},
	)

	// ActiveSessions 当前在途上传会话数.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_sessions_active",
			Help:      "In-flight upload sessions",
		},
	)

	// ReclaimedBytes 彻底删除释放的字节数.
	ReclaimedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_bytes_total",
			Help:      "Bytes released back to user quota by purge",
		},
	)

	// SweepDuration 单次回收站清理耗时.
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Recycle bin sweep duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	// Finalizations 合并任务结果.
	Finalizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalizations_total",
			Help:      "Finalization outcomes reported by the worker",
		},
		[]string{"result"},
	)

	// MergedBytes worker 写入对象存储的字节数.
	MergedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_merged_bytes_total",
			Help:      "Bytes merged and stored by the finalization worker",
		},
	)

	// registry Prometheus注册表.
	registry = prometheus.NewRegistry()

	runtimeOnce sync.Once
)

func init() {
	registry.MustRegister(
		RequestCounter, RequestDuration, ActiveConnections,
		UploadChunks, UploadOutcomes, QuotaCommits, ActiveSessions,
		ReclaimedBytes, SweepDuration, Finalizations, MergedBytes,
	)
}

// InitMetrics 初始化Metrics，可重复调用.
func InitMetrics(config configs.MetricsConfig) error {
	if !config.Enabled || !config.RuntimeMetrics {
		return nil
	}

	runtimeOnce.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})

	return nil
}

// StartMetricsServer 在 debugEngine 上挂载指标端点与可选的 pprof 端点.
func StartMetricsServer(config configs.MetricsConfig, debugEngine *gin.Engine) error {
	if !config.Enabled {
		return nil
	}

	debugEngine.GET(config.Path, gin.WrapH(promhttp.HandlerFor(prometheus.Gatherers{registry, prometheus.DefaultGatherer}, promhttp.HandlerOpts{})))

	if config.Pprof {
		debugEngine.GET("/debug/pprof/*any", gin.WrapH(http.DefaultServeMux))
	}

	return nil
}

// GetRegistry 获取Prometheus注册表.
func GetRegistry() *prometheus.Registry {
	return registry
}
