package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 指标收集器
type Metrics struct {
	signalsTotal        *prometheus.CounterVec
	dedupLayerTotal     *prometheus.CounterVec
	dedupDegradedTotal  prometheus.Counter
	dedupMismatchTotal  prometheus.Counter
	cacheHitTotal       *prometheus.CounterVec
	cacheMissTotal      *prometheus.CounterVec
	coordinationErrors  *prometheus.CounterVec
	isLeader            prometheus.Gauge
	leadershipChanges   *prometheus.CounterVec
	orderLatency        prometheus.Histogram
	orderResults        *prometheus.CounterVec
	conflictRetries     prometheus.Counter
	bindingConstraint   *prometheus.CounterVec
	pyramidRejections   *prometheus.CounterVec
	schedulerJobRuns    *prometheus.CounterVec
	openPositions       prometheus.Gauge
	instancesAlive      prometheus.Gauge
	signalLogByStatus   *prometheus.GaugeVec
	workerPoolRunning   prometheus.Gauge
	workerPoolSaturated prometheus.Counter
	natsConnected       prometheus.Gauge
	recoveryDuration    prometheus.Gauge
}

// NewMetrics 创建指标收集器
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		signalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_total",
				Help:      "Signals processed by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		dedupLayerTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_layer_total",
				Help:      "Deduplication decisions by layer and result",
			},
			[]string{"layer", "result"}, // cache/coordination/store, claimed/duplicate
		),
		dedupDegradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_degraded_total",
				Help:      "Claims decided without the coordination store",
			},
		),
		dedupMismatchTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_mismatch_total",
				Help:      "Coordination store claimed but durable store already had the fingerprint",
			},
		),
		cacheHitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hit_total",
				Help:      "缓存命中总数（按缓存类型）",
			},
			[]string{"cache_type"},
		),
		cacheMissTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_miss_total",
				Help:      "缓存未命中总数（按缓存类型）",
			},
			[]string{"cache_type"},
		),
		coordinationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coordination_errors_total",
				Help:      "Coordination store errors by operation",
			},
			[]string{"op"},
		),
		isLeader: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "is_leader",
				Help:      "Scheduler lease held by this instance (1=leader, 0=follower)",
			},
		),
		leadershipChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leadership_changes_total",
				Help:      "Lease acquisitions and demotions",
			},
			[]string{"event"},
		),
		orderLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "order_latency_seconds",
				Help:      "Time from place to terminal order status",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		orderResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_results_total",
				Help:      "Broker order results by final state",
			},
			[]string{"state"},
		),
		conflictRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_conflict_retries_total",
				Help:      "Optimistic concurrency retries",
			},
		),
		bindingConstraint: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sizing_binding_total",
				Help:      "Sizing results by binding constraint",
			},
			[]string{"binding"},
		),
		pyramidRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pyramid_rejections_total",
				Help:      "Pyramid gate rejections by predicate",
			},
			[]string{"reason"},
		),
		schedulerJobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_job_runs_total",
				Help:      "Background job runs by job and status",
			},
			[]string{"job", "status"},
		),
		openPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_positions",
				Help:      "Open positions across the fleet",
			},
		),
		instancesAlive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances_alive",
				Help:      "Instances with a recent heartbeat",
			},
		),
		signalLogByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "signal_log_rows",
				Help:      "Signal audit rows by status",
			},
			[]string{"status"},
		),
		workerPoolRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_running",
				Help:      "协程池运行中的任务数",
			},
		),
		workerPoolSaturated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_pool_saturated_total",
				Help:      "协程池满时同步执行的次数",
			},
		),
		natsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nats_connected",
				Help:      "NATS connection status (1=connected, 0=disconnected)",
			},
		),
		recoveryDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "recovery_duration_seconds",
				Help:      "Duration of the last startup recovery",
			},
		),
	}

	prometheus.MustRegister(
		m.signalsTotal,
		m.dedupLayerTotal,
		m.dedupDegradedTotal,
		m.dedupMismatchTotal,
		m.cacheHitTotal,
		m.cacheMissTotal,
		m.coordinationErrors,
		m.isLeader,
		m.leadershipChanges,
		m.orderLatency,
		m.orderResults,
		m.conflictRetries,
		m.bindingConstraint,
		m.pyramidRejections,
		m.schedulerJobRuns,
		m.openPositions,
		m.instancesAlive,
		m.signalLogByStatus,
		m.workerPoolRunning,
		m.workerPoolSaturated,
		m.natsConnected,
		m.recoveryDuration,
	)

	return m
}

var globalMetrics *Metrics
var metricsMu sync.Once

// GetMetrics 获取全局指标收集器
func GetMetrics() *Metrics {
	metricsMu.Do(func() {
		globalMetrics = NewMetrics("live_engine")
	})
	return globalMetrics
}

// InitMetrics 初始化指标收集器（供main使用）
func InitMetrics() {
	GetMetrics()
}

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}
