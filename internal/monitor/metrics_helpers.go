package monitor

import "time"

// 便捷函数供外部调用，无需访问 Metrics 实例

// IncSignal 信号处理结果计数
func IncSignal(signalType, outcome string) {
	GetMetrics().signalsTotal.WithLabelValues(signalType, outcome).Inc()
}

// IncDedupLayer 去重层判定计数
func IncDedupLayer(layer, result string) {
	GetMetrics().dedupLayerTotal.WithLabelValues(layer, result).Inc()
}

// IncDedupDegraded 协调存储不可用时降级计数
func IncDedupDegraded() {
	GetMetrics().dedupDegradedTotal.Inc()
}

// IncDedupMismatch 协调存储与持久化存储判定不一致
func IncDedupMismatch() {
	GetMetrics().dedupMismatchTotal.Inc()
}

// IncCacheHit 增加缓存命中计数
func IncCacheHit(cacheType string) {
	GetMetrics().cacheHitTotal.WithLabelValues(cacheType).Inc()
}

// IncCacheMiss 增加缓存未命中计数
func IncCacheMiss(cacheType string) {
	GetMetrics().cacheMissTotal.WithLabelValues(cacheType).Inc()
}

// IncCoordinationError 协调存储错误计数
func IncCoordinationError(op string) {
	GetMetrics().coordinationErrors.WithLabelValues(op).Inc()
}

// SetLeader 设置 leader 状态
func SetLeader(leader bool) {
	boolGauge(GetMetrics().isLeader, leader)
}

// IncLeadershipChange 租约变更计数
func IncLeadershipChange(event string) {
	GetMetrics().leadershipChanges.WithLabelValues(event).Inc()
}

// ObserveOrderLatency 订单耗时
func ObserveOrderLatency(d time.Duration) {
	GetMetrics().orderLatency.Observe(d.Seconds())
}

// IncOrderResult 订单结果计数
func IncOrderResult(state string) {
	GetMetrics().orderResults.WithLabelValues(state).Inc()
}

// IncConflictRetry 乐观锁重试计数
func IncConflictRetry() {
	GetMetrics().conflictRetries.Inc()
}

// IncBinding 仓位计算约束计数
func IncBinding(binding string) {
	GetMetrics().bindingConstraint.WithLabelValues(binding).Inc()
}

// IncPyramidRejection 金字塔拒绝计数
func IncPyramidRejection(reason string) {
	GetMetrics().pyramidRejections.WithLabelValues(reason).Inc()
}

// IncJobRun 后台任务执行计数
func IncJobRun(job, status string) {
	GetMetrics().schedulerJobRuns.WithLabelValues(job, status).Inc()
}

// SetOpenPositions 设置持仓数量
func SetOpenPositions(n int64) {
	GetMetrics().openPositions.Set(float64(n))
}

// SetInstancesAlive 设置存活实例数
func SetInstancesAlive(n int) {
	GetMetrics().instancesAlive.Set(float64(n))
}

// SetSignalLogRows 设置各状态信号数量
func SetSignalLogRows(status string, n int64) {
	GetMetrics().signalLogByStatus.WithLabelValues(status).Set(float64(n))
}

// SetWorkerPoolRunning 设置协程池运行任务数
func SetWorkerPoolRunning(n int) {
	GetMetrics().workerPoolRunning.Set(float64(n))
}

// IncWorkerPoolSaturated 协程池满计数
func IncWorkerPoolSaturated() {
	GetMetrics().workerPoolSaturated.Inc()
}

// SetNATSConnected 设置NATS连接状态
func SetNATSConnected(connected bool) {
	boolGauge(GetMetrics().natsConnected, connected)
}

// SetRecoveryDuration 启动恢复耗时
func SetRecoveryDuration(d time.Duration) {
	GetMetrics().recoveryDuration.Set(d.Seconds())
}
