package jsonsink

import "time"

// MetricsReporter 性能监控报告器接口
type MetricsReporter interface {
	// ObserveExecuteDuration 单个批次从提交到提交/回滚的耗时，status: completed/partially_failed/totally_failed/indeterminate
	ObserveExecuteDuration(table string, n int, d time.Duration, status string)
	ObserveBatchSize(n int)
	// IncOutcome 按结果类型累计记录数，kind: accepted/rejected/indeterminate
	IncOutcome(table, kind string, n int)
	// IncError kind: schema/connection/batch/report
	IncError(table, kind string)
	// IncSchemaApplied 建表 DDL 执行成功；IF NOT EXISTS 在对方已建表时也会成功，不等于本进程建了表
	IncSchemaApplied(table string)
	IncInflight()
	DecInflight()
	// Sink 相关
	SetQueueLength(n int)
	ObserveEnqueueLatency(d time.Duration)
}

// NoopMetricsReporter 默认空实现
type NoopMetricsReporter struct{}

var _ MetricsReporter = NoopMetricsReporter{}

func (NoopMetricsReporter) ObserveExecuteDuration(table string, n int, d time.Duration, status string) {
}
func (NoopMetricsReporter) ObserveBatchSize(n int)                {}
func (NoopMetricsReporter) IncOutcome(table, kind string, n int)  {}
func (NoopMetricsReporter) IncError(table, kind string)           {}
func (NoopMetricsReporter) IncSchemaApplied(table string)         {}
func (NoopMetricsReporter) IncInflight()                          {}
func (NoopMetricsReporter) DecInflight()                          {}
func (NoopMetricsReporter) SetQueueLength(n int)                  {}
func (NoopMetricsReporter) ObserveEnqueueLatency(d time.Duration) {}
