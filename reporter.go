package jsonsink

import (
	"context"
	"errors"
	"log/slog"
)

// OutcomeReporter 接收每个写周期的逐条结果，宿主框架据此确认或重试上游数据
type OutcomeReporter interface {
	Report(ctx context.Context, table TableName, records []Record, outcomes Outcomes) error
}

// ReporterFunc 函数适配器
type ReporterFunc func(ctx context.Context, table TableName, records []Record, outcomes Outcomes) error

// Report implements OutcomeReporter
func (f ReporterFunc) Report(ctx context.Context, table TableName, records []Record, outcomes Outcomes) error {
	return f(ctx, table, records, outcomes)
}

// MultiReporter 依次调用多个报告器，错误合并返回
type MultiReporter []OutcomeReporter

// Report implements OutcomeReporter
func (m MultiReporter) Report(ctx context.Context, table TableName, records []Record, outcomes Outcomes) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Report(ctx, table, records, outcomes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogReporter 每个写周期输出一条汇总日志，非 Accepted 的记录逐条输出
type LogReporter struct {
	Logger *slog.Logger
}

// Report implements OutcomeReporter
func (r LogReporter) Report(ctx context.Context, table TableName, records []Record, outcomes Outcomes) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "write cycle finished",
		"table", table.String(),
		"records", len(records),
		"accepted", outcomes.Count(Accepted),
		"rejected", outcomes.Count(Rejected),
		"indeterminate", outcomes.Count(Indeterminate))

	for _, rec := range records {
		o, ok := outcomes[rec.ID]
		if !ok || o.Kind == Accepted {
			continue
		}
		logger.WarnContext(ctx, "record not accepted",
			"table", table.String(),
			"record_id", rec.ID,
			"outcome", o.Kind.String(),
			"reason", o.Reason.String(),
			"error", o.Err)
	}
	return nil
}
