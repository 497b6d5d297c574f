package jsonsink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Writer 批量关系型 Sink 写入器
// 一个写周期：构建语句 -> 获取连接 -> 确保表存在 -> 分批执行 -> 报告结果 -> 释放连接
//
// Writer 可被多个 goroutine 并发使用，每个写周期独占一个连接；
// 并发建表的正确性依赖幂等 DDL，而不是进程内锁。
type Writer struct {
	provider ConnectionProvider
	dialect  Dialect
	schema   *SchemaManager
	builder  *StatementBuilder
	executor *BatchExecutor
	config   Config
	logger   *slog.Logger
	metrics  MetricsReporter
	reporter OutcomeReporter
}

// NewWriter 创建写入器
func NewWriter(provider ConnectionProvider, dialect Dialect, config Config) *Writer {
	config = config.withDefaults()
	builder := NewStatementBuilder(dialect)
	return &Writer{
		provider: provider,
		dialect:  dialect,
		schema:   NewSchemaManager(dialect, config),
		builder:  builder,
		executor: NewBatchExecutor(dialect, builder, config),
		config:   config,
		logger:   config.Logger,
		metrics:  config.Metrics,
		reporter: config.Reporter,
	}
}

// Dialect 当前方言
func (w *Writer) Dialect() Dialect {
	return w.dialect
}

// Write 把一组记录写入 schema.table，每条输入记录恰好得到一个结果
func (w *Writer) Write(ctx context.Context, tableName string, records []Record) (Outcomes, error) {
	table, err := ParseTableName(tableName)
	if err != nil {
		return markAll(records, indeterminate(err)), err
	}
	return w.WriteTable(ctx, table, records)
}

// WriteTable 同 Write，表名已解析
func (w *Writer) WriteTable(ctx context.Context, table TableName, records []Record) (Outcomes, error) {
	if err := checkUniqueIDs(records); err != nil {
		return markAll(records, indeterminate(err)), err
	}

	outcomes, err := w.cycle(ctx, table, records)
	if err != nil {
		w.logger.Error("write cycle failed", "table", table.String(), "records", len(records), "error", err)
	}

	if w.reporter != nil && len(records) > 0 {
		// 结果不能因调用方取消而丢失
		if rerr := w.reporter.Report(context.WithoutCancel(ctx), table, records, outcomes); rerr != nil {
			w.metrics.IncError(table.String(), "report")
			err = errors.Join(err, fmt.Errorf("report outcomes: %w", rerr))
		}
	}
	return outcomes, err
}

func (w *Writer) cycle(ctx context.Context, table TableName, records []Record) (outcomes Outcomes, err error) {
	outcomes = make(Outcomes, len(records))
	if len(records) == 0 {
		return outcomes, nil
	}

	// 构建是纯映射，不接触数据库；非法负载无论后续是否失败都记为 MalformedPayload
	items := make([]BatchItem, 0, len(records))
	for _, rec := range records {
		stmt, berr := w.builder.BuildInsert(table, rec)
		if berr != nil {
			outcomes[rec.ID] = rejected(MalformedPayload, berr)
			continue
		}
		items = append(items, BatchItem{Record: rec, Statement: stmt})
	}
	if n := len(records) - len(items); n > 0 {
		w.metrics.IncOutcome(table.String(), Rejected.String(), n)
	}

	if cerr := ctx.Err(); cerr != nil {
		markItems(outcomes, items, indeterminate(cerr))
		return outcomes, cerr
	}

	conn, aerr := w.provider.Acquire(ctx)
	if aerr != nil {
		cerr := &ConnectionError{Op: "acquire", Err: aerr}
		w.metrics.IncError(table.String(), "connection")
		markItems(outcomes, items, indeterminate(cerr))
		return outcomes, cerr
	}

	discard := false
	defer func() {
		if rerr := conn.Release(discard); rerr != nil {
			w.metrics.IncError(table.String(), "connection")
			err = errors.Join(err, &ConnectionError{Op: "release", Err: rerr})
		}
	}()

	// 表总是在执行之前确认，整批负载都非法时也一样
	if serr := w.schema.EnsureTable(ctx, conn, table); serr != nil {
		discard = IsConnectionError(serr)
		markItems(outcomes, items, indeterminate(serr))
		return outcomes, serr
	}

	var errs []error
	for start := 0; start < len(items); start += w.config.BatchSize {
		end := min(start+w.config.BatchSize, len(items))
		batch := &InsertBatch{Table: table, Items: items[start:end]}

		result, xerr := w.executor.Execute(ctx, conn, batch)
		outcomes.merge(result.Outcomes)
		if w.undefinedTable(result, xerr) {
			w.schema.Forget(table)
		}
		if xerr == nil {
			continue
		}
		errs = append(errs, xerr)

		// 周期级错误：剩余批次不再执行
		if IsConnectionError(xerr) || errors.Is(xerr, context.Canceled) || errors.Is(xerr, context.DeadlineExceeded) {
			discard = IsConnectionError(xerr)
			markItems(outcomes, items[end:], indeterminate(xerr))
			break
		}
	}
	return outcomes, errors.Join(errs...)
}

func (w *Writer) undefinedTable(result *BatchResult, err error) bool {
	if err != nil && w.dialect.IsUndefinedTable(err) {
		return true
	}
	for _, o := range result.Outcomes {
		if o.Err != nil && w.dialect.IsUndefinedTable(o.Err) {
			return true
		}
	}
	return false
}

func checkUniqueIDs(records []Record) error {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.ID]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateRecordID, rec.ID)
		}
		seen[rec.ID] = struct{}{}
	}
	return nil
}

func markAll(records []Record, o Outcome) Outcomes {
	out := make(Outcomes, len(records))
	for _, rec := range records {
		out[rec.ID] = o
	}
	return out
}

func markItems(outcomes Outcomes, items []BatchItem, o Outcome) {
	for _, item := range items {
		outcomes[item.Record.ID] = o
	}
}
