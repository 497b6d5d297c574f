package jsonsink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// SuccessNoInfo 语句成功但驱动没有返回影响行数
	SuccessNoInfo int64 = -2
	// ExecuteFailed 该位置的语句执行失败
	ExecuteFailed int64 = -3
)

const (
	batchSavepoint     = "jsonsink_batch"
	statementSavepoint = "jsonsink_stmt"
)

// BatchExecutor 批量执行器
// 一个批次 = 一个事务：先用一条多行插入提交；失败时回滚到保存点，
// 再逐条在各自的保存点下重放，得到逐条更新计数，保留成功的记录。
//
// 状态机：Building -> Submitted -> {Completed, PartiallyFailed, TotallyFailed}
type BatchExecutor struct {
	dialect Dialect
	builder *StatementBuilder
	config  Config
	logger  *slog.Logger
	metrics MetricsReporter
}

// NewBatchExecutor 创建批量执行器
func NewBatchExecutor(dialect Dialect, builder *StatementBuilder, config Config) *BatchExecutor {
	config = config.withDefaults()
	return &BatchExecutor{
		dialect: dialect,
		builder: builder,
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
	}
}

// Execute 执行一个批次，返回逐条结果
//
// 返回的错误：
//   - nil：批次已提交，结果全部为 Accepted/Rejected
//   - *BatchError：批次级失败且无逐条粒度，全部 Indeterminate
//   - *ConnectionError：连接断开，全部 Indeterminate，调用方需丢弃该连接
//   - ctx.Err()：提交前已取消，没有发送任何语句
func (e *BatchExecutor) Execute(ctx context.Context, conn Conn, batch *InsertBatch) (*BatchResult, error) {
	result := &BatchResult{State: StateBuilding, Outcomes: make(Outcomes, batch.Len())}
	if batch.Len() == 0 {
		result.State = StateCompleted
		return result, nil
	}

	// 提交前取消：不发送任何语句
	if err := ctx.Err(); err != nil {
		e.markAll(batch, result, indeterminate(err))
		result.State = StateTotallyFailed
		return result, err
	}

	e.metrics.IncInflight()
	defer e.metrics.DecInflight()
	e.metrics.ObserveBatchSize(batch.Len())

	startTime := time.Now()

	// 提交后不再响应调用方取消，批次要么完成要么按失败处理
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.ExecuteTimeout)
	defer cancel()

	result.State = StateSubmitted
	err := e.submit(execCtx, conn, batch, result)

	status := result.State.String()
	if err != nil {
		status = "indeterminate"
	}
	table := batch.Table.String()
	e.metrics.ObserveExecuteDuration(table, batch.Len(), time.Since(startTime), status)
	for _, kind := range []OutcomeKind{Accepted, Rejected, Indeterminate} {
		if n := result.Outcomes.Count(kind); n > 0 {
			e.metrics.IncOutcome(table, kind.String(), n)
		}
	}
	return result, err
}

func (e *BatchExecutor) submit(ctx context.Context, conn Conn, batch *InsertBatch, result *BatchResult) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return e.abort(nil, batch, result, err)
	}

	isolate := !e.config.DisableIsolation && e.dialect.SupportsSavepoints() && batch.Len() > 1
	if isolate {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+batchSavepoint); err != nil {
			return e.abort(tx, batch, result, err)
		}
	}

	stmts := make([]Statement, batch.Len())
	for i, item := range batch.Items {
		stmts[i] = item.Statement
	}
	query, args := e.builder.BuildMultiInsert(batch.Table, stmts)

	_, execErr := tx.ExecContext(ctx, query, args...)
	if execErr == nil {
		if isolate {
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+batchSavepoint); err != nil {
				return e.abort(tx, batch, result, err)
			}
		}
		counts := make([]int64, batch.Len())
		for i := range counts {
			counts[i] = 1
		}
		return e.commit(tx, batch, result, counts, nil)
	}

	if e.dialect.IsConnectionError(execErr) {
		return e.abort(tx, batch, result, execErr)
	}

	// 单条语句的失败本身就有逐条粒度
	if batch.Len() == 1 {
		_ = tx.Rollback()
		result.Counts = []int64{ExecuteFailed}
		result.Outcomes = OutcomesFromCounts(batch.Items, result.Counts, []error{execErr})
		result.State = StateTotallyFailed
		e.logger.Warn("batch insert rejected", "table", batch.Table.String(), "error", execErr)
		return nil
	}

	if !isolate {
		_ = tx.Rollback()
		e.markAll(batch, result, indeterminate(execErr))
		result.State = StateTotallyFailed
		return e.batchFailed(batch, execErr)
	}

	if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+batchSavepoint); err != nil {
		if e.dialect.IsConnectionError(err) {
			return e.abort(tx, batch, result, err)
		}
		_ = tx.Rollback()
		e.markAll(batch, result, indeterminate(execErr))
		result.State = StateTotallyFailed
		return e.batchFailed(batch, errors.Join(execErr, err))
	}

	counts, errs, err := e.replay(ctx, tx, batch)
	if err != nil {
		if e.dialect.IsConnectionError(err) {
			return e.abort(tx, batch, result, err)
		}
		_ = tx.Rollback()
		e.markAll(batch, result, indeterminate(err))
		result.State = StateTotallyFailed
		return e.batchFailed(batch, errors.Join(execErr, err))
	}
	return e.commit(tx, batch, result, counts, errs)
}

// replay 逐条执行，每条语句一个保存点；返回的 err 表示无法继续逐条隔离
func (e *BatchExecutor) replay(ctx context.Context, tx Tx, batch *InsertBatch) ([]int64, []error, error) {
	counts := make([]int64, batch.Len())
	errs := make([]error, batch.Len())

	for i, item := range batch.Items {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+statementSavepoint); err != nil {
			return nil, nil, err
		}
		res, err := tx.ExecContext(ctx, item.Statement.SQL, item.Statement.Args...)
		if err != nil {
			if e.dialect.IsConnectionError(err) {
				return nil, nil, err
			}
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+statementSavepoint); rbErr != nil {
				return nil, nil, rbErr
			}
			counts[i] = ExecuteFailed
			errs[i] = err
		} else {
			counts[i] = SuccessNoInfo
			if n, raErr := res.RowsAffected(); raErr == nil {
				counts[i] = n
			}
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+statementSavepoint); err != nil {
			return nil, nil, err
		}
	}
	return counts, errs, nil
}

func (e *BatchExecutor) commit(tx Tx, batch *InsertBatch, result *BatchResult, counts []int64, errs []error) error {
	if err := tx.Commit(); err != nil {
		// 提交结果未知
		if e.dialect.IsConnectionError(err) {
			return e.abort(nil, batch, result, err)
		}
		e.markAll(batch, result, indeterminate(err))
		result.State = StateTotallyFailed
		return e.batchFailed(batch, fmt.Errorf("commit: %w", err))
	}

	result.Counts = counts
	result.Outcomes = OutcomesFromCounts(batch.Items, counts, errs)
	result.State = stateOf(result.Outcomes)

	switch result.State {
	case StateCompleted:
		e.logger.Debug("batch executed", "table", batch.Table.String(), "records", batch.Len())
	default:
		e.logger.Warn("batch partially failed",
			"table", batch.Table.String(),
			"records", batch.Len(),
			"rejected", result.Outcomes.Count(Rejected),
			"state", result.State.String())
	}
	return nil
}

func (e *BatchExecutor) abort(tx Tx, batch *InsertBatch, result *BatchResult, err error) error {
	if tx != nil {
		_ = tx.Rollback()
	}
	e.markAll(batch, result, indeterminate(err))
	result.State = StateTotallyFailed
	e.metrics.IncError(batch.Table.String(), "connection")
	e.logger.Error("connection lost during batch", "table", batch.Table.String(), "records", batch.Len(), "error", err)
	return &ConnectionError{Op: "execute batch", Err: err}
}

func (e *BatchExecutor) batchFailed(batch *InsertBatch, err error) error {
	e.metrics.IncError(batch.Table.String(), "batch")
	e.logger.Error("batch failed without per-record results", "table", batch.Table.String(), "records", batch.Len(), "error", err)
	return &BatchError{Table: batch.Table, Size: batch.Len(), Err: err}
}

func (e *BatchExecutor) markAll(batch *InsertBatch, result *BatchResult, o Outcome) {
	for _, item := range batch.Items {
		result.Outcomes[item.Record.ID] = o
	}
}

// OutcomesFromCounts 按逐条更新计数生成结果
// 计数 >= 0 或 SuccessNoInfo 为 Accepted，ExecuteFailed 为 Rejected(BackendError)；
// 计数少于记录数时（驱动中途停止），其余位置为 Indeterminate。
func OutcomesFromCounts(items []BatchItem, counts []int64, errs []error) Outcomes {
	out := make(Outcomes, len(items))
	for i, item := range items {
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		switch {
		case i >= len(counts):
			out[item.Record.ID] = indeterminate(errors.New("no update count reported"))
		case counts[i] == ExecuteFailed:
			out[item.Record.ID] = rejected(BackendError, err)
		case counts[i] >= 0 || counts[i] == SuccessNoInfo:
			out[item.Record.ID] = accepted()
		default:
			out[item.Record.ID] = indeterminate(fmt.Errorf("unexpected update count %d", counts[i]))
		}
	}
	return out
}

func stateOf(outcomes Outcomes) BatchState {
	n := outcomes.Count(Accepted)
	switch {
	case n == len(outcomes):
		return StateCompleted
	case n == 0:
		return StateTotallyFailed
	default:
		return StatePartiallyFailed
	}
}
