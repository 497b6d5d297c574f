package jsonsink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	gopipeline "github.com/rushairer/go-pipeline/v2"
)

// SinkConfig 管道配置
type SinkConfig struct {
	BufferSize    uint32        `json:"buffer_size" mapstructure:"buffer_size"`
	FlushSize     uint32        `json:"flush_size" mapstructure:"flush_size"`
	FlushInterval time.Duration `json:"flush_interval" mapstructure:"flush_interval"`
}

// DefaultSinkConfig 默认管道配置
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		BufferSize:    1000,
		FlushSize:     100,
		FlushInterval: 100 * time.Millisecond,
	}
}

type sinkItem struct {
	record     Record
	enqueuedAt time.Time
}

// Sink 面向流式上游的缓冲入口：按条提交，按大小或时间间隔刷新到 Writer
// 结果通过 Writer 配置的 OutcomeReporter 交付，Sink 本身不返回逐条结果。
//
// 管道的执行循环只在 ctx 取消时退出，且退出时丢弃内存中未刷新的批次；
// 因此 Close 不关闭数据通道，而是等到所有已提交记录都刷新完毕后再取消 ctx。
type Sink struct {
	writer   *Writer
	table    TableName
	pipeline *gopipeline.StandardPipeline[sinkItem]
	dataChan chan<- sinkItem
	logger   *slog.Logger
	metrics  MetricsReporter
	cancel   context.CancelFunc

	mu     sync.RWMutex
	closed bool

	// pending 已进入通道但尚未完成刷新的记录数
	pendingMu sync.Mutex
	drained   *sync.Cond
	pending   int

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	errs      []error
}

// NewSink 创建 Sink 并启动后台刷新
// 管道不随 ctx 取消而停止，缓冲中的记录只会在 Close 时刷完，不会被丢弃
func NewSink(ctx context.Context, writer *Writer, tableName string, config SinkConfig) (*Sink, error) {
	table, err := ParseTableName(tableName)
	if err != nil {
		return nil, err
	}
	d := DefaultSinkConfig()
	if config.BufferSize == 0 {
		config.BufferSize = d.BufferSize
	}
	if config.FlushSize == 0 {
		config.FlushSize = d.FlushSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = d.FlushInterval
	}

	s := &Sink{
		writer:  writer,
		table:   table,
		logger:  writer.logger,
		metrics: writer.metrics,
		done:    make(chan struct{}),
	}
	s.drained = sync.NewCond(&s.pendingMu)

	s.pipeline = gopipeline.NewStandardPipeline[sinkItem](gopipeline.PipelineConfig{
		BufferSize:    config.BufferSize,
		FlushSize:     config.FlushSize,
		FlushInterval: config.FlushInterval,
	}, s.flush)
	s.dataChan = s.pipeline.DataChan()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	errorChan := s.pipeline.ErrorChan(int(config.BufferSize))
	go func() {
		for {
			select {
			case err, ok := <-errorChan:
				if !ok {
					return
				}
				s.logger.Warn("sink flush failed", "table", table.String(), "error", err)
			case <-s.done:
				return
			}
		}
	}()
	go func() {
		defer close(s.done)
		// 同步刷新：批次按提交顺序写入；Close 在所有记录刷新后才取消 runCtx
		if err := s.pipeline.SyncPerform(runCtx); err != nil && !errors.Is(err, gopipeline.ErrContextIsClosed) {
			s.recordErr(err)
		}
	}()

	return s, nil
}

// Submit 提交一条记录；缓冲已满时阻塞直到 ctx 结束
func (s *Sink) Submit(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	// 先计数再入队：刷新可能在发送返回前就已经完成
	s.addPending(1)
	select {
	case s.dataChan <- sinkItem{record: record, enqueuedAt: time.Now()}:
		s.metrics.SetQueueLength(len(s.dataChan))
		return nil
	case <-ctx.Done():
		s.addPending(-1)
		return ctx.Err()
	}
}

// Close 停止接收，等所有已提交记录刷新完毕后返回；返回期间累计的写入错误
// 剩余的不满一批的记录由管道的定时刷新带走，最多等待一个 FlushInterval
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		s.pendingMu.Lock()
		for s.pending > 0 {
			s.drained.Wait()
		}
		s.pendingMu.Unlock()
		s.cancel()
	})
	<-s.done

	s.errMu.Lock()
	defer s.errMu.Unlock()
	return errors.Join(s.errs...)
}

func (s *Sink) flush(ctx context.Context, batchData []sinkItem) error {
	if len(batchData) == 0 {
		return nil
	}
	// 结果交付之后才计为完成；写入 panic 时也不能让 Close 永远等待
	defer s.addPending(-len(batchData))
	s.metrics.SetQueueLength(len(s.dataChan))

	now := time.Now()
	records := make([]Record, len(batchData))
	for i, item := range batchData {
		records[i] = item.record
		s.metrics.ObserveEnqueueLatency(now.Sub(item.enqueuedAt))
	}

	var errs []error
	for _, run := range splitUniqueRuns(records) {
		if _, err := s.writer.WriteTable(ctx, s.table, run); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		s.recordErr(err)
	}
	return err
}

func (s *Sink) addPending(n int) {
	s.pendingMu.Lock()
	s.pending += n
	if s.pending == 0 {
		s.drained.Broadcast()
	}
	s.pendingMu.Unlock()
}

func (s *Sink) recordErr(err error) {
	s.errMu.Lock()
	s.errs = append(s.errs, err)
	s.errMu.Unlock()
}

// splitUniqueRuns 按顺序切分，保证每段内记录ID不重复（上游重投时同一ID可能出现多次）
func splitUniqueRuns(records []Record) [][]Record {
	var runs [][]Record
	seen := make(map[string]struct{})
	start := 0
	for i, rec := range records {
		if _, ok := seen[rec.ID]; ok {
			runs = append(runs, records[start:i])
			start = i
			seen = make(map[string]struct{})
		}
		seen[rec.ID] = struct{}{}
	}
	if start < len(records) {
		runs = append(runs, records[start:])
	}
	return runs
}
