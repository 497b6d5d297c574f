package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rushairer/jsonsink"
	sinkredis "github.com/rushairer/jsonsink/drivers/redis"
	"github.com/rushairer/jsonsink/internal/config"
	"github.com/rushairer/jsonsink/monitoring"
)

// errNotAllAccepted 有记录未被接受时命令以非零状态退出
var errNotAllAccepted = errors.New("not all records were accepted")

// WriteCmd represents the write command
type WriteCmd struct {
	Driver    string `help:"Database driver: postgres, mysql or sqlite3 (overrides connection.driver_name)"`
	DSN       string `help:"Data source name (overrides connection.dsn)"`
	Table     string `short:"t" help:"Target table as schema.table" required:""`
	Input     string `short:"f" help:"Newline-delimited JSON input file, - for stdin" default:"-"`
	BatchSize int    `help:"Records per batch (overrides writer.batch_size)"`

	MetricsPort      int    `help:"Expose Prometheus metrics on this port (0 disables)"`
	DeadLetterRedis  string `help:"Redis address for the dead-letter stream (empty disables)"`
	DeadLetterStream string `help:"Redis stream key for dead letters"`

	out io.Writer `kong:"-"`
}

// Run executes the write command
func (w *WriteCmd) Run(env *runEnv) error {
	cfg, err := config.Load(env.configPath)
	if err != nil {
		return err
	}
	w.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	return w.run(env.ctx, env.logger, cfg)
}

// applyFlags 命令行参数覆盖配置文件与环境变量
func (w *WriteCmd) applyFlags(cfg *config.Config) {
	if w.Driver != "" {
		cfg.Connection.DriverName = w.Driver
	}
	if w.DSN != "" {
		cfg.Connection.DSN = w.DSN
	}
	if w.BatchSize > 0 {
		cfg.Writer.BatchSize = w.BatchSize
	}
	if w.MetricsPort > 0 {
		cfg.Metrics.Port = w.MetricsPort
	}
	if w.DeadLetterRedis != "" {
		cfg.DeadLetter.RedisAddr = w.DeadLetterRedis
	}
	if w.DeadLetterStream != "" {
		cfg.DeadLetter.Stream = w.DeadLetterStream
	}
}

func (w *WriteCmd) run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	driverName, dialect, err := resolveDriver(cfg.Connection.DriverName)
	if err != nil {
		return err
	}
	cfg.Connection.DriverName = driverName

	db, err := jsonsink.OpenDB(ctx, cfg.Connection)
	if err != nil {
		return err
	}
	defer db.Close()

	writerCfg := cfg.Writer
	writerCfg.Logger = logger

	if cfg.Metrics.Port > 0 {
		pm := monitoring.NewPrometheusMetrics(dialect.Name(), logger)
		if err := pm.StartServer(cfg.Metrics.Port); err != nil {
			return err
		}
		defer pm.StopServer()
		writerCfg.Metrics = pm
	}

	summary := &summaryReporter{}
	reporters := jsonsink.MultiReporter{summary, jsonsink.LogReporter{Logger: logger}}
	if cfg.DeadLetter.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.DeadLetter.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("dead letter redis %s: %w", cfg.DeadLetter.RedisAddr, err)
		}
		reporters = append(reporters, sinkredis.NewDeadLetterReporter(client, cfg.DeadLetter.Stream, cfg.DeadLetter.MaxLen))
		logger.Info("dead letter stream enabled", "addr", cfg.DeadLetter.RedisAddr, "stream", cfg.DeadLetter.Stream)
	}
	writerCfg.Reporter = reporters

	writer := jsonsink.NewWriter(jsonsink.NewDBProvider(db), dialect, writerCfg)
	sink, err := jsonsink.NewSink(ctx, writer, w.Table, cfg.Sink)
	if err != nil {
		return err
	}

	in, closeIn, err := w.openInput()
	if err != nil {
		_ = sink.Close()
		return err
	}
	defer closeIn()

	n, readErr := readRecords(in, func(rec jsonsink.Record) error {
		return sink.Submit(ctx, rec)
	})
	closeErr := sink.Close()

	out := w.out
	if out == nil {
		out = os.Stdout
	}
	summary.print(out, w.Table, n)

	if err := errors.Join(readErr, closeErr); err != nil {
		return err
	}
	if !summary.allAccepted(n) {
		return errNotAllAccepted
	}
	return nil
}

func (w *WriteCmd) openInput() (io.Reader, func(), error) {
	if w.Input == "" || w.Input == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(w.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// summaryReporter 累计所有写周期的结果
type summaryReporter struct {
	mu                                sync.Mutex
	accepted, rejected, indeterminate int
}

func (s *summaryReporter) Report(_ context.Context, _ jsonsink.TableName, _ []jsonsink.Record, outcomes jsonsink.Outcomes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted += outcomes.Count(jsonsink.Accepted)
	s.rejected += outcomes.Count(jsonsink.Rejected)
	s.indeterminate += outcomes.Count(jsonsink.Indeterminate)
	return nil
}

func (s *summaryReporter) allAccepted(total int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted == total
}

func (s *summaryReporter) print(out io.Writer, table string, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(out, "table=%s records=%d accepted=%d rejected=%d indeterminate=%d\n",
		table, total, s.accepted, s.rejected, s.indeterminate)
}
