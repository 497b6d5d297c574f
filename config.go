package jsonsink

import (
	"io"
	"log/slog"
	"time"
)

// Config 写入器配置
type Config struct {
	// BatchSize 单个批次（单个事务）的最大记录数
	BatchSize int `json:"batch_size" mapstructure:"batch_size"`

	// ExecuteTimeout 批次提交后的执行超时；提交后不再响应调用方取消
	ExecuteTimeout time.Duration `json:"execute_timeout" mapstructure:"execute_timeout"`

	// DisableIsolation 关闭保存点逐条重放；批量插入失败时整批记为 Indeterminate
	// 零值即开启隔离，未从 DefaultConfig 构造的配置也能得到逐条结果
	DisableIsolation bool `json:"disable_isolation" mapstructure:"disable_isolation"`

	// CacheKnownTables 缓存已确认存在的表，跳过元数据查询
	CacheKnownTables bool `json:"cache_known_tables" mapstructure:"cache_known_tables"`

	Logger   *slog.Logger    `json:"-" mapstructure:"-"`
	Metrics  MetricsReporter `json:"-" mapstructure:"-"`
	Reporter OutcomeReporter `json:"-" mapstructure:"-"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		BatchSize:        100,
		ExecuteTimeout:   30 * time.Second,
		DisableIsolation: false,
		CacheKnownTables: false,
	}
}

// withDefaults 填充零值
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = d.ExecuteTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetricsReporter{}
	}
	return c
}
