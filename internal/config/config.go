package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rushairer/jsonsink"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 JSONSINK_CONNECTION_DSN
const EnvPrefix = "JSONSINK"

// DefaultDeadLetterStream 死信 Stream 默认键名
const DefaultDeadLetterStream = "jsonsink:dead_letter"

// Config 命令行工具的完整配置
type Config struct {
	Connection jsonsink.ConnectionConfig `mapstructure:"connection"`
	Writer     jsonsink.Config           `mapstructure:"writer"`
	Sink       jsonsink.SinkConfig       `mapstructure:"sink"`

	Metrics struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"metrics"`

	DeadLetter struct {
		RedisAddr string `mapstructure:"redis_addr"`
		Stream    string `mapstructure:"stream"`
		MaxLen    int64  `mapstructure:"max_len"`
	} `mapstructure:"dead_letter"`
}

// Load 读取配置：默认值 < 配置文件 < JSONSINK_* 环境变量
// path 为空时在当前目录查找 jsonsink.yaml，找不到不算错误
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jsonsink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate 检查写入所需的最少配置
func (c *Config) Validate() error {
	if c.Connection.DriverName == "" {
		return errors.New("connection.driver_name is required")
	}
	if c.Connection.DSN == "" {
		return errors.New("connection.dsn is required")
	}
	if c.Writer.BatchSize < 0 {
		return fmt.Errorf("writer.batch_size must not be negative, got %d", c.Writer.BatchSize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	writer := jsonsink.DefaultConfig()
	sink := jsonsink.DefaultSinkConfig()

	v.SetDefault("connection.driver_name", "")
	v.SetDefault("connection.dsn", "")
	v.SetDefault("connection.max_open_conns", 10)
	v.SetDefault("connection.max_idle_conns", 5)
	v.SetDefault("connection.conn_max_lifetime", "30m")

	v.SetDefault("writer.batch_size", writer.BatchSize)
	v.SetDefault("writer.execute_timeout", writer.ExecuteTimeout.String())
	v.SetDefault("writer.disable_isolation", writer.DisableIsolation)
	v.SetDefault("writer.cache_known_tables", writer.CacheKnownTables)

	v.SetDefault("sink.buffer_size", sink.BufferSize)
	v.SetDefault("sink.flush_size", sink.FlushSize)
	v.SetDefault("sink.flush_interval", sink.FlushInterval.String())

	v.SetDefault("metrics.port", 0)

	v.SetDefault("dead_letter.redis_addr", "")
	v.SetDefault("dead_letter.stream", DefaultDeadLetterStream)
	v.SetDefault("dead_letter.max_len", 0)
}
