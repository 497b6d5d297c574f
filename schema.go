package jsonsink

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
)

// SchemaManager 确保目标表与负载索引存在
// 表结构固定，只在首次发现缺失时创建，之后从不修改
type SchemaManager struct {
	dialect    Dialect
	logger     *slog.Logger
	metrics    MetricsReporter
	cacheKnown bool
	known      sync.Map // key: TableName  value: struct{}
}

// NewSchemaManager 创建 SchemaManager
func NewSchemaManager(dialect Dialect, config Config) *SchemaManager {
	config = config.withDefaults()
	return &SchemaManager{
		dialect:    dialect,
		logger:     config.Logger,
		metrics:    config.Metrics,
		cacheKnown: config.CacheKnownTables,
	}
}

// TableExists 通过元数据查询判断表是否存在
func (m *SchemaManager) TableExists(ctx context.Context, conn Conn, table TableName) (bool, error) {
	query, args := m.dialect.TableExistsQuery(table)
	var one int
	err := conn.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnsureTable 幂等：表不存在时建表并建索引，"已存在"视为成功
func (m *SchemaManager) EnsureTable(ctx context.Context, conn Conn, table TableName) error {
	if m.cacheKnown {
		if _, ok := m.known.Load(table); ok {
			return nil
		}
	}

	exists, err := m.TableExists(ctx, conn, table)
	if err != nil {
		return m.fail(table, "", err)
	}
	if exists {
		m.remember(table)
		return nil
	}

	m.logger.Info("table not found, creating", "table", table.String(), "dialect", m.dialect.Name())

	raced := false
	for _, stmt := range []string{m.dialect.CreateTableSQL(table), m.dialect.CreateIndexSQL(table)} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			if m.dialect.IsAlreadyExists(err) {
				// 另一个写入者抢先创建
				raced = true
				m.logger.Debug("schema object already exists", "table", table.String(), "statement", stmt)
				continue
			}
			return m.fail(table, stmt, err)
		}
	}

	if raced {
		// 竞争后不缓存，下个周期重新确认
		m.Forget(table)
		return nil
	}

	// IF NOT EXISTS 在并发建表时静默成功，这里只能确认 DDL 已生效
	m.metrics.IncSchemaApplied(table.String())
	m.logger.Info("schema applied", "table", table.String(), "index", table.IndexName())
	m.remember(table)
	return nil
}

// Forget 使缓存失效
func (m *SchemaManager) Forget(table TableName) {
	m.known.Delete(table)
}

func (m *SchemaManager) remember(table TableName) {
	if m.cacheKnown {
		m.known.Store(table, struct{}{})
	}
}

func (m *SchemaManager) fail(table TableName, stmt string, err error) error {
	m.Forget(table)
	m.metrics.IncError(table.String(), "schema")
	if m.dialect.IsConnectionError(err) {
		return &ConnectionError{Op: "ensure table", Err: err}
	}
	return &SchemaError{Table: table, Statement: stmt, Err: err}
}
