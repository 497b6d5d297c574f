package jsonsink

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
)

// Dialect 数据库特定的 DDL/DML 方言
// 架构：Writer -> SchemaManager/StatementBuilder -> Dialect -> Database
//
// 表结构固定（自增主键 + 一个 JSON 负载列 + 负载列索引），
// 方言只负责把这个结构翻译成具体数据库的语法，并对驱动错误做分类。
type Dialect interface {
	// Name 方言名，用于日志与指标
	Name() string

	// QuoteTable 返回引用后的表名
	QuoteTable(t TableName) string

	// Placeholder 第 n 个绑定参数（从 1 开始）
	Placeholder(n int) string

	// TableExistsQuery 元数据查询，schema 与表名只作为绑定参数
	TableExistsQuery(t TableName) (query string, args []any)

	// CreateTableSQL 建表语句（需带 IF NOT EXISTS 语义或由 IsAlreadyExists 兜底）
	CreateTableSQL(t TableName) string

	// CreateIndexSQL 负载列索引
	CreateIndexSQL(t TableName) string

	// SupportsSavepoints 是否支持 SAVEPOINT，用于逐条隔离失败
	SupportsSavepoints() bool

	// IsAlreadyExists 并发建表/建索引时的"已存在"错误
	IsAlreadyExists(err error) bool

	// IsUndefinedTable 表不存在
	IsUndefinedTable(err error) bool

	// IsConnectionError 连接级错误，本周期内不可恢复
	IsConnectionError(err error) bool
}

// QuoteDoubled 用双引号引用标识符（PostgreSQL/SQLite）
func QuoteDoubled(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteBacktick 用反引号引用标识符（MySQL）
func QuoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// IsCommonConnectionError 与驱动无关的连接错误判定，供各方言复用
func IsCommonConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// 朴素字符串分类（驱动未包装底层错误时）
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "connection") && (strings.Contains(s, "refused") || strings.Contains(s, "reset") || strings.Contains(s, "closed")):
		return true
	case strings.Contains(s, "broken pipe"):
		return true
	default:
		return false
	}
}
