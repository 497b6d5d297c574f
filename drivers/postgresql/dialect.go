package postgresql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/rushairer/jsonsink"
)

// Dialect PostgreSQL 方言：jsonb 负载列 + GIN 索引
type Dialect struct{}

var _ jsonsink.Dialect = (*Dialect)(nil)

// NewDialect 创建PostgreSQL方言（用于自定义需求）
func NewDialect() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Name() string {
	return "postgresql"
}

func (d *Dialect) QuoteTable(t jsonsink.TableName) string {
	return jsonsink.QuoteDoubled(t.Schema) + "." + jsonsink.QuoteDoubled(t.Table)
}

func (d *Dialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (d *Dialect) TableExistsQuery(t jsonsink.TableName) (string, []any) {
	return "SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2",
		[]any{t.Schema, t.Table}
}

func (d *Dialect) CreateTableSQL(t jsonsink.TableName) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY, %s jsonb NOT NULL)",
		d.QuoteTable(t), jsonsink.IDColumn, jsonsink.PayloadColumn)
}

// CreateIndexSQL 索引自动落在表所在的 schema 中，索引名不带 schema 前缀
func (d *Dialect) CreateIndexSQL(t jsonsink.TableName) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (%s)",
		jsonsink.QuoteDoubled(t.IndexName()), d.QuoteTable(t), jsonsink.PayloadColumn)
}

func (d *Dialect) SupportsSavepoints() bool {
	return true
}

// IsAlreadyExists 42P07 duplicate_table、42710 duplicate_object；
// 并发 CREATE ... IF NOT EXISTS 还可能在系统目录上报 23505
func (d *Dialect) IsAlreadyExists(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "42P07", "42710":
		return true
	case "23505":
		return strings.HasPrefix(pqErr.Constraint, "pg_")
	default:
		return false
	}
}

func (d *Dialect) IsUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}

// IsConnectionError SQLSTATE 08 类（connection_exception）、57P01 admin_shutdown 及通用网络错误
func (d *Dialect) IsConnectionError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01"
	}
	return jsonsink.IsCommonConnectionError(err)
}

// Default 全局默认PostgreSQL方言实例
var Default = &Dialect{}
