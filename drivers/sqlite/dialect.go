package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rushairer/jsonsink"
)

// Dialect SQLite 方言
// schema 对应 ATTACH 的数据库名（默认 main）；负载存为 TEXT 并用 json_valid 约束，
// SQLite 没有倒排索引，负载列上建普通索引。
type Dialect struct{}

var _ jsonsink.Dialect = (*Dialect)(nil)

// NewDialect 创建SQLite方言（用于自定义需求）
func NewDialect() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Name() string {
	return "sqlite"
}

func (d *Dialect) QuoteTable(t jsonsink.TableName) string {
	return jsonsink.QuoteDoubled(t.Schema) + "." + jsonsink.QuoteDoubled(t.Table)
}

func (d *Dialect) Placeholder(int) string {
	return "?"
}

// TableExistsQuery pragma_table_list 需要 SQLite 3.37+
func (d *Dialect) TableExistsQuery(t jsonsink.TableName) (string, []any) {
	return "SELECT 1 FROM pragma_table_list WHERE schema = ? AND name = ?",
		[]any{t.Schema, t.Table}
}

func (d *Dialect) CreateTableSQL(t jsonsink.TableName) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY, %s TEXT NOT NULL CHECK (json_valid(%s)))",
		d.QuoteTable(t), jsonsink.IDColumn, jsonsink.PayloadColumn, jsonsink.PayloadColumn)
}

// CreateIndexSQL SQLite 的索引名带 schema 前缀，表名不带
func (d *Dialect) CreateIndexSQL(t jsonsink.TableName) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s.%s ON %s (%s)",
		jsonsink.QuoteDoubled(t.Schema), jsonsink.QuoteDoubled(t.IndexName()),
		jsonsink.QuoteDoubled(t.Table), jsonsink.PayloadColumn)
}

func (d *Dialect) SupportsSavepoints() bool {
	return true
}

func (d *Dialect) IsAlreadyExists(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && strings.Contains(sqliteErr.Error(), "already exists")
}

func (d *Dialect) IsUndefinedTable(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && strings.Contains(sqliteErr.Error(), "no such table")
}

func (d *Dialect) IsConnectionError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrCantOpen || sqliteErr.Code == sqlite3.ErrNotADB
	}
	return jsonsink.IsCommonConnectionError(err)
}

// Default 全局默认SQLite方言实例
var Default = &Dialect{}
