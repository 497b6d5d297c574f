package mysql

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/rushairer/jsonsink"
)

// MySQL 错误码
const (
	erTableExists    = 1050
	erDupKeyName     = 1061
	erNoSuchTable    = 1146
	crServerGone     = 2006
	crServerLost     = 2013
	erServerShutdown = 1053
)

// Dialect MySQL 方言：JSON 负载列
// MySQL 没有 GIN，索引是对文档摘要的函数索引；CREATE INDEX 不支持 IF NOT EXISTS，重复由 1061 兜底
type Dialect struct{}

var _ jsonsink.Dialect = (*Dialect)(nil)

// NewDialect 创建MySQL方言（用于自定义需求）
func NewDialect() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Name() string {
	return "mysql"
}

func (d *Dialect) QuoteTable(t jsonsink.TableName) string {
	return jsonsink.QuoteBacktick(t.Schema) + "." + jsonsink.QuoteBacktick(t.Table)
}

func (d *Dialect) Placeholder(int) string {
	return "?"
}

func (d *Dialect) TableExistsQuery(t jsonsink.TableName) (string, []any) {
	return "SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
		[]any{t.Schema, t.Table}
}

func (d *Dialect) CreateTableSQL(t jsonsink.TableName) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGINT AUTO_INCREMENT PRIMARY KEY, %s JSON NOT NULL)",
		d.QuoteTable(t), jsonsink.IDColumn, jsonsink.PayloadColumn)
}

func (d *Dialect) CreateIndexSQL(t jsonsink.TableName) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s ((CAST(SHA2(%s, 256) AS CHAR(64))))",
		jsonsink.QuoteBacktick(t.IndexName()), d.QuoteTable(t), jsonsink.PayloadColumn)
}

func (d *Dialect) SupportsSavepoints() bool {
	return true
}

func (d *Dialect) IsAlreadyExists(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == erTableExists || myErr.Number == erDupKeyName
}

func (d *Dialect) IsUndefinedTable(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == erNoSuchTable
}

func (d *Dialect) IsConnectionError(err error) bool {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case crServerGone, crServerLost, erServerShutdown:
			return true
		default:
			return false
		}
	}
	return jsonsink.IsCommonConnectionError(err)
}

// Default 全局默认MySQL方言实例
var Default = &Dialect{}
