package mysql_test

import (
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/rushairer/jsonsink"
	jsonsinkmysql "github.com/rushairer/jsonsink/drivers/mysql"
	"github.com/stretchr/testify/assert"
)

var table = jsonsink.MustParseTableName("sales.orders")

func TestDDL(t *testing.T) {
	d := jsonsinkmysql.NewDialect()

	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS `sales`.`orders` (id BIGINT AUTO_INCREMENT PRIMARY KEY, json_object JSON NOT NULL)",
		d.CreateTableSQL(table))

	index := d.CreateIndexSQL(table)
	assert.True(t, strings.HasPrefix(index, "CREATE INDEX `sales_orders_gin_index` ON `sales`.`orders`"), index)
	assert.Contains(t, index, "json_object")

	query, args := d.TableExistsQuery(table)
	assert.Equal(t, "SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?", query)
	assert.Equal(t, []any{"sales", "orders"}, args)
	assert.Equal(t, "?", d.Placeholder(3))
}

func TestErrorClassification(t *testing.T) {
	d := jsonsinkmysql.Default

	tests := []struct {
		name      string
		err       error
		exists    bool
		undefined bool
		conn      bool
	}{
		{name: "table exists", err: &mysql.MySQLError{Number: 1050}, exists: true},
		{name: "duplicate key name", err: &mysql.MySQLError{Number: 1061}, exists: true},
		{name: "no such table", err: &mysql.MySQLError{Number: 1146}, undefined: true},
		{name: "server gone", err: &mysql.MySQLError{Number: 2006}, conn: true},
		{name: "lost connection", err: &mysql.MySQLError{Number: 2013}, conn: true},
		{name: "invalid conn", err: mysql.ErrInvalidConn, conn: true},
		{name: "bad conn", err: driver.ErrBadConn, conn: true},
		{name: "invalid json", err: &mysql.MySQLError{Number: 3140}},
		{name: "other", err: errors.New("syntax error")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.exists, d.IsAlreadyExists(tt.err), "IsAlreadyExists")
			assert.Equal(t, tt.undefined, d.IsUndefinedTable(tt.err), "IsUndefinedTable")
			assert.Equal(t, tt.conn, d.IsConnectionError(tt.err), "IsConnectionError")
		})
	}
}
