package jsonsink_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rushairer/jsonsink"
	"github.com/rushairer/jsonsink/drivers/sqlite"

	_ "github.com/mattn/go-sqlite3"
)

// execFunc 脚本化的语句执行结果
type execFunc func(query string, args []any) (sql.Result, error)

// fakeConn 记录所有经过它的语句，用于覆盖真实数据库难以构造的路径
type fakeConn struct {
	mu         sync.Mutex
	exec       execFunc
	beginErr   error
	commitErr  error
	tableFound bool
	lookupErr  error

	statements []string
	begins     int
	commits    int
	rollbacks  int
	releases   []bool
}

var _ jsonsink.Conn = (*fakeConn)(nil)

func newFakeConn(exec execFunc) *fakeConn {
	if exec == nil {
		exec = func(string, []any) (sql.Result, error) { return driver.RowsAffected(1), nil }
	}
	return &fakeConn{exec: exec, tableFound: true}
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.record(query)
	return c.exec(query, args)
}

func (c *fakeConn) QueryRowContext(ctx context.Context, query string, args ...any) jsonsink.RowScanner {
	c.record(query)
	return fakeRow{found: c.tableFound, err: c.lookupErr}
}

func (c *fakeConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (jsonsink.Tx, error) {
	c.mu.Lock()
	c.begins++
	c.mu.Unlock()
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) Release(discard bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases = append(c.releases, discard)
	return nil
}

func (c *fakeConn) record(query string) {
	c.mu.Lock()
	c.statements = append(c.statements, query)
	c.mu.Unlock()
}

func (c *fakeConn) countPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.statements {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

type fakeTx struct {
	conn *fakeConn
}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t.conn.record(query)
	return t.conn.exec(query, args)
}

func (t *fakeTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.commits++
	return t.conn.commitErr
}

func (t *fakeTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.rollbacks++
	return nil
}

type fakeRow struct {
	found bool
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if !r.found {
		return sql.ErrNoRows
	}
	if p, ok := dest[0].(*int); ok {
		*p = 1
	}
	return nil
}

// fakeProvider 每次 Acquire 返回同一个 fakeConn
type fakeProvider struct {
	conn     *fakeConn
	err      error
	acquires int
}

func (p *fakeProvider) Acquire(ctx context.Context) (jsonsink.Conn, error) {
	p.acquires++
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

// isMultiInsert 快速路径的多行插入
func isMultiInsert(query string, args []any) bool {
	return strings.HasPrefix(query, "INSERT") && len(args) > 1
}

// failPayload 对包含 marker 的单条插入返回约束错误
func failPayload(marker string) execFunc {
	return func(query string, args []any) (sql.Result, error) {
		if !strings.HasPrefix(query, "INSERT") {
			return driver.RowsAffected(0), nil
		}
		for _, a := range args {
			if s, ok := a.(string); ok && strings.Contains(s, marker) {
				return nil, errors.New("constraint violation")
			}
		}
		return driver.RowsAffected(int64(len(args))), nil
	}
}

func records(payloads ...string) []jsonsink.Record {
	out := make([]jsonsink.Record, len(payloads))
	for i, p := range payloads {
		out[i] = jsonsink.Record{ID: "r" + strconv.Itoa(i+1), Payload: p}
	}
	return out
}

// openSQLite 单连接的内存库，附加 sales 库用于两段式表名
func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// 内存库与 ATTACH 都是连接级的，只保留一个连接
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)
	if _, err := db.Exec("ATTACH DATABASE ':memory:' AS sales"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newSQLiteWriter(t *testing.T, db *sql.DB, config jsonsink.Config) *jsonsink.Writer {
	t.Helper()
	return jsonsink.NewWriter(jsonsink.NewDBProvider(db), sqlite.Default, config)
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// collectingReporter 收集所有写周期的结果
type collectingReporter struct {
	mu       sync.Mutex
	cycles   int
	outcomes jsonsink.Outcomes
	err      error
}

func (r *collectingReporter) Report(ctx context.Context, table jsonsink.TableName, recs []jsonsink.Record, outcomes jsonsink.Outcomes) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
	if r.outcomes == nil {
		r.outcomes = make(jsonsink.Outcomes)
	}
	for k, v := range outcomes {
		r.outcomes[k] = v
	}
	return r.err
}

func (r *collectingReporter) snapshot() (int, jsonsink.Outcomes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(jsonsink.Outcomes, len(r.outcomes))
	for k, v := range r.outcomes {
		out[k] = v
	}
	return r.cycles, out
}
