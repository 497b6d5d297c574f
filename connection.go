package jsonsink

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"
)

// ConnectionProvider 为每个写周期提供一个独占连接，连接池与凭据由提供者负责
type ConnectionProvider interface {
	Acquire(ctx context.Context) (Conn, error)
}

// RowScanner 单行查询结果
type RowScanner interface {
	Scan(dest ...any) error
}

// Tx 一个批次对应的事务
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// Conn 一个写周期内独占的连接
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) RowScanner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)

	// Release 归还连接；discard 为 true 时连接已不可信，不再放回池中
	Release(discard bool) error
}

// ConnectionConfig 连接配置
type ConnectionConfig struct {
	DriverName      string        `json:"driver_name" mapstructure:"driver_name"`
	DSN             string        `json:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// OpenDB 按配置打开连接池并做一次连通性检查
func OpenDB(ctx context.Context, config ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, &ConnectionError{Op: "open", Err: err}
	}

	// 配置连接池
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// 测试连接
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Op: "ping", Err: err}
	}

	return db, nil
}

// DBProvider 基于 *sql.DB 连接池的 ConnectionProvider
type DBProvider struct {
	db *sql.DB
}

var _ ConnectionProvider = (*DBProvider)(nil)

// NewDBProvider 创建连接提供者（用户管理连接池生命周期）
func NewDBProvider(db *sql.DB) *DBProvider {
	return &DBProvider{db: db}
}

// Acquire 从池中取出一个独占连接
func (p *DBProvider) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{conn: conn}, nil
}

// DB 底层连接池
func (p *DBProvider) DB() *sql.DB {
	return p.db
}

type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *sqlConn) QueryRowContext(ctx context.Context, query string, args ...any) RowScanner {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *sqlConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *sqlConn) Release(discard bool) error {
	if discard {
		// 返回 ErrBadConn 让 database/sql 关闭底层驱动连接而不是放回池中
		_ = c.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	err := c.conn.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("close conn: %w", err)
	}
	return nil
}
