package jsonsink

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTableName 表名不是 schema.table
	ErrInvalidTableName = errors.New("invalid table name")

	// ErrMalformedPayload 负载为空或不是合法 JSON
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrDuplicateRecordID 同一次写入中记录ID重复
	ErrDuplicateRecordID = errors.New("duplicate record id")

	// ErrEmptyBatch 空批次错误
	ErrEmptyBatch = errors.New("empty batch")

	// ErrNoSavepoints 方言不支持保存点，无法隔离单条失败
	ErrNoSavepoints = errors.New("dialect does not support savepoints")

	// ErrSinkClosed Sink 已关闭
	ErrSinkClosed = errors.New("sink closed")
)

// SchemaError DDL 失败（非"已存在"），对本次写周期是致命的
type SchemaError struct {
	Table     TableName
	Statement string
	Err       error
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	return fmt.Sprintf("ensure table %s: %v", e.Table, e.Err)
}

// Unwrap returns the underlying error
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ConnectionError 获取、释放连接失败或执行中途连接断开
type ConnectionError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// BatchError 批次级失败且没有逐条粒度，批内记录全部 Indeterminate
type BatchError struct {
	Table TableName
	Size  int
	Err   error
}

// Error implements the error interface
func (e *BatchError) Error() string {
	return fmt.Sprintf("batch of %d records for %s failed: %v", e.Size, e.Table, e.Err)
}

// Unwrap returns the underlying error
func (e *BatchError) Unwrap() error {
	return e.Err
}

// IsSchemaError reports whether err is a SchemaError
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsConnectionError reports whether err is a ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
