package jsonsink

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

// StatementBuilder 把记录负载映射为参数化插入语句
// 表名与列名由方言生成，负载只作为绑定参数，从不拼接进 SQL 文本
type StatementBuilder struct {
	dialect      Dialect
	placeholders sync.Map // key: batchSize  value: string
}

// NewStatementBuilder 创建语句构建器
func NewStatementBuilder(dialect Dialect) *StatementBuilder {
	return &StatementBuilder{dialect: dialect}
}

// ValidatePayload 负载必须非空、是合法 UTF-8 且是合法 JSON
func ValidatePayload(payload string) error {
	if strings.TrimSpace(payload) == "" {
		return fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	// json.Valid 不检查字符串内的字节编码
	if !utf8.ValidString(payload) {
		return fmt.Errorf("%w: not valid UTF-8", ErrMalformedPayload)
	}
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("%w: not valid JSON", ErrMalformedPayload)
	}
	return nil
}

// BuildInsert 生成单条插入；负载非法时返回 ErrMalformedPayload
func (b *StatementBuilder) BuildInsert(table TableName, record Record) (Statement, error) {
	if err := ValidatePayload(record.Payload); err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  b.insertPrefix(table) + "(" + b.dialect.Placeholder(1) + ")",
		Args: []any{record.Payload},
	}, nil
}

// BuildMultiInsert 把一组单条语句合并成一条多行插入，用于快速路径
func (b *StatementBuilder) BuildMultiInsert(table TableName, stmts []Statement) (string, []any) {
	if len(stmts) == 0 {
		return "", nil
	}
	args := make([]any, 0, len(stmts))
	for _, st := range stmts {
		args = append(args, st.Args...)
	}
	return b.insertPrefix(table) + b.generatePlaceholders(len(stmts)), args
}

func (b *StatementBuilder) insertPrefix(table TableName) string {
	return fmt.Sprintf("INSERT INTO %s(%s) VALUES ", b.dialect.QuoteTable(table), PayloadColumn)
}

func (b *StatementBuilder) generatePlaceholders(batchSize int) string {
	if batchSize <= 0 {
		return ""
	}
	if v, ok := b.placeholders.Load(batchSize); ok {
		return v.(string)
	}
	rows := make([]string, batchSize)
	for i := range rows {
		rows[i] = "(" + b.dialect.Placeholder(i+1) + ")"
	}
	out := strings.Join(rows, ", ")
	b.placeholders.Store(batchSize, out)
	return out
}
