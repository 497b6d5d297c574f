package jsonsink

import (
	"fmt"
	"regexp"
	"strings"
)

// PayloadColumn 负载列名（表结构固定）
const PayloadColumn = "json_object"

// IDColumn 自增主键列名
const IDColumn = "id"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableName 两段式表名 schema.table
type TableName struct {
	Schema string
	Table  string
}

// ParseTableName 解析 schema.table，两段都必须是合法标识符
func ParseTableName(s string) (TableName, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return TableName{}, fmt.Errorf("%w: %q must have exactly two parts", ErrInvalidTableName, s)
	}
	for _, p := range parts {
		if p == "" {
			return TableName{}, fmt.Errorf("%w: %q has an empty part", ErrInvalidTableName, s)
		}
		if !identifierPattern.MatchString(p) {
			return TableName{}, fmt.Errorf("%w: %q is not a plain identifier", ErrInvalidTableName, p)
		}
	}
	return TableName{Schema: parts[0], Table: parts[1]}, nil
}

// MustParseTableName 解析失败时 panic，用于常量表名
func MustParseTableName(s string) TableName {
	t, err := ParseTableName(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String 返回 schema.table
func (t TableName) String() string {
	return t.Schema + "." + t.Table
}

// IndexName 返回索引名，分隔符替换为下划线
func (t TableName) IndexName() string {
	return strings.ReplaceAll(t.String(), ".", "_") + "_gin_index"
}

// Record 一条待写入的记录
type Record struct {
	ID      string
	Payload string
}

// OutcomeKind 单条记录的写入结果
type OutcomeKind int

const (
	// Accepted 已提交
	Accepted OutcomeKind = iota
	// Rejected 被拒绝，原因见 RejectReason
	Rejected
	// Indeterminate 结果未知，由调用方决定是否整批重试
	Indeterminate
)

// String returns the string representation of OutcomeKind
func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Indeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// RejectReason 拒绝原因
type RejectReason int

const (
	// ReasonNone 未拒绝
	ReasonNone RejectReason = iota
	// MalformedPayload 负载为空或不是合法 JSON，记录不会进入执行器
	MalformedPayload
	// BackendError 批次部分失败时该位置的语句执行失败
	BackendError
)

// String returns the string representation of RejectReason
func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case MalformedPayload:
		return "malformed_payload"
	case BackendError:
		return "backend_error"
	default:
		return "unknown"
	}
}

// Outcome 单条记录的最终结果
type Outcome struct {
	Kind   OutcomeKind
	Reason RejectReason
	Err    error
}

func accepted() Outcome { return Outcome{Kind: Accepted} }

func rejected(reason RejectReason, err error) Outcome {
	return Outcome{Kind: Rejected, Reason: reason, Err: err}
}

func indeterminate(err error) Outcome {
	return Outcome{Kind: Indeterminate, Err: err}
}

// String 字符串表示
func (o Outcome) String() string {
	switch o.Kind {
	case Rejected:
		return fmt.Sprintf("rejected(%s)", o.Reason)
	case Indeterminate:
		if o.Err != nil {
			return fmt.Sprintf("indeterminate(%v)", o.Err)
		}
		return "indeterminate"
	default:
		return o.Kind.String()
	}
}

// Outcomes 记录ID -> 结果
type Outcomes map[string]Outcome

// Count 统计某种结果的数量
func (o Outcomes) Count(kind OutcomeKind) int {
	n := 0
	for _, v := range o {
		if v.Kind == kind {
			n++
		}
	}
	return n
}

// AllAccepted 所有记录都已提交
func (o Outcomes) AllAccepted() bool {
	return o.Count(Accepted) == len(o)
}

func (o Outcomes) merge(other Outcomes) {
	for k, v := range other {
		o[k] = v
	}
}

// Statement 单条参数化插入语句，负载只作为绑定参数出现
type Statement struct {
	SQL  string
	Args []any
}

// BatchItem 批次中的一项
type BatchItem struct {
	Record    Record
	Statement Statement
}

// InsertBatch 同一张表的一组插入，按提交顺序排列
type InsertBatch struct {
	Table TableName
	Items []BatchItem
}

// Len 批次大小
func (b *InsertBatch) Len() int {
	return len(b.Items)
}

// BatchState 批次状态机
type BatchState int

const (
	StateBuilding BatchState = iota
	StateSubmitted
	StateCompleted
	StatePartiallyFailed
	StateTotallyFailed
)

// String returns the string representation of BatchState
func (s BatchState) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateSubmitted:
		return "submitted"
	case StateCompleted:
		return "completed"
	case StatePartiallyFailed:
		return "partially_failed"
	case StateTotallyFailed:
		return "totally_failed"
	default:
		return "unknown"
	}
}

// BatchResult 一次批次执行的结果
type BatchResult struct {
	State    BatchState
	Outcomes Outcomes
	// Counts 逐条更新计数，只有走逐条隔离路径时才有值
	Counts []int64
}
