package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rushairer/jsonsink"
)

// DeadLetterReporter 把未被接受的记录写入 Redis Stream，供离线排查或重放
// 实现 jsonsink.OutcomeReporter；Accepted 的记录不写入。
type DeadLetterReporter struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

var _ jsonsink.OutcomeReporter = (*DeadLetterReporter)(nil)

// NewDeadLetterReporter 创建死信报告器
// 参数：
// - client: Redis客户端连接（用户管理生命周期）
// - stream: Stream 键名
// - maxLen: 近似上限（MAXLEN ~），<= 0 表示不裁剪
func NewDeadLetterReporter(client redis.UniversalClient, stream string, maxLen int64) *DeadLetterReporter {
	return &DeadLetterReporter{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Report 使用Pipeline批量 XADD
func (r *DeadLetterReporter) Report(ctx context.Context, table jsonsink.TableName, records []jsonsink.Record, outcomes jsonsink.Outcomes) error {
	entries := r.Entries(table, records, outcomes)
	if len(entries) == 0 {
		return nil
	}

	pipeline := r.client.Pipeline()
	for _, args := range entries {
		pipeline.XAdd(ctx, args)
	}

	// 执行Pipeline
	cmds, err := pipeline.Exec(ctx)
	if err != nil {
		return fmt.Errorf("dead letter %d records to %s: %w", len(entries), r.stream, err)
	}

	// 检查每个命令的执行结果
	for _, cmd := range cmds {
		if cmd.Err() != nil {
			err = errors.Join(err, cmd.Err())
		}
	}
	return err
}

// Entries 为每条非 Accepted 记录生成一个 XADD 参数，顺序与输入一致
func (r *DeadLetterReporter) Entries(table jsonsink.TableName, records []jsonsink.Record, outcomes jsonsink.Outcomes) []*redis.XAddArgs {
	var entries []*redis.XAddArgs
	for _, rec := range records {
		o, ok := outcomes[rec.ID]
		if !ok || o.Kind == jsonsink.Accepted {
			continue
		}
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		args := &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]any{
				"table":     table.String(),
				"record_id": rec.ID,
				"payload":   rec.Payload,
				"outcome":   o.Kind.String(),
				"reason":    o.Reason.String(),
				"error":     errText,
			},
		}
		if r.maxLen > 0 {
			args.MaxLen = r.maxLen
			args.Approx = true
		}
		entries = append(entries, args)
	}
	return entries
}
