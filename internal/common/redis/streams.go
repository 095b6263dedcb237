package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamAdder 写入 Redis Streams 的最小接口（*redis.Client 满足）
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// PublishJSONToStream 发布 JSON 消息到 Redis Streams
// 消息字段：event_type、data（JSON）、timestamp（Unix 秒）
// maxLen > 0 时按近似长度裁剪 stream
func PublishJSONToStream(ctx context.Context, client StreamAdder, stream, eventType string, data interface{}, maxLen int64) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"event_type": eventType,
			"data":       string(jsonBytes),
			"timestamp":  fmt.Sprintf("%d", time.Now().Unix()),
		},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add to stream %s: %w", stream, err)
	}
	return id, nil
}
