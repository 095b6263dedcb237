package publisher

import (
	"context"

	rediscommon "wisefido-care/internal/common/redis"
	"wisefido-care/internal/workflow"

	"go.uber.org/zap"
)

// StreamPublisher 写入 Redis Streams（下游服务按 event_type 消费）
type StreamPublisher struct {
	client rediscommon.StreamAdder
	stream string
	maxLen int64
	logger *zap.Logger
}

func NewStreamPublisher(client rediscommon.StreamAdder, stream string, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

func (p *StreamPublisher) PublishOutcome(ctx context.Context, summary *workflow.Summary) error {
	id, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, eventType(summary), summary, p.maxLen)
	if err != nil {
		return err
	}

	p.logger.Debug("Published encounter outcome to Redis Streams",
		zap.String("stream", p.stream),
		zap.String("stream_id", id),
		zap.String("encounter_id", summary.EncounterID),
	)
	return nil
}

func (p *StreamPublisher) PublishNudge(ctx context.Context, nudge *Nudge) error {
	id, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, EventComplianceNudge, nudge, p.maxLen)
	if err != nil {
		return err
	}

	p.logger.Debug("Published compliance nudge to Redis Streams",
		zap.String("stream", p.stream),
		zap.String("stream_id", id),
		zap.String("resident_id", nudge.ResidentID),
	)
	return nil
}
