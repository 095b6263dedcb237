package publisher

import (
	"context"
	"errors"
	"time"

	"wisefido-care/internal/workflow"

	"go.uber.org/zap"
)

// 事件类型
const (
	EventEncounterResolved  = "care.encounter.resolved"
	EventEncounterCancelled = "care.encounter.cancelled"
	EventComplianceNudge    = "care.compliance.nudge"
)

// Nudge 依从性提醒：确认“加强执行”方案后通知责任护理员
type Nudge struct {
	ResidentID  string    `json:"resident_id"`
	EncounterID string    `json:"encounter_id"`
	PlanID      string    `json:"plan_id"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sent_at"`
}

// Publisher 检测结果对外广播（监控大屏、护理员终端）
type Publisher interface {
	PublishOutcome(ctx context.Context, summary *workflow.Summary) error
	PublishNudge(ctx context.Context, nudge *Nudge) error
}

// eventType 按结束状态选择事件类型
func eventType(summary *workflow.Summary) string {
	if summary.State == workflow.StateCancelled {
		return EventEncounterCancelled
	}
	return EventEncounterResolved
}

// MultiPublisher 依次发布到所有下游，单个失败只记录日志，不影响其他下游
type MultiPublisher struct {
	publishers []Publisher
	logger     *zap.Logger
}

func NewMultiPublisher(logger *zap.Logger, publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers, logger: logger}
}

func (m *MultiPublisher) PublishOutcome(ctx context.Context, summary *workflow.Summary) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.PublishOutcome(ctx, summary); err != nil {
			m.logger.Warn("Failed to publish encounter outcome",
				zap.String("encounter_id", summary.EncounterID),
				zap.String("resident_id", summary.ResidentID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) PublishNudge(ctx context.Context, nudge *Nudge) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.PublishNudge(ctx, nudge); err != nil {
			m.logger.Warn("Failed to publish compliance nudge",
				zap.String("resident_id", nudge.ResidentID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopPublisher 不发布（未配置 Redis / MQTT 时）
type NopPublisher struct{}

func (NopPublisher) PublishOutcome(context.Context, *workflow.Summary) error { return nil }
func (NopPublisher) PublishNudge(context.Context, *Nudge) error { return nil }
