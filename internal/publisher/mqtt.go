package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"wisefido-care/internal/workflow"

	"go.uber.org/zap"
)

// ResidentPlaceholder 主题模板中的住户占位符
const ResidentPlaceholder = "{resident_id}"

// MQTTClient 发布所需的最小接口（*mqttcommon.Client 满足）
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher 按住户主题发布到 MQTT
// outcome: wisefido/care/{resident_id}/outcome
// nudge:   wisefido/care/{resident_id}/nudge
type MQTTPublisher struct {
	client       MQTTClient
	qos          byte
	outcomeTopic string
	nudgeTopic   string
	logger       *zap.Logger
}

func NewMQTTPublisher(client MQTTClient, qos byte, outcomeTopic, nudgeTopic string, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:       client,
		qos:          qos,
		outcomeTopic: outcomeTopic,
		nudgeTopic:   nudgeTopic,
		logger:       logger,
	}
}

// ResidentTopic 用住户ID填充主题模板
func ResidentTopic(template, residentID string) string {
	return strings.ReplaceAll(template, ResidentPlaceholder, residentID)
}

func (p *MQTTPublisher) PublishOutcome(_ context.Context, summary *workflow.Summary) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event_type": eventType(summary),
		"data":       summary,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	topic := ResidentTopic(p.outcomeTopic, summary.ResidentID)
	if err := p.client.Publish(topic, p.qos, false, payload); err != nil {
		return err
	}

	p.logger.Debug("Published encounter outcome to MQTT",
		zap.String("topic", topic),
		zap.String("encounter_id", summary.EncounterID),
	)
	return nil
}

func (p *MQTTPublisher) PublishNudge(_ context.Context, nudge *Nudge) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event_type": EventComplianceNudge,
		"data":       nudge,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal nudge: %w", err)
	}

	topic := ResidentTopic(p.nudgeTopic, nudge.ResidentID)
	if err := p.client.Publish(topic, p.qos, false, payload); err != nil {
		return err
	}

	p.logger.Debug("Published compliance nudge to MQTT",
		zap.String("topic", topic),
		zap.String("resident_id", nudge.ResidentID),
	)
	return nil
}
