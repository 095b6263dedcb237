package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqttcommon "wisefido-care/internal/common/mqtt"
	"wisefido-care/internal/models"
	"wisefido-care/internal/publisher"
	"wisefido-care/internal/workflow"

	"go.uber.org/zap"
)

// EncounterHandler 命令落到的检测服务（*service.EncounterService 满足）
type EncounterHandler interface {
	StartEncounter(ctx context.Context, residentID string, tag models.CaptureTag) (*workflow.Summary, error)
	SubmitReading(ctx context.Context, encounterID string, reading models.Reading) (*workflow.Summary, error)
	AcknowledgeCritical(ctx context.Context, encounterID, by string) (*workflow.Summary, error)
	Escalate(ctx context.Context, encounterID string) (*workflow.Summary, error)
	Complete(ctx context.Context, encounterID string) (*workflow.Summary, error)
	Confirm(ctx context.Context, encounterID string, solutionType models.SolutionType) (*workflow.Summary, error)
	Cancel(ctx context.Context, encounterID string) (*workflow.Summary, error)
	GetEncounter(encounterID string) (*workflow.Summary, error)
}

// MQTTClient 订阅和回写所需的接口（*mqttcommon.Client 满足）
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 检测命令消费者
type MQTTConsumer struct {
	mqttClient   MQTTClient
	handler      EncounterHandler
	commandTopic string // wisefido/care/+/command
	stateTopic   string // wisefido/care/{resident_id}/state
	qos          byte
	timeout      time.Duration
	logger       *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	mqttClient MQTTClient,
	handler EncounterHandler,
	commandTopic string,
	stateTopic string,
	qos byte,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		mqttClient:   mqttClient,
		handler:      handler,
		commandTopic: commandTopic,
		stateTopic:   stateTopic,
		qos:          qos,
		timeout:      10 * time.Second,
		logger:       logger,
	}
}

// Start 订阅命令主题并阻塞到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if c.commandTopic == "" {
		return fmt.Errorf("care command topic not configured")
	}

	if err := c.mqttClient.Subscribe(c.commandTopic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to command topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.commandTopic),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(_ context.Context) error {
	if c.commandTopic != "" {
		if err := c.mqttClient.Unsubscribe(c.commandTopic); err != nil {
			c.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理一条命令，结果（成功或失败）都回写到 state 主题
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	residentID, ok := MatchResident(c.commandTopic, topic)
	if !ok {
		return fmt.Errorf("unexpected topic %s", topic)
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.logger.Error("Failed to unmarshal care command",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return c.reply(residentID, &StateMessage{
			OK:        false,
			ErrorCode: CodeInvalidInput,
			Error:     "malformed command: " + err.Error(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	summary, err := c.dispatch(ctx, residentID, &cmd)
	msg := &StateMessage{
		RequestID: cmd.RequestID,
		Action:    cmd.Action,
		OK:        err == nil,
		Encounter: summary,
	}
	if err != nil {
		msg.ErrorCode = errorCode(err)
		msg.Error = err.Error()
		c.logger.Warn("Care command failed",
			zap.String("resident_id", residentID),
			zap.String("action", cmd.Action),
			zap.String("encounter_id", cmd.EncounterID),
			zap.String("error_code", msg.ErrorCode),
			zap.Error(err),
		)
	}
	return c.reply(residentID, msg)
}

// dispatch 按动作调用检测服务
// 除 start 外，检测必须属于主题里的住户
func (c *MQTTConsumer) dispatch(ctx context.Context, residentID string, cmd *Command) (*workflow.Summary, error) {
	switch cmd.Action {
	case ActionStart:
		tag := cmd.CaptureTag
		if tag == "" {
			tag = models.CaptureRoutine
		}
		return c.handler.StartEncounter(ctx, residentID, tag)
	case ActionReading, ActionAcknowledge, ActionEscalate, ActionComplete, ActionConfirm, ActionCancel:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", errInvalidCommand, cmd.Action)
	}

	if cmd.EncounterID == "" {
		return nil, fmt.Errorf("%w: encounter_id is required for %s", errInvalidCommand, cmd.Action)
	}
	if cmd.Action == ActionReading && cmd.Reading == nil {
		return nil, fmt.Errorf("%w: reading is required", errInvalidCommand)
	}
	if err := c.checkOwner(residentID, cmd.EncounterID); err != nil {
		return nil, err
	}

	switch cmd.Action {
	case ActionReading:
		return c.handler.SubmitReading(ctx, cmd.EncounterID, *cmd.Reading)
	case ActionAcknowledge:
		return c.handler.AcknowledgeCritical(ctx, cmd.EncounterID, cmd.AcknowledgedBy)
	case ActionEscalate:
		return c.handler.Escalate(ctx, cmd.EncounterID)
	case ActionComplete:
		return c.handler.Complete(ctx, cmd.EncounterID)
	case ActionConfirm:
		return c.handler.Confirm(ctx, cmd.EncounterID, cmd.Solution)
	default:
		return c.handler.Cancel(ctx, cmd.EncounterID)
	}
}

// checkOwner 其他住户的检测按不存在处理，不回写其快照
func (c *MQTTConsumer) checkOwner(residentID, encounterID string) error {
	summary, err := c.handler.GetEncounter(encounterID)
	if err != nil {
		return err
	}
	if summary.ResidentID != residentID {
		c.logger.Warn("Care command targets another resident's encounter",
			zap.String("resident_id", residentID),
			zap.String("encounter_id", encounterID),
		)
		return fmt.Errorf("%w: %s", workflow.ErrEncounterNotFound, encounterID)
	}
	return nil
}

func (c *MQTTConsumer) reply(residentID string, msg *StateMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal state message: %w", err)
	}
	topic := publisher.ResidentTopic(c.stateTopic, residentID)
	if err := c.mqttClient.Publish(topic, c.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}
	return nil
}

// MatchResident 从实际主题中取出通配符 + 位置的住户ID
func MatchResident(pattern, topic string) (string, bool) {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	if len(p) != len(t) {
		return "", false
	}

	residentID := ""
	for i := range p {
		switch p[i] {
		case "+":
			if t[i] == "" {
				return "", false
			}
			residentID = t[i]
		default:
			if p[i] != t[i] {
				return "", false
			}
		}
	}
	return residentID, residentID != ""
}
