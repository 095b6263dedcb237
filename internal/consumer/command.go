package consumer

import (
	"errors"
	"fmt"

	"wisefido-care/internal/evaluator"
	"wisefido-care/internal/models"
	"wisefido-care/internal/repository"
	"wisefido-care/internal/store"
	"wisefido-care/internal/workflow"
)

// 命令动作
const (
	ActionStart       = "start"
	ActionReading     = "reading"
	ActionAcknowledge = "acknowledge"
	ActionEscalate    = "escalate"
	ActionComplete    = "complete"
	ActionConfirm     = "confirm"
	ActionCancel      = "cancel"
)

var errInvalidCommand = fmt.Errorf("%w: bad command", evaluator.ErrInvalidInput)

// Command 外壳下发的命令（住户ID取自主题）
type Command struct {
	RequestID      string              `json:"request_id,omitempty"`
	Action         string              `json:"action"`
	EncounterID    string              `json:"encounter_id,omitempty"`
	CaptureTag     models.CaptureTag   `json:"capture_tag,omitempty"`
	Reading        *models.Reading     `json:"reading,omitempty"`
	AcknowledgedBy string              `json:"acknowledged_by,omitempty"`
	Solution       models.SolutionType `json:"solution,omitempty"`
}

// StateMessage 命令执行后的检测快照
type StateMessage struct {
	RequestID string            `json:"request_id,omitempty"`
	Action    string            `json:"action"`
	OK        bool              `json:"ok"`
	ErrorCode string            `json:"error_code,omitempty"`
	Error     string            `json:"error,omitempty"`
	Encounter *workflow.Summary `json:"encounter,omitempty"`
}

// 错误码（外壳据此决定提示方式，危急值需要弹窗确认）
const (
	CodeCriticalValue     = "critical_value"
	CodeCriticalPending   = "critical_unacknowledged"
	CodeInvalidTransition = "invalid_transition"
	CodeInvalidInput      = "invalid_input"
	CodeEncounterActive   = "encounter_active"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

// errorCode 错误归类
func errorCode(err error) string {
	var critical *evaluator.CriticalValueError
	switch {
	case errors.As(err, &critical):
		return CodeCriticalValue
	case errors.Is(err, workflow.ErrCriticalUnacknowledged):
		return CodeCriticalPending
	case errors.Is(err, workflow.ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, evaluator.ErrInvalidInput),
		errors.Is(err, evaluator.ErrInvalidReading),
		errors.Is(err, evaluator.ErrInvalidScore),
		errors.Is(err, evaluator.ErrInvalidBaseline),
		errors.Is(err, workflow.ErrUnknownSolution):
		return CodeInvalidInput
	case errors.Is(err, store.ErrEncounterActive):
		return CodeEncounterActive
	case errors.Is(err, workflow.ErrEncounterNotFound), errors.Is(err, repository.ErrNotFound):
		return CodeNotFound
	}
	return CodeInternal
}
