package evaluator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidScore 健康分超出 [0,100]
	ErrInvalidScore = errors.New("score out of range [0,100]")
	// ErrInvalidBaseline 基线分必须大于 0（掉分百分比的分母）
	ErrInvalidBaseline = errors.New("baseline score must be greater than 0")
	// ErrInvalidInput 其他越界输入（空打卡窗口、负掉分等）
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidReading 采集数据本身不合法（非临床危急，而是数据错误）
	ErrInvalidReading = errors.New("invalid reading")
)

// VitalBreach 单项生命体征越过安全边界
type VitalBreach struct {
	Vital string  `json:"vital"` // spo2 / pulse_rate
	Value float64 `json:"value"`
	Bound string  `json:"bound"` // 如 "< 90"
}

// CriticalValueError 危急值故障：阻塞流程，必须人工确认
type CriticalValueError struct {
	Breaches []VitalBreach
}

func (e *CriticalValueError) Error() string {
	parts := make([]string, 0, len(e.Breaches))
	for _, b := range e.Breaches {
		parts = append(parts, fmt.Sprintf("%s=%.0f (%s)", b.Vital, b.Value, b.Bound))
	}
	return "critical value: " + strings.Join(parts, ", ")
}
