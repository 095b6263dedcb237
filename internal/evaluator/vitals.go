package evaluator

import (
	"fmt"
	"math"

	"wisefido-care/internal/models"
)

// 生命体征安全边界
const (
	CriticalSpO2Below       = 90.0 // 血氧低于 90% 为危急
	CriticalPulseBelow      = 40.0
	CriticalPulseAbove      = 150.0
	WeakPerfusionIndexBelow = 0.5 // PI < 0.5 信号微弱
)

// VitalsReport 采集数据检查结果（非阻塞部分）
type VitalsReport struct {
	SignalWeak bool `json:"signal_weak"`
}

// CheckVitals 检查一次采集
// 数据本身非法 → ErrInvalidReading；越过安全边界 → *CriticalValueError（不做截断）
func CheckVitals(r models.Reading) (VitalsReport, error) {
	var report VitalsReport

	vitals := []struct {
		name  string
		value float64
	}{
		{"spo2", r.SpO2},
		{"pulse_rate", r.PulseRate},
		{"perfusion_index", r.PerfusionIndex},
	}
	for _, v := range vitals {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) || v.value < 0 {
			return report, fmt.Errorf("%w: %s=%v", ErrInvalidReading, v.name, v.value)
		}
	}
	if r.SpO2 > 100 {
		return report, fmt.Errorf("%w: spo2=%v exceeds 100", ErrInvalidReading, r.SpO2)
	}
	if err := ValidateScore(r.Score); err != nil {
		return report, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}

	var breaches []VitalBreach
	if r.SpO2 < CriticalSpO2Below {
		breaches = append(breaches, VitalBreach{Vital: "spo2", Value: r.SpO2, Bound: fmt.Sprintf("< %.0f", CriticalSpO2Below)})
	}
	if r.PulseRate < CriticalPulseBelow {
		breaches = append(breaches, VitalBreach{Vital: "pulse_rate", Value: r.PulseRate, Bound: fmt.Sprintf("< %.0f", CriticalPulseBelow)})
	} else if r.PulseRate > CriticalPulseAbove {
		breaches = append(breaches, VitalBreach{Vital: "pulse_rate", Value: r.PulseRate, Bound: fmt.Sprintf("> %.0f", CriticalPulseAbove)})
	}
	if len(breaches) > 0 {
		return report, &CriticalValueError{Breaches: breaches}
	}

	report.SignalWeak = r.PerfusionIndex < WeakPerfusionIndexBelow
	return report, nil
}
