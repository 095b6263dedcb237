package evaluator

import (
	"fmt"

	"wisefido-care/internal/models"
)

// 分层阈值（全局唯一来源，列表筛选、统计、任务生成都调用 Classify）
const (
	SubhealthMinScore = 70
	HealthyMinScore   = 90

	MinScore = 0
	MaxScore = 100
)

// Classify 健康分 → 分层
func Classify(score int) models.Tier {
	switch {
	case score < SubhealthMinScore:
		return models.TierRisk
	case score < HealthyMinScore:
		return models.TierSubhealth
	default:
		return models.TierHealthy
	}
}

// ValidateScore 校验健康分范围
func ValidateScore(score int) error {
	if score < MinScore || score > MaxScore {
		return fmt.Errorf("%w: %d", ErrInvalidScore, score)
	}
	return nil
}

// Diagnosis 分层对应的诊断文案
func Diagnosis(tier models.Tier) string {
	switch tier {
	case models.TierRisk:
		return "Failing score: severe nutrient loss detected, elevated cardiovascular risk. Strengthen intervention immediately."
	case models.TierSubhealth:
		return "Average score: calcium and zinc are being lost quickly, the body is in a depleted state. Adjust care promptly."
	default:
		return "Excellent condition: all indicators are within the healthy range. Keep it up."
	}
}
