package evaluator

import (
	"fmt"
	"math"
	"strconv"

	"wisefido-care/internal/models"
)

// RecommendInput 干预调整评估输入
type RecommendInput struct {
	ScoreDrop     int                     // 相对基线的掉分（>= 0）
	BaselineScore int                     // 基线分（> 0）
	Audit         models.ComplianceAudit  // 依从性审计结果
	Current       models.InterventionPlan // 当前方案
	Upgrade       *models.Product         // 目录中的升级候选，nil 表示无升级路径
}

// Recommend 生成排好序的调整方案，第一个为默认选中
//
// 打卡不合格时只给出"督促落实"，不在确认执行到位之前换药；
// 合格时给出 [升级干预物, 增加剂量]。升级品缺货时取消推荐并排到增加剂量之后。
func Recommend(in RecommendInput) ([]models.Solution, error) {
	if in.BaselineScore <= 0 {
		return nil, ErrInvalidBaseline
	}
	if in.ScoreDrop < 0 {
		return nil, fmt.Errorf("%w: negative score drop %d", ErrInvalidInput, in.ScoreDrop)
	}

	if !in.Audit.Passed {
		return []models.Solution{reinforceSolution(in)}, nil
	}

	increase := increaseDoseSolution(in.Current)
	if in.Upgrade == nil {
		return []models.Solution{increase}, nil
	}

	upgrade := upgradeSolution(in.Current, *in.Upgrade)
	if upgrade.Stock == models.StockOut {
		return []models.Solution{increase, upgrade}, nil
	}
	return []models.Solution{upgrade, increase}, nil
}

// DropPercentage 掉分百分比（保留一位小数），仅用于展示
func DropPercentage(scoreDrop, baselineScore int) (float64, error) {
	if baselineScore <= 0 {
		return 0, ErrInvalidBaseline
	}
	pct := float64(scoreDrop) / float64(baselineScore) * 100
	return math.Round(pct*10) / 10, nil
}

func reinforceSolution(in RecommendInput) models.Solution {
	rate := FormatRate(in.Audit.Rate)
	return models.Solution{
		Type:        models.SolutionReinforceCompliance,
		Title:       "Recommended: supervise caregivers to carry out the plan",
		Description: fmt.Sprintf("Current plan was not fully executed: compliance rate is only %s%%", rate),
		Details: []string{
			fmt.Sprintf("Current compliance rate only %s%%", rate),
			"Ensure the plan is executed before considering a product change",
		},
		Preferred: true,
	}
}

func upgradeSolution(current models.InterventionPlan, p models.Product) models.Solution {
	product := p
	effectiveness := p.Effectiveness
	improvement := p.ExpectedImprovement

	details := []string{
		fmt.Sprintf("Clinical effectiveness: %d%%", effectiveness),
		fmt.Sprintf("Expected score improvement: +%d%%", improvement),
		stockLabel(p.Stock),
	}
	if p.Champion {
		details = append(details, "Group champion product")
	}

	return models.Solution{
		Type:                models.SolutionUpgrade,
		Title:               "Recommended: switch intervention product",
		Description:         fmt.Sprintf("Upgrade from %s to higher-absorption %s", current.ProductName, p.Name),
		Details:             details,
		Product:             &product,
		Effectiveness:       &effectiveness,
		ExpectedImprovement: &improvement,
		Stock:               p.Stock,
		Preferred:           p.Stock != models.StockOut,
	}
}

func increaseDoseSolution(current models.InterventionPlan) models.Solution {
	desc := fmt.Sprintf("Double the current regimen of %s", current.ProductName)
	if current.Dosage != "" {
		desc = fmt.Sprintf("Double the current regimen of %s (%s x2)", current.ProductName, current.Dosage)
	}
	return models.Solution{
		Type:        models.SolutionIncreaseDose,
		Title:       "Conservative: increase dose",
		Description: desc,
		Details: []string{
			"Effectiveness uncertain",
			"May increase gastrointestinal burden",
		},
		UncertainEffectiveness: true,
	}
}

func stockLabel(s models.StockStatus) string {
	switch s {
	case models.StockSufficient:
		return "Stock sufficient"
	case models.StockLow:
		return "Stock low"
	case models.StockOut:
		return "Out of stock"
	default:
		return "Stock unknown"
	}
}

// FormatRate 打卡率展示：整数不带小数，否则保留一位
func FormatRate(rate float64) string {
	if rate == math.Trunc(rate) {
		return strconv.FormatFloat(rate, 'f', 0, 64)
	}
	return strconv.FormatFloat(rate, 'f', 1, 64)
}
