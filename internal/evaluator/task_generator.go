package evaluator

import (
	"fmt"

	"wisefido-care/internal/models"
)

// GenerateTasks 根据分层生成本次检测的任务清单
// 相同输入总是得到等价的新清单，Completed 均为 false；isRecheck 不改变任务表
func GenerateTasks(tier models.Tier, isRecheck bool) []models.Task {
	switch tier {
	case models.TierRisk:
		// 风险人群：药补
		return []models.Task{
			{Kind: models.TaskMedication, Description: "Administer liquid calcium 10ml (after meals)"},
			{Kind: models.TaskMedication, Description: "Administer vitamin D 1 capsule (breakfast)"},
		}
	case models.TierSubhealth:
		// 亚健康：食补
		return []models.Task{
			{Kind: models.TaskNutrition, Description: "Meal: notify canteen to add an egg to dinner"},
			{Kind: models.TaskNutrition, Description: "Serve pure milk 200ml"},
		}
	default:
		// 健康：维持
		return []models.Task{
			{Kind: models.TaskCareActivity, Description: "Outdoor activity 20 minutes"},
		}
	}
}

// TasksForPlan 按确认后的干预方案重新生成任务（替换而不是合并）
func TasksForPlan(plan models.InterventionPlan) []models.Task {
	dose := plan.ProductName
	if plan.Dosage != "" {
		dose = fmt.Sprintf("%s %s", plan.ProductName, plan.Dosage)
	}

	if plan.Source == models.SolutionReinforceCompliance {
		return []models.Task{
			{Kind: models.TaskMedication, Description: "Supervised administration: " + dose + " (caregiver check-in required)"},
		}
	}
	return []models.Task{
		{Kind: models.TaskMedication, Description: "Administer " + dose},
	}
}
