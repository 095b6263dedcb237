package evaluator

import (
	"fmt"
	"time"

	"wisefido-care/internal/models"
)

// CompliancePassRate 依从性合格线（%），推荐逻辑只认这一个门槛
const CompliancePassRate = 80.0

// DefaultComplianceWindowDays 默认打卡窗口（近 7 天）
const DefaultComplianceWindowDays = 7

// Audit 计算打卡率并判定是否合格
func Audit(completions []bool) (models.ComplianceAudit, error) {
	if len(completions) == 0 {
		return models.ComplianceAudit{}, fmt.Errorf("%w: empty compliance window", ErrInvalidInput)
	}

	completed := 0
	for _, done := range completions {
		if done {
			completed++
		}
	}
	rate := float64(completed) / float64(len(completions)) * 100

	return models.ComplianceAudit{
		Completed: completed,
		Total:     len(completions),
		Rate:      rate,
		Passed:    rate >= CompliancePassRate,
	}, nil
}

// ComplianceWindow 把打卡台账折算成固定窗口（每天一格）
// 窗口从 max(方案开始日, now-days+1) 到 now 当天；某天有记录且全部完成才算 true
// 打卡日按各自的日历日期归档，不做时区换算（库里的 DATE 读出来是 UTC 零点）
func ComplianceWindow(plan models.InterventionPlan, completions []models.TaskCompletion, now time.Time, days int) []bool {
	if days <= 0 {
		days = DefaultComplianceWindowDays
	}
	loc := now.Location()
	today := calendarDay(now, loc)
	start := today.AddDate(0, 0, -(days - 1))
	if !plan.StartDate.IsZero() {
		if planStart := calendarDay(plan.StartDate, loc); planStart.After(start) {
			start = planStart
		}
	}
	if start.After(today) {
		start = today
	}

	type dayState struct {
		allDone bool
	}
	byDay := make(map[string]*dayState)
	for _, c := range completions {
		if plan.PlanID != "" && c.PlanID != "" && c.PlanID != plan.PlanID {
			continue
		}
		key := c.Day.Format("2006-01-02")
		st, ok := byDay[key]
		if !ok {
			st = &dayState{allDone: true}
			byDay[key] = st
		}
		st.allDone = st.allDone && c.Completed
	}

	var window []bool
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		st, ok := byDay[d.Format("2006-01-02")]
		window = append(window, ok && st.allDone)
	}
	return window
}

// calendarDay t 自身的年月日，落在 loc 的零点
func calendarDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
