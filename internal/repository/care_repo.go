package repository

import (
	"context"
	"errors"
	"time"

	"wisefido-care/internal/models"
	"wisefido-care/internal/workflow"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// CareRepository 健康检测数据访问接口
// 租户在构造时绑定，方法签名里不再带 tenant_id
type CareRepository interface {
	// ========== 住户 ==========
	GetResident(ctx context.Context, residentID string) (*models.Resident, error)
	ListResidents(ctx context.Context) ([]*models.Resident, error)

	// ========== 分数记录（只追加） ==========
	ListScoreRecords(ctx context.Context, residentID string) ([]models.ScoreRecord, error)
	AppendScoreRecord(ctx context.Context, record *models.ScoreRecord) error

	// ========== 干预方案 ==========
	// 无生效方案时返回 (nil, nil)
	GetInterventionPlan(ctx context.Context, residentID string) (*models.InterventionPlan, error)
	SetInterventionPlan(ctx context.Context, plan *models.InterventionPlan) error

	// ========== 打卡台账 ==========
	ListTaskCompletions(ctx context.Context, residentID, planID string, since time.Time) ([]models.TaskCompletion, error)
	RecordTaskCompletion(ctx context.Context, completion *models.TaskCompletion) error

	// ========== 商品目录 ==========
	// 目录中没有升级路径时返回 (nil, nil)
	GetUpgradeProduct(ctx context.Context, currentProduct string) (*models.Product, error)
}

// 检测流程只用到其中一部分
var _ workflow.Repository = (CareRepository)(nil)

// validateRecord 追加前的基本校验
func validateRecord(record *models.ScoreRecord) error {
	if record == nil {
		return errors.New("score record is required")
	}
	if record.RecordID == "" {
		return errors.New("record_id is required")
	}
	if record.ResidentID == "" {
		return errors.New("resident_id is required")
	}
	if !record.CaptureTag.Valid() {
		return errors.New("invalid capture_tag")
	}
	if record.Score < 0 || record.Score > 100 {
		return errors.New("score out of range")
	}
	return nil
}

func validatePlan(plan *models.InterventionPlan) error {
	if plan == nil {
		return errors.New("intervention plan is required")
	}
	if plan.PlanID == "" {
		return errors.New("plan_id is required")
	}
	if plan.ResidentID == "" {
		return errors.New("resident_id is required")
	}
	if plan.ProductName == "" {
		return errors.New("product_name is required")
	}
	return nil
}

func validateCompletion(c *models.TaskCompletion) error {
	if c == nil {
		return errors.New("task completion is required")
	}
	if c.ResidentID == "" || c.PlanID == "" {
		return errors.New("resident_id and plan_id are required")
	}
	if c.Description == "" {
		return errors.New("description is required")
	}
	if c.Day.IsZero() {
		return errors.New("day is required")
	}
	return nil
}

// dateParam DATE 列参数：按 t 自身的日历日期，避免 timestamptz 隐式换算时区
func dateParam(t time.Time) string {
	return t.Format("2006-01-02")
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
