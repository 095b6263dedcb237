package models

import (
	"time"
)

// CaptureTag 采集意图（日常巡检 / 基线建档 / 干预复查）
type CaptureTag string

const (
	CaptureRoutine  CaptureTag = "routine"
	CaptureBaseline CaptureTag = "baseline"
	CaptureRecheck  CaptureTag = "recheck"
)

// Valid 是否为已知的采集标签
func (t CaptureTag) Valid() bool {
	switch t {
	case CaptureRoutine, CaptureBaseline, CaptureRecheck:
		return true
	}
	return false
}

// Tier 健康分层
type Tier string

const (
	TierRisk      Tier = "risk"      // < 70
	TierSubhealth Tier = "subhealth" // 70..89
	TierHealthy   Tier = "healthy"   // >= 90
)

// Reading 一次完整的采集结果（由外部采集端提供，采集完成后不可变）
type Reading struct {
	SpO2           float64   `json:"spo2"`            // 血氧饱和度 %
	PulseRate      float64   `json:"pulse_rate"`      // 脉率 bpm
	PerfusionIndex float64   `json:"perfusion_index"` // 灌注指数 PI
	Score          int       `json:"score"`           // 采集端分析得出的健康分 [0,100]
	CapturedAt     time.Time `json:"captured_at"`
}

// ScoreRecord 健康分记录（按住户追加，不可修改）
type ScoreRecord struct {
	RecordID    string     `json:"record_id" db:"record_id"`
	ResidentID  string     `json:"resident_id" db:"resident_id"`
	Score       int        `json:"score" db:"score"`
	CaptureTag  CaptureTag `json:"capture_tag" db:"capture_tag"`
	RecordedAt  time.Time  `json:"recorded_at" db:"recorded_at"`
	ReferenceID *string    `json:"reference_id,omitempty" db:"reference_id"` // 对比的基线记录
}

// TaskKind 任务类型
type TaskKind string

const (
	TaskMedication   TaskKind = "medication"    // 药补
	TaskNutrition    TaskKind = "nutrition"     // 食补
	TaskCareActivity TaskKind = "care-activity" // 护理
)

// Task 护理任务（每次检测重新生成，不跨次继承）
type Task struct {
	Kind        TaskKind `json:"kind"`
	Description string   `json:"description"`
	Completed   bool     `json:"completed"`
}

// TaskCompletion 任务打卡台账（某天某条任务是否完成）
type TaskCompletion struct {
	ResidentID  string    `json:"resident_id" db:"resident_id"`
	PlanID      string    `json:"plan_id" db:"plan_id"`
	Day         time.Time `json:"day" db:"day"`
	Description string    `json:"description" db:"description"`
	Completed   bool      `json:"completed" db:"completed"`
}

// InterventionPlan 住户当前生效的干预方案
type InterventionPlan struct {
	PlanID      string       `json:"plan_id" db:"plan_id"`
	ResidentID  string       `json:"resident_id" db:"resident_id"`
	ProductName string       `json:"product_name" db:"product_name"`
	SKU         string       `json:"sku,omitempty" db:"sku"`
	Dosage      string       `json:"dosage" db:"dosage"`
	Source      SolutionType `json:"source,omitempty" db:"source"` // 由哪种调整方案产生，空表示初始方案
	StartDate   time.Time    `json:"start_date" db:"start_date"`
}

// StockStatus 库存状态
type StockStatus string

const (
	StockSufficient StockStatus = "sufficient"
	StockLow        StockStatus = "low"
	StockOut        StockStatus = "out"
)

// Product 干预物（升级候选）
type Product struct {
	SKU                 string      `json:"sku" db:"sku"`
	Name                string      `json:"name" db:"name"`
	Dosage              string      `json:"dosage" db:"dosage"`
	Effectiveness       int         `json:"effectiveness" db:"effectiveness"`               // 临床有效率 %
	ExpectedImprovement int         `json:"expected_improvement" db:"expected_improvement"` // 预计提分效率 %
	Stock               StockStatus `json:"stock" db:"stock"`
	Champion            bool        `json:"champion" db:"champion"` // 集团冠军商品
}

// SolutionType 调整方案类型
type SolutionType string

const (
	SolutionUpgrade             SolutionType = "upgrade"
	SolutionIncreaseDose        SolutionType = "increase-dose"
	SolutionReinforceCompliance SolutionType = "reinforce-compliance"
)

// Solution 候选调整方案（每次评估时计算，确认前不落库）
type Solution struct {
	Type                   SolutionType `json:"type"`
	Title                  string       `json:"title"`
	Description            string       `json:"description"`
	Details                []string     `json:"details,omitempty"`
	Product                *Product     `json:"product,omitempty"`
	Effectiveness          *int         `json:"effectiveness,omitempty"`
	ExpectedImprovement    *int         `json:"expected_improvement,omitempty"`
	Stock                  StockStatus  `json:"stock,omitempty"`
	Preferred              bool         `json:"preferred"`
	UncertainEffectiveness bool         `json:"uncertain_effectiveness"`
}

// ComplianceAudit 依从性审计结果
type ComplianceAudit struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Rate      float64 `json:"rate"` // 百分比
	Passed    bool    `json:"passed"`
}

// Resident 住户（工作台/档案展示所需字段）
type Resident struct {
	ResidentID   string     `json:"resident_id" db:"resident_id"`
	Name         string     `json:"name" db:"name"`
	BedNumber    string     `json:"bed_number" db:"bed_number"`
	Age          int        `json:"age" db:"age"`
	Zone         string     `json:"zone" db:"zone"`
	CurrentScore *int       `json:"current_score,omitempty" db:"current_score"`
	Alert        string     `json:"alert,omitempty" db:"alert"` // 如 "干预失效警告"
	LastCheckAt  *time.Time `json:"last_check_at,omitempty" db:"last_check_at"`
}
