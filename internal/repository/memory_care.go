package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-care/internal/models"
)

// MemoryCareRepository 内存实现：DB 未就绪时联调，以及单元测试
// - 分数记录只追加
// - 每个住户只保留一个生效方案
type MemoryCareRepository struct {
	mu sync.RWMutex

	residents   map[string]models.Resident
	records     map[string][]models.ScoreRecord    // residentID -> records
	plans       map[string]models.InterventionPlan // residentID -> active plan
	completions map[string]models.TaskCompletion   // planID|day|description -> completion
	upgrades    map[string]models.Product          // current product name -> upgrade
}

// NewMemoryCareRepository 创建空仓库
func NewMemoryCareRepository() *MemoryCareRepository {
	return &MemoryCareRepository{
		residents:   map[string]models.Resident{},
		records:     map[string][]models.ScoreRecord{},
		plans:       map[string]models.InterventionPlan{},
		completions: map[string]models.TaskCompletion{},
		upgrades:    map[string]models.Product{},
	}
}

var _ CareRepository = (*MemoryCareRepository)(nil)

// AddResident 录入住户（覆盖同 ID）
func (r *MemoryCareRepository) AddResident(res models.Resident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res.CurrentScore = nil
	res.LastCheckAt = nil
	r.residents[res.ResidentID] = res
}

// AddUpgradeProduct 录入升级路径 currentProduct -> p
func (r *MemoryCareRepository) AddUpgradeProduct(currentProduct string, p models.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upgrades[currentProduct] = p
}

func (r *MemoryCareRepository) withLatest(res models.Resident) models.Resident {
	records := r.records[res.ResidentID]
	if len(records) == 0 {
		return res
	}
	latest := records[len(records)-1]
	score := latest.Score
	at := latest.RecordedAt
	res.CurrentScore = &score
	res.LastCheckAt = &at
	return res
}

func (r *MemoryCareRepository) GetResident(_ context.Context, residentID string) (*models.Resident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.residents[residentID]
	if !ok {
		return nil, fmt.Errorf("resident %s: %w", residentID, ErrNotFound)
	}
	res = r.withLatest(res)
	return &res, nil
}

func (r *MemoryCareRepository) ListResidents(_ context.Context) ([]*models.Resident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Resident, 0, len(r.residents))
	for _, res := range r.residents {
		res = r.withLatest(res)
		out = append(out, &res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BedNumber < out[j].BedNumber })
	return out, nil
}

func (r *MemoryCareRepository) ListScoreRecords(_ context.Context, residentID string) ([]models.ScoreRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.ScoreRecord{}, r.records[residentID]...), nil
}

func (r *MemoryCareRepository) AppendScoreRecord(_ context.Context, record *models.ScoreRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.residents[record.ResidentID]; !ok {
		return fmt.Errorf("resident %s: %w", record.ResidentID, ErrNotFound)
	}
	for _, rec := range r.records[record.ResidentID] {
		if rec.RecordID == record.RecordID {
			return fmt.Errorf("score record %s already exists", record.RecordID)
		}
	}

	rec := *record
	if rec.ReferenceID != nil {
		id := *rec.ReferenceID
		rec.ReferenceID = &id
	}
	list := append(r.records[record.ResidentID], rec)
	// 按时间升序，相同时间保持追加顺序
	sort.SliceStable(list, func(i, j int) bool { return list[i].RecordedAt.Before(list[j].RecordedAt) })
	r.records[record.ResidentID] = list
	return nil
}

func (r *MemoryCareRepository) GetInterventionPlan(_ context.Context, residentID string) (*models.InterventionPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plan, ok := r.plans[residentID]
	if !ok {
		return nil, nil
	}
	return &plan, nil
}

func (r *MemoryCareRepository) SetInterventionPlan(_ context.Context, plan *models.InterventionPlan) error {
	if err := validatePlan(plan); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[plan.ResidentID] = *plan
	return nil
}

func (r *MemoryCareRepository) ListTaskCompletions(_ context.Context, residentID, planID string, since time.Time) ([]models.TaskCompletion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	from := dayOf(since)
	out := []models.TaskCompletion{}
	for _, c := range r.completions {
		if c.ResidentID != residentID || c.PlanID != planID || c.Day.Before(from) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day.Equal(out[j].Day) {
			return out[i].Description < out[j].Description
		}
		return out[i].Day.Before(out[j].Day)
	})
	return out, nil
}

func (r *MemoryCareRepository) RecordTaskCompletion(_ context.Context, completion *models.TaskCompletion) error {
	if err := validateCompletion(completion); err != nil {
		return err
	}

	c := *completion
	c.Day = dayOf(c.Day)
	key := c.PlanID + "|" + c.Day.Format("2006-01-02") + "|" + c.Description

	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions[key] = c
	return nil
}

func (r *MemoryCareRepository) GetUpgradeProduct(_ context.Context, currentProduct string) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.upgrades[currentProduct]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// SeedDemoData 内存模式下的演示数据（两位住户 + 补钙升级路径）
func (r *MemoryCareRepository) SeedDemoData(now time.Time) error {
	ctx := context.Background()
	r.AddResident(models.Resident{ResidentID: "demo-205", Name: "Zhang Jianguo", BedNumber: "205", Age: 82, Zone: "A"})
	r.AddResident(models.Resident{ResidentID: "demo-301", Name: "Li Xiuying", BedNumber: "301", Age: 79, Zone: "B"})
	r.AddUpgradeProduct("Calcium tablets", models.Product{
		SKU:                 "SKU-001",
		Name:                "Liquid calcium",
		Dosage:              "10ml after meals",
		Effectiveness:       85,
		ExpectedImprovement: 30,
		Stock:               models.StockSufficient,
		Champion:            true,
	})

	baselineAt := now.AddDate(0, 0, -14)
	if err := r.AppendScoreRecord(ctx, &models.ScoreRecord{
		RecordID:   "demo-205-baseline",
		ResidentID: "demo-205",
		Score:      80,
		CaptureTag: models.CaptureBaseline,
		RecordedAt: baselineAt,
	}); err != nil {
		return fmt.Errorf("failed to seed baseline: %w", err)
	}
	if err := r.SetInterventionPlan(ctx, &models.InterventionPlan{
		PlanID:      "demo-205-plan",
		ResidentID:  "demo-205",
		ProductName: "Calcium tablets",
		Dosage:      "1 tablet daily",
		StartDate:   baselineAt,
	}); err != nil {
		return fmt.Errorf("failed to seed plan: %w", err)
	}
	if err := r.AppendScoreRecord(ctx, &models.ScoreRecord{
		RecordID:   "demo-301-routine",
		ResidentID: "demo-301",
		Score:      92,
		CaptureTag: models.CaptureRoutine,
		RecordedAt: now.AddDate(0, 0, -1),
	}); err != nil {
		return fmt.Errorf("failed to seed routine record: %w", err)
	}
	return nil
}
