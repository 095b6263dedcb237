package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-care/internal/evaluator"
	"wisefido-care/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State 单次检测的流程状态
type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateClassified State = "classified"
	StateEscalating State = "escalating"
	StateResolved   State = "resolved"
	StateCancelled  State = "cancelled"
)

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateResolved || s == StateCancelled
}

// NotableImprovementPoints 复查提分达到该值记为高光时刻（仅用于上报）
const NotableImprovementPoints = 10

var (
	// ErrInvalidTransition 当前状态不允许该操作
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrCriticalUnacknowledged 危急值尚未人工确认
	ErrCriticalUnacknowledged = errors.New("critical value fault not acknowledged")
	// ErrUnknownSolution 确认的方案不在候选列表中
	ErrUnknownSolution = errors.New("solution not offered")
	// ErrEncounterNotFound 检测不存在或已结束
	ErrEncounterNotFound = errors.New("encounter not found")
)

// Repository 流程依赖的数据访问（由调用方注入，测试可替换为内存实现）
//
// GetInterventionPlan 无生效方案时返回 (nil, nil)；
// GetUpgradeProduct 目录中没有升级路径时返回 (nil, nil)。
type Repository interface {
	GetResident(ctx context.Context, residentID string) (*models.Resident, error)
	ListScoreRecords(ctx context.Context, residentID string) ([]models.ScoreRecord, error)
	AppendScoreRecord(ctx context.Context, record *models.ScoreRecord) error
	GetInterventionPlan(ctx context.Context, residentID string) (*models.InterventionPlan, error)
	SetInterventionPlan(ctx context.Context, plan *models.InterventionPlan) error
	ListTaskCompletions(ctx context.Context, residentID, planID string, since time.Time) ([]models.TaskCompletion, error)
	GetUpgradeProduct(ctx context.Context, currentProduct string) (*models.Product, error)
}

// Option 流程可选配置
type Option func(*Session)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithIDGenerator 注入 ID 生成器
func WithIDGenerator(newID func() string) Option {
	return func(s *Session) { s.newID = newID }
}

// WithComplianceWindowDays 打卡窗口天数
func WithComplianceWindowDays(days int) Option {
	return func(s *Session) { s.windowDays = days }
}

// Session 单次检测流程（一次检测一个实例，结束后丢弃）
// 不做内部并发控制；同一住户同时只能有一个未结束的实例，由调用方保证
type Session struct {
	repo       Repository
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
	windowDays int

	encounterID string
	state       State
	tag         models.CaptureTag
	resident    *models.Resident
	previous    *models.ScoreRecord // 最近一次记录
	reference   *models.ScoreRecord // 复查对比的基线记录
	plan        *models.InterventionPlan

	reading        *models.Reading
	vitals         evaluator.VitalsReport
	fault          *evaluator.CriticalValueError
	acknowledgedBy string
	record         *models.ScoreRecord
	recordSaved    bool
	tier           models.Tier
	tasks          []models.Task

	audit          *models.ComplianceAudit
	dropPercentage *float64
	solutions      []models.Solution
	confirmed      *models.Solution
	newPlan        *models.InterventionPlan
}

// NewSession 创建处于 Idle 状态的流程
func NewSession(repo Repository, logger *zap.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		repo:       repo,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		windowDays: evaluator.DefaultComplianceWindowDays,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.encounterID = s.newID()
	return s
}

// EncounterID 本次检测ID
func (s *Session) EncounterID() string { return s.encounterID }

// State 当前状态
func (s *Session) State() State { return s.state }

// ResidentID 绑定的住户
func (s *Session) ResidentID() string {
	if s.resident == nil {
		return ""
	}
	return s.resident.ResidentID
}

// Start Idle → Acquiring：绑定住户和采集标签
func (s *Session) Start(ctx context.Context, residentID string, tag models.CaptureTag) error {
	if s.state != StateIdle {
		return s.transitionError(StateAcquiring)
	}
	if residentID == "" {
		return fmt.Errorf("%w: resident_id is required", evaluator.ErrInvalidInput)
	}
	if !tag.Valid() {
		return fmt.Errorf("%w: unknown capture tag %q", evaluator.ErrInvalidInput, tag)
	}

	resident, err := s.repo.GetResident(ctx, residentID)
	if err != nil {
		return fmt.Errorf("failed to get resident: %w", err)
	}
	history, err := s.repo.ListScoreRecords(ctx, residentID)
	if err != nil {
		return fmt.Errorf("failed to list score records: %w", err)
	}
	plan, err := s.repo.GetInterventionPlan(ctx, residentID)
	if err != nil {
		return fmt.Errorf("failed to get intervention plan: %w", err)
	}

	s.resident = resident
	s.tag = tag
	s.plan = plan
	s.previous = latestRecord(history)
	if tag == models.CaptureRecheck {
		s.reference = referenceRecord(history)
	}
	s.state = StateAcquiring

	s.logger.Info("Encounter started",
		zap.String("encounter_id", s.encounterID),
		zap.String("resident_id", residentID),
		zap.String("capture_tag", string(tag)),
	)
	return nil
}

// SubmitReading Acquiring → Classified：接收采集完成的数据
// 危急值时保持 Acquiring 并返回 *evaluator.CriticalValueError，需 AcknowledgeCritical 后才能继续或取消
func (s *Session) SubmitReading(ctx context.Context, reading models.Reading) error {
	if s.state != StateAcquiring {
		return s.transitionError(StateClassified)
	}
	if s.fault != nil {
		return ErrCriticalUnacknowledged
	}

	vitals, err := evaluator.CheckVitals(reading)
	if err != nil {
		var critical *evaluator.CriticalValueError
		if errors.As(err, &critical) {
			s.fault = critical
			s.logger.Warn("Critical value detected, encounter blocked",
				zap.String("encounter_id", s.encounterID),
				zap.String("resident_id", s.ResidentID()),
				zap.String("fault", critical.Error()),
			)
		}
		return err
	}

	if reading.CapturedAt.IsZero() {
		reading.CapturedAt = s.now()
	}
	s.reading = &reading
	s.vitals = vitals
	s.tier = evaluator.Classify(reading.Score)
	s.tasks = evaluator.GenerateTasks(s.tier, s.tag == models.CaptureRecheck)

	record := &models.ScoreRecord{
		RecordID:   s.newID(),
		ResidentID: s.ResidentID(),
		Score:      reading.Score,
		CaptureTag: s.tag,
		RecordedAt: reading.CapturedAt,
	}
	if s.reference != nil {
		refID := s.reference.RecordID
		record.ReferenceID = &refID
	}
	s.record = record
	s.state = StateClassified

	s.logger.Info("Reading classified",
		zap.String("encounter_id", s.encounterID),
		zap.String("resident_id", s.ResidentID()),
		zap.Int("score", reading.Score),
		zap.String("tier", string(s.tier)),
		zap.Bool("signal_weak", vitals.SignalWeak),
		zap.Bool("needs_escalation", s.NeedsEscalation()),
	)
	return nil
}

// AcknowledgeCritical 人工确认危急值；被拦截的数据作废，可重新采集或取消
func (s *Session) AcknowledgeCritical(by string) error {
	if s.state != StateAcquiring || s.fault == nil {
		return fmt.Errorf("%w: no pending critical value in state %s", ErrInvalidTransition, s.state)
	}
	if by == "" {
		return fmt.Errorf("%w: acknowledging user is required", evaluator.ErrInvalidInput)
	}

	s.logger.Info("Critical value acknowledged",
		zap.String("encounter_id", s.encounterID),
		zap.String("acknowledged_by", by),
		zap.String("fault", s.fault.Error()),
	)
	s.fault = nil
	s.acknowledgedBy = by
	return nil
}

// FailedRecheck 复查未见改善（新分 <= 对比分）
func (s *Session) FailedRecheck() bool {
	if s.record == nil || s.tag != models.CaptureRecheck || s.reference == nil {
		return false
	}
	return s.record.Score <= s.reference.Score
}

// NeedsEscalation 复查未见改善且存在生效方案
func (s *Session) NeedsEscalation() bool {
	return s.plan != nil && s.FailedRecheck()
}

// Escalate Classified → Escalating：审计依从性并生成调整方案
func (s *Session) Escalate(ctx context.Context) error {
	if s.state != StateClassified || !s.NeedsEscalation() {
		return s.transitionError(StateEscalating)
	}

	now := s.now()
	since := now.AddDate(0, 0, -s.windowDays)
	completions, err := s.repo.ListTaskCompletions(ctx, s.ResidentID(), s.plan.PlanID, since)
	if err != nil {
		return fmt.Errorf("failed to list task completions: %w", err)
	}
	audit, err := evaluator.Audit(evaluator.ComplianceWindow(*s.plan, completions, now, s.windowDays))
	if err != nil {
		return err
	}

	upgrade, err := s.repo.GetUpgradeProduct(ctx, s.plan.ProductName)
	if err != nil {
		return fmt.Errorf("failed to get upgrade product: %w", err)
	}

	drop := s.reference.Score - s.record.Score
	solutions, err := evaluator.Recommend(evaluator.RecommendInput{
		ScoreDrop:     drop,
		BaselineScore: s.reference.Score,
		Audit:         audit,
		Current:       *s.plan,
		Upgrade:       upgrade,
	})
	if err != nil {
		return err
	}
	pct, err := evaluator.DropPercentage(drop, s.reference.Score)
	if err != nil {
		return err
	}

	s.audit = &audit
	s.dropPercentage = &pct
	s.solutions = solutions
	s.state = StateEscalating

	s.logger.Info("Encounter escalated",
		zap.String("encounter_id", s.encounterID),
		zap.String("resident_id", s.ResidentID()),
		zap.Int("score_drop", drop),
		zap.Float64("drop_percentage", pct),
		zap.Float64("compliance_rate", audit.Rate),
		zap.Bool("compliance_passed", audit.Passed),
		zap.String("default_solution", string(solutions[0].Type)),
	)
	return nil
}

// Complete Classified → Resolved：非升级流程直接结束，提交本次分数
func (s *Session) Complete(ctx context.Context) (*Summary, error) {
	if s.state != StateClassified || s.NeedsEscalation() {
		return nil, s.transitionError(StateResolved)
	}
	if err := s.saveRecord(ctx); err != nil {
		return nil, err
	}
	s.state = StateResolved

	summary := s.Snapshot()
	s.logger.Info("Encounter resolved",
		zap.String("encounter_id", s.encounterID),
		zap.String("resident_id", s.ResidentID()),
		zap.String("tier", string(s.tier)),
		zap.Bool("notable_improvement", summary.NotableImprovement),
	)
	return &summary, nil
}

// Confirm Escalating → Resolved：确认的方案成为新的干预方案，任务按新方案重新生成
func (s *Session) Confirm(ctx context.Context, solutionType models.SolutionType) (*Summary, error) {
	if s.state != StateEscalating {
		return nil, s.transitionError(StateResolved)
	}

	var chosen *models.Solution
	for i := range s.solutions {
		if s.solutions[i].Type == solutionType {
			sol := s.solutions[i]
			chosen = &sol
			break
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSolution, solutionType)
	}

	plan := planFromSolution(*chosen, *s.plan, s.newID(), s.now())
	if err := s.saveRecord(ctx); err != nil {
		return nil, err
	}
	if err := s.repo.SetInterventionPlan(ctx, &plan); err != nil {
		return nil, fmt.Errorf("failed to set intervention plan: %w", err)
	}

	s.confirmed = chosen
	s.newPlan = &plan
	s.tasks = evaluator.TasksForPlan(plan)
	s.state = StateResolved

	s.logger.Info("Solution confirmed",
		zap.String("encounter_id", s.encounterID),
		zap.String("resident_id", s.ResidentID()),
		zap.String("solution", string(chosen.Type)),
		zap.String("plan_id", plan.PlanID),
		zap.String("product", plan.ProductName),
	)
	summary := s.Snapshot()
	return &summary, nil
}

// Cancel 任意非终态取消，丢弃全部派生数据；危急值未确认时不允许丢弃
func (s *Session) Cancel() error {
	if s.state.Terminal() {
		return s.transitionError(StateCancelled)
	}
	if s.fault != nil {
		return ErrCriticalUnacknowledged
	}

	from := s.state
	s.reading = nil
	s.record = nil
	s.tier = ""
	s.tasks = nil
	s.audit = nil
	s.dropPercentage = nil
	s.solutions = nil
	s.confirmed = nil
	s.newPlan = nil
	s.state = StateCancelled

	s.logger.Info("Encounter cancelled",
		zap.String("encounter_id", s.encounterID),
		zap.String("resident_id", s.ResidentID()),
		zap.String("from_state", string(from)),
	)
	return nil
}

func (s *Session) saveRecord(ctx context.Context) error {
	if s.recordSaved {
		return nil
	}
	if err := s.repo.AppendScoreRecord(ctx, s.record); err != nil {
		return fmt.Errorf("failed to append score record: %w", err)
	}
	s.recordSaved = true
	return nil
}

func (s *Session) transitionError(to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
}

// planFromSolution 确认的方案转成新的干预方案
func planFromSolution(sol models.Solution, current models.InterventionPlan, planID string, now time.Time) models.InterventionPlan {
	plan := models.InterventionPlan{
		PlanID:      planID,
		ResidentID:  current.ResidentID,
		ProductName: current.ProductName,
		SKU:         current.SKU,
		Dosage:      current.Dosage,
		Source:      sol.Type,
		StartDate:   now,
	}

	switch sol.Type {
	case models.SolutionUpgrade:
		if sol.Product != nil {
			plan.ProductName = sol.Product.Name
			plan.SKU = sol.Product.SKU
			plan.Dosage = sol.Product.Dosage
		}
	case models.SolutionIncreaseDose:
		if plan.Dosage == "" {
			plan.Dosage = "x2"
		} else {
			plan.Dosage = plan.Dosage + " x2"
		}
	}
	return plan
}

func latestRecord(history []models.ScoreRecord) *models.ScoreRecord {
	var latest *models.ScoreRecord
	for i := range history {
		if latest == nil || !history[i].RecordedAt.Before(latest.RecordedAt) {
			rec := history[i]
			latest = &rec
		}
	}
	return latest
}

// referenceRecord 复查对比记录：最近的基线记录，没有基线时取最近一次记录
func referenceRecord(history []models.ScoreRecord) *models.ScoreRecord {
	var baselines []models.ScoreRecord
	for _, rec := range history {
		if rec.CaptureTag == models.CaptureBaseline {
			baselines = append(baselines, rec)
		}
	}
	if len(baselines) > 0 {
		return latestRecord(baselines)
	}
	return latestRecord(history)
}
