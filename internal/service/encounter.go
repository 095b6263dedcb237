package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-care/internal/evaluator"
	"wisefido-care/internal/models"
	"wisefido-care/internal/publisher"
	"wisefido-care/internal/report"
	"wisefido-care/internal/repository"
	"wisefido-care/internal/store"
	"wisefido-care/internal/workflow"

	"go.uber.org/zap"
)

// encounter 进行中的检测；Session 本身不做并发控制，由 mu 串行化
type encounter struct {
	mu      sync.Mutex
	session *workflow.Session
}

// EncounterService 外壳侧的检测服务：持有进行中的检测、住户锁、结果广播
type EncounterService struct {
	repo       repository.CareRepository
	lock       *store.EncounterLock
	publisher  publisher.Publisher
	logger     *zap.Logger
	windowDays int
	now        func() time.Time

	mu         sync.Mutex
	encounters map[string]*encounter
}

// EncounterOption 可选配置
type EncounterOption func(*EncounterService)

// WithComplianceWindowDays 打卡审计窗口
func WithComplianceWindowDays(days int) EncounterOption {
	return func(s *EncounterService) { s.windowDays = days }
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) EncounterOption {
	return func(s *EncounterService) { s.now = now }
}

// NewEncounterService 创建检测服务
func NewEncounterService(
	repo repository.CareRepository,
	lock *store.EncounterLock,
	pub publisher.Publisher,
	logger *zap.Logger,
	opts ...EncounterOption,
) *EncounterService {
	if pub == nil {
		pub = publisher.NopPublisher{}
	}
	s := &EncounterService{
		repo:       repo,
		lock:       lock,
		publisher:  pub,
		logger:     logger,
		windowDays: evaluator.DefaultComplianceWindowDays,
		now:        time.Now,
		encounters: map[string]*encounter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartEncounter 为住户开启一次检测（同一住户同时只能有一个）
func (s *EncounterService) StartEncounter(ctx context.Context, residentID string, tag models.CaptureTag) (*workflow.Summary, error) {
	session := workflow.NewSession(s.repo, s.logger,
		workflow.WithClock(s.now),
		workflow.WithComplianceWindowDays(s.windowDays),
	)
	encounterID := session.EncounterID()

	if residentID == "" {
		return nil, fmt.Errorf("%w: resident_id is required", evaluator.ErrInvalidInput)
	}
	if err := s.lock.Acquire(ctx, residentID, encounterID); err != nil {
		return nil, err
	}
	if err := session.Start(ctx, residentID, tag); err != nil {
		s.releaseLock(residentID, encounterID)
		return nil, err
	}

	s.mu.Lock()
	s.encounters[encounterID] = &encounter{session: session}
	s.mu.Unlock()

	summary := session.Snapshot()
	return &summary, nil
}

// SubmitReading 提交采集结果；危急值时返回快照和 *evaluator.CriticalValueError
func (s *EncounterService) SubmitReading(ctx context.Context, encounterID string, reading models.Reading) (*workflow.Summary, error) {
	return s.withSession(encounterID, func(session *workflow.Session) error {
		return session.SubmitReading(ctx, reading)
	})
}

// AcknowledgeCritical 人工确认危急值
func (s *EncounterService) AcknowledgeCritical(_ context.Context, encounterID, by string) (*workflow.Summary, error) {
	return s.withSession(encounterID, func(session *workflow.Session) error {
		return session.AcknowledgeCritical(by)
	})
}

// Escalate 复查未改善时进入方案调整
func (s *EncounterService) Escalate(ctx context.Context, encounterID string) (*workflow.Summary, error) {
	return s.withSession(encounterID, func(session *workflow.Session) error {
		return session.Escalate(ctx)
	})
}

// Complete 结束非升级流程的检测
func (s *EncounterService) Complete(ctx context.Context, encounterID string) (*workflow.Summary, error) {
	return s.finish(ctx, encounterID, func(session *workflow.Session) error {
		_, err := session.Complete(ctx)
		return err
	})
}

// Confirm 确认调整方案并结束检测；加强执行方案会给护理员发提醒
func (s *EncounterService) Confirm(ctx context.Context, encounterID string, solutionType models.SolutionType) (*workflow.Summary, error) {
	summary, err := s.finish(ctx, encounterID, func(session *workflow.Session) error {
		_, err := session.Confirm(ctx, solutionType)
		return err
	})
	if err != nil {
		return summary, err
	}

	if solutionType == models.SolutionReinforceCompliance && summary.Plan != nil {
		nudge := &publisher.Nudge{
			ResidentID:  summary.ResidentID,
			EncounterID: summary.EncounterID,
			PlanID:      summary.Plan.PlanID,
			Message:     "Supervised administration required: check in after each dose of " + summary.Plan.ProductName,
			SentAt:      s.now(),
		}
		if err := s.publisher.PublishNudge(ctx, nudge); err != nil {
			s.logger.Warn("Compliance nudge not delivered",
				zap.String("encounter_id", encounterID),
				zap.Error(err),
			)
		}
	}
	return summary, nil
}

// Cancel 取消检测，不落任何数据
func (s *EncounterService) Cancel(ctx context.Context, encounterID string) (*workflow.Summary, error) {
	return s.finish(ctx, encounterID, func(session *workflow.Session) error {
		return session.Cancel()
	})
}

// GetEncounter 进行中检测的快照
func (s *EncounterService) GetEncounter(encounterID string) (*workflow.Summary, error) {
	enc, err := s.get(encounterID)
	if err != nil {
		return nil, err
	}
	enc.mu.Lock()
	defer enc.mu.Unlock()

	summary := enc.session.Snapshot()
	return &summary, nil
}

// ActiveEncounters 进行中的检测数
func (s *EncounterService) ActiveEncounters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.encounters)
}

// Worklist 工作台列表：可按分层筛选，告警置顶，分数升序
func (s *EncounterService) Worklist(ctx context.Context, tier models.Tier) ([]*models.Resident, error) {
	residents, err := s.repo.ListResidents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list residents: %w", err)
	}
	return evaluator.SortWorklist(evaluator.FilterByTier(residents, tier)), nil
}

// TierCounts 各分层人数
func (s *EncounterService) TierCounts(ctx context.Context) (evaluator.TierCounts, error) {
	residents, err := s.repo.ListResidents(ctx)
	if err != nil {
		return evaluator.TierCounts{}, fmt.Errorf("failed to list residents: %w", err)
	}
	return evaluator.CountTiers(residents), nil
}

// ResidentTrend 住户历史分数走势
func (s *EncounterService) ResidentTrend(ctx context.Context, residentID string) (evaluator.ScoreTrend, error) {
	records, err := s.repo.ListScoreRecords(ctx, residentID)
	if err != nil {
		return evaluator.ScoreTrend{}, fmt.Errorf("failed to list score records: %w", err)
	}
	return evaluator.Trend(records)
}

// RecordTaskCompletion 任务打卡，只能记到住户当前生效方案上
func (s *EncounterService) RecordTaskCompletion(ctx context.Context, completion *models.TaskCompletion) error {
	if completion == nil || completion.ResidentID == "" {
		return fmt.Errorf("%w: resident_id is required", evaluator.ErrInvalidInput)
	}
	plan, err := s.repo.GetInterventionPlan(ctx, completion.ResidentID)
	if err != nil {
		return fmt.Errorf("failed to get intervention plan: %w", err)
	}
	if plan == nil {
		return fmt.Errorf("%w: resident %s has no active intervention plan", evaluator.ErrInvalidInput, completion.ResidentID)
	}

	c := *completion
	if c.PlanID == "" {
		c.PlanID = plan.PlanID
	}
	if c.PlanID != plan.PlanID {
		return fmt.Errorf("%w: plan %s is not active", evaluator.ErrInvalidInput, c.PlanID)
	}
	if c.Day.IsZero() {
		c.Day = s.now()
	}
	return s.repo.RecordTaskCompletion(ctx, &c)
}

// ExportWorklist 导出工作台 Excel
func (s *EncounterService) ExportWorklist(ctx context.Context, tier models.Tier) ([]byte, error) {
	residents, err := s.Worklist(ctx, tier)
	if err != nil {
		return nil, err
	}
	return report.GenerateWorklistExport(residents, s.now())
}

// Shutdown 释放所有进行中检测的住户锁（检测本身丢弃，不落库）
func (s *EncounterService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	open := s.encounters
	s.encounters = map[string]*encounter{}
	s.mu.Unlock()

	for id, enc := range open {
		enc.mu.Lock()
		residentID := enc.session.ResidentID()
		enc.mu.Unlock()
		if err := s.lock.Release(ctx, residentID, id); err != nil {
			s.logger.Warn("Failed to release encounter lock on shutdown",
				zap.String("encounter_id", id),
				zap.Error(err),
			)
		}
	}
	if len(open) > 0 {
		s.logger.Info("Discarded open encounters on shutdown", zap.Int("count", len(open)))
	}
}

func (s *EncounterService) get(encounterID string) (*encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc, ok := s.encounters[encounterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrEncounterNotFound, encounterID)
	}
	return enc, nil
}

// withSession 在检测上执行一步，出错时也返回最新快照
func (s *EncounterService) withSession(encounterID string, step func(*workflow.Session) error) (*workflow.Summary, error) {
	enc, err := s.get(encounterID)
	if err != nil {
		return nil, err
	}
	enc.mu.Lock()
	defer enc.mu.Unlock()

	stepErr := step(enc.session)
	summary := enc.session.Snapshot()
	return &summary, stepErr
}

// finish 执行结束类操作；进入终态后移除检测、释放锁、广播结果
func (s *EncounterService) finish(ctx context.Context, encounterID string, step func(*workflow.Session) error) (*workflow.Summary, error) {
	summary, err := s.withSession(encounterID, step)
	if err != nil || !summary.State.Terminal() {
		return summary, err
	}

	s.mu.Lock()
	delete(s.encounters, encounterID)
	s.mu.Unlock()
	s.releaseLock(summary.ResidentID, encounterID)

	if err := s.publisher.PublishOutcome(ctx, summary); err != nil {
		s.logger.Warn("Encounter outcome not delivered",
			zap.String("encounter_id", encounterID),
			zap.String("state", string(summary.State)),
			zap.Error(err),
		)
	}
	return summary, nil
}

func (s *EncounterService) releaseLock(residentID, encounterID string) {
	// 用独立 context，调用方取消后也要释放
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.lock.Release(ctx, residentID, encounterID); err != nil {
		s.logger.Warn("Failed to release encounter lock",
			zap.String("resident_id", residentID),
			zap.String("encounter_id", encounterID),
			zap.Error(err),
		)
	}
}
