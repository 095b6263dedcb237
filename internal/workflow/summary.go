package workflow

import (
	"wisefido-care/internal/evaluator"
	"wisefido-care/internal/models"
)

// Summary 流程快照，交给展示层渲染或持久化
type Summary struct {
	EncounterID string            `json:"encounter_id"`
	ResidentID  string            `json:"resident_id"`
	State       State             `json:"state"`
	CaptureTag  models.CaptureTag `json:"capture_tag,omitempty"`

	Score      *int        `json:"score,omitempty"`
	Tier       models.Tier `json:"tier,omitempty"`
	Diagnosis  string      `json:"diagnosis,omitempty"`
	SignalWeak bool        `json:"signal_weak"`

	ScoreChange        *int `json:"score_change,omitempty"`
	ReferenceScore     *int `json:"reference_score,omitempty"`
	Improvement        *int `json:"improvement,omitempty"`
	NotableImprovement bool `json:"notable_improvement"`
	FailedRecheck      bool `json:"failed_recheck"`

	CriticalFault  []evaluator.VitalBreach `json:"critical_fault,omitempty"`
	AcknowledgedBy string                  `json:"acknowledged_by,omitempty"`

	Tasks []models.Task `json:"tasks,omitempty"`

	Audit             *models.ComplianceAudit  `json:"audit,omitempty"`
	DropPercentage    *float64                 `json:"drop_percentage,omitempty"`
	Solutions         []models.Solution        `json:"solutions,omitempty"`
	ConfirmedSolution *models.Solution         `json:"confirmed_solution,omitempty"`
	Plan              *models.InterventionPlan `json:"plan,omitempty"`
	Record            *models.ScoreRecord      `json:"record,omitempty"`
}

// Snapshot 当前状态的只读副本
func (s *Session) Snapshot() Summary {
	sum := Summary{
		EncounterID:    s.encounterID,
		ResidentID:     s.ResidentID(),
		State:          s.state,
		CaptureTag:     s.tag,
		Tier:           s.tier,
		SignalWeak:     s.vitals.SignalWeak,
		AcknowledgedBy: s.acknowledgedBy,
		FailedRecheck:  s.FailedRecheck(),
	}

	if s.fault != nil {
		sum.CriticalFault = append([]evaluator.VitalBreach(nil), s.fault.Breaches...)
	}

	if s.record != nil {
		score := s.record.Score
		sum.Score = &score
		sum.Diagnosis = evaluator.Diagnosis(s.tier)

		if s.previous != nil {
			change := score - s.previous.Score
			sum.ScoreChange = &change
		}
		if s.tag == models.CaptureRecheck && s.reference != nil {
			ref := s.reference.Score
			improvement := score - ref
			sum.ReferenceScore = &ref
			sum.Improvement = &improvement
			sum.NotableImprovement = improvement >= NotableImprovementPoints
		}
		if s.recordSaved {
			rec := *s.record
			sum.Record = &rec
		}
	}

	if len(s.tasks) > 0 {
		sum.Tasks = append([]models.Task(nil), s.tasks...)
	}
	if s.audit != nil {
		audit := *s.audit
		sum.Audit = &audit
	}
	if s.dropPercentage != nil {
		pct := *s.dropPercentage
		sum.DropPercentage = &pct
	}
	if len(s.solutions) > 0 {
		sum.Solutions = append([]models.Solution(nil), s.solutions...)
	}
	if s.confirmed != nil {
		sol := *s.confirmed
		sum.ConfirmedSolution = &sol
	}
	if s.newPlan != nil {
		plan := *s.newPlan
		sum.Plan = &plan
	}
	return sum
}
