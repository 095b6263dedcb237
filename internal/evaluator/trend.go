package evaluator

import (
	"fmt"
	"sort"

	"wisefido-care/internal/models"
)

// ScoreTrend 住户历史分数走势（档案页结论）
type ScoreTrend struct {
	Records     int `json:"records"`
	FirstScore  int `json:"first_score"`
	LastScore   int `json:"last_score"`
	Improvement int `json:"improvement"` // 末次 - 首次
	MaxScore    int `json:"max_score"`
	MinScore    int `json:"min_score"`
	Days        int `json:"days"` // 首末记录相隔的日历天数
}

// Trend 按记录时间计算走势；没有记录时返回 ErrInvalidInput
func Trend(records []models.ScoreRecord) (ScoreTrend, error) {
	if len(records) == 0 {
		return ScoreTrend{}, fmt.Errorf("%w: no score records", ErrInvalidInput)
	}

	sorted := append([]models.ScoreRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RecordedAt.Before(sorted[j].RecordedAt)
	})

	first, last := sorted[0], sorted[len(sorted)-1]
	t := ScoreTrend{
		Records:     len(sorted),
		FirstScore:  first.Score,
		LastScore:   last.Score,
		Improvement: last.Score - first.Score,
		MaxScore:    first.Score,
		MinScore:    first.Score,
	}
	for _, r := range sorted[1:] {
		if r.Score > t.MaxScore {
			t.MaxScore = r.Score
		}
		if r.Score < t.MinScore {
			t.MinScore = r.Score
		}
	}
	loc := last.RecordedAt.Location()
	t.Days = int(calendarDay(last.RecordedAt, loc).Sub(calendarDay(first.RecordedAt.In(loc), loc)).Hours() / 24)
	return t, nil
}
