package evaluator

import (
	"sort"

	"wisefido-care/internal/models"
)

// TierCounts 各分层人数（档案列表筛选用）
type TierCounts struct {
	Risk      int `json:"risk"`
	Subhealth int `json:"subhealth"`
	Healthy   int `json:"healthy"`
	Unscored  int `json:"unscored"`
}

// CountTiers 统计各分层人数
func CountTiers(residents []*models.Resident) TierCounts {
	var c TierCounts
	for _, r := range residents {
		if r.CurrentScore == nil {
			c.Unscored++
			continue
		}
		switch Classify(*r.CurrentScore) {
		case models.TierRisk:
			c.Risk++
		case models.TierSubhealth:
			c.Subhealth++
		default:
			c.Healthy++
		}
	}
	return c
}

// FilterByTier 按分层筛选，tier 为空返回全部
func FilterByTier(residents []*models.Resident, tier models.Tier) []*models.Resident {
	out := make([]*models.Resident, 0, len(residents))
	for _, r := range residents {
		if tier == "" {
			out = append(out, r)
			continue
		}
		if r.CurrentScore != nil && Classify(*r.CurrentScore) == tier {
			out = append(out, r)
		}
	}
	return out
}

// SortWorklist 工作台排序：有告警的置顶，其余按分数从低到高，未检测的排最后
func SortWorklist(residents []*models.Resident) []*models.Resident {
	out := make([]*models.Resident, len(residents))
	copy(out, residents)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Alert != "") != (b.Alert != "") {
			return a.Alert != ""
		}
		if (a.CurrentScore == nil) != (b.CurrentScore == nil) {
			return a.CurrentScore != nil
		}
		if a.CurrentScore == nil {
			return false
		}
		return *a.CurrentScore < *b.CurrentScore
	})
	return out
}
