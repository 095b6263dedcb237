package report

import (
	"bytes"
	"fmt"
	"time"

	"wisefido-care/internal/evaluator"
	"wisefido-care/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	worklistSheet = "Worklist"
	summarySheet  = "Tier Summary"
)

// WorklistExportHeader 工作台导出表头
var WorklistExportHeader = []string{
	"Bed",
	"Name",
	"Age",
	"Score",
	"Tier",
	"Alert",
	"Last Check",
}

var worklistColumnWidths = []float64{
	10, // Bed
	20, // Name
	8,  // Age
	10, // Score
	12, // Tier
	30, // Alert
	20, // Last Check
}

// TierLabel 分层展示名
func TierLabel(tier models.Tier) string {
	switch tier {
	case models.TierRisk:
		return "Risk"
	case models.TierSubhealth:
		return "Subhealth"
	case models.TierHealthy:
		return "Healthy"
	}
	return "-"
}

// GenerateWorklistExport 生成工作台导出 Excel（按传入顺序写入，另附分层统计页）
func GenerateWorklistExport(residents []*models.Resident, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(worklistSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 风险分层标红
	riskStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#C00000"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create risk style: %w", err)
	}

	for col, header := range WorklistExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(worklistSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(worklistSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}

		colName, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(worklistSheet, colName, colName, worklistColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, res := range residents {
		row := i + 2 // 第1行是表头
		values := worklistRow(res)
		for col, value := range values {
			if value == nil {
				continue
			}
			if err := setCellValue(f, worklistSheet, col+1, row, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}

		if res.CurrentScore != nil && evaluator.Classify(*res.CurrentScore) == models.TierRisk {
			start, _ := excelize.CoordinatesToCellName(4, row)
			end, _ := excelize.CoordinatesToCellName(5, row)
			if err := f.SetCellStyle(worklistSheet, start, end, riskStyle); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set risk style: %w", err)
			}
		}
	}

	if err := f.SetPanes(worklistSheet, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	if err := writeSummarySheet(f, evaluator.CountTiers(residents), generatedAt); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

// worklistRow 一行数据，nil 表示空单元格
func worklistRow(res *models.Resident) []interface{} {
	row := make([]interface{}, len(WorklistExportHeader))
	row[0] = res.BedNumber
	row[1] = res.Name
	if res.Age > 0 {
		row[2] = res.Age
	}
	if res.CurrentScore != nil {
		row[3] = *res.CurrentScore
		row[4] = TierLabel(evaluator.Classify(*res.CurrentScore))
	} else {
		row[4] = TierLabel("")
	}
	if res.Alert != "" {
		row[5] = res.Alert
	}
	if res.LastCheckAt != nil {
		row[6] = res.LastCheckAt.Format("2006-01-02 15:04:05")
	}
	return row
}

func writeSummarySheet(f *excelize.File, counts evaluator.TierCounts, generatedAt time.Time) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Tier", "Residents"},
		{TierLabel(models.TierRisk), counts.Risk},
		{TierLabel(models.TierSubhealth), counts.Subhealth},
		{TierLabel(models.TierHealthy), counts.Healthy},
		{"Unscored", counts.Unscored},
		{"Generated At", generatedAt.Format("2006-01-02 15:04:05")},
	}
	for i, values := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	return nil
}

func setCellValue(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
