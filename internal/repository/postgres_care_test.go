package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"wisefido-care/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockCareDB(t *testing.T, tenantID string) (*sql.DB, sqlmock.Sqlmock, *PostgresCareRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresCareRepository(db, tenantID, zap.NewNop())
	return db, mock, repo
}

var residentRowColumns = []string{
	"resident_id", "name", "bed_number", "age", "zone", "alert", "score", "recorded_at",
}

// ============================================
// 住户
// ============================================

func TestGetResident_Success(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	residentID := uuid.New().String()
	checkedAt := time.Now()

	rows := sqlmock.NewRows(residentRowColumns).
		AddRow(residentID, "Zhang Jianguo", "205", 82, "A", "Intervention failure warning", 62, checkedAt)
	mock.ExpectQuery(`SELECT`).
		WithArgs(tenantID, residentID).
		WillReturnRows(rows)

	res, err := repo.GetResident(context.Background(), residentID)

	require.NoError(t, err)
	assert.Equal(t, residentID, res.ResidentID)
	assert.Equal(t, "205", res.BedNumber)
	assert.Equal(t, 82, res.Age)
	assert.Equal(t, "Intervention failure warning", res.Alert)
	require.NotNil(t, res.CurrentScore)
	assert.Equal(t, 62, *res.CurrentScore)
	require.NotNil(t, res.LastCheckAt)
	assert.Equal(t, checkedAt, *res.LastCheckAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResident_NeverChecked(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	residentID := uuid.New().String()
	rows := sqlmock.NewRows(residentRowColumns).
		AddRow(residentID, "Li Xiuying", "301", nil, nil, nil, nil, nil)
	mock.ExpectQuery(`SELECT`).
		WithArgs(tenantID, residentID).
		WillReturnRows(rows)

	res, err := repo.GetResident(context.Background(), residentID)

	require.NoError(t, err)
	assert.Nil(t, res.CurrentScore)
	assert.Nil(t, res.LastCheckAt)
	assert.Empty(t, res.Alert)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResident_NotFound(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	residentID := uuid.New().String()
	mock.ExpectQuery(`SELECT`).
		WithArgs(tenantID, residentID).
		WillReturnError(sql.ErrNoRows)

	res, err := repo.GetResident(context.Background(), residentID)

	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResident_TenantRequired(t *testing.T) {
	db, mock, repo := setupMockCareDB(t, "")
	defer db.Close()

	res, err := repo.GetResident(context.Background(), "r-1")

	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "tenant_id is required")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListResidents_Success(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	rows := sqlmock.NewRows(residentRowColumns).
		AddRow("r-1", "Zhang Jianguo", "205", 82, "A", nil, 62, time.Now()).
		AddRow("r-2", "Li Xiuying", "301", 79, "B", nil, nil, nil)
	mock.ExpectQuery(`SELECT .* FROM residents r`).
		WithArgs(tenantID).
		WillReturnRows(rows)

	residents, err := repo.ListResidents(context.Background())

	require.NoError(t, err)
	require.Len(t, residents, 2)
	assert.Equal(t, "r-1", residents[0].ResidentID)
	assert.Nil(t, residents[1].CurrentScore)

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 分数记录
// ============================================

func TestListScoreRecords_Success(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"record_id", "resident_id", "score", "capture_tag", "recorded_at", "reference_id"}).
		AddRow("rec-1", "r-1", 80, "baseline", base, nil).
		AddRow("rec-2", "r-1", 65, "recheck", base.AddDate(0, 0, 14), "rec-1")
	mock.ExpectQuery(`SELECT .* FROM score_records`).
		WithArgs(tenantID, "r-1").
		WillReturnRows(rows)

	records, err := repo.ListScoreRecords(context.Background(), "r-1")

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.CaptureBaseline, records[0].CaptureTag)
	assert.Nil(t, records[0].ReferenceID)
	assert.Equal(t, models.CaptureRecheck, records[1].CaptureTag)
	require.NotNil(t, records[1].ReferenceID)
	assert.Equal(t, "rec-1", *records[1].ReferenceID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendScoreRecord_Success(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	now := time.Now()
	refID := "rec-1"
	record := &models.ScoreRecord{
		RecordID:    "rec-2",
		ResidentID:  "r-1",
		Score:       65,
		CaptureTag:  models.CaptureRecheck,
		RecordedAt:  now,
		ReferenceID: &refID,
	}

	mock.ExpectExec(`INSERT INTO score_records`).
		WithArgs(tenantID, "rec-2", "r-1", 65, "recheck", now, "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AppendScoreRecord(context.Background(), record)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendScoreRecord_NoReference(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(`INSERT INTO score_records`).
		WithArgs(tenantID, "rec-1", "r-1", 91, "routine", now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AppendScoreRecord(context.Background(), &models.ScoreRecord{
		RecordID:   "rec-1",
		ResidentID: "r-1",
		Score:      91,
		CaptureTag: models.CaptureRoutine,
		RecordedAt: now,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendScoreRecord_Validation(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	tests := []struct {
		name   string
		record *models.ScoreRecord
		errMsg string
	}{
		{"nil record", nil, "score record is required"},
		{"missing id", &models.ScoreRecord{ResidentID: "r-1", CaptureTag: models.CaptureRoutine}, "record_id is required"},
		{"bad tag", &models.ScoreRecord{RecordID: "x", ResidentID: "r-1", CaptureTag: "weekly"}, "invalid capture_tag"},
		{"score too high", &models.ScoreRecord{RecordID: "x", ResidentID: "r-1", CaptureTag: models.CaptureRoutine, Score: 101}, "score out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.AppendScoreRecord(context.Background(), tt.record)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 干预方案
// ============================================

func TestGetInterventionPlan_Success(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"plan_id", "resident_id", "product_name", "sku", "dosage", "source", "start_date"}).
		AddRow("plan-1", "r-1", "Calcium tablets", nil, "1 tablet daily", nil, start)
	mock.ExpectQuery(`SELECT .* FROM intervention_plans`).
		WithArgs(tenantID, "r-1").
		WillReturnRows(rows)

	plan, err := repo.GetInterventionPlan(context.Background(), "r-1")

	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "plan-1", plan.PlanID)
	assert.Equal(t, "Calcium tablets", plan.ProductName)
	assert.Equal(t, "1 tablet daily", plan.Dosage)
	assert.Empty(t, plan.SKU)
	assert.Empty(t, plan.Source)
	assert.Equal(t, start, plan.StartDate)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInterventionPlan_None(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM intervention_plans`).
		WithArgs(tenantID, "r-1").
		WillReturnError(sql.ErrNoRows)

	plan, err := repo.GetInterventionPlan(context.Background(), "r-1")

	require.NoError(t, err)
	assert.Nil(t, plan)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetInterventionPlan_Success(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	now := time.Now()
	plan := &models.InterventionPlan{
		PlanID:      "plan-2",
		ResidentID:  "r-1",
		ProductName: "Liquid calcium",
		SKU:         "SKU-001",
		Dosage:      "10ml after meals",
		Source:      models.SolutionUpgrade,
		StartDate:   now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE intervention_plans`).
		WithArgs(tenantID, "r-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO intervention_plans`).
		WithArgs(tenantID, "plan-2", "r-1", "Liquid calcium", "SKU-001", "10ml after meals", "upgrade", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SetInterventionPlan(context.Background(), plan)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetInterventionPlan_InsertFailsRollsBack(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	plan := &models.InterventionPlan{
		PlanID:      "plan-2",
		ResidentID:  "r-1",
		ProductName: "Liquid calcium",
		StartDate:   time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE intervention_plans`).
		WithArgs(tenantID, "r-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO intervention_plans`).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := repo.SetInterventionPlan(context.Background(), plan)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert intervention plan")
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 打卡台账
// ============================================

func TestListTaskCompletions_Success(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	since := time.Date(2026, 10, 8, 15, 30, 0, 0, time.UTC)
	day := time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"resident_id", "plan_id", "day", "description", "completed"}).
		AddRow("r-1", "plan-1", day, "Administer Calcium tablets", true)
	mock.ExpectQuery(`SELECT .* FROM task_completions`).
		WithArgs(tenantID, "r-1", "plan-1", "2026-10-08").
		WillReturnRows(rows)

	completions, err := repo.ListTaskCompletions(context.Background(), "r-1", "plan-1", since)

	require.NoError(t, err)
	require.Len(t, completions, 1)
	assert.True(t, completions[0].Completed)
	assert.Equal(t, day, completions[0].Day)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTaskCompletions_SinceKeepsLocalCalendarDate(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	// UTC-4 的 10-09 零点是 UTC 的 10-09 04:00，按日期比较仍要包含 10-09 当天
	since := time.Date(2026, 10, 9, 0, 0, 0, 0, time.FixedZone("EDT", -4*3600))
	mock.ExpectQuery(`SELECT .* FROM task_completions`).
		WithArgs(tenantID, "r-1", "plan-1", "2026-10-09").
		WillReturnRows(sqlmock.NewRows([]string{"resident_id", "plan_id", "day", "description", "completed"}))

	completions, err := repo.ListTaskCompletions(context.Background(), "r-1", "plan-1", since)

	require.NoError(t, err)
	assert.Empty(t, completions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTaskCompletion_Upsert(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	day := time.Date(2026, 10, 9, 18, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO task_completions .* ON CONFLICT`).
		WithArgs(tenantID, "r-1", "plan-1", "2026-10-09", "Administer Calcium tablets", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordTaskCompletion(context.Background(), &models.TaskCompletion{
		ResidentID:  "r-1",
		PlanID:      "plan-1",
		Day:         day,
		Description: "Administer Calcium tablets",
		Completed:   true,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 商品目录
// ============================================

func TestGetUpgradeProduct_Success(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"sku", "name", "dosage", "effectiveness", "expected_improvement", "stock", "champion"}).
		AddRow("SKU-001", "Liquid calcium", "10ml after meals", 85, 30, "low", true)
	mock.ExpectQuery(`SELECT .* FROM intervention_products`).
		WithArgs(tenantID, "Calcium tablets").
		WillReturnRows(rows)

	p, err := repo.GetUpgradeProduct(context.Background(), "Calcium tablets")

	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Liquid calcium", p.Name)
	assert.Equal(t, 85, p.Effectiveness)
	assert.Equal(t, models.StockLow, p.Stock)
	assert.True(t, p.Champion)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUpgradeProduct_NoUpgradePath(t *testing.T) {
	tenantID := uuid.New().String()
	db, mock, repo := setupMockCareDB(t, tenantID)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM intervention_products`).
		WithArgs(tenantID, "Liquid calcium").
		WillReturnError(sql.ErrNoRows)

	p, err := repo.GetUpgradeProduct(context.Background(), "Liquid calcium")

	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, mock.ExpectationsWereMet())
}
