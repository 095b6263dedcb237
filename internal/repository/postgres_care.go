package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-care/internal/models"

	"go.uber.org/zap"
)

// PostgresCareRepository 健康检测数据（PostgreSQL，按租户隔离）
type PostgresCareRepository struct {
	db       *sql.DB
	tenantID string
	logger   *zap.Logger
}

// NewPostgresCareRepository 创建仓库，tenantID 为空时所有查询都会报错
func NewPostgresCareRepository(db *sql.DB, tenantID string, logger *zap.Logger) *PostgresCareRepository {
	return &PostgresCareRepository{
		db:       db,
		tenantID: tenantID,
		logger:   logger,
	}
}

// 确保实现了接口
var _ CareRepository = (*PostgresCareRepository)(nil)

const residentColumns = `
		r.resident_id::text,
		r.name,
		r.bed_number,
		r.age,
		r.zone,
		r.alert,
		s.score,
		s.recorded_at
	FROM residents r
	LEFT JOIN LATERAL (
		SELECT score, recorded_at
		FROM score_records
		WHERE tenant_id = r.tenant_id AND resident_id = r.resident_id
		ORDER BY recorded_at DESC
		LIMIT 1
	) s ON true
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResident(row rowScanner) (*models.Resident, error) {
	var res models.Resident
	var age, score sql.NullInt64
	var zone, alert sql.NullString
	var lastCheck sql.NullTime

	if err := row.Scan(
		&res.ResidentID,
		&res.Name,
		&res.BedNumber,
		&age,
		&zone,
		&alert,
		&score,
		&lastCheck,
	); err != nil {
		return nil, err
	}

	if age.Valid {
		res.Age = int(age.Int64)
	}
	if zone.Valid {
		res.Zone = zone.String
	}
	if alert.Valid {
		res.Alert = alert.String
	}
	if score.Valid {
		v := int(score.Int64)
		res.CurrentScore = &v
	}
	if lastCheck.Valid {
		t := lastCheck.Time
		res.LastCheckAt = &t
	}
	return &res, nil
}

// GetResident 住户信息 + 最近一次分数
func (r *PostgresCareRepository) GetResident(ctx context.Context, residentID string) (*models.Resident, error) {
	if r.tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if residentID == "" {
		return nil, fmt.Errorf("resident_id is required")
	}

	query := `SELECT` + residentColumns + `WHERE r.tenant_id = $1 AND r.resident_id = $2`

	res, err := scanResident(r.db.QueryRowContext(ctx, query, r.tenantID, residentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("resident %s: %w", residentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get resident: %w", err)
	}
	return res, nil
}

// ListResidents 工作台住户列表（排序交给 evaluator.SortWorklist）
func (r *PostgresCareRepository) ListResidents(ctx context.Context) ([]*models.Resident, error) {
	if r.tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `SELECT` + residentColumns + `WHERE r.tenant_id = $1 ORDER BY r.bed_number`

	rows, err := r.db.QueryContext(ctx, query, r.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list residents: %w", err)
	}
	defer rows.Close()

	residents := []*models.Resident{}
	for rows.Next() {
		res, err := scanResident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resident: %w", err)
		}
		residents = append(residents, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate residents: %w", err)
	}
	return residents, nil
}

// ListScoreRecords 分数历史，按时间升序
func (r *PostgresCareRepository) ListScoreRecords(ctx context.Context, residentID string) ([]models.ScoreRecord, error) {
	if r.tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT
			record_id::text,
			resident_id::text,
			score,
			capture_tag,
			recorded_at,
			reference_id::text
		FROM score_records
		WHERE tenant_id = $1 AND resident_id = $2
		ORDER BY recorded_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, r.tenantID, residentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list score records: %w", err)
	}
	defer rows.Close()

	records := []models.ScoreRecord{}
	for rows.Next() {
		var rec models.ScoreRecord
		var tag string
		var refID sql.NullString
		if err := rows.Scan(&rec.RecordID, &rec.ResidentID, &rec.Score, &tag, &rec.RecordedAt, &refID); err != nil {
			return nil, fmt.Errorf("failed to scan score record: %w", err)
		}
		rec.CaptureTag = models.CaptureTag(tag)
		if refID.Valid {
			id := refID.String
			rec.ReferenceID = &id
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate score records: %w", err)
	}
	return records, nil
}

// AppendScoreRecord 追加一条分数记录（只插入，不更新）
func (r *PostgresCareRepository) AppendScoreRecord(ctx context.Context, record *models.ScoreRecord) error {
	if r.tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if err := validateRecord(record); err != nil {
		return err
	}

	query := `
		INSERT INTO score_records (
			tenant_id,
			record_id,
			resident_id,
			score,
			capture_tag,
			recorded_at,
			reference_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var refID interface{}
	if record.ReferenceID != nil {
		refID = *record.ReferenceID
	}

	_, err := r.db.ExecContext(ctx, query, r.tenantID, record.RecordID, record.ResidentID,
		record.Score, string(record.CaptureTag), record.RecordedAt, refID)
	if err != nil {
		return fmt.Errorf("failed to append score record: %w", err)
	}

	r.logger.Debug("Score record appended",
		zap.String("tenant_id", r.tenantID),
		zap.String("resident_id", record.ResidentID),
		zap.String("record_id", record.RecordID),
		zap.Int("score", record.Score),
	)
	return nil
}

// GetInterventionPlan 当前生效的干预方案
func (r *PostgresCareRepository) GetInterventionPlan(ctx context.Context, residentID string) (*models.InterventionPlan, error) {
	if r.tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT
			plan_id::text,
			resident_id::text,
			product_name,
			sku,
			dosage,
			source,
			start_date
		FROM intervention_plans
		WHERE tenant_id = $1 AND resident_id = $2 AND active = true
		ORDER BY start_date DESC
		LIMIT 1
	`

	var plan models.InterventionPlan
	var sku, dosage, source sql.NullString
	err := r.db.QueryRowContext(ctx, query, r.tenantID, residentID).Scan(
		&plan.PlanID,
		&plan.ResidentID,
		&plan.ProductName,
		&sku,
		&dosage,
		&source,
		&plan.StartDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get intervention plan: %w", err)
	}

	plan.SKU = sku.String
	plan.Dosage = dosage.String
	plan.Source = models.SolutionType(source.String)
	return &plan, nil
}

// SetInterventionPlan 停用旧方案并写入新方案（同一事务）
func (r *PostgresCareRepository) SetInterventionPlan(ctx context.Context, plan *models.InterventionPlan) error {
	if r.tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if err := validatePlan(plan); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE intervention_plans
		SET active = false
		WHERE tenant_id = $1 AND resident_id = $2 AND active = true
	`, r.tenantID, plan.ResidentID)
	if err != nil {
		return fmt.Errorf("failed to deactivate intervention plans: %w", err)
	}

	var source interface{}
	if plan.Source != "" {
		source = string(plan.Source)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO intervention_plans (
			tenant_id,
			plan_id,
			resident_id,
			product_name,
			sku,
			dosage,
			source,
			start_date,
			active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)
	`, r.tenantID, plan.PlanID, plan.ResidentID, plan.ProductName, plan.SKU, plan.Dosage, source, plan.StartDate)
	if err != nil {
		return fmt.Errorf("failed to insert intervention plan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Intervention plan replaced",
		zap.String("tenant_id", r.tenantID),
		zap.String("resident_id", plan.ResidentID),
		zap.String("plan_id", plan.PlanID),
		zap.String("product", plan.ProductName),
	)
	return nil
}

// ListTaskCompletions 某方案自 since 起的打卡记录
func (r *PostgresCareRepository) ListTaskCompletions(ctx context.Context, residentID, planID string, since time.Time) ([]models.TaskCompletion, error) {
	if r.tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT
			resident_id::text,
			plan_id::text,
			day,
			description,
			completed
		FROM task_completions
		WHERE tenant_id = $1 AND resident_id = $2 AND plan_id = $3 AND day >= $4::date
		ORDER BY day ASC
	`

	rows, err := r.db.QueryContext(ctx, query, r.tenantID, residentID, planID, dateParam(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list task completions: %w", err)
	}
	defer rows.Close()

	completions := []models.TaskCompletion{}
	for rows.Next() {
		var c models.TaskCompletion
		if err := rows.Scan(&c.ResidentID, &c.PlanID, &c.Day, &c.Description, &c.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan task completion: %w", err)
		}
		completions = append(completions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task completions: %w", err)
	}
	return completions, nil
}

// RecordTaskCompletion 打卡（同一天同一任务重复打卡覆盖状态）
func (r *PostgresCareRepository) RecordTaskCompletion(ctx context.Context, completion *models.TaskCompletion) error {
	if r.tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if err := validateCompletion(completion); err != nil {
		return err
	}

	query := `
		INSERT INTO task_completions (
			tenant_id,
			resident_id,
			plan_id,
			day,
			description,
			completed
		) VALUES ($1, $2, $3, $4::date, $5, $6)
		ON CONFLICT (tenant_id, plan_id, day, description)
		DO UPDATE SET completed = EXCLUDED.completed
	`

	_, err := r.db.ExecContext(ctx, query, r.tenantID, completion.ResidentID, completion.PlanID,
		dateParam(completion.Day), completion.Description, completion.Completed)
	if err != nil {
		return fmt.Errorf("failed to record task completion: %w", err)
	}
	return nil
}

// GetUpgradeProduct 当前干预物的升级候选（冠军商品优先，其次有效率高的）
func (r *PostgresCareRepository) GetUpgradeProduct(ctx context.Context, currentProduct string) (*models.Product, error) {
	if r.tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT
			sku,
			name,
			dosage,
			effectiveness,
			expected_improvement,
			stock,
			champion
		FROM intervention_products
		WHERE tenant_id = $1 AND upgrades_from = $2
		ORDER BY champion DESC, effectiveness DESC
		LIMIT 1
	`

	var p models.Product
	var dosage sql.NullString
	var stock string
	err := r.db.QueryRowContext(ctx, query, r.tenantID, currentProduct).Scan(
		&p.SKU,
		&p.Name,
		&dosage,
		&p.Effectiveness,
		&p.ExpectedImprovement,
		&stock,
		&p.Champion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get upgrade product: %w", err)
	}
	p.Dosage = dosage.String
	p.Stock = models.StockStatus(stock)
	return &p, nil
}
