package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/enrollflow/internal/domain"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no log row has the requested id.
	ErrNotFound = errors.New("execution log not found")

	// ErrAlreadyFinalized is returned when a finalizer targets a terminal row.
	// The row is left untouched.
	ErrAlreadyFinalized = errors.New("execution log already finalized")
)

// ExecutionLogFilter narrows List queries. Zero values are ignored.
type ExecutionLogFilter struct {
	Status     domain.ExecutionStatus
	Category   domain.Category
	NationalID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// StatsPeriod selects the window for aggregate statistics.
type StatsPeriod string

const (
	PeriodToday StatsPeriod = "today"
	PeriodWeek  StatsPeriod = "week"
	PeriodMonth StatsPeriod = "month"
	PeriodAll   StatsPeriod = "all"
)

// Since returns the start of the period relative to now, or nil for PeriodAll.
func (p StatsPeriod) Since(now time.Time) *time.Time {
	var t time.Time
	switch p {
	case PeriodToday:
		y, m, d := now.Date()
		t = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case PeriodWeek:
		t = now.AddDate(0, 0, -7)
	case PeriodMonth:
		t = now.AddDate(0, -1, 0)
	default:
		return nil
	}
	return &t
}

// ExecutionStats aggregates execution logs over a period.
type ExecutionStats struct {
	Period             StatsPeriod      `json:"period"`
	Total              int64            `json:"total"`
	ByStatus           map[string]int64 `json:"by_status"`
	ByCategory         map[string]int64 `json:"by_category"`
	ByErrorStage       map[string]int64 `json:"by_error_stage"`
	SuccessRate        float64          `json:"success_rate"`
	AvgDurationSeconds float64          `json:"avg_duration_seconds"`
}

// ExecutionLogRepository handles execution log persistence.
// Status transitions are guarded in SQL so a terminal row can never be rewritten.
type ExecutionLogRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewExecutionLogRepository creates a new ExecutionLogRepository.
func NewExecutionLogRepository(db *gorm.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db, now: time.Now}
}

// Create inserts a new log row in the started state.
func (r *ExecutionLogRepository) Create(ctx context.Context, log *domain.ExecutionLog) error {
	log.Status = domain.StatusStarted
	if log.StartedAt.IsZero() {
		log.StartedAt = r.now()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// AppendOutput concatenates text to the output column without reading it back.
func (r *ExecutionLogRepository) AppendOutput(ctx context.Context, id uint, text string) error {
	res := r.db.WithContext(ctx).
		Model(&domain.ExecutionLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"output":     gorm.Expr("COALESCE(output, '') || ?", text),
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInProgress appends text and moves a started row to in_progress.
// Rows in any other state keep their status.
func (r *ExecutionLogRepository) MarkInProgress(ctx context.Context, id uint, text string) error {
	res := r.db.WithContext(ctx).
		Model(&domain.ExecutionLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"output": gorm.Expr("COALESCE(output, '') || ?", text),
			"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				domain.StatusStarted, domain.StatusInProgress),
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeSuccess moves a non-terminal row to success.
func (r *ExecutionLogRepository) FinalizeSuccess(ctx context.Context, id uint, result *domain.SuccessResult, text string) error {
	fields := map[string]interface{}{
		"enrollment_number":          result.EnrollmentNumber,
		"external_enrollment_number": result.ExternalEnrollmentNumber,
		"campaign_code":              result.CampaignCode,
		"campaign_name":              result.CampaignName,
		"tuition_fee":                result.TuitionFee,
		"monthly_fee":                result.MonthlyFee,
		"installment_count":          result.InstallmentCount,
		"approval_artifact_path":     result.ApprovalArtifactPath,
		"payment_slip_artifact_path": result.PaymentSlipArtifactPath,
		"artifacts":                  result.Artifacts,
	}
	return r.finalize(ctx, id, domain.StatusSuccess, fields, text)
}

// FinalizeError moves a non-terminal row to error.
func (r *ExecutionLogRepository) FinalizeError(ctx context.Context, id uint, result *domain.FailureResult, text string) error {
	fields := map[string]interface{}{
		"error_stage":   result.Stage,
		"error_message": result.Message,
	}
	return r.finalize(ctx, id, domain.StatusError, fields, text)
}

func (r *ExecutionLogRepository) finalize(ctx context.Context, id uint, status domain.ExecutionStatus, fields map[string]interface{}, text string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return ErrAlreadyFinalized
	}

	now := r.now()
	elapsed := now.Sub(current.StartedAt)
	seconds := int64(elapsed.Round(time.Second) / time.Second)

	fields["status"] = status
	fields["ended_at"] = now
	fields["duration_seconds"] = seconds
	fields["duration_formatted"] = domain.FormatDuration(elapsed)
	fields["updated_at"] = now
	if text != "" {
		fields["output"] = gorm.Expr("COALESCE(output, '') || ?", text)
	}

	res := r.db.WithContext(ctx).
		Model(&domain.ExecutionLog{}).
		Where("id = ? AND status IN ?", id, domain.NonTerminalStatuses).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to finalize execution log %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// lost the race against another finalizer
		return ErrAlreadyFinalized
	}
	return nil
}

// GetByID retrieves a log row by its ID.
func (r *ExecutionLogRepository) GetByID(ctx context.Context, id uint) (*domain.ExecutionLog, error) {
	var log domain.ExecutionLog
	if err := r.db.WithContext(ctx).First(&log, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &log, nil
}

// List returns rows matching filter, newest start time first.
func (r *ExecutionLogRepository) List(ctx context.Context, filter ExecutionLogFilter) ([]domain.ExecutionLog, error) {
	query := r.applyFilter(r.db.WithContext(ctx).Model(&domain.ExecutionLog{}), filter)

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var logs []domain.ExecutionLog
	if err := query.
		Order("started_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// Count returns how many rows match filter, ignoring Limit and Offset.
func (r *ExecutionLogRepository) Count(ctx context.Context, filter ExecutionLogFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.db.WithContext(ctx).Model(&domain.ExecutionLog{}), filter).Count(&count).Error
	return count, err
}

func (r *ExecutionLogRepository) applyFilter(query *gorm.DB, filter ExecutionLogFilter) *gorm.DB {
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.NationalID != "" {
		query = query.Where("applicant_national_id = ?", filter.NationalID)
	}
	if filter.From != nil {
		query = query.Where("started_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("started_at <= ?", *filter.To)
	}
	return query
}

type groupCount struct {
	Bucket string
	Count  int64
}

// Stats aggregates rows started within period.
func (r *ExecutionLogRepository) Stats(ctx context.Context, period StatsPeriod) (*ExecutionStats, error) {
	if period == "" {
		period = PeriodAll
	}
	since := period.Since(r.now())
	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&domain.ExecutionLog{})
		if since != nil {
			q = q.Where("started_at >= ?", *since)
		}
		return q
	}

	stats := &ExecutionStats{Period: period}
	var err error
	if stats.ByStatus, err = r.groupBy(scoped(), "status"); err != nil {
		return nil, err
	}
	if stats.ByCategory, err = r.groupBy(scoped(), "category"); err != nil {
		return nil, err
	}
	if stats.ByErrorStage, err = r.groupBy(scoped().Where("status = ?", domain.StatusError), "error_stage"); err != nil {
		return nil, err
	}

	for _, n := range stats.ByStatus {
		stats.Total += n
	}
	finished := stats.ByStatus[string(domain.StatusSuccess)] + stats.ByStatus[string(domain.StatusError)]
	if finished > 0 {
		stats.SuccessRate = float64(stats.ByStatus[string(domain.StatusSuccess)]) / float64(finished)
	}

	var avg struct{ Avg *float64 }
	if err := scoped().
		Select("AVG(duration_seconds) AS avg").
		Where("duration_seconds IS NOT NULL").
		Scan(&avg).Error; err != nil {
		return nil, err
	}
	if avg.Avg != nil {
		stats.AvgDurationSeconds = *avg.Avg
	}

	return stats, nil
}

func (r *ExecutionLogRepository) groupBy(query *gorm.DB, column string) (map[string]int64, error) {
	var rows []groupCount
	if err := query.
		Select(column + " AS bucket, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to group execution logs by %s: %w", column, err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Bucket] = row.Count
	}
	return out, nil
}
