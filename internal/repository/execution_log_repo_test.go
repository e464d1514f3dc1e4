package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/enrollflow/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newLog(nationalID string, category domain.Category) *domain.ExecutionLog {
	return &domain.ExecutionLog{
		CorrelationID: "corr-" + nationalID,
		Category:      category,
		Applicant: domain.Applicant{
			Name:       "Maria Silva",
			NationalID: nationalID,
			Email:      "maria@example.com",
			Course:     "Enfermagem",
			Campus:     "Centro",
		},
	}
}

func TestExecutionLogRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutionLogRepository(newTestDB(t))

	log := newLog("12345678901", domain.CategoryStandardExam)
	require.NoError(t, repo.Create(ctx, log))
	require.NotZero(t, log.ID)

	got, err := repo.GetByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarted, got.Status)

	require.NoError(t, repo.MarkInProgress(ctx, log.ID, "line 1\n"))
	got, err = repo.GetByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)

	installments := 12
	require.NoError(t, repo.FinalizeSuccess(ctx, log.ID, &domain.SuccessResult{
		EnrollmentNumber: "265191841",
		CampaignCode:     "2542",
		CampaignName:     "Balcão 10%CT",
		TuitionFee:       decimal.NewNullDecimal(decimal.RequireFromString("1234.56")),
		InstallmentCount: &installments,
		Artifacts:        domain.ArtifactMap{"approval": "s3://bucket/a.png"},
	}, "done\n"))

	got, err = repo.GetByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.Equal(t, "265191841", got.EnrollmentNumber)
	assert.Equal(t, "2542", got.CampaignCode)
	require.NotNil(t, got.EndedAt)
	require.NotNil(t, got.DurationSeconds)
	assert.NotEmpty(t, got.DurationFormatted)
	assert.True(t, got.TuitionFee.Valid)
	assert.True(t, got.TuitionFee.Decimal.Equal(decimal.RequireFromString("1234.56")))
	require.NotNil(t, got.InstallmentCount)
	assert.Equal(t, 12, *got.InstallmentCount)
	assert.Equal(t, "s3://bucket/a.png", got.Artifacts["approval"])
	assert.Equal(t, "line 1\ndone\n", got.Output)
}

func TestExecutionLogRepository_TerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutionLogRepository(newTestDB(t))

	log := newLog("12345678901", domain.CategoryTransfer)
	require.NoError(t, repo.Create(ctx, log))
	require.NoError(t, repo.FinalizeError(ctx, log.ID, &domain.FailureResult{
		Stage:   domain.StageDuplicate,
		Message: "duplicate",
	}, ""))

	err := repo.FinalizeSuccess(ctx, log.ID, &domain.SuccessResult{EnrollmentNumber: "1"}, "")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	err = repo.FinalizeError(ctx, log.ID, &domain.FailureResult{Stage: domain.StageProcessFailed}, "")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	// in_progress marking keeps the terminal status
	require.NoError(t, repo.MarkInProgress(ctx, log.ID, "late line\n"))

	got, err := repo.GetByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Equal(t, domain.StageDuplicate, got.ErrorStage)
	assert.Empty(t, got.EnrollmentNumber)
}

func TestExecutionLogRepository_AppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutionLogRepository(newTestDB(t))

	log := newLog("12345678901", domain.CategoryOther)
	require.NoError(t, repo.Create(ctx, log))

	lines := []string{"a\n", "bb\n", "ccc\n", "dddd\n"}
	var want strings.Builder
	prevLen := 0
	for _, line := range lines {
		require.NoError(t, repo.AppendOutput(ctx, log.ID, line))
		want.WriteString(line)

		got, err := repo.GetByID(ctx, log.ID)
		require.NoError(t, err)
		assert.Equal(t, want.String(), got.Output)
		assert.GreaterOrEqual(t, len(got.Output), prevLen)
		prevLen = len(got.Output)
	}
}

func TestExecutionLogRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutionLogRepository(newTestDB(t))

	_, err := repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.AppendOutput(ctx, 999, "x"), ErrNotFound)
	assert.ErrorIs(t, repo.FinalizeError(ctx, 999, &domain.FailureResult{}, ""), ErrNotFound)
}

func TestExecutionLogRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutionLogRepository(newTestDB(t))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seed := []struct {
		nationalID string
		category   domain.Category
		offset     time.Duration
	}{
		{"11111111111", domain.CategoryStandardExam, 0},
		{"22222222222", domain.CategoryTransfer, time.Hour},
		{"11111111111", domain.CategoryTransfer, 2 * time.Hour},
	}
	for _, s := range seed {
		log := newLog(s.nationalID, s.category)
		log.StartedAt = base.Add(s.offset)
		require.NoError(t, repo.Create(ctx, log))
	}

	all, err := repo.List(ctx, ExecutionLogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].StartedAt.After(all[1].StartedAt), "expected newest first")

	byID, err := repo.List(ctx, ExecutionLogFilter{NationalID: "11111111111"})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	both, err := repo.List(ctx, ExecutionLogFilter{NationalID: "11111111111", Category: domain.CategoryTransfer})
	require.NoError(t, err)
	assert.Len(t, both, 1)

	from := base.Add(30 * time.Minute)
	to := base.Add(90 * time.Minute)
	ranged, err := repo.List(ctx, ExecutionLogFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "22222222222", ranged[0].Applicant.NationalID)

	count, err := repo.Count(ctx, ExecutionLogFilter{Status: domain.StatusStarted})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestExecutionLogRepository_Stats(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutionLogRepository(newTestDB(t))

	for i, outcome := range []string{"success", "success", "duplicate", "running"} {
		log := newLog(fmt.Sprintf("0000000000%d", i), domain.CategoryStandardExam)
		require.NoError(t, repo.Create(ctx, log))
		switch outcome {
		case "success":
			require.NoError(t, repo.FinalizeSuccess(ctx, log.ID, &domain.SuccessResult{}, ""))
		case "duplicate":
			require.NoError(t, repo.FinalizeError(ctx, log.ID, &domain.FailureResult{Stage: domain.StageDuplicate}, ""))
		}
	}

	stats, err := repo.Stats(ctx, PeriodAll)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.Total)
	assert.EqualValues(t, 2, stats.ByStatus["success"])
	assert.EqualValues(t, 1, stats.ByStatus["error"])
	assert.EqualValues(t, 1, stats.ByStatus["started"])
	assert.EqualValues(t, 4, stats.ByCategory["standard_exam"])
	assert.EqualValues(t, 1, stats.ByErrorStage["duplicate_submission"])
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.0001)
}

func TestStatsPeriod_Since(t *testing.T) {
	now := time.Date(2026, 5, 20, 15, 30, 0, 0, time.UTC)
	assert.Nil(t, PeriodAll.Since(now))
	assert.Equal(t, time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC), *PeriodToday.Since(now))
	assert.Equal(t, now.AddDate(0, 0, -7), *PeriodWeek.Since(now))
}
