package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/enrollflow/internal/domain"
	"github.com/timmy/enrollflow/internal/logger"
	"github.com/timmy/enrollflow/internal/repository"
)

// NoLog is the id handed out when a log row could not be created.
// Every write against it fails with ErrNoLog and touches nothing.
const NoLog uint = 0

// ErrNoLog is returned by writes addressed to NoLog.
var ErrNoLog = errors.New("no execution log for this run")

const lineTimeFormat = "2006-01-02 15:04:05"

// LogRepository is the persistence the store writes through.
type LogRepository interface {
	Create(ctx context.Context, log *domain.ExecutionLog) error
	AppendOutput(ctx context.Context, id uint, text string) error
	MarkInProgress(ctx context.Context, id uint, text string) error
	FinalizeSuccess(ctx context.Context, id uint, result *domain.SuccessResult, text string) error
	FinalizeError(ctx context.Context, id uint, result *domain.FailureResult, text string) error
	GetByID(ctx context.Context, id uint) (*domain.ExecutionLog, error)
	List(ctx context.Context, filter repository.ExecutionLogFilter) ([]domain.ExecutionLog, error)
	Count(ctx context.Context, filter repository.ExecutionLogFilter) (int64, error)
	Stats(ctx context.Context, period repository.StatsPeriod) (*repository.ExecutionStats, error)
}

// ExecutionLogStore is the append-only record of enrollment attempts.
// Writes return errors rather than panicking or blocking; callers on the
// enrollment path discard them through bestEffort.
type ExecutionLogStore struct {
	repo LogRepository
	now  func() time.Time
}

// NewExecutionLogStore creates a store over repo.
func NewExecutionLogStore(repo LogRepository) *ExecutionLogStore {
	return &ExecutionLogStore{repo: repo, now: time.Now}
}

// Create inserts a started row and returns its id. On failure it returns
// NoLog together with the error so the run can proceed unlogged.
func (s *ExecutionLogStore) Create(ctx context.Context, applicant domain.Applicant, category domain.Category, correlationID string) (uint, error) {
	log := &domain.ExecutionLog{
		CorrelationID: correlationID,
		Category:      category,
		Applicant:     applicant,
		StartedAt:     s.now(),
		Output:        s.line("execution started: " + string(category)),
	}
	if err := s.repo.Create(ctx, log); err != nil {
		return NoLog, fmt.Errorf("create execution log: %w", err)
	}
	return log.ID, nil
}

// AppendOutput adds one timestamped line per line of text.
func (s *ExecutionLogStore) AppendOutput(ctx context.Context, id uint, text string) error {
	if id == NoLog {
		return ErrNoLog
	}
	return s.repo.AppendOutput(ctx, id, s.lines(text))
}

// AppendLines adds pre-split worker lines in a single write.
func (s *ExecutionLogStore) AppendLines(ctx context.Context, id uint, lines []string) error {
	if id == NoLog {
		return ErrNoLog
	}
	if len(lines) == 0 {
		return nil
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(s.line(l))
	}
	return s.repo.AppendOutput(ctx, id, b.String())
}

// MarkInProgress appends note and moves a started row to in_progress.
func (s *ExecutionLogStore) MarkInProgress(ctx context.Context, id uint, note string) error {
	if id == NoLog {
		return ErrNoLog
	}
	return s.repo.MarkInProgress(ctx, id, s.lines(note))
}

// FinalizeSuccess sets the success result once. A second finalization of
// either kind returns repository.ErrAlreadyFinalized and leaves the row intact.
func (s *ExecutionLogStore) FinalizeSuccess(ctx context.Context, id uint, result *domain.SuccessResult) error {
	if id == NoLog {
		return ErrNoLog
	}
	text := "execution finished: success"
	if result.EnrollmentNumber != "" {
		text += " (enrollment " + result.EnrollmentNumber + ")"
	}
	if result.Note != "" {
		text += "\n" + result.Note
	}
	return s.repo.FinalizeSuccess(ctx, id, result, s.lines(text))
}

// FinalizeError sets the error result once.
func (s *ExecutionLogStore) FinalizeError(ctx context.Context, id uint, result *domain.FailureResult) error {
	if id == NoLog {
		return ErrNoLog
	}
	text := fmt.Sprintf("execution finished: error [%s] %s", result.Stage, result.Message)
	return s.repo.FinalizeError(ctx, id, result, s.lines(text))
}

// Get returns one log row.
func (s *ExecutionLogStore) Get(ctx context.Context, id uint) (*domain.ExecutionLog, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns rows matching filter, newest first, and the total match count.
func (s *ExecutionLogStore) List(ctx context.Context, filter repository.ExecutionLogFilter) ([]domain.ExecutionLog, int64, error) {
	logs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// Stats aggregates rows over period.
func (s *ExecutionLogStore) Stats(ctx context.Context, period repository.StatsPeriod) (*repository.ExecutionStats, error) {
	return s.repo.Stats(ctx, period)
}

func (s *ExecutionLogStore) line(text string) string {
	return "[" + s.now().Format(lineTimeFormat) + "] " + text + "\n"
}

func (s *ExecutionLogStore) lines(text string) string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return ""
	}
	var b strings.Builder
	for _, l := range strings.Split(text, "\n") {
		b.WriteString(s.line(l))
	}
	return b.String()
}

// bestEffort logs a failed store write and drops it. The enrollment result
// never depends on the store.
func bestEffort(ctx context.Context, op string, err error) {
	if err == nil || errors.Is(err, ErrNoLog) {
		return
	}
	if errors.Is(err, repository.ErrAlreadyFinalized) {
		logger.CtxWarn(ctx, "Execution log %s skipped: row already finalized", op)
		return
	}
	logger.CtxWarn(ctx, "Execution log %s failed: %v", op, err)
}
