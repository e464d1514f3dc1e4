package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus represents the lifecycle state of an enrollment attempt.
// Values move forward only: started, in_progress, then success or error.
type ExecutionStatus string

const (
	StatusStarted    ExecutionStatus = "started"
	StatusInProgress ExecutionStatus = "in_progress"
	StatusSuccess    ExecutionStatus = "success"
	StatusError      ExecutionStatus = "error"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusStarted, StatusInProgress, StatusSuccess, StatusError:
		return true
	}
	return false
}

// NonTerminalStatuses lists the states a row may still leave.
var NonTerminalStatuses = []ExecutionStatus{StatusStarted, StatusInProgress}

// ErrorStage classifies why an attempt ended in error.
type ErrorStage string

const (
	StageValidation         ErrorStage = "validation"
	StageDuplicate          ErrorStage = "duplicate_submission"
	StageAddressNotFound    ErrorStage = "address_not_found"
	StageCampusNotFound     ErrorStage = "campus_not_found"
	StageCheckoutFailed     ErrorStage = "checkout_failed"
	StageNotFinalized       ErrorStage = "not_finalized"
	StageProcessSpawnFailed ErrorStage = "process_spawn_failed"
	StageProcessFailed      ErrorStage = "process_failed"
	StageUploadFailed       ErrorStage = "upload_failed"
)

// ArtifactMap stores named artifact locations as JSON in the database.
type ArtifactMap map[string]string

// Value implements the driver.Valuer interface for database serialization.
func (m ArtifactMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *ArtifactMap) Scan(value interface{}) error {
	if value == nil {
		*m = ArtifactMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan ArtifactMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// ExecutionLog is the durable record of one enrollment attempt.
// Applicant fields are written once at creation; Output only ever grows.
type ExecutionLog struct {
	ID                uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	CorrelationID     string          `gorm:"type:text;not null;index:idx_exec_logs_correlation" json:"correlation_id"`
	Category          Category        `gorm:"type:text;not null;index:idx_exec_logs_category" json:"category"`
	StartedAt         time.Time       `gorm:"not null;index:idx_exec_logs_started_at" json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds   *int64          `json:"duration_seconds,omitempty"`
	DurationFormatted string          `gorm:"type:text" json:"duration_formatted,omitempty"`
	Applicant         Applicant       `gorm:"embedded;embeddedPrefix:applicant_" json:"applicant"`
	Status            ExecutionStatus `gorm:"type:text;not null;index:idx_exec_logs_status;default:started" json:"status"`
	Output            string          `gorm:"type:text" json:"output"`

	EnrollmentNumber         string              `gorm:"type:text" json:"enrollment_number,omitempty"`
	ExternalEnrollmentNumber string              `gorm:"type:text" json:"external_enrollment_number,omitempty"`
	CampaignCode             string              `gorm:"type:text" json:"campaign_code,omitempty"`
	CampaignName             string              `gorm:"type:text" json:"campaign_name,omitempty"`
	TuitionFee               decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"tuition_fee"`
	MonthlyFee               decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"monthly_fee"`
	InstallmentCount         *int                `json:"installment_count,omitempty"`
	ApprovalArtifactPath     string              `gorm:"type:text" json:"approval_artifact_path,omitempty"`
	PaymentSlipArtifactPath  string              `gorm:"type:text" json:"payment_slip_artifact_path,omitempty"`
	Artifacts                ArtifactMap         `gorm:"type:text" json:"artifacts,omitempty"`

	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	ErrorStage   ErrorStage `gorm:"type:text;index:idx_exec_logs_error_stage" json:"error_stage,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for ExecutionLog.
func (ExecutionLog) TableName() string {
	return "execution_logs"
}

// SuccessResult carries the data written by the success finalizer.
type SuccessResult struct {
	EnrollmentNumber         string
	ExternalEnrollmentNumber string
	CampaignCode             string
	CampaignName             string
	TuitionFee               decimal.NullDecimal
	MonthlyFee               decimal.NullDecimal
	InstallmentCount         *int
	ApprovalArtifactPath     string
	PaymentSlipArtifactPath  string
	Artifacts                ArtifactMap
	Note                     string
}

// FailureResult carries the data written by the error finalizer.
type FailureResult struct {
	Stage   ErrorStage
	Message string
}

// FormatDuration renders d the way operators read it, e.g. "2m 14s".
func FormatDuration(d time.Duration) string {
	total := int64(d.Round(time.Second) / time.Second)
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
