package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OutcomeKind names the variant of a classified run.
type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeDuplicate       OutcomeKind = "duplicate"
	OutcomeAddressNotFound OutcomeKind = "address_not_found"
	OutcomeCampusNotFound  OutcomeKind = "campus_not_found"
	OutcomeCheckoutFailed  OutcomeKind = "checkout_failed"
	OutcomeNotFinalized    OutcomeKind = "not_finalized"
	OutcomeProcessFailed   OutcomeKind = "process_failed"
)

// Outcome is the typed result of inspecting a finished worker run.
// Exactly one concrete variant is produced per run.
type Outcome interface {
	Kind() OutcomeKind
	// Stage is the error stage for failure variants, empty for Success.
	Stage() ErrorStage
	// Message is a human-readable summary suitable for the caller.
	Message() string
}

// Financials are the amounts the worker reported on the checkout page.
type Financials struct {
	TuitionFee       decimal.NullDecimal `json:"tuition_fee"`
	MonthlyFee       decimal.NullDecimal `json:"monthly_fee"`
	InstallmentCount *int                `json:"installment_count,omitempty"`
}

// Success is a run the worker reported as finalized.
type Success struct {
	EnrollmentNumber         string     `json:"enrollment_number,omitempty"`
	ExternalEnrollmentNumber string     `json:"external_enrollment_number,omitempty"`
	CampaignCode             string     `json:"campaign_code,omitempty"`
	CampaignName             string     `json:"campaign_name,omitempty"`
	CampusUsed               string     `json:"campus_used,omitempty"`
	CategoryUsed             string     `json:"category_used,omitempty"`
	CampusFallback           bool       `json:"campus_fallback,omitempty"`
	CategoryFallback         bool       `json:"category_fallback,omitempty"`
	ApprovalArtifactPath     string     `json:"approval_artifact_path,omitempty"`
	PaymentSlipArtifactPath  string     `json:"payment_slip_artifact_path,omitempty"`
	Financials               Financials `json:"financials"`
}

func (Success) Kind() OutcomeKind { return OutcomeSuccess }
func (Success) Stage() ErrorStage { return "" }
func (s Success) Message() string {
	if s.EnrollmentNumber != "" {
		return "enrollment finalized: " + s.EnrollmentNumber
	}
	return "enrollment finalized"
}

// HasArtifacts reports whether the worker produced any file to attach.
func (s Success) HasArtifacts() bool {
	return s.ApprovalArtifactPath != "" || s.PaymentSlipArtifactPath != ""
}

// Duplicate means the applicant already holds a submission.
type Duplicate struct{}

func (Duplicate) Kind() OutcomeKind { return OutcomeDuplicate }
func (Duplicate) Stage() ErrorStage { return StageDuplicate }
func (Duplicate) Message() string   { return "applicant already has a submission" }

// AddressNotFound means the postal code lookup failed on the target site.
type AddressNotFound struct{}

func (AddressNotFound) Kind() OutcomeKind { return OutcomeAddressNotFound }
func (AddressNotFound) Stage() ErrorStage { return StageAddressNotFound }
func (AddressNotFound) Message() string   { return "address or postal code not found" }

// CampusNotFound means the requested campus is not offered.
type CampusNotFound struct {
	Requested string `json:"requested"`
}

func (CampusNotFound) Kind() OutcomeKind { return OutcomeCampusNotFound }
func (CampusNotFound) Stage() ErrorStage { return StageCampusNotFound }
func (c CampusNotFound) Message() string {
	if c.Requested == "" {
		return "campus not found"
	}
	return fmt.Sprintf("campus not found: %s", c.Requested)
}

// CheckoutFailed means the worker never reached the checkout step.
type CheckoutFailed struct{}

func (CheckoutFailed) Kind() OutcomeKind { return OutcomeCheckoutFailed }
func (CheckoutFailed) Stage() ErrorStage { return StageCheckoutFailed }
func (CheckoutFailed) Message() string   { return "checkout step was not reached" }

// NotFinalized means the run ended without a definitive success marker.
type NotFinalized struct{}

func (NotFinalized) Kind() OutcomeKind { return OutcomeNotFinalized }
func (NotFinalized) Stage() ErrorStage { return StageNotFinalized }
func (NotFinalized) Message() string   { return "enrollment was not finalized" }

// ProcessFailed means the worker exited abnormally with no recognizable marker.
type ProcessFailed struct {
	ExitCode int  `json:"exit_code"`
	TimedOut bool `json:"timed_out,omitempty"`
}

func (ProcessFailed) Kind() OutcomeKind { return OutcomeProcessFailed }
func (ProcessFailed) Stage() ErrorStage { return StageProcessFailed }
func (p ProcessFailed) Message() string {
	if p.TimedOut {
		return "worker exceeded the time limit"
	}
	return fmt.Sprintf("worker exited with code %d", p.ExitCode)
}
