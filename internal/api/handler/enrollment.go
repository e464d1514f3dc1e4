package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/enrollflow/internal/domain"
	"github.com/timmy/enrollflow/internal/logger"
	"github.com/timmy/enrollflow/internal/runner"
	"github.com/timmy/enrollflow/internal/service"
)

// Enroller runs enrollments.
type Enroller interface {
	Run(ctx context.Context, req service.EnrollmentRequest) (*service.EnrollmentResponse, error)
	Start(ctx context.Context, req service.EnrollmentRequest) (*service.Accepted, error)
	Tracker() *service.Tracker
}

// EnrollmentHandler handles enrollment submission endpoints.
type EnrollmentHandler struct {
	enroller Enroller
}

// NewEnrollmentHandler creates a new enrollment handler.
func NewEnrollmentHandler(enroller Enroller) *EnrollmentHandler {
	return &EnrollmentHandler{enroller: enroller}
}

// EnrollRequest is the body of both enrollment endpoints: applicant fields
// plus the category-specific extras.
type EnrollRequest struct {
	Category      string `json:"category"`
	Name          string `json:"name"`
	NationalID    string `json:"national_id"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	BirthDate     string `json:"birth_date"`
	Course        string `json:"course"`
	ProgramLength string `json:"program_length"`
	Campus        string `json:"campus"`
	Modality      string `json:"modality"`
	CRMRecordID   string `json:"crm_record_id"`

	ExamYear          string            `json:"exam_year"`
	ExamScore         string            `json:"exam_score"`
	OriginInstitution string            `json:"origin_institution"`
	GraduationYear    string            `json:"graduation_year"`
	Extras            map[string]string `json:"extras"`
}

func (r *EnrollRequest) toService(category domain.Category) service.EnrollmentRequest {
	extras := map[string]string{}
	for k, v := range r.Extras {
		extras[k] = v
	}
	for k, v := range map[string]string{
		"exam_year":          r.ExamYear,
		"exam_score":         r.ExamScore,
		"origin_institution": r.OriginInstitution,
		"graduation_year":    r.GraduationYear,
	} {
		if v != "" {
			extras[k] = v
		}
	}
	return service.EnrollmentRequest{
		Category: category,
		Applicant: domain.Applicant{
			Name:          r.Name,
			NationalID:    r.NationalID,
			Email:         r.Email,
			Phone:         r.Phone,
			BirthDate:     r.BirthDate,
			Course:        r.Course,
			ProgramLength: r.ProgramLength,
			Campus:        r.Campus,
			Modality:      r.Modality,
		},
		Extras:      extras,
		CRMRecordID: strings.TrimSpace(r.CRMRecordID),
	}
}

// Enroll handles POST /api/v1/enroll. It answers as soon as the log row
// exists; the outcome is read later from /status or /logs/:id.
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	ctx := c.Request.Context()

	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid enroll request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		rejectInvalid(c, err)
		return
	}

	acc, err := h.enroller.Start(ctx, req.toService(category))
	if err != nil {
		rejectInvalid(c, err)
		return
	}
	logger.CtxInfo(ctx, "Enrollment accepted: log_id=%d, correlation_id=%s", acc.LogID, acc.CorrelationID)
	c.JSON(http.StatusAccepted, acc)
}

// EnrollSync handles POST /api/v1/enroll/sync/:category. Business failures
// answer 200 with success=false so callers branch on the body.
func (h *EnrollmentHandler) EnrollSync(c *gin.Context) {
	ctx := c.Request.Context()

	category, err := domain.ParseCategory(c.Param("category"))
	if err != nil {
		rejectInvalid(c, err)
		return
	}

	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid enroll request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.enroller.Run(ctx, req.toService(category))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, runner.ErrSpawn):
		c.JSON(http.StatusInternalServerError, resp)
	default:
		rejectInvalid(c, err)
	}
}

// Status handles GET /api/v1/status.
func (h *EnrollmentHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.enroller.Tracker().Snapshot())
}

// rejectInvalid writes the 400 body for validation failures and falls back
// to 500 for anything unexpected.
func rejectInvalid(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"stage":   domain.StageValidation,
			"message": ve.Error(),
			"missing": ve.Missing,
			"invalid": ve.Invalid,
		})
	case errors.Is(err, domain.ErrUnknownCategory):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"stage":   domain.StageValidation,
			"message": err.Error(),
		})
	default:
		logger.CtxError(c.Request.Context(), "Enrollment request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
