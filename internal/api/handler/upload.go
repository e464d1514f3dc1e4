package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/enrollflow/internal/artifact"
	"github.com/timmy/enrollflow/internal/domain"
	"github.com/timmy/enrollflow/internal/logger"
)

// UploadCoordinator validates and runs CRM attachment tasks.
type UploadCoordinator interface {
	Validate(task domain.UploadTask) error
	Upload(ctx context.Context, task domain.UploadTask) (*domain.UploadResult, error)
}

// UploadHandler serves the standalone attachment endpoint.
type UploadHandler struct {
	coordinator      UploadCoordinator
	approvalField    string
	paymentSlipField string
}

// NewUploadHandler creates a new upload handler. coordinator may be nil when
// the CRM integration is disabled.
func NewUploadHandler(coordinator UploadCoordinator, approvalField, paymentSlipField string) *UploadHandler {
	return &UploadHandler{
		coordinator:      coordinator,
		approvalField:    approvalField,
		paymentSlipField: paymentSlipField,
	}
}

// UploadRequest names the CRM record and the files to attach. Files may be
// listed explicitly or through the two well-known path fields.
type UploadRequest struct {
	RecordID        string               `json:"record_id" binding:"required"`
	NationalID      string               `json:"national_id" binding:"required"`
	ApprovalPath    string               `json:"approval_path"`
	PaymentSlipPath string               `json:"payment_slip_path"`
	Files           []domain.FieldUpload `json:"files"`
}

func (h *UploadHandler) task(req *UploadRequest) domain.UploadTask {
	task := domain.UploadTask{
		RecordID:   strings.TrimSpace(req.RecordID),
		NationalID: domain.Digits(req.NationalID),
	}
	if req.ApprovalPath != "" {
		task.Fields = append(task.Fields, domain.FieldUpload{FieldName: h.approvalField, LocalPath: req.ApprovalPath})
	}
	if req.PaymentSlipPath != "" {
		task.Fields = append(task.Fields, domain.FieldUpload{FieldName: h.paymentSlipField, LocalPath: req.PaymentSlipPath})
	}
	task.Fields = append(task.Fields, req.Files...)
	return task
}

// Upload handles POST /api/v1/upload.
func (h *UploadHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	if h.coordinator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "CRM integration is disabled"})
		return
	}

	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task := h.task(&req)

	if err := h.coordinator.Validate(task); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, artifact.ErrMissing) {
			status = http.StatusNotFound
		}
		logger.CtxWarn(ctx, "Upload rejected: record=%s, error=%v", task.RecordID, err)
		c.JSON(status, gin.H{"success": false, "stage": domain.StageValidation, "error": err.Error()})
		return
	}

	result, err := h.coordinator.Upload(ctx, task)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "stage": domain.StageUploadFailed, "error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": result.Complete(),
		"partial": result.Partial(),
		"result":  result,
	})
}
