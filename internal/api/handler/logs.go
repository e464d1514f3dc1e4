package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/enrollflow/internal/domain"
	"github.com/timmy/enrollflow/internal/repository"
)

// LogReader is the read surface over execution logs.
type LogReader interface {
	Get(ctx context.Context, id uint) (*domain.ExecutionLog, error)
	List(ctx context.Context, filter repository.ExecutionLogFilter) ([]domain.ExecutionLog, int64, error)
	Stats(ctx context.Context, period repository.StatsPeriod) (*repository.ExecutionStats, error)
}

// LogHandler serves execution log queries.
type LogHandler struct {
	logs LogReader
}

// NewLogHandler creates a new log handler.
func NewLogHandler(logs LogReader) *LogHandler {
	return &LogHandler{logs: logs}
}

// ListLogsResponse is the body of GET /logs.
type ListLogsResponse struct {
	Logs   []domain.ExecutionLog `json:"logs"`
	Total  int64                 `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// ListLogs handles GET /api/v1/logs.
// Filters: status, category, national_id, from, to (RFC 3339 or YYYY-MM-DD), limit, offset.
func (h *LogHandler) ListLogs(c *gin.Context) {
	filter := repository.ExecutionLogFilter{
		Status:     domain.ExecutionStatus(c.Query("status")),
		NationalID: domain.Digits(c.Query("national_id")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + string(filter.Status)})
		return
	}
	if raw := c.Query("category"); raw != "" {
		category, err := domain.ParseCategory(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Category = category
	}

	var err error
	if filter.From, err = parseTimeParam(c.Query("from"), false); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
		return
	}
	if filter.To, err = parseTimeParam(c.Query("to"), true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
		return
	}

	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	logs, total, err := h.logs.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list logs: " + err.Error()})
		return
	}
	if logs == nil {
		logs = []domain.ExecutionLog{}
	}
	c.JSON(http.StatusOK, ListLogsResponse{Logs: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// GetLog handles GET /api/v1/logs/:id.
func (h *LogHandler) GetLog(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log id"})
		return
	}

	log, err := h.logs.Get(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Log not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get log: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, log)
}

// GetStats handles GET /api/v1/stats?period=today|week|month|all.
func (h *LogHandler) GetStats(c *gin.Context) {
	period := repository.StatsPeriod(c.DefaultQuery("period", string(repository.PeriodAll)))
	switch period {
	case repository.PeriodToday, repository.PeriodWeek, repository.PeriodMonth, repository.PeriodAll:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period: " + string(period)})
		return
	}

	stats, err := h.logs.Stats(c.Request.Context(), period)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// parseTimeParam accepts RFC 3339 or a bare date. A bare "to" date covers
// the whole day.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
