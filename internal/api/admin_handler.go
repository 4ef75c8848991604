package api

import (
	"context"
	"errors"
	"net/http"

	"salesflow/internal/dto/req"
	"salesflow/internal/dto/resp"
	"salesflow/internal/repository"

	"github.com/gin-gonic/gin"
)

type AdminProvider interface {
	ListQueue(ctx context.Context, status string, limit, offset int) (*resp.QueueListResponse, error)
	QueueStats(ctx context.Context) (*resp.QueueStatsResponse, error)
	GetEntry(ctx context.Context, id int64) (*resp.QueueEntryItem, error)
	RequeueFailed(ctx context.Context, id int64) error
	ListLeads(ctx context.Context, limit, offset int) (*resp.LeadListResponse, error)
	Conversation(ctx context.Context, userKey string, limit int) (*resp.ConversationResponse, error)
	ListAudit(ctx context.Context, limit, offset int) (*resp.AuditListResponse, error)
	Health(ctx context.Context) error
}

type AdminHandler struct {
	service AdminProvider
}

func NewAdminHandler(service AdminProvider) *AdminHandler {
	return &AdminHandler{service: service}
}

func (h *AdminHandler) ListQueue(c *gin.Context) {
	var r req.ListQueueRequest
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	list, err := h.service.ListQueue(c.Request.Context(), r.Status, r.Limit, r.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *AdminHandler) QueueStats(c *gin.Context) {
	stats, err := h.service.QueueStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AdminHandler) GetEntry(c *gin.Context) {
	var r req.QueueEntryURI
	if err := c.ShouldBindUri(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	item, err := h.service.GetEntry(c.Request.Context(), r.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *AdminHandler) RequeueEntry(c *gin.Context) {
	var r req.QueueEntryURI
	if err := c.ShouldBindUri(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.service.RequeueFailed(c.Request.Context(), r.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": r.ID, "status": "retry"})
}

func (h *AdminHandler) ListLeads(c *gin.Context) {
	var r req.ListLeadsRequest
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	leads, err := h.service.ListLeads(c.Request.Context(), r.Limit, r.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, leads)
}

func (h *AdminHandler) Conversation(c *gin.Context) {
	var r req.ConversationRequest
	if err := c.ShouldBindUri(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user key"})
		return
	}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	conv, err := h.service.Conversation(c.Request.Context(), r.UserKey, r.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *AdminHandler) ListAudit(c *gin.Context) {
	var r req.ListAuditRequest
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	audits, err := h.service.ListAudit(c.Request.Context(), r.Limit, r.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, audits)
}

func (h *AdminHandler) HealthCheck(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrEntryNotFound), errors.Is(err, repository.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrEntryNotFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
