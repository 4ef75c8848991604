package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"salesflow/internal/service"
	v1 "salesflow/pkg/api/v1"
	"salesflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxUpdateBytes bounds webhook bodies; Telegram updates are far smaller.
const maxUpdateBytes = 1 << 20

// EventIDHeader lets generic senders choose the idempotency key.
const EventIDHeader = "X-Event-Id"

type Ingester interface {
	Ingest(ctx context.Context, eventID string, body []byte) (*v1.EnqueueResponse, error)
}

type WebhookHandler struct {
	gateway Ingester
}

func NewWebhookHandler(gateway Ingester) *WebhookHandler {
	return &WebhookHandler{gateway: gateway}
}

// Telegram acknowledges an update once it is durably queued. Storage
// errors answer 500 so that Telegram redelivers.
func (h *WebhookHandler) Telegram(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxUpdateBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}
		logger.Warn("webhook body read failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	ack, err := h.gateway.Ingest(c.Request.Context(), c.GetHeader(EventIDHeader), body)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Error("webhook enqueue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusOK, ack)
}
