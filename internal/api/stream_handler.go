package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"salesflow/internal/service"
	v1 "salesflow/pkg/api/v1"
	"salesflow/pkg/constraints"
	"salesflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type EventStream interface {
	Subscribe(c *service.Client) bool
	Unsubscribe(c *service.Client)
	Since(lastSeq int64) ([]v1.QueueEvent, bool)
}

type StreamHandler struct {
	hub EventStream
}

func NewStreamHandler(hub EventStream) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// QueueEvents streams queue lifecycle events as SSE. Reconnecting clients
// pass last_seq (or Last-Event-ID) to replay what they missed; a "reset"
// event means the gap is no longer buffered.
func (h *StreamHandler) QueueEvents(c *gin.Context) {
	lastSeqStr := c.Query("last_seq")
	if lastSeqStr == "" {
		lastSeqStr = c.GetHeader("Last-Event-ID")
	}
	var lastSeq int64
	if lastSeqStr != "" {
		n, err := strconv.ParseInt(lastSeqStr, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_seq"})
			return
		}
		lastSeq = n
	}

	actions := make(map[constraints.Action]bool)
	for p := range strings.SplitSeq(c.Query("actions"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			actions[constraints.Action(p)] = true
		}
	}

	client := &service.Client{
		Send:    make(chan v1.QueueEvent, 128),
		Actions: actions,
	}
	if !h.hub.Subscribe(client) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	defer h.hub.Unsubscribe(client)

	logger.Info("queue stream client connected",
		zap.String("operator", service.GetOperator(c.Request.Context())),
		zap.Int64("last_seq", lastSeq),
		zap.String("ip", c.ClientIP()),
	)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	maxSentSeq := lastSeq
	if lastSeq > 0 {
		events, ok := h.hub.Since(lastSeq)
		if !ok {
			c.SSEvent("reset", "seq_too_old")
		}
		for _, ev := range events {
			if len(actions) > 0 && !actions[ev.Action] {
				continue
			}
			c.SSEvent("queue", ev)
			maxSentSeq = ev.Seq
		}
		c.Writer.Flush()
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-client.Send:
			if !ok {
				return false
			}
			if ev.Action == constraints.ActionPing {
				c.SSEvent("ping", "pong")
				return true
			}
			// already replayed
			if ev.Seq <= maxSentSeq {
				return true
			}
			c.SSEvent("queue", ev)
			maxSentSeq = ev.Seq
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
