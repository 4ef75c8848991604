package service

import (
	"context"
	"time"

	"salesflow/internal/messenger"
	"salesflow/pkg/logger"

	"go.uber.org/zap"
)

type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]messenger.Update, error)
}

type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd *messenger.Update) error
}

// Poller long-polls getUpdates and hands updates straight to the handler.
// There is no queue on this path; redelivery after a restart is caught by
// the dedup guard.
type Poller struct {
	source     UpdateSource
	handler    UpdateHandler
	timeout    time.Duration
	errorDelay time.Duration
	offset     int64
}

func NewPoller(source UpdateSource, handler UpdateHandler, timeout time.Duration) *Poller {
	return &Poller{source: source, handler: handler, timeout: timeout, errorDelay: 3 * time.Second}
}

func (p *Poller) Run(ctx context.Context) {
	logger.Info("telegram polling started", zap.Duration("timeout", p.timeout))
	for {
		if ctx.Err() != nil {
			logger.Info("telegram polling stopped")
			return
		}
		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Warn("getUpdates failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(p.errorDelay):
			}
		}
	}
}

// PollOnce fetches one batch and returns how many updates it handled.
// The offset moves past every fetched update, failed or not.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	updates, err := p.source.GetUpdates(ctx, p.offset, p.timeout)
	if err != nil {
		return 0, err
	}
	for i := range updates {
		upd := &updates[i]
		if err := p.handler.HandleUpdate(ctx, upd); err != nil {
			logger.Warn("polled update failed", zap.Int64("update_id", upd.UpdateID), zap.Error(err))
		}
		if upd.UpdateID >= p.offset {
			p.offset = upd.UpdateID + 1
		}
	}
	return len(updates), nil
}

func (p *Poller) Offset() int64 { return p.offset }
