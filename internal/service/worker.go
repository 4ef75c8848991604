package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"salesflow/internal/metrics"
	"salesflow/internal/model"
	"salesflow/internal/repository"
	v1 "salesflow/pkg/api/v1"
	"salesflow/pkg/constraints"
	"salesflow/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPermanent marks failures that retrying cannot fix. Such entries are
// failed on the first attempt.
var ErrPermanent = errors.New("permanent failure")

// Handler consumes one claimed queue entry.
type Handler interface {
	Handle(ctx context.Context, entry *model.QueueEntry) error
}

type HandlerFunc func(ctx context.Context, entry *model.QueueEntry) error

func (f HandlerFunc) Handle(ctx context.Context, entry *model.QueueEntry) error { return f(ctx, entry) }

// ClaimQueue is the part of the queue store the pool drives.
type ClaimQueue interface {
	Claim(ctx context.Context) (*model.QueueEntry, error)
	MarkDone(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, reason string) (string, error)
	MarkFailed(ctx context.Context, id int64, reason string) error
	MaxAttempts() int
}

type WorkerPool struct {
	queue        ClaimQueue
	handler      Handler
	count        int
	pollInterval time.Duration
	wakeups      <-chan struct{}
	observer     metrics.QueueObserver
	events       EventPublisher
}

func NewWorkerPool(queue ClaimQueue, handler Handler, count int, pollInterval time.Duration, notifier Notifier, observer metrics.QueueObserver, events EventPublisher) *WorkerPool {
	if count <= 0 {
		count = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if observer == nil {
		observer = metrics.Nop{}
	}
	var wakeups <-chan struct{}
	if notifier != nil {
		wakeups = notifier.Wakeups()
	}
	return &WorkerPool{
		queue:        queue,
		handler:      handler,
		count:        count,
		pollInterval: pollInterval,
		wakeups:      wakeups,
		observer:     observer,
		events:       events,
	}
}

// Run blocks until ctx is cancelled and every worker has returned.
// An entry being handled at cancellation time is finished first.
func (p *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	logger.Info("worker pool started", zap.Int("workers", p.count), zap.Duration("poll_interval", p.pollInterval))
	for i := 0; i < p.count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, uuid.NewString()[:8])
		}()
	}
	wg.Wait()
	logger.Info("worker pool stopped")
}

func (p *WorkerPool) loop(ctx context.Context, workerID string) {
	log := logger.With(zap.String("worker", workerID))
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		worked, err := p.ProcessOne(ctx)
		if err != nil {
			log.Error("queue step failed", zap.Error(err))
		}
		if worked {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.pollInterval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.wakeups:
		}
	}
}

// ProcessOne claims and handles at most one entry. It reports whether an
// entry was claimed.
func (p *WorkerPool) ProcessOne(ctx context.Context) (bool, error) {
	entry, err := p.queue.Claim(ctx)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if entry == nil {
		return false, nil
	}
	p.observer.RecordClaim()
	p.publish(entry, constraints.ActionClaimed, "")

	start := time.Now()

	// Stale recovery can hand back an entry that already used its budget.
	if entry.Attempts > p.queue.MaxAttempts() {
		reason := fmt.Sprintf("attempts exhausted (%d)", entry.Attempts)
		return true, p.retry(ctx, entry, reason, start)
	}

	// Handling runs to completion even when shutdown starts.
	handleErr := p.handler.Handle(context.WithoutCancel(ctx), entry)
	if handleErr != nil {
		logger.Warn("queue entry failed",
			zap.Int64("id", entry.ID),
			zap.Int("attempts", entry.Attempts),
			zap.Bool("permanent", errors.Is(handleErr, ErrPermanent)),
			zap.Error(handleErr))
		if errors.Is(handleErr, ErrPermanent) {
			return true, p.fail(ctx, entry, handleErr.Error(), start)
		}
		return true, p.retry(ctx, entry, handleErr.Error(), start)
	}

	if err := p.queue.MarkDone(context.WithoutCancel(ctx), entry.ID); err != nil {
		if lostEntry(err) {
			logger.Warn("queue entry finished after losing its claim", zap.Int64("id", entry.ID), zap.Error(err))
			return true, nil
		}
		return true, fmt.Errorf("mark done %d: %w", entry.ID, err)
	}
	p.observer.RecordOutcome(model.QueueStatusDone, time.Since(start))
	p.publish(entry, constraints.ActionDone, "")
	logger.Debug("queue entry done", zap.Int64("id", entry.ID))
	return true, nil
}

func (p *WorkerPool) retry(ctx context.Context, entry *model.QueueEntry, reason string, start time.Time) error {
	status, err := p.queue.MarkRetry(context.WithoutCancel(ctx), entry.ID, reason)
	if err != nil {
		if lostEntry(err) {
			logger.Warn("retry skipped, entry no longer claimed", zap.Int64("id", entry.ID), zap.Error(err))
			return nil
		}
		return fmt.Errorf("mark retry %d: %w", entry.ID, err)
	}
	p.observer.RecordOutcome(status, time.Since(start))

	action := constraints.ActionRetry
	if status == model.QueueStatusFailed {
		action = constraints.ActionFailed
		logger.Error("queue entry failed permanently", zap.Int64("id", entry.ID), zap.String("reason", reason))
	}
	p.publish(entry, action, reason)
	return nil
}

func (p *WorkerPool) fail(ctx context.Context, entry *model.QueueEntry, reason string, start time.Time) error {
	if err := p.queue.MarkFailed(context.WithoutCancel(ctx), entry.ID, reason); err != nil {
		if lostEntry(err) {
			logger.Warn("fail skipped, entry no longer claimed", zap.Int64("id", entry.ID), zap.Error(err))
			return nil
		}
		return fmt.Errorf("mark failed %d: %w", entry.ID, err)
	}
	p.observer.RecordOutcome(model.QueueStatusFailed, time.Since(start))
	logger.Error("queue entry failed permanently", zap.Int64("id", entry.ID), zap.String("reason", reason))
	p.publish(entry, constraints.ActionFailed, reason)
	return nil
}

// lostEntry reports that another worker or the sweep owns the entry now.
func lostEntry(err error) bool {
	return errors.Is(err, repository.ErrEntryFinalized) || errors.Is(err, repository.ErrEntryNotProcessing)
}

func (p *WorkerPool) publish(entry *model.QueueEntry, action constraints.Action, reason string) {
	if p.events == nil {
		return
	}
	ev := v1.QueueEvent{
		EntryID:  entry.ID,
		Action:   action,
		Attempts: entry.Attempts,
		Error:    reason,
		At:       time.Now().UTC(),
	}
	if entry.ExternalEventID != nil {
		ev.ExternalEventID = *entry.ExternalEventID
	}
	p.events.Publish(ev)
}
