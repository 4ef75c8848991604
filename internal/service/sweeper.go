package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"salesflow/internal/metrics"
	v1 "salesflow/pkg/api/v1"
	"salesflow/pkg/constraints"
	"salesflow/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// SweeperLockKey is the etcd mutex prefix shared by every instance.
const SweeperLockKey = "/salesflow/locks/sweeper"

// SweepLocker elects at most one sweeping instance per tick. acquired is
// false when another instance holds the lock.
type SweepLocker interface {
	TryLock(ctx context.Context) (release func(), acquired bool, err error)
}

// NopSweepLocker always grants the lock.
type NopSweepLocker struct{}

func (NopSweepLocker) TryLock(context.Context) (func(), bool, error) { return func() {}, true, nil }

// EtcdSweepLocker holds a lease-backed session; a crashed holder loses the
// lock when its lease expires.
type EtcdSweepLocker struct {
	client *clientv3.Client
	ttl    int

	mu      sync.Mutex
	session *concurrency.Session
}

func NewEtcdSweepLocker(client *clientv3.Client, ttlSeconds int) *EtcdSweepLocker {
	if ttlSeconds <= 0 {
		ttlSeconds = 10
	}
	return &EtcdSweepLocker{client: client, ttl: ttlSeconds}
}

func (l *EtcdSweepLocker) currentSession() (*concurrency.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		select {
		case <-l.session.Done():
			l.session = nil
		default:
			return l.session, nil
		}
	}
	s, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl))
	if err != nil {
		return nil, fmt.Errorf("etcd session: %w", err)
	}
	l.session = s
	return s, nil
}

func (l *EtcdSweepLocker) TryLock(ctx context.Context) (func(), bool, error) {
	session, err := l.currentSession()
	if err != nil {
		return nil, false, err
	}
	mutex := concurrency.NewMutex(session, SweeperLockKey)
	if err := mutex.TryLock(ctx); err != nil {
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return func() {
		if err := mutex.Unlock(context.Background()); err != nil {
			logger.Warn("failed to release sweeper lock", zap.Error(err))
		}
	}, true, nil
}

func (l *EtcdSweepLocker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return nil
	}
	err := l.session.Close()
	l.session = nil
	return err
}

type StaleQueue interface {
	RequeueStale(ctx context.Context, staleAfter time.Duration) (int64, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// Sweeper periodically returns abandoned processing entries to retry and
// refreshes the queue depth gauges.
type Sweeper struct {
	queue      StaleQueue
	locker     SweepLocker
	staleAfter time.Duration
	interval   time.Duration
	observer   metrics.QueueObserver
	events     EventPublisher
}

func NewSweeper(queue StaleQueue, locker SweepLocker, staleAfter, interval time.Duration, observer metrics.QueueObserver, events EventPublisher) *Sweeper {
	if locker == nil {
		locker = NopSweepLocker{}
	}
	if observer == nil {
		observer = metrics.Nop{}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		queue:      queue,
		locker:     locker,
		staleAfter: staleAfter,
		interval:   interval,
		observer:   observer,
		events:     events,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	logger.Info("stale sweeper started", zap.Duration("interval", s.interval), zap.Duration("stale_after", s.staleAfter))

	for {
		select {
		case <-ctx.Done():
			logger.Info("stale sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				logger.Error("stale sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce runs one sweep if this instance wins the lock and returns the
// number of requeued entries.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	release, acquired, err := s.locker.TryLock(lockCtx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("acquire sweeper lock: %w", err)
	}
	if !acquired {
		logger.Debug("sweep skipped, another instance holds the lock")
		return 0, nil
	}
	defer release()

	n, err := s.queue.RequeueStale(ctx, s.staleAfter)
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	if n > 0 {
		logger.Warn("requeued stale entries", zap.Int64("count", n))
		s.observer.RecordStaleRequeue(n)
		if s.events != nil {
			s.events.Publish(v1.QueueEvent{
				Action: constraints.ActionRequeued,
				Error:  fmt.Sprintf("%d stale entries", n),
				At:     time.Now().UTC(),
			})
		}
	}

	stats, err := s.queue.Stats(ctx)
	if err != nil {
		logger.Warn("queue stats failed", zap.Error(err))
		return n, nil
	}
	for status, count := range stats {
		s.observer.SetDepth(status, count)
	}
	return n, nil
}
