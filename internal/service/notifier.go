package service

import (
	"context"

	"salesflow/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WakeupChannel is the Redis pub/sub channel announcing new queue entries.
const WakeupChannel = "salesflow:queue:wakeup"

// Notifier wakes idle workers when an entry is enqueued. Notifications are
// hints only; workers poll regardless.
type Notifier interface {
	Notify(ctx context.Context) error
	Wakeups() <-chan struct{}
}

// LocalNotifier signals workers in the same process.
type LocalNotifier struct {
	ch chan struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{ch: make(chan struct{}, 1)}
}

func (n *LocalNotifier) Notify(context.Context) error {
	select {
	case n.ch <- struct{}{}:
	default:
	}
	return nil
}

func (n *LocalNotifier) Wakeups() <-chan struct{} { return n.ch }

// RedisNotifier publishes wakeups so that API-only and worker-only
// processes can run apart.
type RedisNotifier struct {
	rdb   *redis.Client
	local *LocalNotifier
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, local: NewLocalNotifier()}
}

func (n *RedisNotifier) Notify(ctx context.Context) error {
	return n.rdb.Publish(ctx, WakeupChannel, "1").Err()
}

func (n *RedisNotifier) Wakeups() <-chan struct{} { return n.local.Wakeups() }

// Run relays published wakeups to local workers until ctx is done.
func (n *RedisNotifier) Run(ctx context.Context) {
	sub := n.rdb.Subscribe(ctx, WakeupChannel)
	defer sub.Close()

	logger.Info("queue wakeup subscriber started", zap.String("channel", WakeupChannel))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			n.local.Notify(ctx)
		}
	}
}
