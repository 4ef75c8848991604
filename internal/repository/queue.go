package repository

import (
	"context"
	"errors"
	"time"

	"salesflow/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrEntryNotFound  = errors.New("queue entry not found")
	ErrEntryFinalized = errors.New("queue entry already finalized")
	ErrEntryNotFailed = errors.New("queue entry is not failed")
	// ErrEntryNotProcessing means the entry is not held by a worker, e.g. it
	// was never claimed or the sweep already handed it back.
	ErrEntryNotProcessing = errors.New("queue entry is not processing")
)

// StaleRequeueError is the last_error written by RequeueStale.
const StaleRequeueError = "requeued after stale processing"

// claimRetries bounds how often Claim re-selects after losing a race.
const claimRetries = 5

var eligibleStatuses = []string{model.QueueStatusPending, model.QueueStatusRetry}

// BackoffFunc returns the delay before the next attempt, given the number of
// attempts already made.
type BackoffFunc func(attempts int) time.Duration

type QueueOptions struct {
	MaxAttempts int
	Backoff     BackoffFunc
	LockTimeout time.Duration
	Now         func() time.Time
}

type QueueInterface interface {
	Enqueue(ctx context.Context, externalID string, payload string) (int64, bool, error)
	Claim(ctx context.Context) (*model.QueueEntry, error)
	MarkDone(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, reason string) (string, error)
	MarkFailed(ctx context.Context, id int64, reason string) error
	RequeueStale(ctx context.Context, staleAfter time.Duration) (int64, error)
	RequeueFailed(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*model.QueueEntry, error)
	List(ctx context.Context, status string, limit, offset int) ([]model.QueueEntry, int64, error)
	Stats(ctx context.Context) (map[string]int64, error)
	MaxAttempts() int
}

type QueueRepository struct {
	db   *gorm.DB
	opts QueueOptions
}

func NewQueueRepository(db *gorm.DB, opts QueueOptions) *QueueRepository {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff == nil {
		opts.Backoff = func(int) time.Duration { return 10 * time.Second }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &QueueRepository{db: db, opts: opts}
}

func (r *QueueRepository) MaxAttempts() int { return r.opts.MaxAttempts }

func (r *QueueRepository) now() time.Time {
	return r.opts.Now().UTC().Truncate(time.Microsecond)
}

// Enqueue stores payload as a pending entry. With a non-empty externalID the
// insert is idempotent: a second call returns the existing row id and
// isNew=false without touching the row.
func (r *QueueRepository) Enqueue(ctx context.Context, externalID string, payload string) (int64, bool, error) {
	now := r.now()
	entry := model.QueueEntry{
		Payload:       payload,
		Status:        model.QueueStatusPending,
		NextAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if externalID == "" {
		if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
			return 0, false, err
		}
		return entry.ID, true, nil
	}

	entry.ExternalEventID = &externalID
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_event_id"}}, DoNothing: true}).
		Create(&entry)
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected == 1 && entry.ID != 0 {
		return entry.ID, true, nil
	}

	var existing model.QueueEntry
	if err := r.db.WithContext(ctx).Select("id").
		Where("external_event_id = ?", externalID).First(&existing).Error; err != nil {
		return 0, false, err
	}
	return existing.ID, false, nil
}

// Claim atomically moves the oldest eligible entry to processing and returns
// it. It returns nil, nil when nothing is eligible.
func (r *QueueRepository) Claim(ctx context.Context) (*model.QueueEntry, error) {
	for i := 0; i < claimRetries; i++ {
		var claimed *model.QueueEntry
		lost := false

		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := applyLockTimeout(tx, r.opts.LockTimeout); err != nil {
				return err
			}
			now := r.now()

			q := tx.Where("status IN ?", eligibleStatuses).
				Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
				Order("id ASC")
			if supportsRowLocks(tx) {
				q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
			}

			var candidate model.QueueEntry
			if err := q.Take(&candidate).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil
				}
				return err
			}

			res := tx.Model(&model.QueueEntry{}).
				Where("id = ? AND status IN ?", candidate.ID, eligibleStatuses).
				Updates(map[string]any{
					"status":     model.QueueStatusProcessing,
					"attempts":   gorm.Expr("attempts + 1"),
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				lost = true
				return nil
			}

			var entry model.QueueEntry
			if err := tx.First(&entry, candidate.ID).Error; err != nil {
				return err
			}
			claimed = &entry
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !lost {
			return claimed, nil
		}
	}
	return nil, nil
}

// MarkDone finalizes a processing entry. Calling it on a done entry is a
// no-op; a failed entry returns ErrEntryFinalized.
func (r *QueueRepository) MarkDone(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("id = ? AND status = ?", id, model.QueueStatusProcessing).
		Updates(map[string]any{
			"status":          model.QueueStatusDone,
			"last_error":      nil,
			"next_attempt_at": nil,
			"updated_at":      r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		entry, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status == model.QueueStatusDone {
			return nil
		}
		return notProcessing(entry.Status)
	}
	return nil
}

// MarkFailed finalizes a processing entry as failed without spending its
// remaining attempts.
func (r *QueueRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	res := r.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("id = ? AND status = ?", id, model.QueueStatusProcessing).
		Updates(map[string]any{
			"status":          model.QueueStatusFailed,
			"last_error":      reason,
			"next_attempt_at": nil,
			"updated_at":      r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		entry, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		return notProcessing(entry.Status)
	}
	return nil
}

func notProcessing(status string) error {
	if model.IsTerminalQueueStatus(status) {
		return ErrEntryFinalized
	}
	return ErrEntryNotProcessing
}

// MarkRetry records a failed attempt. The entry becomes failed once its
// attempts reach the configured maximum, otherwise retry with a backoff.
// It returns the resulting status.
func (r *QueueRepository) MarkRetry(ctx context.Context, id int64, reason string) (string, error) {
	var status string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry model.QueueEntry
		q := tx
		if supportsRowLocks(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&entry, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		if entry.Status != model.QueueStatusProcessing {
			return notProcessing(entry.Status)
		}

		now := r.now()
		updates := map[string]any{
			"last_error": reason,
			"updated_at": now,
		}
		if entry.Attempts >= r.opts.MaxAttempts {
			status = model.QueueStatusFailed
			updates["next_attempt_at"] = nil
		} else {
			status = model.QueueStatusRetry
			updates["next_attempt_at"] = now.Add(r.opts.Backoff(entry.Attempts))
		}
		updates["status"] = status

		return tx.Model(&model.QueueEntry{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// RequeueStale moves processing entries untouched for longer than staleAfter
// back to retry. A live worker slower than staleAfter is requeued too.
func (r *QueueRepository) RequeueStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("status = ? AND updated_at < ?", model.QueueStatusProcessing, now.Add(-staleAfter)).
		Updates(map[string]any{
			"status":          model.QueueStatusRetry,
			"next_attempt_at": now,
			"last_error":      StaleRequeueError,
			"updated_at":      now,
		})
	return res.RowsAffected, res.Error
}

// RequeueFailed gives a failed entry a fresh attempt budget.
func (r *QueueRepository) RequeueFailed(ctx context.Context, id int64) error {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("id = ? AND status = ?", id, model.QueueStatusFailed).
		Updates(map[string]any{
			"status":          model.QueueStatusRetry,
			"attempts":        0,
			"next_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrEntryNotFailed
	}
	return nil
}

func (r *QueueRepository) Get(ctx context.Context, id int64) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	if err := r.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (r *QueueRepository) List(ctx context.Context, status string, limit, offset int) ([]model.QueueEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.QueueEntry{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []model.QueueEntry
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&entries).Error
	return entries, total, err
}

// Stats counts entries per status. Every status is present in the result.
func (r *QueueRepository) Stats(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int64, len(model.QueueStatuses))
	for _, s := range model.QueueStatuses {
		stats[s] = 0
	}
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	return stats, nil
}
