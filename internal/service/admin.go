package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salesflow/internal/dto/resp"
	"salesflow/internal/model"
	"salesflow/internal/repository"
	v1 "salesflow/pkg/api/v1"
	"salesflow/pkg/constraints"
	"salesflow/pkg/logger"

	"go.uber.org/zap"
)

const (
	defaultPageSize     = 50
	defaultHistoryLimit = 100
)

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// AdminService backs the operator API.
type AdminService struct {
	queue    repository.QueueInterface
	leads    repository.LeadInterface
	sessions repository.SessionInterface
	messages repository.MessageInterface
	notifier Notifier
	events   EventPublisher
	audit    repository.AuditInterface
	checks   map[string]HealthCheck
}

func NewAdminService(queue repository.QueueInterface, leads repository.LeadInterface, sessions repository.SessionInterface, messages repository.MessageInterface, notifier Notifier, events EventPublisher) *AdminService {
	return &AdminService{
		queue:    queue,
		leads:    leads,
		sessions: sessions,
		messages: messages,
		notifier: notifier,
		events:   events,
		checks:   make(map[string]HealthCheck),
	}
}

// SetAuditLog enables recording operator actions.
func (s *AdminService) SetAuditLog(audit repository.AuditInterface) {
	s.audit = audit
}

// AddHealthCheck registers a named dependency check used by Health.
func (s *AdminService) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

func (s *AdminService) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var errs []error
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *AdminService) ListQueue(ctx context.Context, status string, limit, offset int) (*resp.QueueListResponse, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	entries, total, err := s.queue.List(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]resp.QueueEntryItem, 0, len(entries))
	for i := range entries {
		items = append(items, resp.NewQueueEntryItem(&entries[i], false))
	}
	return &resp.QueueListResponse{Data: items, Total: total}, nil
}

func (s *AdminService) QueueStats(ctx context.Context) (*resp.QueueStatsResponse, error) {
	counts, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return &resp.QueueStatsResponse{Counts: counts, Total: total}, nil
}

func (s *AdminService) GetEntry(ctx context.Context, id int64) (*resp.QueueEntryItem, error) {
	entry, err := s.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	item := resp.NewQueueEntryItem(entry, true)
	return &item, nil
}

// RequeueFailed gives a failed entry a fresh attempt budget and wakes the
// workers.
func (s *AdminService) RequeueFailed(ctx context.Context, id int64) error {
	if err := s.queue.RequeueFailed(ctx, id); err != nil {
		return err
	}
	logger.Info("failed entry requeued", zap.Int64("id", id), zap.String("operator", GetOperator(ctx)))
	s.record(ctx, model.AuditActionRequeue, id)

	if s.events != nil {
		s.events.Publish(v1.QueueEvent{
			EntryID: id,
			Action:  constraints.ActionRequeued,
			At:      time.Now().UTC(),
		})
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx); err != nil {
			logger.Warn("queue wakeup publish failed", zap.Error(err))
		}
	}
	return nil
}

func (s *AdminService) ListLeads(ctx context.Context, limit, offset int) (*resp.LeadListResponse, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	leads, total, err := s.leads.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	return &resp.LeadListResponse{Data: leads, Total: total}, nil
}

// Conversation returns the session and recent history of one user. A user
// without a session but with messages still gets their history.
func (s *AdminService) Conversation(ctx context.Context, userKey string, limit int) (*resp.ConversationResponse, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	session, err := s.sessions.GetByUserKey(ctx, userKey)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, err
	}
	msgs, err := s.messages.ListByUser(ctx, userKey, limit)
	if err != nil {
		return nil, err
	}
	if session == nil && len(msgs) == 0 {
		return nil, repository.ErrSessionNotFound
	}
	if msgs == nil {
		msgs = []model.MessageLog{}
	}
	return &resp.ConversationResponse{Session: session, Messages: msgs}, nil
}

func (s *AdminService) ListAudit(ctx context.Context, limit, offset int) (*resp.AuditListResponse, error) {
	if s.audit == nil {
		return &resp.AuditListResponse{Data: []model.AdminAudit{}}, nil
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	audits, total, err := s.audit.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if audits == nil {
		audits = []model.AdminAudit{}
	}
	return &resp.AuditListResponse{Data: audits, Total: total}, nil
}

// record writes an audit row. The action itself already succeeded, so a
// write failure is only logged.
func (s *AdminService) record(ctx context.Context, action string, entryID int64) {
	if s.audit == nil {
		return
	}
	a := &model.AdminAudit{Action: action, EntryID: entryID, Operator: GetOperator(ctx)}
	if op := GetOperatorInfo(ctx); op != nil {
		a.TraceID, a.IP = op.TraceID, op.IP
	}
	if err := s.audit.Create(ctx, a); err != nil {
		logger.Error("failed to write audit record", zap.Error(err), zap.String("action", action), zap.Int64("entry_id", entryID))
	}
}
