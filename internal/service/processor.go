package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"salesflow/internal/catalog"
	"salesflow/internal/crm"
	"salesflow/internal/funnel"
	"salesflow/internal/messenger"
	"salesflow/internal/model"
	"salesflow/internal/repository"
	"salesflow/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LeadSource tags leads created by the funnel.
const LeadSource = "telegram_flow_contact"

const (
	suggestionsHeader = "Подобрал варианты:"
	noProductsText    = "Пока не нашёл точного совпадения. Оставьте контакт, и менеджер подберёт программу вручную."
	catalogFallback   = "Подбор временно недоступен. Оставьте контакт, и менеджер поможет вручную."
)

type ProductSearcher interface {
	Search(ctx context.Context, c catalog.Criteria, topK int) ([]catalog.Product, error)
}

// callbackAnswerer is implemented by senders that can stop the client's
// button spinner.
type callbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID string) error
}

type ProcessorDeps struct {
	DB       *gorm.DB
	Sessions repository.SessionInterface
	Messages repository.MessageInterface
	Leads    repository.LeadInterface
	Machine  funnel.Machine
	Locker   UserLocker
	Catalog  ProductSearcher
	TopK     int
	Sender   messenger.Sender
	CRM      crm.Client
}

// Processor turns one Telegram update into a funnel transition and its
// side effects.
type Processor struct {
	ProcessorDeps
}

func NewProcessor(deps ProcessorDeps) *Processor {
	if deps.TopK <= 0 {
		deps.TopK = 3
	}
	if deps.CRM == nil {
		deps.CRM = crm.NoopClient{}
	}
	if deps.Sender == nil {
		deps.Sender = messenger.LogSender{}
	}
	return &Processor{ProcessorDeps: deps}
}

// Handle decodes a queue payload. A payload that is not an update is a
// permanent failure.
func (p *Processor) Handle(ctx context.Context, entry *model.QueueEntry) error {
	var upd messenger.Update
	if err := json.Unmarshal([]byte(entry.Payload), &upd); err != nil {
		return fmt.Errorf("%w: decode update of entry %d: %v", ErrPermanent, entry.ID, err)
	}
	return p.HandleUpdate(ctx, &upd)
}

// HandleUpdate applies upd to the sender's session. Redelivered updates are
// skipped, so a reply is sent at most once per update.
func (p *Processor) HandleUpdate(ctx context.Context, upd *messenger.Update) error {
	kind, value := upd.Input()
	userKey := upd.UserKey()
	if kind == messenger.InputNone || userKey == "" {
		logger.Debug("update without actionable input", zap.Int64("update_id", upd.UpdateID))
		return nil
	}

	var ev funnel.Event
	if kind == messenger.InputCallback {
		ev = funnel.CallbackEvent(value)
	} else {
		ev = funnel.TextEvent(value)
	}

	unlock, err := p.Locker.Lock(ctx, userKey)
	if err != nil {
		return fmt.Errorf("lock %s: %w", userKey, err)
	}
	defer unlock()

	log := logger.With(zap.String("user_key", userKey), zap.Int64("update_id", upd.UpdateID))
	chatID := upd.ChatID()
	name := upd.Sender().DisplayName()

	var (
		step      funnel.Step
		duplicate bool
	)
	err = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessions := p.Sessions.WithTx(tx)
		row, err := sessions.GetOrCreateForUpdate(ctx, userKey, p.Machine.BrandDefault)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		session, err := repository.ToFunnel(row)
		if err != nil {
			log.Warn("stored session had invalid fields", zap.Error(err))
		}

		if funnel.IsDuplicate(&session, upd.EventID()) {
			duplicate = true
			return nil
		}

		if err := p.Messages.WithTx(tx).Create(ctx, &model.MessageLog{
			UserKey:   userKey,
			Direction: model.DirectionInbound,
			Text:      value,
			Meta:      fmt.Sprintf(`{"update_id":%d}`, upd.UpdateID),
		}); err != nil {
			return fmt.Errorf("log inbound: %w", err)
		}

		step = p.Machine.Advance(session.State, session.Criteria, ev)
		session.State = step.State
		session.Criteria = step.Criteria

		repository.ApplyFunnel(row, session)
		if chatID != 0 {
			row.ChatID = chatID
		}
		if name != "" {
			row.DisplayName = name
		}
		return sessions.Save(ctx, row)
	})
	if err != nil {
		return err
	}
	if duplicate {
		log.Info("duplicate update skipped")
		return nil
	}
	log.Debug("funnel advanced", zap.String("state", step.State.String()))

	if kind == messenger.InputCallback && upd.CallbackQuery != nil {
		if a, ok := p.Sender.(callbackAnswerer); ok {
			if err := a.AnswerCallback(ctx, upd.CallbackQuery.ID); err != nil {
				log.Warn("answer callback failed", zap.Error(err))
			}
		}
	}

	text := step.Prompt
	if step.Flags.ShouldSuggestProducts {
		text += "\n\n" + p.suggestions(ctx, step.Criteria)
	}

	var sendErr error
	if chatID != 0 {
		sent, err := p.Sender.Send(ctx, chatID, text, toButtons(step.Keyboard))
		if err != nil {
			sendErr = fmt.Errorf("send reply: %w", err)
		} else if err := p.Messages.Create(ctx, &model.MessageLog{
			UserKey:   userKey,
			Direction: model.DirectionOutbound,
			Text:      sent,
		}); err != nil {
			log.Warn("failed to log outbound message", zap.Error(err))
		}
	}

	// The transition is already committed, so the lead must not depend on
	// the reply going out.
	if step.Flags.Completed {
		p.createLead(ctx, userKey, name, step.Criteria)
	}
	return sendErr
}

func (p *Processor) suggestions(ctx context.Context, c funnel.Criteria) string {
	products, err := p.Catalog.Search(ctx, catalog.Criteria{
		Brand:   c.Brand,
		Grade:   c.Grade,
		Goal:    string(c.Goal),
		Subject: string(c.Subject),
		Format:  string(c.Format),
	}, p.TopK)
	if err != nil {
		logger.Warn("catalog search failed", zap.Error(err))
		return catalogFallback
	}
	if len(products) == 0 {
		return noProductsText
	}

	var b strings.Builder
	b.WriteString(suggestionsHeader)
	for i, prod := range products {
		fmt.Fprintf(&b, "\n\n%d. %s\n%s", i+1, prod.Title, catalog.ExplainMatch(prod, catalog.Criteria{
			Grade:   c.Grade,
			Goal:    string(c.Goal),
			Subject: string(c.Subject),
			Format:  string(c.Format),
		}))
		if prod.URL != "" {
			b.WriteString("\n" + prod.URL)
		}
	}
	return b.String()
}

func (p *Processor) createLead(ctx context.Context, userKey, name string, c funnel.Criteria) {
	phone := messenger.NormalizePhone(c.Contact)
	req := crm.LeadRequest{
		Phone:  phone,
		Brand:  c.Brand,
		Name:   name,
		Source: LeadSource,
		Note:   leadNote(userKey, c),
	}

	lead := &model.Lead{
		UserKey: userKey,
		Phone:   phone,
		Brand:   c.Brand,
		Source:  LeadSource,
	}
	res, err := p.CRM.CreateLead(ctx, req)
	switch {
	case errors.Is(err, crm.ErrDisabled):
		lead.Status = model.LeadStatusSkipped
	case err != nil:
		lead.Status = model.LeadStatusFailed
		lead.Error = err.Error()
		logger.Warn("crm lead creation failed", zap.String("user_key", userKey), zap.String("provider", p.CRM.Provider()), zap.Error(err))
	default:
		lead.Status = model.LeadStatusCreated
		if res != nil {
			lead.CRMEntryID = res.EntryID
		}
		logger.Info("lead created", zap.String("user_key", userKey), zap.String("crm_entry_id", lead.CRMEntryID))
	}

	if err := p.Leads.Create(ctx, lead); err != nil {
		logger.Error("failed to record lead", zap.String("user_key", userKey), zap.Error(err))
	}
}

func leadNote(userKey string, c funnel.Criteria) string {
	parts := []string{"telegram_user_id=" + strings.TrimPrefix(userKey, "telegram:")}
	if c.Grade != 0 {
		parts = append(parts, fmt.Sprintf("grade=%d", c.Grade))
	}
	if c.Goal != "" {
		parts = append(parts, "goal="+string(c.Goal))
	}
	if c.Subject != "" {
		parts = append(parts, "subject="+string(c.Subject))
	}
	if c.Format != "" {
		parts = append(parts, "format="+string(c.Format))
	}
	return strings.Join(parts, "; ")
}

func toButtons(kb funnel.Keyboard) [][]messenger.Button {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]messenger.Button, 0, len(kb))
	for _, r := range kb {
		row := make([]messenger.Button, 0, len(r))
		for _, b := range r {
			row = append(row, messenger.Button{Text: b.Text, Data: b.Data})
		}
		rows = append(rows, row)
	}
	return rows
}
