package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"salesflow/internal/catalog"
	"salesflow/internal/crm"
	"salesflow/internal/funnel"
	"salesflow/internal/messenger"
	"salesflow/internal/model"
	"salesflow/internal/repository"

	"gorm.io/gorm"
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard [][]messenger.Button
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sentMessage
	answered []string
	failNext int
}

func (s *fakeSender) Send(_ context.Context, chatID int64, text string, kb [][]messenger.Button) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return "", errors.New("telegram unavailable")
	}
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, keyboard: kb})
	return text, nil
}

func (s *fakeSender) AnswerCallback(_ context.Context, id string) error {
	s.mu.Lock()
	s.answered = append(s.answered, id)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) last() sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return sentMessage{}
	}
	return s.sent[len(s.sent)-1]
}

type fakeCRM struct {
	mu   sync.Mutex
	reqs []crm.LeadRequest
	err  error
}

func (c *fakeCRM) Provider() string { return "fake" }

func (c *fakeCRM) CreateLead(_ context.Context, req crm.LeadRequest) (*crm.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return nil, c.err
	}
	return &crm.Result{EntryID: fmt.Sprintf("crm-%d", len(c.reqs))}, nil
}

type failingSearcher struct{}

func (failingSearcher) Search(context.Context, catalog.Criteria, int) ([]catalog.Product, error) {
	return nil, errors.New("catalog unavailable")
}

var testProducts = []catalog.Product{
	{
		ID: "kmipt-ege-math", Brand: "kmipt", Title: "ЕГЭ математика онлайн",
		URL: "https://example.org/ege-math", Category: "ege",
		GradeMin: 10, GradeMax: 11, Subjects: []string{"math"}, Format: "online",
	},
	{
		ID: "kmipt-camp", Brand: "kmipt", Title: "Летний лагерь",
		URL: "https://example.org/camp", Category: "camp",
		GradeMin: 5, GradeMax: 9, Subjects: []string{"math", "physics"}, Format: "offline",
	},
}

type processorFixture struct {
	db        *gorm.DB
	processor *Processor
	sender    *fakeSender
	crm       *fakeCRM
	sessions  *repository.SessionRepository
	leads     *repository.LeadRepository
	messages  *repository.MessageRepository
}

func newProcessorFixture(t *testing.T, searcher ProductSearcher) *processorFixture {
	t.Helper()
	db := newTestDB(t)
	if searcher == nil {
		searcher = catalog.NewStaticStore(testProducts)
	}
	f := &processorFixture{
		db:       db,
		sender:   &fakeSender{},
		crm:      &fakeCRM{},
		sessions: repository.NewSessionRepository(db),
		leads:    repository.NewLeadRepository(db),
		messages: repository.NewMessageRepository(db),
	}
	f.processor = NewProcessor(ProcessorDeps{
		DB:       db,
		Sessions: f.sessions,
		Messages: f.messages,
		Leads:    f.leads,
		Machine:  funnel.NewMachine("kmipt"),
		Locker:   NewLocalUserLocker(5 * time.Second),
		Catalog:  searcher,
		TopK:     3,
		Sender:   f.sender,
		CRM:      f.crm,
	})
	return f
}

func textUpdate(id int64, userID int64, text string) *messenger.Update {
	return &messenger.Update{
		UpdateID: id,
		Message: &messenger.Message{
			MessageID: id,
			From:      &messenger.User{ID: userID, FirstName: "Анна"},
			Chat:      messenger.Chat{ID: userID},
			Text:      text,
		},
	}
}

func callbackUpdate(id int64, userID int64, data string) *messenger.Update {
	return &messenger.Update{
		UpdateID: id,
		CallbackQuery: &messenger.CallbackQuery{
			ID:      fmt.Sprintf("cb-%d", id),
			From:    messenger.User{ID: userID, FirstName: "Анна"},
			Message: &messenger.Message{Chat: messenger.Chat{ID: userID}},
			Data:    data,
		},
	}
}

func (f *processorFixture) state(t *testing.T, userKey string) funnel.State {
	t.Helper()
	row, err := f.sessions.GetByUserKey(context.Background(), userKey)
	if err != nil {
		t.Fatalf("session %s: %v", userKey, err)
	}
	s, err := repository.ToFunnel(row)
	if err != nil {
		t.Fatalf("session fields: %v", err)
	}
	return s.State
}

func TestProcessor_FullFunnelCreatesLead(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()
	const user = 501
	key := "telegram:501"

	steps := []struct {
		upd  *messenger.Update
		want funnel.State
	}{
		{textUpdate(1, user, "/start"), funnel.AskGrade},
		{callbackUpdate(2, user, "grade:11"), funnel.AskGoal},
		{callbackUpdate(3, user, "goal:ege"), funnel.AskSubject},
		{textUpdate(4, user, "математика"), funnel.AskFormat},
		{callbackUpdate(5, user, "format:online"), funnel.SuggestProducts},
	}
	for _, s := range steps {
		if err := f.processor.HandleUpdate(ctx, s.upd); err != nil {
			t.Fatalf("update %d: %v", s.upd.UpdateID, err)
		}
		if got := f.state(t, key); got != s.want {
			t.Fatalf("after update %d state = %s, want %s", s.upd.UpdateID, got, s.want)
		}
	}

	suggestion := f.sender.last().text
	if !strings.Contains(suggestion, suggestionsHeader) || !strings.Contains(suggestion, "ЕГЭ математика онлайн") {
		t.Errorf("suggestion text = %q", suggestion)
	}
	if strings.Contains(suggestion, "Летний лагерь") {
		t.Error("non-matching product suggested")
	}

	if err := f.processor.HandleUpdate(ctx, callbackUpdate(6, user, funnel.CallbackStartContact)); err != nil {
		t.Fatal(err)
	}
	if err := f.processor.HandleUpdate(ctx, textUpdate(7, user, "8 916 123-45-67")); err != nil {
		t.Fatal(err)
	}
	if got := f.state(t, key); got != funnel.Done {
		t.Fatalf("state = %s, want done", got)
	}

	if len(f.crm.reqs) != 1 {
		t.Fatalf("crm requests = %d, want 1", len(f.crm.reqs))
	}
	req := f.crm.reqs[0]
	if req.Phone != "+79161234567" || req.Source != LeadSource || req.Brand != "kmipt" || req.Name != "Анна" {
		t.Errorf("lead request = %+v", req)
	}
	if !strings.Contains(req.Note, "telegram_user_id=501") {
		t.Errorf("note = %q", req.Note)
	}

	// Done does not produce a second lead.
	if err := f.processor.HandleUpdate(ctx, textUpdate(8, user, "ещё раз спасибо")); err != nil {
		t.Fatal(err)
	}
	leads, total, _ := f.leads.List(ctx, 10, 0)
	if total != 1 || leads[0].Status != model.LeadStatusCreated || leads[0].CRMEntryID != "crm-1" {
		t.Errorf("leads = %+v total=%d", leads, total)
	}

	if len(f.sender.answered) != 4 {
		t.Errorf("answered callbacks = %v", f.sender.answered)
	}
	history, _ := f.messages.ListByUser(ctx, key, 100)
	if len(history) != 16 {
		t.Errorf("history has %d messages, want 16", len(history))
	}
}

func TestProcessor_DuplicateUpdateIsSkipped(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()

	f.processor.HandleUpdate(ctx, textUpdate(42, 7, "/start"))
	if err := f.processor.HandleUpdate(ctx, callbackUpdate(43, 7, "grade:9")); err != nil {
		t.Fatal(err)
	}
	sent := len(f.sender.sent)

	if err := f.processor.HandleUpdate(ctx, callbackUpdate(43, 7, "grade:9")); err != nil {
		t.Fatal(err)
	}
	if len(f.sender.sent) != sent {
		t.Error("duplicate update produced a reply")
	}
	if got := f.state(t, "telegram:7"); got != funnel.AskGoal {
		t.Errorf("state = %s, want ask_goal", got)
	}
}

func TestProcessor_SendFailureReturnsErrorAndRedeliveryIsSkipped(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()
	f.sender.failNext = 1

	err := f.processor.HandleUpdate(ctx, textUpdate(1, 9, "/start"))
	if err == nil {
		t.Fatal("expected send error")
	}
	if got := f.state(t, "telegram:9"); got != funnel.AskGrade {
		t.Errorf("state = %s", got)
	}

	if err := f.processor.HandleUpdate(ctx, textUpdate(1, 9, "/start")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("redelivery sent %d messages, want 0", len(f.sender.sent))
	}
}

func TestProcessor_CatalogFailureFallsBack(t *testing.T) {
	f := newProcessorFixture(t, failingSearcher{})
	ctx := context.Background()
	for i, data := range []string{"grade:10", "goal:ege", "subject:any", "format:hybrid"} {
		if err := f.processor.HandleUpdate(ctx, callbackUpdate(int64(i+1), 3, data)); err != nil {
			t.Fatal(err)
		}
	}
	if text := f.sender.last().text; !strings.Contains(text, catalogFallback) {
		t.Errorf("reply = %q, want fallback", text)
	}
}

func TestProcessor_CRMFailureRecordsFailedLead(t *testing.T) {
	f := newProcessorFixture(t, nil)
	f.crm.err = errors.New("tallanto 500")
	ctx := context.Background()

	updates := []*messenger.Update{
		callbackUpdate(1, 4, "grade:8"),
		callbackUpdate(2, 4, "goal:camp"),
		callbackUpdate(3, 4, "subject:physics"),
		callbackUpdate(4, 4, "format:offline"),
		callbackUpdate(5, 4, funnel.CallbackStartContact),
		textUpdate(6, 4, "+7 999 111 22 33"),
	}
	for _, u := range updates {
		if err := f.processor.HandleUpdate(ctx, u); err != nil {
			t.Fatalf("update %d: %v", u.UpdateID, err)
		}
	}
	leads, _, _ := f.leads.List(ctx, 10, 0)
	if len(leads) != 1 || leads[0].Status != model.LeadStatusFailed || leads[0].Error == "" {
		t.Errorf("leads = %+v", leads)
	}
}

func TestProcessor_DisabledCRMRecordsSkippedLead(t *testing.T) {
	f := newProcessorFixture(t, nil)
	f.crm.err = crm.ErrDisabled
	ctx := context.Background()

	updates := []*messenger.Update{
		callbackUpdate(1, 5, "grade:8"),
		callbackUpdate(2, 5, "goal:camp"),
		callbackUpdate(3, 5, "subject:physics"),
		callbackUpdate(4, 5, "format:offline"),
		callbackUpdate(5, 5, funnel.CallbackStartContact),
		textUpdate(6, 5, "+7 999 111 22 33"),
	}
	for _, u := range updates {
		if err := f.processor.HandleUpdate(ctx, u); err != nil {
			t.Fatalf("update %d: %v", u.UpdateID, err)
		}
	}
	leads, _, _ := f.leads.List(ctx, 10, 0)
	if len(leads) != 1 || leads[0].Status != model.LeadStatusSkipped || leads[0].Error != "" {
		t.Errorf("leads = %+v", leads)
	}
}

func TestProcessor_HandleQueueEntry(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()

	err := f.processor.Handle(ctx, &model.QueueEntry{ID: 1, Payload: "{broken"})
	if !errors.Is(err, ErrPermanent) {
		t.Errorf("err = %v, want ErrPermanent", err)
	}

	// Nothing actionable: acknowledged without a reply.
	if err := f.processor.Handle(ctx, &model.QueueEntry{ID: 2, Payload: `{"update_id": 5}`}); err != nil {
		t.Errorf("empty update: %v", err)
	}

	payload, _ := json.Marshal(textUpdate(6, 11, "/start foton"))
	if err := f.processor.Handle(ctx, &model.QueueEntry{ID: 3, Payload: string(payload)}); err != nil {
		t.Fatal(err)
	}
	row, err := f.sessions.GetByUserKey(ctx, "telegram:11")
	if err != nil || row.Brand != "foton" || row.ChatID != 11 || row.DisplayName != "Анна" {
		t.Errorf("session = %+v, %v", row, err)
	}
	if len(f.sender.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(f.sender.sent))
	}
}

func TestProcessor_ConcurrentUpdatesForOneUser(t *testing.T) {
	f := newProcessorFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := f.processor.HandleUpdate(ctx, textUpdate(id, 77, "привет")); err != nil {
				t.Errorf("update %d: %v", id, err)
			}
		}(int64(i))
	}
	wg.Wait()

	if len(f.sender.sent) != 10 {
		t.Errorf("sent %d replies, want 10", len(f.sender.sent))
	}
	var count int64
	f.db.Model(&model.Session{}).Where("user_key = ?", "telegram:77").Count(&count)
	if count != 1 {
		t.Errorf("sessions = %d, want 1", count)
	}
}
