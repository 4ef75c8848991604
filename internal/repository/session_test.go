package repository

import (
	"context"
	"strings"
	"testing"

	"salesflow/internal/funnel"
	"salesflow/internal/model"

	"gorm.io/gorm"
)

func TestSession_GetOrCreateAndSave(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	row, err := repo.GetOrCreateForUpdate(ctx, "telegram:1", "kmipt")
	if err != nil {
		t.Fatal(err)
	}
	if row.FunnelState != "ask_grade" || row.Brand != "kmipt" {
		t.Fatalf("fresh row = %+v", row)
	}

	s, err := ToFunnel(row)
	if err != nil {
		t.Fatal(err)
	}
	s.State = funnel.AskSubject
	s.Criteria.Grade = 9
	s.Criteria.Goal = funnel.GoalOGE
	s.LastSeenEventID = "42"
	ApplyFunnel(row, s)

	err = db.Transaction(func(tx *gorm.DB) error {
		return repo.WithTx(tx).Save(ctx, row)
	})
	if err != nil {
		t.Fatal(err)
	}

	again, err := repo.GetOrCreateForUpdate(ctx, "telegram:1", "foton")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != row.ID || again.Brand != "kmipt" {
		t.Errorf("upsert must keep the existing row: %+v", again)
	}
	got, err := ToFunnel(again)
	if err != nil {
		t.Fatal(err)
	}
	want := funnel.Session{
		UserKey:         "telegram:1",
		State:           funnel.AskSubject,
		Criteria:        funnel.Criteria{Grade: 9, Goal: funnel.GoalOGE, Brand: "kmipt"},
		LastSeenEventID: "42",
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}

	var count int64
	db.Model(&model.Session{}).Count(&count)
	if count != 1 {
		t.Errorf("sessions = %d, want 1", count)
	}
}

func TestToFunnel_InvalidFieldsAreDropped(t *testing.T) {
	grade := 14
	goal := "astronaut"
	format := "online"
	row := &model.Session{
		UserKey:     "telegram:2",
		FunnelState: "dancing",
		Grade:       &grade,
		Goal:        &goal,
		Format:      &format,
		Brand:       "foton",
	}

	s, err := ToFunnel(row)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, part := range []string{"dancing", "grade 14", "astronaut"} {
		if !strings.Contains(err.Error(), part) {
			t.Errorf("error %q does not mention %q", err, part)
		}
	}
	if s.State != funnel.AskGrade {
		t.Errorf("state = %s, want ask_grade", s.State)
	}
	if s.Criteria != (funnel.Criteria{Format: funnel.FormatOnline, Brand: "foton"}) {
		t.Errorf("criteria = %+v", s.Criteria)
	}
}

func TestLeadAndMessageRepositories(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	leads := NewLeadRepository(db)
	for _, st := range []string{model.LeadStatusCreated, model.LeadStatusFailed} {
		if err := leads.Create(ctx, &model.Lead{UserKey: "telegram:1", Status: st}); err != nil {
			t.Fatal(err)
		}
	}
	list, total, err := leads.List(ctx, 1, 0)
	if err != nil || total != 2 || len(list) != 1 || list[0].Status != model.LeadStatusFailed {
		t.Errorf("leads = %+v total=%d err=%v", list, total, err)
	}

	msgs := NewMessageRepository(db)
	for _, text := range []string{"one", "two", "three"} {
		msgs.Create(ctx, &model.MessageLog{UserKey: "telegram:1", Direction: model.DirectionInbound, Text: text})
	}
	msgs.Create(ctx, &model.MessageLog{UserKey: "telegram:9", Text: "other"})

	history, err := msgs.ListByUser(ctx, "telegram:1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Text != "two" || history[1].Text != "three" {
		t.Errorf("history = %+v", history)
	}
}

func TestMySQLDSNLockTimeout(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"u:p@tcp(db)/app", "u:p@tcp(db)/app?innodb_lock_wait_timeout=5"},
		{"u:p@tcp(db)/app?parseTime=true", "u:p@tcp(db)/app?parseTime=true&innodb_lock_wait_timeout=5"},
		{"u:p@tcp(db)/app?innodb_lock_wait_timeout=2", "u:p@tcp(db)/app?innodb_lock_wait_timeout=2"},
	}
	for _, tt := range tests {
		if got := mysqlDSN(tt.dsn, 5e9); got != tt.want {
			t.Errorf("mysqlDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}
