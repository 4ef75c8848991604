package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	v1 "salesflow/pkg/api/v1"
)

type fakeQueue struct {
	mu     sync.Mutex
	byExt  map[string]int64
	nextID int64
	fail   error
}

func (q *fakeQueue) Enqueue(_ context.Context, externalID string, _ string) (int64, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return 0, false, q.fail
	}
	if q.byExt == nil {
		q.byExt = map[string]int64{}
	}
	if id, ok := q.byExt[externalID]; ok && externalID != "" {
		return id, false, nil
	}
	q.nextID++
	q.byExt[externalID] = q.nextID
	return q.nextID, true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []v1.QueueEvent
}

func (p *recordingPublisher) Publish(ev v1.QueueEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func TestGateway_CheckSecret(t *testing.T) {
	g, err := NewGateway(&fakeQueue{}, "s3cret", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.CheckSecret("s3cret"); err != nil {
		t.Errorf("valid secret rejected: %v", err)
	}
	for _, bad := range []string{"", "s3cre", "s3cret!"} {
		if err := g.CheckSecret(bad); !errors.Is(err, ErrInvalidSecret) {
			t.Errorf("CheckSecret(%q) = %v", bad, err)
		}
	}

	open, _ := NewGateway(&fakeQueue{}, "", nil, nil, nil)
	if err := open.CheckSecret(""); !errors.Is(err, ErrInvalidSecret) {
		t.Error("unconfigured secret must reject everything")
	}
}

func TestGateway_IngestIdempotent(t *testing.T) {
	notifier := NewLocalNotifier()
	events := &recordingPublisher{}
	g, _ := NewGateway(&fakeQueue{}, "s", notifier, nil, events)
	ctx := context.Background()
	body := []byte(`{"update_id": 42, "message": {"message_id": 1, "chat": {"id": 7}, "text": "hi"}}`)

	first, err := g.Ingest(ctx, "", body)
	if err != nil || !first.IsNew {
		t.Fatalf("first ingest: %+v %v", first, err)
	}
	second, err := g.Ingest(ctx, "", body)
	if err != nil || second.IsNew || second.ID != first.ID {
		t.Fatalf("second ingest: %+v %v", second, err)
	}

	select {
	case <-notifier.Wakeups():
	default:
		t.Error("new entry should wake workers")
	}
	if len(events.events) != 1 || events.events[0].ExternalEventID != "42" {
		t.Errorf("events = %+v", events.events)
	}

	override, _ := g.Ingest(ctx, "custom-1", body)
	if !override.IsNew || override.ID == first.ID {
		t.Errorf("event id header should override update_id: %+v", override)
	}
}

func TestGateway_IngestRejectsInvalidPayloads(t *testing.T) {
	g, _ := NewGateway(&fakeQueue{}, "s", nil, nil, nil)
	bad := []string{
		`not json`,
		`[]`,
		`{}`,
		`{"update_id": "42"}`,
		`{"update_id": 1.5}`,
		`{"update_id": 1, "message": {"text": "no chat"}}`,
		`{"update_id": 1, "callback_query": {"id": "x"}}`,
	}
	for _, body := range bad {
		if _, err := g.Ingest(context.Background(), "", []byte(body)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("Ingest(%s) err = %v, want ErrInvalidPayload", body, err)
		}
	}
}

func TestGateway_IngestIntegralFloatUpdateID(t *testing.T) {
	q := &fakeQueue{}
	g, _ := NewGateway(q, "s", nil, nil, nil)
	ctx := context.Background()

	// Schema "integer" accepts 1.0 and 1e2, but the processor decodes
	// update_id as int64, so they never reach the queue.
	for _, body := range []string{`{"update_id": 1.0}`, `{"update_id": 1e2}`} {
		if _, err := g.Ingest(ctx, "", []byte(body)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("Ingest(%s) err = %v, want ErrInvalidPayload", body, err)
		}
	}
	// Even with an explicit event id the body must decode.
	if _, err := g.Ingest(ctx, "custom", []byte(`{"update_id": 1.0}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("override err = %v, want ErrInvalidPayload", err)
	}

	events := &recordingPublisher{}
	g, _ = NewGateway(&fakeQueue{}, "s", nil, nil, events)
	if _, err := g.Ingest(ctx, "", []byte(`{"update_id": 9007199254740993}`)); err != nil {
		t.Fatal(err)
	}
	if len(events.events) != 1 || events.events[0].ExternalEventID != "9007199254740993" {
		t.Errorf("events = %+v", events.events)
	}
}

func TestGateway_IngestPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	g, _ := NewGateway(&fakeQueue{fail: boom}, "s", nil, nil, nil)
	if _, err := g.Ingest(context.Background(), "", []byte(`{"update_id": 1}`)); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
