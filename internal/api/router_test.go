package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"salesflow/internal/config"
	"salesflow/internal/dto/resp"
	"salesflow/internal/middleware"
	"salesflow/internal/model"
	"salesflow/internal/repository"
	"salesflow/internal/service"
	v1 "salesflow/pkg/api/v1"
	"salesflow/pkg/constraints"
	"salesflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	engine *gin.Engine
	queue  *repository.QueueRepository
	hub    *service.Hub
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := repository.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatal(err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := service.NewHub(nil, time.Minute, 100)
	go hub.Run(ctx)

	queue := repository.NewQueueRepository(db, repository.QueueOptions{MaxAttempts: 1})
	gateway, err := service.NewGateway(queue, "hook-secret", service.NewLocalNotifier(), nil, hub)
	if err != nil {
		t.Fatal(err)
	}
	admin := service.NewAdminService(queue, repository.NewLeadRepository(db), repository.NewSessionRepository(db),
		repository.NewMessageRepository(db), nil, hub)
	admin.SetAuditLog(repository.NewAuditRepository(db))
	admin.AddHealthCheck("db", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	auth := service.NewAuthService(config.AuthConfig{AdminUser: "ops", AdminPass: "pa55", SigningKey: "k"}, nil)

	engine := RegisterRoutes(RouterDeps{
		Webhook:           NewWebhookHandler(gateway),
		SecretChecker:     gateway,
		Admin:             NewAdminHandler(admin),
		Auth:              NewAuthHandler(auth),
		Stream:            NewStreamHandler(hub),
		Tokens:            auth,
		RequestsPerSecond: 1000,
	})
	s := &testServer{engine: engine, queue: queue, hub: hub}

	w := s.do(t, http.MethodPost, "/v1/auth/login", `{"username":"ops","password":"pa55"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var tokens resp.TokenResp
	json.Unmarshal(w.Body.Bytes(), &tokens)
	s.token = tokens.AccessToken
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) admin(t *testing.T, method, path string) *httptest.ResponseRecorder {
	return s.do(t, method, path, "", map[string]string{"Authorization": "Bearer " + s.token})
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t)
	update := `{"update_id": 100, "message": {"message_id": 1, "chat": {"id": 5}, "text": "/start"}}`
	secret := map[string]string{middleware.SecretTokenHeader: "hook-secret"}

	w := s.do(t, http.MethodPost, "/v1/webhook/telegram", update, map[string]string{middleware.SecretTokenHeader: "nope"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("bad secret: %d", w.Code)
	}
	if stats, _ := s.queue.Stats(context.Background()); stats[model.QueueStatusPending] != 0 {
		t.Fatal("rejected request was enqueued")
	}

	var first, second v1.EnqueueResponse
	w = s.do(t, http.MethodPost, "/v1/webhook/telegram", update, secret)
	if w.Code != http.StatusOK {
		t.Fatalf("first delivery: %d %s", w.Code, w.Body.String())
	}
	json.Unmarshal(w.Body.Bytes(), &first)
	w = s.do(t, http.MethodPost, "/v1/webhook/telegram", update, secret)
	json.Unmarshal(w.Body.Bytes(), &second)
	if !first.IsNew || second.IsNew || first.ID != second.ID {
		t.Errorf("first=%+v second=%+v", first, second)
	}

	w = s.do(t, http.MethodPost, "/v1/webhook/telegram", `{"message": {}}`, secret)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid payload: %d", w.Code)
	}
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWebhookBodyErrors(t *testing.T) {
	s := newTestServer(t)

	oversized := `{"update_id": 1, "pad": "` + strings.Repeat("x", maxUpdateBytes) + `"}`
	w := s.do(t, http.MethodPost, "/v1/webhook/telegram", oversized, map[string]string{middleware.SecretTokenHeader: "hook-secret"})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/webhook/telegram", brokenBody{})
	req.Header.Set(middleware.SecretTokenHeader, "hook-secret")
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("broken body: %d %s", w.Code, w.Body.String())
	}
	if stats, _ := s.queue.Stats(context.Background()); stats[model.QueueStatusPending] != 0 {
		t.Error("unreadable request was enqueued")
	}
}

func TestAdminQueue(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id, _, _ := s.queue.Enqueue(ctx, "7", `{"update_id":7}`)

	if w := s.do(t, http.MethodGet, "/v1/admin/queue", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", w.Code)
	}

	w := s.admin(t, http.MethodGet, "/v1/admin/queue?status=pending")
	var list resp.QueueListResponse
	json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || list.Total != 1 || list.Data[0].Payload != "" {
		t.Errorf("list: %d %+v", w.Code, list)
	}
	if w := s.admin(t, http.MethodGet, "/v1/admin/queue?status=bogus"); w.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: %d", w.Code)
	}

	w = s.admin(t, http.MethodGet, "/v1/admin/queue/stats")
	var stats resp.QueueStatsResponse
	json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.Counts[model.QueueStatusPending] != 1 || stats.Total != 1 {
		t.Errorf("stats = %+v", stats)
	}

	w = s.admin(t, http.MethodGet, "/v1/admin/queue/1")
	var item resp.QueueEntryItem
	json.Unmarshal(w.Body.Bytes(), &item)
	if item.ID != id || item.Payload != `{"update_id":7}` {
		t.Errorf("entry = %+v", item)
	}
	if w := s.admin(t, http.MethodGet, "/v1/admin/queue/999"); w.Code != http.StatusNotFound {
		t.Errorf("missing entry: %d", w.Code)
	}

	if w := s.admin(t, http.MethodPost, "/v1/admin/queue/1/requeue"); w.Code != http.StatusConflict {
		t.Errorf("requeue pending entry: %d", w.Code)
	}

	entry, _ := s.queue.Claim(ctx)
	if status, _ := s.queue.MarkRetry(ctx, entry.ID, "boom"); status != model.QueueStatusFailed {
		t.Fatalf("status = %s", status)
	}
	if w := s.admin(t, http.MethodPost, "/v1/admin/queue/1/requeue"); w.Code != http.StatusOK {
		t.Errorf("requeue failed entry: %d %s", w.Code, w.Body.String())
	}
	got, _ := s.queue.Get(ctx, id)
	if got.Status != model.QueueStatusRetry || got.Attempts != 0 {
		t.Errorf("after requeue: %+v", got)
	}

	w = s.admin(t, http.MethodGet, "/v1/admin/audit")
	var audits resp.AuditListResponse
	json.Unmarshal(w.Body.Bytes(), &audits)
	if w.Code != http.StatusOK || audits.Total != 1 {
		t.Fatalf("audit: %d %s", w.Code, w.Body.String())
	}
	if a := audits.Data[0]; a.Action != model.AuditActionRequeue || a.EntryID != id || a.Operator != "ops" || a.TraceID == "" {
		t.Errorf("audit record = %+v", a)
	}
}

func TestAdminLeadsConversationsHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.admin(t, http.MethodGet, "/v1/admin/leads")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"data":[]`) {
		t.Errorf("leads: %d %s", w.Code, w.Body.String())
	}
	if w := s.admin(t, http.MethodGet, "/v1/admin/conversations/telegram:404"); w.Code != http.StatusNotFound {
		t.Errorf("unknown conversation: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health: %d", w.Code)
	}
	w = s.admin(t, http.MethodGet, "/v1/auth/me")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"username":"ops"`) {
		t.Errorf("me: %d %s", w.Code, w.Body.String())
	}
}

func TestAuthLoginRejected(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodPost, "/v1/auth/login", `{"username":"ops","password":"x"}`, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/v1/auth/login", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty body: %d", w.Code)
	}
}

func TestStreamReplaysAfterLastSeq(t *testing.T) {
	s := newTestServer(t)
	s.hub.Publish(v1.QueueEvent{EntryID: 1, Action: constraints.ActionEnqueued})
	s.hub.Publish(v1.QueueEvent{EntryID: 1, Action: constraints.ActionDone})

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/admin/stream?last_seq=1&token="+s.token, nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev v1.QueueEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &ev); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if ev.Seq != 2 || ev.Action != constraints.ActionDone {
			t.Errorf("first replayed event = %+v, want seq 2 done", ev)
		}
		return
	}
	t.Fatalf("stream ended without events: %v", scanner.Err())
}
