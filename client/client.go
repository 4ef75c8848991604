package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	v1 "salesflow/pkg/api/v1"
	"salesflow/pkg/logger"

	"go.uber.org/zap"
)

var ErrUnauthorized = errors.New("client: unauthorized")

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: status %d: %s", e.Status, e.Message)
}

type QueueEntry struct {
	ID              int64      `json:"id"`
	ExternalEventID string     `json:"external_event_id,omitempty"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts"`
	LastError       string     `json:"last_error,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Payload         string     `json:"payload,omitempty"`
}

type QueueList struct {
	Data  []QueueEntry `json:"data"`
	Total int64        `json:"total"`
}

type QueueStats struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Client talks to the salesflow admin API on behalf of one operator.
type Client struct {
	addr       string
	httpClient *http.Client

	mu      sync.RWMutex
	access  string
	refresh string
	lastSeq int64

	// heartbeatTimeout drops a silent stream and reconnects.
	heartbeatTimeout time.Duration
}

func New(addr string) *Client {
	return &Client{
		addr:             strings.TrimRight(addr, "/"),
		httpClient:       &http.Client{Timeout: 0},
		heartbeatTimeout: 45 * time.Second,
	}
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	var tokens tokenPair
	err := c.do(ctx, http.MethodPost, "/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &tokens, false)
	if err != nil {
		return err
	}
	c.setTokens(tokens)
	return nil
}

func (c *Client) ListQueue(ctx context.Context, status string, limit, offset int) (*QueueList, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/v1/admin/queue"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out QueueList
	if err := c.do(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) QueueStats(ctx context.Context) (*QueueStats, error) {
	var out QueueStats
	if err := c.do(ctx, http.MethodGet, "/v1/admin/queue/stats", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetEntry(ctx context.Context, id int64) (*QueueEntry, error) {
	var out QueueEntry
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/admin/queue/%d", id), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Requeue moves a failed entry back to retry.
func (c *Client) Requeue(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/queue/%d/requeue", id), nil, nil, true)
}

func (c *Client) setTokens(t tokenPair) {
	c.mu.Lock()
	c.access, c.refresh = t.AccessToken, t.RefreshToken
	c.mu.Unlock()
}

func (c *Client) tokens() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access, c.refresh
}

func (c *Client) refreshTokens(ctx context.Context) error {
	_, refresh := c.tokens()
	if refresh == "" {
		return ErrUnauthorized
	}
	var tokens tokenPair
	if err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": refresh}, &tokens, false); err != nil {
		return err
	}
	c.setTokens(tokens)
	return nil
}

// do sends a JSON request. Authenticated calls retry once after a token
// refresh when the access token has expired.
func (c *Client) do(ctx context.Context, method, path string, body, out any, auth bool) error {
	status, data, err := c.send(ctx, method, path, body, auth)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized && auth {
		if err := c.refreshTokens(ctx); err != nil {
			return ErrUnauthorized
		}
		if status, data, err = c.send(ctx, method, path, body, auth); err != nil {
			return err
		}
	}
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if status < 200 || status > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return &APIError{Status: status, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) send(ctx context.Context, method, path string, body any, auth bool) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		access, _ := c.tokens()
		req.Header.Set("Authorization", "Bearer "+access)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

// LastSeq is the highest event sequence delivered by Watch.
func (c *Client) LastSeq() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeq
}

// Watch follows the queue event stream until ctx ends, reconnecting with
// jittered backoff and resuming from the last delivered sequence.
func (c *Client) Watch(ctx context.Context, actions []string, fn func(v1.QueueEvent)) {
	backoff := time.Second
	maxBackoff := 30 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := c.watchOnce(ctx, actions, fn)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			if rerr := c.refreshTokens(ctx); rerr == nil {
				continue
			}
		}
		if err == nil {
			backoff = time.Second
			err = io.EOF
		}
		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		logger.Warn("queue stream disconnected", zap.Error(err), zap.Duration("retry_in", backoff+jitter))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, actions []string, fn func(v1.QueueEvent)) error {
	q := url.Values{}
	q.Set("last_seq", strconv.FormatInt(c.LastSeq(), 10))
	if len(actions) > 0 {
		q.Set("actions", strings.Join(actions, ","))
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.addr+"/v1/admin/stream?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	access, _ := c.tokens()
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode}
	}

	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())
	go func() {
		ticker := time.NewTicker(c.heartbeatTimeout / 3)
		defer ticker.Stop()
		for {
			select {
			case <-reqCtx.Done():
				return
			case <-ticker.C:
				if time.Since(time.Unix(0, lastActivity.Load())) > c.heartbeatTimeout {
					logger.Warn("queue stream heartbeat timeout, reconnecting")
					cancel()
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	var data bytes.Buffer
	for scanner.Scan() {
		lastActivity.Store(time.Now().UnixNano())
		line := scanner.Text()
		if line == "" {
			switch eventType {
			case "reset":
				// the server no longer buffers our gap; start from live events
				logger.Warn("queue stream reset, events were missed")
				c.mu.Lock()
				c.lastSeq = 0
				c.mu.Unlock()
			case "queue":
				var ev v1.QueueEvent
				if err := json.Unmarshal(data.Bytes(), &ev); err != nil {
					logger.Error("failed to decode queue event", zap.Error(err))
				} else {
					c.mu.Lock()
					if ev.Seq > c.lastSeq {
						c.lastSeq = ev.Seq
					}
					c.mu.Unlock()
					fn(ev)
				}
			}
			eventType = ""
			data.Reset()
			continue
		}
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			eventType = strings.TrimSpace(v)
		} else if v, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteString("\n")
			}
			data.WriteString(strings.TrimSpace(v))
		}
	}
	return scanner.Err()
}
