// Package messenger delivers replies to users and reads Telegram updates.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"salesflow/pkg/logger"

	"go.uber.org/zap"
)

type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// Sender delivers a text with an optional inline keyboard and returns the
// text actually delivered.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, keyboard [][]Button) (string, error)
}

// maxMessageLen is the Bot API limit for sendMessage text.
const maxMessageLen = 4096

var ErrAPI = errors.New("telegram api error")

type TelegramClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewTelegramClient(apiURL, token string, timeout time.Duration) *TelegramClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramClient{
		baseURL: strings.TrimRight(apiURL, "/") + "/bot" + token,
		// long polling keeps a request open for the poll timeout
		httpClient: &http.Client{Timeout: timeout + 10*time.Second},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

func (c *TelegramClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !result.OK {
		return fmt.Errorf("%w: %s: %d %s", ErrAPI, method, result.ErrorCode, result.Description)
	}
	if out != nil {
		return json.Unmarshal(result.Result, out)
	}
	return nil
}

func (c *TelegramClient) Send(ctx context.Context, chatID int64, text string, keyboard [][]Button) (string, error) {
	if runes := []rune(text); len(runes) > maxMessageLen {
		text = string(runes[:maxMessageLen])
	}
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if len(keyboard) > 0 {
		params["reply_markup"] = map[string]any{"inline_keyboard": keyboard}
	}
	if err := c.call(ctx, "sendMessage", params, nil); err != nil {
		return "", err
	}
	return text, nil
}

// AnswerCallback stops the loading indicator on an inline button.
func (c *TelegramClient) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": callbackID}, nil)
}

// GetUpdates long-polls for updates after offset.
func (c *TelegramClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

// LogSender only logs replies. It backs telegram.mode=off.
type LogSender struct{}

func (LogSender) Send(_ context.Context, chatID int64, text string, keyboard [][]Button) (string, error) {
	logger.Info("reply (not delivered)",
		zap.Int64("chat_id", chatID),
		zap.String("text", text),
		zap.Int("keyboard_rows", len(keyboard)))
	return text, nil
}
