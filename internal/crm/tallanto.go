package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TallantoClient talks to the Tallanto set_entry JSON API.
type TallantoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewTallantoClient(baseURL, apiKey string, timeout time.Duration) *TallantoClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TallantoClient{
		baseURL:    strings.TrimSpace(baseURL),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *TallantoClient) Provider() string { return "tallanto" }

func (c *TallantoClient) CreateLead(ctx context.Context, req LeadRequest) (*Result, error) {
	return c.setEntry(ctx, "leads", map[string]any{
		"phone":  req.Phone,
		"brand":  req.Brand,
		"name":   req.Name,
		"source": req.Source,
		"note":   req.Note,
	})
}

func (c *TallantoClient) setEntry(ctx context.Context, module string, fields map[string]any) (*Result, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(map[string]any{
		"method":        "set_entry",
		"api_key":       c.apiKey,
		"module":        module,
		"fields_values": fields,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tallanto connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tallanto http error: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	parsed := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("tallanto response is not valid JSON: %w", err)
		}
	}

	entryID := extractEntryID(parsed)
	if entryID == "" && parsed["success"] != true {
		return nil, fmt.Errorf("tallanto returned no entry id")
	}
	return &Result{EntryID: entryID, Raw: parsed}, nil
}

// extractEntryID looks for the id in the places Tallanto deployments are
// known to put it.
func extractEntryID(payload map[string]any) string {
	candidates := []any{payload["id"], payload["entry_id"]}
	for _, nested := range []string{"result", "data"} {
		if m, ok := payload[nested].(map[string]any); ok {
			candidates = append(candidates, m["id"])
		}
	}
	for _, c := range candidates {
		switch v := c.(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
