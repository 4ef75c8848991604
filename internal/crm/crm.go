// Package crm creates sales leads in the configured CRM.
package crm

import (
	"context"
	"errors"
	"fmt"

	"salesflow/internal/config"
)

var (
	ErrDisabled       = errors.New("crm integration is disabled")
	ErrNotConfigured  = errors.New("crm is not configured")
	ErrNotImplemented = errors.New("crm adapter is not implemented")
)

type LeadRequest struct {
	Phone  string
	Brand  string
	Name   string
	Source string
	Note   string
}

type Result struct {
	EntryID string
	Raw     map[string]any
}

type Client interface {
	Provider() string
	CreateLead(ctx context.Context, req LeadRequest) (*Result, error)
}

// New builds the client selected by cfg.Provider.
func New(cfg config.CRMConfig) (Client, error) {
	switch cfg.Provider {
	case "tallanto":
		return NewTallantoClient(cfg.TallantoURL, cfg.TallantoAPIKey, cfg.Timeout), nil
	case "amo":
		return &AmoClient{baseURL: cfg.AmoURL, accessToken: cfg.AmoAccessToken}, nil
	case "none", "":
		return NoopClient{}, nil
	default:
		return nil, fmt.Errorf("unsupported crm provider %q", cfg.Provider)
	}
}

type NoopClient struct{}

func (NoopClient) Provider() string { return "none" }

func (NoopClient) CreateLead(context.Context, LeadRequest) (*Result, error) {
	return nil, ErrDisabled
}

// AmoClient is accepted in configuration but cannot create leads yet.
type AmoClient struct {
	baseURL     string
	accessToken string
}

func (c *AmoClient) Provider() string { return "amo" }

func (c *AmoClient) CreateLead(context.Context, LeadRequest) (*Result, error) {
	if c.baseURL == "" || c.accessToken == "" {
		return nil, ErrNotConfigured
	}
	return nil, ErrNotImplemented
}
