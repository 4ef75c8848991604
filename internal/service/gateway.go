package service

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"salesflow/internal/metrics"
	v1 "salesflow/pkg/api/v1"
	"salesflow/pkg/constraints"
	"salesflow/pkg/logger"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

var (
	ErrInvalidSecret  = errors.New("invalid webhook secret")
	ErrInvalidPayload = errors.New("invalid update payload")
)

// updateSchema accepts any Telegram update that carries an integer
// update_id; the parts the bot reads are checked for shape.
const updateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["update_id"],
  "properties": {
    "update_id": {"type": "integer", "minimum": 0},
    "message": {
      "type": "object",
      "required": ["chat"],
      "properties": {
        "chat": {
          "type": "object",
          "required": ["id"],
          "properties": {"id": {"type": "integer"}}
        },
        "text": {"type": "string"}
      }
    },
    "callback_query": {
      "type": "object",
      "required": ["id", "from"],
      "properties": {
        "id": {"type": "string"},
        "from": {
          "type": "object",
          "required": ["id"],
          "properties": {"id": {"type": "integer"}}
        },
        "data": {"type": "string"}
      }
    }
  }
}`

func compileUpdateSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(updateSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("telegram-update.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("telegram-update.json")
}

type Enqueuer interface {
	Enqueue(ctx context.Context, externalID string, payload string) (int64, bool, error)
}

// Gateway authenticates and durably enqueues externally delivered updates.
// It never waits for processing.
type Gateway struct {
	queue    Enqueuer
	secret   []byte
	schema   *jsonschema.Schema
	notifier Notifier
	observer metrics.QueueObserver
	events   EventPublisher
}

func NewGateway(queue Enqueuer, secret string, notifier Notifier, observer metrics.QueueObserver, events EventPublisher) (*Gateway, error) {
	schema, err := compileUpdateSchema()
	if err != nil {
		return nil, fmt.Errorf("compile update schema: %w", err)
	}
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &Gateway{
		queue:    queue,
		secret:   []byte(secret),
		schema:   schema,
		notifier: notifier,
		observer: observer,
		events:   events,
	}, nil
}

// CheckSecret compares in constant time. With no secret configured every
// request is rejected.
func (g *Gateway) CheckSecret(provided string) error {
	if len(g.secret) == 0 || subtle.ConstantTimeCompare(g.secret, []byte(provided)) != 1 {
		return ErrInvalidSecret
	}
	return nil
}

// Ingest validates body and enqueues it. eventID overrides the update_id
// as the idempotency key when non-empty.
func (g *Gateway) Ingest(ctx context.Context, eventID string, body []byte) (*v1.EnqueueResponse, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := g.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	// update_id must decode the way the processor reads it, so 1.0 is
	// rejected here rather than failing in the worker.
	var head struct {
		UpdateID int64 `json:"update_id"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("%w: update_id: %v", ErrInvalidPayload, err)
	}
	if eventID == "" {
		eventID = strconv.FormatInt(head.UpdateID, 10)
	}

	id, isNew, err := g.queue.Enqueue(ctx, eventID, string(body))
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	g.observer.RecordEnqueue(isNew)

	if isNew {
		if g.events != nil {
			g.events.Publish(v1.QueueEvent{
				EntryID:         id,
				ExternalEventID: eventID,
				Action:          constraints.ActionEnqueued,
				At:              time.Now().UTC(),
			})
		}
		if g.notifier != nil {
			if err := g.notifier.Notify(ctx); err != nil {
				logger.Warn("queue wakeup publish failed", zap.Error(err))
			}
		}
	} else {
		logger.Debug("duplicate update ignored", zap.String("event_id", eventID), zap.Int64("id", id))
	}

	return &v1.EnqueueResponse{ID: id, IsNew: isNew}, nil
}
