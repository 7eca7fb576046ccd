// Package notify implements the Action Dispatcher's deterministic
// handler table, including the HMAC-signed webhook notification
// channel adapted from the reference control-plane's notification
// service.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/monitor-core/pkg/checkpoint"
)

// Handler executes one deterministic action tag against an item's
// parameters. Handlers must not block indefinitely; callers bound them
// with a context deadline.
type Handler func(ctx context.Context, itemID string, params map[string]interface{}) error

// Dispatcher resolves a deterministic action's name tag to a Handler,
// per §4.4: "unknown tags are logged and skipped."
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for tag.
func (d *Dispatcher) Register(tag string, h Handler) {
	d.handlers[tag] = h
}

// Dispatch executes every action for one (item, CP) in list order with
// at-most-once semantics per item+CP+action-name; failures are logged
// and do not block subsequent actions, per §4.3's dispatch stage.
func (d *Dispatcher) Dispatch(ctx context.Context, itemID, cpName string, actions []checkpoint.Action) []error {
	seen := make(map[string]bool, len(actions))
	var errs []error
	for _, action := range actions {
		dedupeKey := fmt.Sprintf("%s:%s:%s", itemID, cpName, action.Name)
		if seen[dedupeKey] {
			continue
		}
		seen[dedupeKey] = true

		h, ok := d.handlers[action.Name]
		if !ok {
			log.Warn().Str("action", action.Name).Str("item", itemID).Str("cp", cpName).Msg("notify: unknown action tag, skipping")
			continue
		}
		if err := h(ctx, itemID, action.Parameters); err != nil {
			log.Warn().Err(err).Str("action", action.Name).Str("item", itemID).Msg("notify: action failed")
			errs = append(errs, fmt.Errorf("action %s: %w", action.Name, err))
		}
	}
	return errs
}

// WebhookConfig configures the outbound HMAC-signed webhook driver, the
// counterpart to the inbound webhook_event monitoring kind.
type WebhookConfig struct {
	URL    string
	Secret string
}

// WebhookHandler returns a Handler that POSTs the action parameters as
// a JSON payload to cfg.URL, HMAC-SHA256 signing the body when a secret
// is configured, adapted from the reference control-plane's
// WebhookChannelDriver.
func WebhookHandler(client *http.Client, cfg WebhookConfig) Handler {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return func(ctx context.Context, itemID string, params map[string]interface{}) error {
		payload := map[string]interface{}{
			"item_id":   itemID,
			"params":    params,
			"timestamp": time.Now().UTC(),
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal webhook payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Monitor-Item", itemID)

		if cfg.Secret != "" {
			mac := hmac.New(sha256.New, []byte(cfg.Secret))
			mac.Write(body)
			req.Header.Set("X-Monitor-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		}

		var lastErr error
		for attempt := 0; attempt < 3; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt) * 2 * time.Second):
				}
			}
			resp, err := client.Do(req)
			if err != nil {
				lastErr = err
				continue
			}
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, cfg.URL)
		}
		return fmt.Errorf("webhook failed after 3 attempts: %w", lastErr)
	}
}

// StatusUpdateHandler returns a Handler for the illustrative "status
// update" deterministic action tag named in §4.4 — it records the
// requested status transition via the supplied sink rather than
// prescribing a concrete downstream system.
func StatusUpdateHandler(sink func(ctx context.Context, itemID, status string) error) Handler {
	return func(ctx context.Context, itemID string, params map[string]interface{}) error {
		status, _ := params["status"].(string)
		if status == "" {
			return fmt.Errorf("status_update: missing 'status' parameter")
		}
		return sink(ctx, itemID, status)
	}
}

// TagAdditionHandler returns a Handler for the illustrative "tag
// addition" deterministic action tag.
func TagAdditionHandler(sink func(ctx context.Context, itemID, tag string) error) Handler {
	return func(ctx context.Context, itemID string, params map[string]interface{}) error {
		tag, _ := params["tag"].(string)
		if tag == "" {
			return fmt.Errorf("add_tag: missing 'tag' parameter")
		}
		return sink(ctx, itemID, tag)
	}
}
