package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/monitor-core/pkg/checkpoint"
)

func TestDispatchSkipsUnknownTag(t *testing.T) {
	d := NewDispatcher()
	errs := d.Dispatch(context.Background(), "item-1", "cp-a", []checkpoint.Action{{Name: "ghost_action"}})
	assert.Empty(t, errs)
}

func TestDispatchRunsRegisteredHandler(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Register("ping", func(ctx context.Context, itemID string, params map[string]interface{}) error {
		called = true
		return nil
	})
	errs := d.Dispatch(context.Background(), "item-1", "cp-a", []checkpoint.Action{{Name: "ping"}})
	assert.Empty(t, errs)
	assert.True(t, called)
}

func TestDispatchAtMostOncePerItemCPAction(t *testing.T) {
	d := NewDispatcher()
	count := 0
	d.Register("ping", func(ctx context.Context, itemID string, params map[string]interface{}) error {
		count++
		return nil
	})
	actions := []checkpoint.Action{{Name: "ping"}, {Name: "ping"}}
	d.Dispatch(context.Background(), "item-1", "cp-a", actions)
	assert.Equal(t, 1, count)
}

func TestDispatchCollectsFailuresWithoutStopping(t *testing.T) {
	d := NewDispatcher()
	var seen []string
	d.Register("first", func(ctx context.Context, itemID string, params map[string]interface{}) error {
		seen = append(seen, "first")
		return errors.New("boom")
	})
	d.Register("second", func(ctx context.Context, itemID string, params map[string]interface{}) error {
		seen = append(seen, "second")
		return nil
	})
	errs := d.Dispatch(context.Background(), "item-1", "cp-a", []checkpoint.Action{{Name: "first"}, {Name: "second"}})
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestWebhookHandlerSignsPayload(t *testing.T) {
	secret := "s3cr3t"
	var received []byte
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		signature = r.Header.Get("X-Monitor-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	handler := WebhookHandler(srv.Client(), WebhookConfig{URL: srv.URL, Secret: secret})
	err := handler(context.Background(), "item-1", map[string]interface{}{"status": "ok"})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(received)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, signature)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(received, &payload))
	assert.Equal(t, "item-1", payload["item_id"])
}

func TestWebhookHandlerRetriesThenFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	handler := WebhookHandler(srv.Client(), WebhookConfig{URL: srv.URL})
	err := handler(context.Background(), "item-1", nil)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestStatusUpdateHandlerRequiresStatus(t *testing.T) {
	h := StatusUpdateHandler(func(ctx context.Context, itemID, status string) error { return nil })
	err := h(context.Background(), "item-1", map[string]interface{}{})
	assert.Error(t, err)
}

func TestTagAdditionHandlerInvokesSink(t *testing.T) {
	var gotTag string
	h := TagAdditionHandler(func(ctx context.Context, itemID, tag string) error {
		gotTag = tag
		return nil
	})
	err := h(context.Background(), "item-1", map[string]interface{}{"tag": "urgent"})
	require.NoError(t, err)
	assert.Equal(t, "urgent", gotTag)
}
