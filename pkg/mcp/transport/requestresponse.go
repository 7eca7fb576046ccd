package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentoven/monitor-core/internal/clienterrors"
)

// RequestResponseConfig configures the conventional HTTP-like
// call/response transport.
type RequestResponseConfig struct {
	BaseURL             string
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	Headers             map[string]string
	HealthCheckInterval time.Duration
}

// RequestResponseTransport issues one HTTP round-trip per call; it is
// stateless between calls and firewall-friendly, per §4.6/§6.
type RequestResponseTransport struct {
	cfg    RequestResponseConfig
	client *http.Client
	health *healthCache
	closed int32
}

// NewRequestResponseTransport constructs a transport bound to one base
// URL.
func NewRequestResponseTransport(cfg RequestResponseConfig) *RequestResponseTransport {
	return &RequestResponseTransport{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.ReadTimeout,
		},
		health: newHealthCache(cfg.HealthCheckInterval),
	}
}

type rrSession struct {
	t *RequestResponseTransport
}

func (t *RequestResponseTransport) OpenSession(ctx context.Context) (Session, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return nil, clienterrors.New(clienterrors.KindConnection, "open_session", "transport closed")
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	if err := t.handshake(ctx); err != nil {
		return nil, err
	}
	return &rrSession{t: t}, nil
}

// handshake issues the protocol initialize call a real MCP server
// expects before any tool call; a 5xx reply here stays a Server error,
// any other failure is a Connection error, and timeout here is a
// Timeout error per §4.6.
func (t *RequestResponseTransport) handshake(ctx context.Context) error {
	_, err := t.rpc(ctx, "initialize", map[string]interface{}{})
	if err != nil {
		if ctx.Err() != nil {
			return timeoutErr("initialize", ctx.Err())
		}
		if ce, ok := clienterrors.As(err); ok && ce.Kind == clienterrors.KindServer {
			return err
		}
		return connectionErr("initialize", err)
	}
	return nil
}

func (t *RequestResponseTransport) rpc(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
		"params":  params,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindValidation, method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindConnection, method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutErr(method, ctx.Err())
		}
		return nil, connectionErr(method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connectionErr(method, err)
	}
	if resp.StatusCode >= 500 {
		return nil, clienterrors.New(clienterrors.KindServer, method, fmt.Sprintf("server returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, clienterrors.New(clienterrors.KindValidation, method, fmt.Sprintf("server returned %d", resp.StatusCode))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindServer, method, err)
	}
	if envelope.Error != nil {
		return nil, clienterrors.New(clienterrors.KindToolExecution, method, envelope.Error.Message)
	}
	return envelope.Result, nil
}

func (s *rrSession) ListTools(ctx context.Context) ([]string, error) {
	raw, err := s.t.rpc(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindServer, "tools/list", err)
	}
	names := make([]string, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

func (s *rrSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	raw, err := s.t.rpc(ctx, "tools/call", map[string]interface{}{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var result interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindServer, "tools/call", err)
	}
	return result, nil
}

func (s *rrSession) Close() error { return nil }

func (t *RequestResponseTransport) ListTools(ctx context.Context) ([]string, error) {
	sess, err := t.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.ListTools(ctx)
}

func (t *RequestResponseTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	sess, err := t.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.CallTool(ctx, name, args)
}

func (t *RequestResponseTransport) IsHealthy(ctx context.Context) bool {
	return t.health.checkedValue(func() bool {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := t.ListTools(probeCtx)
		return err == nil
	})
}

func (t *RequestResponseTransport) Close() error {
	atomic.StoreInt32(&t.closed, 1)
	t.client.CloseIdleConnections()
	return nil
}
