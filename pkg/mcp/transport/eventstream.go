package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentoven/monitor-core/internal/clienterrors"
)

// EventStreamConfig configures the bidirectional push-capable transport.
type EventStreamConfig struct {
	Endpoint            string
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	Headers             map[string]string
	HealthCheckInterval time.Duration
}

// EventStreamTransport interoperates with servers that speak a
// server-push protocol over an HTTP-like substrate: it writes request
// frames on a POST, reads a stream of framed (SSE "data:") events on
// the response body, per §6.
type EventStreamTransport struct {
	cfg    EventStreamConfig
	client *http.Client
	health *healthCache
	closed int32
}

func NewEventStreamTransport(cfg EventStreamConfig) *EventStreamTransport {
	return &EventStreamTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.ReadTimeout},
		health: newHealthCache(cfg.HealthCheckInterval),
	}
}

type esSession struct {
	t      *EventStreamTransport
	mu     sync.Mutex
	closed bool
}

func (t *EventStreamTransport) OpenSession(ctx context.Context) (Session, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return nil, clienterrors.New(clienterrors.KindConnection, "open_session", "transport closed")
	}
	initCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	if _, err := t.send(initCtx, "initialize", map[string]interface{}{}); err != nil {
		if initCtx.Err() != nil {
			return nil, timeoutErr("initialize", initCtx.Err())
		}
		return nil, connectionErr("initialize", err)
	}
	return &esSession{t: t}, nil
}

// send issues one request frame and consumes the event stream response
// until the terminal frame, keeping only the last "data:" line and
// returning the decoded "result" field of that final event.
func (t *EventStreamTransport) send(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindValidation, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindConnection, method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, connectionErr(method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, clienterrors.New(clienterrors.KindServer, method, fmt.Sprintf("server returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, clienterrors.New(clienterrors.KindValidation, method, fmt.Sprintf("server returned %d", resp.StatusCode))
	}

	var last []byte
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		last = []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		if ctx.Err() != nil {
			return nil, timeoutErr(method, ctx.Err())
		}
		return nil, connectionErr(method, err)
	}
	if last == nil {
		return nil, clienterrors.New(clienterrors.KindServer, method, "event stream closed with no data frame")
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(last, &envelope); err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindServer, method, err)
	}
	if envelope.Error != nil {
		return nil, clienterrors.New(clienterrors.KindToolExecution, method, envelope.Error.Message)
	}
	return envelope.Result, nil
}

func (s *esSession) ListTools(ctx context.Context) ([]string, error) {
	raw, err := s.t.send(ctx, "tools/list", map[string]interface{}{})
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
	for _, ti := range payload.Tools {
		names = append(names, ti.Name)
	}
	return names, nil
}

func (s *esSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	raw, err := s.t.send(ctx, "tools/call", map[string]interface{}{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var result interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindServer, "tools/call", err)
	}
	return result, nil
}

func (s *esSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (t *EventStreamTransport) ListTools(ctx context.Context) ([]string, error) {
	sess, err := t.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.ListTools(ctx)
}

func (t *EventStreamTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	sess, err := t.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.CallTool(ctx, name, args)
}

func (t *EventStreamTransport) IsHealthy(ctx context.Context) bool {
	return t.health.checkedValue(func() bool {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := t.ListTools(probeCtx)
		return err == nil
	})
}

func (t *EventStreamTransport) Close() error {
	atomic.StoreInt32(&t.closed, 1)
	t.client.CloseIdleConnections()
	return nil
}
