package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/monitor-core/internal/clienterrors"
)

// LocalProcessConfig configures a locally spawned MCP server launched
// as a child process, per §4.6/§6: argv, environment, newline-framed
// stdin/stdout messages, stderr captured for diagnostics only.
type LocalProcessConfig struct {
	Command             []string
	Env                 []string
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	HealthCheckInterval time.Duration
}

// LocalProcessTransport's session owns the child process: closing the
// session terminates the child, per §6's "child lifecycle tied to
// session scope."
type LocalProcessTransport struct {
	cfg    LocalProcessConfig
	health *healthCache
	mu     sync.Mutex
	active *lpSession
	closed int32
}

func NewLocalProcessTransport(cfg LocalProcessConfig) *LocalProcessTransport {
	return &LocalProcessTransport{cfg: cfg, health: newHealthCache(cfg.HealthCheckInterval)}
}

type lpSession struct {
	cfg    LocalProcessConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	closed bool
}

func (t *LocalProcessTransport) OpenSession(ctx context.Context) (Session, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return nil, clienterrors.New(clienterrors.KindConnection, "open_session", "transport closed")
	}
	if len(t.cfg.Command) == 0 {
		return nil, clienterrors.New(clienterrors.KindConfiguration, "open_session", "local process command is empty").WithContext("reason", "config")
	}

	openCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	cmd := exec.Command(t.cfg.Command[0], t.cfg.Command[1:]...)
	cmd.Env = t.cfg.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, connectionErr("open_session", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, connectionErr("open_session", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, connectionErr("open_session", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, connectionErr("open_session", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Warn().Str("transport", "local_process").Str("stderr", scanner.Text()).Msg("mcp child stderr")
		}
	}()

	sess := &lpSession{cfg: t.cfg, cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}

	if err := sess.handshake(openCtx); err != nil {
		sess.Close()
		if openCtx.Err() != nil {
			return nil, timeoutErr("initialize", openCtx.Err())
		}
		return nil, err
	}

	t.mu.Lock()
	t.active = sess
	t.mu.Unlock()

	return sess, nil
}

func (s *lpSession) handshake(ctx context.Context) error {
	_, err := s.rpc(ctx, "initialize", map[string]interface{}{})
	return err
}

func (s *lpSession) rpc(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindValidation, method, err)
	}
	reqBody = append(reqBody, '\n')

	type rpcResult struct {
		raw json.RawMessage
		err error
	}
	resultCh := make(chan rpcResult, 1)

	go func() {
		if _, err := s.stdin.Write(reqBody); err != nil {
			resultCh <- rpcResult{err: connectionErr(method, err)}
			return
		}
		line, err := s.stdout.ReadBytes('\n')
		if err != nil {
			resultCh <- rpcResult{err: connectionErr(method, err)}
			return
		}
		var envelope struct {
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			resultCh <- rpcResult{err: clienterrors.Wrap(clienterrors.KindServer, method, err)}
			return
		}
		if envelope.Error != nil {
			resultCh <- rpcResult{err: clienterrors.New(clienterrors.KindToolExecution, method, envelope.Error.Message)}
			return
		}
		resultCh <- rpcResult{raw: envelope.Result}
	}()

	select {
	case <-ctx.Done():
		return nil, timeoutErr(method, ctx.Err())
	case r := <-resultCh:
		return r.raw, r.err
	}
}

func (s *lpSession) ListTools(ctx context.Context) ([]string, error) {
	raw, err := s.rpc(ctx, "tools/list", map[string]interface{}{})
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

func (s *lpSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	raw, err := s.rpc(ctx, "tools/call", map[string]interface{}{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var result interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindServer, "tools/call", err)
	}
	return result, nil
}

func (s *lpSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-done
	}
	return nil
}

func (t *LocalProcessTransport) ListTools(ctx context.Context) ([]string, error) {
	sess, err := t.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.ListTools(ctx)
}

func (t *LocalProcessTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	sess, err := t.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.CallTool(ctx, name, args)
}

func (t *LocalProcessTransport) IsHealthy(ctx context.Context) bool {
	return t.health.checkedValue(func() bool {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := t.ListTools(probeCtx)
		return err == nil
	})
}

func (t *LocalProcessTransport) Close() error {
	atomic.StoreInt32(&t.closed, 1)
	t.mu.Lock()
	active := t.active
	t.active = nil
	t.mu.Unlock()
	if active != nil {
		return active.Close()
	}
	return nil
}
