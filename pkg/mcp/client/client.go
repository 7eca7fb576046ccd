// Package client composes an MCP transport with retry, concurrency,
// and metrics policy, exposing the unified call surface AI workflows
// use to discover and invoke remote tools, per §4.7.
package client

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agentoven/monitor-core/internal/clienterrors"
	"github.com/agentoven/monitor-core/internal/config"
	"github.com/agentoven/monitor-core/internal/retry"
	"github.com/agentoven/monitor-core/pkg/mcp/transport"
)

// Client owns its Metrics; the Transport owns its Session. Neither
// references back to the Client, per §9's cyclic-reference inversion.
type Client struct {
	transport transport.Transport
	cfg       config.ClientConfig
	metrics   *Metrics
	sem       *semaphore.Weighted
}

// New builds a Client wrapping t with the given config.
func New(t transport.Transport, cfg config.ClientConfig) *Client {
	cap := cfg.MaxConcurrentRequest
	if cap <= 0 {
		cap = 50
	}
	return &Client{
		transport: t,
		cfg:       cfg,
		metrics:   NewMetrics(1000),
		sem:       semaphore.NewWeighted(int64(cap)),
	}
}

func (c *Client) Metrics() *Metrics { return c.metrics }

// Envelope is the uniform success/error wrapper §4.7's "execute
// proposed tool" operation returns to AI workflows.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	ToolUsed string     `json:"tool_used"`
}

func (c *Client) retryConfig() retry.Config {
	return retry.Config{
		MaxRetries:    c.cfg.Retry.MaxRetries,
		BaseDelay:     c.cfg.Retry.BaseDelay,
		MaxDelay:      c.cfg.Retry.MaxDelay,
		BackoffFactor: c.cfg.Retry.BackoffFactor,
		Jitter:        c.cfg.Retry.Jitter,
	}
}

// withCap acquires the client-wide concurrency semaphore for the
// duration of fn.
func (c *Client) withCap(ctx context.Context, fn func() error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return clienterrors.Wrap(clienterrors.KindTimeout, "acquire_capacity", err)
	}
	defer c.sem.Release(1)
	return fn()
}

// CallTool retries on Connection/Timeout per §4.7; every attempt
// re-opens a session via the transport. Results are recorded to
// Metrics regardless of outcome.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	var result interface{}
	err := c.withCap(ctx, func() error {
		return retry.Do(ctx, c.retryConfig(), "call_tool:"+name, func(attemptCtx context.Context, attempt int) error {
			callCtx, cancel := context.WithTimeout(attemptCtx, c.cfg.Timeout)
			defer cancel()

			start := time.Now()
			r, err := c.transport.CallTool(callCtx, name, args)
			duration := time.Since(start)

			if err != nil {
				kind := "unknown"
				if ce, ok := clienterrors.As(err); ok {
					kind = string(ce.Kind)
				} else if callCtx.Err() != nil {
					err = clienterrors.Wrap(clienterrors.KindTimeout, "call_tool", callCtx.Err())
					kind = string(clienterrors.KindTimeout)
				}
				c.metrics.Record(name, duration, false, kind)
				return err
			}
			c.metrics.Record(name, duration, true, "")
			result = r
			return nil
		})
	})
	return result, err
}

// ExecuteProposedTool wraps CallTool with the uniform Envelope shape
// AI workflows consume.
func (c *Client) ExecuteProposedTool(ctx context.Context, name string, args map[string]interface{}) Envelope {
	data, err := c.CallTool(ctx, name, args)
	if err != nil {
		return Envelope{Success: false, Error: err.Error(), ToolUsed: name}
	}
	return Envelope{Success: true, Data: data, ToolUsed: name}
}

// ListTools retries per the same policy as CallTool.
func (c *Client) ListTools(ctx context.Context) ([]string, error) {
	var names []string
	err := c.withCap(ctx, func() error {
		return retry.Do(ctx, c.retryConfig(), "list_tools", func(attemptCtx context.Context, attempt int) error {
			callCtx, cancel := context.WithTimeout(attemptCtx, c.cfg.Timeout)
			defer cancel()
			start := time.Now()
			n, err := c.transport.ListTools(callCtx)
			duration := time.Since(start)
			if err != nil {
				kind := "unknown"
				if ce, ok := clienterrors.As(err); ok {
					kind = string(ce.Kind)
				}
				c.metrics.Record("list_tools", duration, false, kind)
				return err
			}
			c.metrics.Record("list_tools", duration, true, "")
			names = n
			return nil
		})
	})
	return names, err
}

// DiscoverTools enriches ListTools names into a full ToolCatalog,
// filling defaults per §6 for any metadata the transport does not
// separately expose. serverName qualifies entries for dual-indexed
// lookup.
func (c *Client) DiscoverTools(ctx context.Context, serverName string) (*ToolCatalog, error) {
	names, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	catalog := NewToolCatalog()
	catalog.AddNames(serverName, names)
	return catalog, nil
}

// WithSession exposes a scoped session so higher layers can reuse one
// session across many operations instead of paying the open/close cost
// per call, per §4.7's "session acquisition" requirement.
func (c *Client) WithSession(ctx context.Context, fn func(transport.Session) error) error {
	sessCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	sess, err := c.transport.OpenSession(sessCtx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(sess)
}

// IsHealthy delegates to the underlying transport's cached probe.
func (c *Client) IsHealthy(ctx context.Context) bool { return c.transport.IsHealthy(ctx) }

// Close releases the underlying transport.
func (c *Client) Close() error { return c.transport.Close() }
