// Package transport defines the MCP transport abstraction shared by the
// three substrates (event-stream, request-response, local-process) and
// the scoped Session type each yields.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/agentoven/monitor-core/internal/clienterrors"
)

// ToolInfo is the per-tool metadata the catalog enriches list_tools
// names with, filled with defaults when a server does not supply it.
type ToolInfo struct {
	Name       string                 `json:"name"`
	MCPServer  string                 `json:"mcp_server"`
	Parameters map[string]interface{} `json:"parameters"`
}

// DefaultToolInfo fills the §6 "absent per-tool metadata" default.
func DefaultToolInfo(name string) ToolInfo {
	return ToolInfo{Name: name, MCPServer: "unknown", Parameters: map[string]interface{}{}}
}

// Session is a scoped, initialized connection to a single MCP server.
// Every public Transport operation opens one, uses it, and closes it —
// even on an error path.
type Session interface {
	ListTools(ctx context.Context) ([]string, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
	Close() error
}

// Transport is the single interface satisfied structurally by all three
// concrete substrates, per §9's "one interface, three concrete types."
type Transport interface {
	// OpenSession opens, initializes, and returns a Session. Callers
	// must Close it. Open and initialize are bounded by the transport's
	// configured timeout; exceeding it yields a Timeout ClientError,
	// not Connection.
	OpenSession(ctx context.Context) (Session, error)
	ListTools(ctx context.Context) ([]string, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
	// IsHealthy reports liveness, caching the result within
	// healthCheckInterval to bound probing cost (default 60s).
	IsHealthy(ctx context.Context) bool
	Close() error
}

// withSession is a generic "open, do, close" helper for §4.6's
// "Connection contract." The three transports do not call it; each
// ListTools/CallTool opens its own session and defers its Close.
func withSession(ctx context.Context, t Transport, fn func(Session) (interface{}, error)) (interface{}, error) {
	sess, err := t.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return fn(sess)
}

// healthCache memoizes a boolean health probe result for a configurable
// interval, shared by all three transport implementations so IsHealthy
// never re-probes more often than configured.
type healthCache struct {
	mu        sync.Mutex
	interval  time.Duration
	lastCheck time.Time
	lastValue bool
	primed    bool
}

func newHealthCache(interval time.Duration) *healthCache {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &healthCache{interval: interval}
}

// checkedValue returns the cached value if still fresh, else calls
// probe and caches the result.
func (h *healthCache) checkedValue(probe func() bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.primed && time.Since(h.lastCheck) < h.interval {
		return h.lastValue
	}
	h.lastValue = probe()
	h.lastCheck = time.Now()
	h.primed = true
	return h.lastValue
}

func timeoutErr(operation string, cause error) error {
	return clienterrors.Wrap(clienterrors.KindTimeout, operation, cause)
}

func connectionErr(operation string, cause error) error {
	return clienterrors.Wrap(clienterrors.KindConnection, operation, cause)
}
