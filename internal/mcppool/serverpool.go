package mcppool

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/monitor-core/internal/clienterrors"
)

// LoadBalanceStrategy selects among a server's URLs, per §4.9. It does
// not take part in choosing a server: ServerPool picks servers by
// health and priority only.
type LoadBalanceStrategy string

const (
	RoundRobin         LoadBalanceStrategy = "round_robin"
	LeastConnections   LoadBalanceStrategy = "least_connections"
	Random             LoadBalanceStrategy = "random"
	WeightedRoundRobin LoadBalanceStrategy = "weighted_round_robin"
)

// ServerDescriptor mirrors §3's ServerDescriptor, validated eagerly at
// construction per the supplemented __post_init__-style feature.
type ServerDescriptor struct {
	Name                string
	URLs                []string
	Weight              int
	Priority            int
	MaxConnections      int
	HealthCheckInterval time.Duration
	Timeout             time.Duration
}

// NewServerDescriptor validates urls/weight/max_connections eagerly,
// rejecting invalid configuration at construction time rather than
// deferring to first use.
func NewServerDescriptor(name string, urls []string, weight, priority, maxConnections int) (*ServerDescriptor, error) {
	if len(urls) == 0 {
		return nil, clienterrors.New(clienterrors.KindConfiguration, "new_server_descriptor", "urls must not be empty").WithContext("server", name)
	}
	if weight < 1 {
		return nil, clienterrors.New(clienterrors.KindConfiguration, "new_server_descriptor", "weight must be >= 1").WithContext("server", name)
	}
	if maxConnections < 1 {
		return nil, clienterrors.New(clienterrors.KindConfiguration, "new_server_descriptor", "max_connections must be >= 1").WithContext("server", name)
	}
	return &ServerDescriptor{
		Name:                name,
		URLs:                urls,
		Weight:              weight,
		Priority:            priority,
		MaxConnections:      maxConnections,
		HealthCheckInterval: 60 * time.Second,
		Timeout:             30 * time.Second,
	}, nil
}

type serverEntry struct {
	desc      *ServerDescriptor
	pool      *ConnectionPool
	healthy   bool
	insertSeq int

	rrMu     sync.Mutex
	rrCursor int
}

// ServerPool wraps several ConnectionPools, one per named server,
// selecting among them by priority/health and load-balancing within a
// server's own URL list, per §4.9.
type ServerPool struct {
	strategy LoadBalanceStrategy
	factory  Factory

	mu       sync.Mutex
	servers  map[string]*serverEntry
	order    []string // insertion order, for stable tie-breaking
	rrCursor int
	nextSeq  int
}

func NewServerPool(strategy LoadBalanceStrategy, factory Factory) *ServerPool {
	if strategy == "" {
		strategy = RoundRobin
	}
	return &ServerPool{
		strategy: strategy,
		factory:  factory,
		servers:  make(map[string]*serverEntry),
	}
}

// AddServer registers a server and starts its connection pool's health
// loop.
func (sp *ServerPool) AddServer(ctx context.Context, desc *ServerDescriptor) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	pool := NewConnectionPool(PoolConfig{
		MaxSize:             desc.MaxConnections,
		MaxIdleTime:         5 * time.Minute,
		HealthCheckInterval: desc.HealthCheckInterval,
	}, sp.factory)

	entry := &serverEntry{desc: desc, pool: pool, healthy: true, insertSeq: sp.nextSeq}
	sp.nextSeq++
	sp.servers[desc.Name] = entry
	sp.order = append(sp.order, desc.Name)
	pool.StartHealthChecking(ctx)
}

// selectURL picks one URL from a server's list per the configured
// strategy. entry.rrCursor is shared across concurrent ExecuteToolCall
// and probeAll callers, so its own mutex guards it independently of
// sp.mu, which callers here never hold.
func (sp *ServerPool) selectURL(entry *serverEntry) string {
	urls := entry.desc.URLs
	if len(urls) == 1 {
		return urls[0]
	}
	if sp.strategy == Random {
		return urls[rand.Intn(len(urls))]
	}
	// RoundRobin, WeightedRoundRobin, LeastConnections (no per-connection
	// counters at URL grain, fall back to rotation).
	entry.rrMu.Lock()
	idx := entry.rrCursor % len(urls)
	entry.rrCursor++
	entry.rrMu.Unlock()
	return urls[idx]
}

// orderedServersLocked returns every server other than excludeName
// sorted by descending priority, ties broken by insertion order.
// Caller must hold sp.mu.
func (sp *ServerPool) orderedServersLocked(excludeName string) []*serverEntry {
	var out []*serverEntry
	for _, name := range sp.order {
		if name == excludeName {
			continue
		}
		out = append(out, sp.servers[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].desc.Priority != out[j].desc.Priority {
			return out[i].desc.Priority > out[j].desc.Priority
		}
		return out[i].insertSeq < out[j].insertSeq
	})
	return out
}

// GetHealthyServer returns the name of a healthy, registered server,
// preferring preferredName when healthy, else the highest-priority
// healthy remainder.
func (sp *ServerPool) GetHealthyServer(preferredName string) (string, bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if preferredName != "" {
		if e, ok := sp.servers[preferredName]; ok && e.healthy {
			return preferredName, true
		}
	}
	for _, e := range sp.orderedServersLocked(preferredName) {
		if e.healthy {
			return e.desc.Name, true
		}
	}
	return "", false
}

// ExecuteToolCall implements the failover algorithm of §4.9: try
// preferredServer if healthy, then iterate the remainder in descending
// priority order, skipping unhealthy servers, until one succeeds or
// all are exhausted.
func (sp *ServerPool) ExecuteToolCall(ctx context.Context, preferredServer, tool string, args map[string]interface{}, onFailure func(serverName string, err error)) (interface{}, error) {
	sp.mu.Lock()
	var candidates []*serverEntry
	if e, ok := sp.servers[preferredServer]; ok && e.healthy {
		candidates = append(candidates, e)
	}
	candidates = append(candidates, sp.orderedServersLockedHealthy(preferredServer)...)
	sp.mu.Unlock()

	var lastErr error
	for _, e := range candidates {
		result, err := sp.executeOnServer(ctx, e, tool, args)
		if err == nil {
			return result, nil
		}
		lastErr = err
		sp.markUnhealthy(e.desc.Name)
		if onFailure != nil {
			onFailure(e.desc.Name, err)
		}
	}
	if lastErr == nil {
		lastErr = clienterrors.New(clienterrors.KindServer, "execute_tool_call", "no registered servers")
	}
	return nil, clienterrors.Wrap(clienterrors.KindServer, "execute_tool_call", lastErr).WithContext("reason", "all servers failed")
}

// orderedServersLockedHealthy mirrors orderedServersLocked but filters
// to currently-healthy entries. Caller must hold sp.mu.
func (sp *ServerPool) orderedServersLockedHealthy(excludeName string) []*serverEntry {
	all := sp.orderedServersLocked(excludeName)
	out := all[:0:0]
	for _, e := range all {
		if e.healthy {
			out = append(out, e)
		}
	}
	return out
}

func (sp *ServerPool) executeOnServer(ctx context.Context, e *serverEntry, tool string, args map[string]interface{}) (interface{}, error) {
	url := sp.selectURL(e)
	conn, err := e.pool.Acquire(ctx, e.desc.Name, url)
	if err != nil {
		return nil, err
	}
	defer e.pool.Release(conn)

	callCtx, cancel := context.WithTimeout(ctx, e.desc.Timeout)
	defer cancel()
	result, err := conn.Transport.CallTool(callCtx, tool, args)
	if err != nil {
		e.pool.SetHealthy(conn, false)
		return nil, err
	}
	return result, nil
}

func (sp *ServerPool) markUnhealthy(name string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if e, ok := sp.servers[name]; ok {
		e.healthy = false
	}
}

// MarkHealthy is invoked by the health loop on a successful probe; a
// server becomes eligible again after a subsequent successful probe.
func (sp *ServerPool) MarkHealthy(name string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if e, ok := sp.servers[name]; ok {
		e.healthy = true
	}
}

// StartHealthChecking runs one probe loop that, on each tick, exercises
// one connection's ListTools on every server and updates that server's
// health flag.
func (sp *ServerPool) StartHealthChecking(ctx context.Context, interval time.Duration) (stop func()) {
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sp.probeAll(ctx)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(stopCh) })
		wg.Wait()
	}
}

func (sp *ServerPool) probeAll(ctx context.Context) {
	sp.mu.Lock()
	entries := make([]*serverEntry, 0, len(sp.servers))
	for _, e := range sp.servers {
		entries = append(entries, e)
	}
	sp.mu.Unlock()

	for _, e := range entries {
		url := sp.selectURL(e)
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		conn, err := e.pool.Acquire(probeCtx, e.desc.Name, url)
		if err != nil {
			cancel()
			sp.markUnhealthy(e.desc.Name)
			continue
		}
		_, err = conn.Transport.ListTools(probeCtx)
		cancel()
		e.pool.SetHealthy(conn, err == nil)
		e.pool.Release(conn)
		if err != nil {
			sp.markUnhealthy(e.desc.Name)
		} else {
			sp.MarkHealthy(e.desc.Name)
		}
	}
}

// Close closes every underlying connection pool.
func (sp *ServerPool) Close() {
	sp.mu.Lock()
	entries := make([]*serverEntry, 0, len(sp.servers))
	for _, e := range sp.servers {
		entries = append(entries, e)
	}
	sp.mu.Unlock()
	for _, e := range entries {
		e.pool.Close()
	}
}

// ServerStats is the per-server slice of ServerPool.Stats.
type ServerStats struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Pool    Stats  `json:"pool"`
}

// Stats returns a snapshot across all registered servers, per the
// supplemented pool-statistics feature.
func (sp *ServerPool) Stats() []ServerStats {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	out := make([]ServerStats, 0, len(sp.servers))
	for _, name := range sp.order {
		e := sp.servers[name]
		out = append(out, ServerStats{Name: name, Healthy: e.healthy, Pool: e.pool.Stats()})
	}
	return out
}
