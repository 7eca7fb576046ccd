// Package mcppool implements the bounded connection pool and the
// multi-server pool with load balancing and failover described in
// §4.8/§4.9, translated near-literally from the original system's
// pool design.
package mcppool

import (
	"context"
	"sync"
	"time"

	"github.com/agentoven/monitor-core/internal/clienterrors"
	"github.com/agentoven/monitor-core/pkg/mcp/transport"
)

// PooledConnection wraps one transport session with pool bookkeeping.
type PooledConnection struct {
	Transport  transport.Transport
	ServerName string
	URL        string
	CreatedAt  time.Time
	LastUsed   time.Time
	UseCount   int
	Healthy    bool

	checkedOut bool
}

// Touch updates LastUsed/UseCount on reuse.
func (c *PooledConnection) Touch() {
	c.LastUsed = time.Now()
	c.UseCount++
}

func (c *PooledConnection) Age() time.Duration      { return time.Since(c.CreatedAt) }
func (c *PooledConnection) IdleTime() time.Duration { return time.Since(c.LastUsed) }

// PoolConfig bounds and tunes one ConnectionPool.
type PoolConfig struct {
	MaxSize             int
	MaxIdleTime         time.Duration
	HealthCheckInterval time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxSize: 10, MaxIdleTime: 5 * time.Minute, HealthCheckInterval: 60 * time.Second}
}

// Factory creates a fresh transport bound to url on demand.
type Factory func(url string) (transport.Transport, error)

// Stats is the pool statistics snapshot from §9's supplemented feature,
// feeding the Metrics & Health component.
type Stats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	CheckedOut int `json:"checked_out"`
	Created   int `json:"created"`
	Destroyed int `json:"destroyed"`
}

// ConnectionPool is a bounded store of PooledConnection, preserving the
// original's single-queue design (no per-URL subpools) per §9's open
// question, with a per-URL index added for diagnostics only.
type ConnectionPool struct {
	cfg     PoolConfig
	factory Factory

	mu          sync.Mutex
	available   []*PooledConnection
	connections map[*PooledConnection]struct{}
	byURL       map[string][]*PooledConnection
	created     int
	destroyed   int

	stopCh  chan struct{}
	running bool
	wg      sync.WaitGroup
}

func NewConnectionPool(cfg PoolConfig, factory Factory) *ConnectionPool {
	return &ConnectionPool{
		cfg:         cfg,
		factory:     factory,
		connections: make(map[*PooledConnection]struct{}),
		byURL:       make(map[string][]*PooledConnection),
	}
}

// Acquire reuses an idle, healthy, non-expired connection for url if
// present; otherwise creates one if below MaxSize; otherwise fails with
// clienterrors.ErrExhausted.
func (p *ConnectionPool) Acquire(ctx context.Context, serverName, url string) (*PooledConnection, error) {
	p.mu.Lock()
	for i, c := range p.available {
		if c.URL == url && c.Healthy && !p.expiredLocked(c) {
			p.available = append(p.available[:i], p.available[i+1:]...)
			c.checkedOut = true
			c.Touch()
			p.mu.Unlock()
			return c, nil
		}
	}
	if len(p.connections) >= p.cfg.MaxSize {
		p.mu.Unlock()
		return nil, clienterrors.Wrap(clienterrors.KindExhausted, "acquire", clienterrors.ErrExhausted).WithServer(url)
	}
	p.mu.Unlock()

	tr, err := p.factory(url)
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.KindConnection, "acquire", err).WithServer(url)
	}
	conn := &PooledConnection{
		Transport:  tr,
		ServerName: serverName,
		URL:        url,
		CreatedAt:  time.Now(),
		LastUsed:   time.Now(),
		Healthy:    true,
		checkedOut: true,
	}

	p.mu.Lock()
	if len(p.connections) >= p.cfg.MaxSize {
		p.mu.Unlock()
		tr.Close()
		return nil, clienterrors.Wrap(clienterrors.KindExhausted, "acquire", clienterrors.ErrExhausted).WithServer(url)
	}
	p.connections[conn] = struct{}{}
	p.byURL[url] = append(p.byURL[url], conn)
	p.created++
	p.mu.Unlock()

	return conn, nil
}

// expiredLocked reports idle-timeout expiry; caller holds p.mu.
func (p *ConnectionPool) expiredLocked(c *PooledConnection) bool {
	return p.cfg.MaxIdleTime > 0 && c.IdleTime() > p.cfg.MaxIdleTime
}

// Release returns a healthy connection to the available list, or
// destroys it otherwise. A released connection is either in the
// available list or destroyed, never both.
func (p *ConnectionPool) Release(conn *PooledConnection) {
	p.mu.Lock()
	conn.checkedOut = false
	if _, ok := p.connections[conn]; !ok {
		p.mu.Unlock()
		return
	}
	if conn.Healthy {
		p.available = append(p.available, conn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.destroy(conn)
}

// destroy is idempotent: destroying an already-removed connection is a
// no-op.
func (p *ConnectionPool) destroy(conn *PooledConnection) {
	p.mu.Lock()
	if _, ok := p.connections[conn]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.connections, conn)
	for i, c := range p.available {
		if c == conn {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}
	urlConns := p.byURL[conn.URL]
	for i, c := range urlConns {
		if c == conn {
			p.byURL[conn.URL] = append(urlConns[:i], urlConns[i+1:]...)
			break
		}
	}
	p.destroyed++
	p.mu.Unlock()
	conn.Transport.Close()
}

// Cleanup destroys connections whose idle time exceeds MaxIdleTime or
// that are unhealthy.
func (p *ConnectionPool) Cleanup() {
	p.mu.Lock()
	var stale []*PooledConnection
	for _, c := range p.available {
		if !c.Healthy || p.expiredLocked(c) {
			stale = append(stale, c)
		}
	}
	p.mu.Unlock()
	for _, c := range stale {
		p.destroy(c)
	}
}

// StartHealthChecking launches the background probe+cleanup loop.
// Idempotent: calling it while already running is a no-op.
func (p *ConnectionPool) StartHealthChecking(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.checkAll(ctx)
				p.Cleanup()
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SetHealthy synchronizes a connection's Healthy flag through the
// pool's own lock, the single path every caller (this pool's checkAll
// and the owning ServerPool's failover/probe paths) must use instead of
// writing PooledConnection.Healthy directly.
func (p *ConnectionPool) SetHealthy(conn *PooledConnection, healthy bool) {
	p.mu.Lock()
	conn.Healthy = healthy
	p.mu.Unlock()
}

func (p *ConnectionPool) checkAll(ctx context.Context) {
	p.mu.Lock()
	conns := make([]*PooledConnection, 0, len(p.connections))
	for c := range p.connections {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := c.Transport.ListTools(probeCtx)
		cancel()
		p.SetHealthy(c, err == nil)
	}
}

// StopHealthChecking halts the background loop. Idempotent.
func (p *ConnectionPool) StopHealthChecking() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

// Close cancels the background loop, destroys all connections, and
// clears state. Calling Close twice is a no-op the second time.
func (p *ConnectionPool) Close() {
	p.StopHealthChecking()
	p.mu.Lock()
	conns := make([]*PooledConnection, 0, len(p.connections))
	for c := range p.connections {
		conns = append(conns, c)
	}
	p.mu.Unlock()
	for _, c := range conns {
		p.destroy(c)
	}
}

// Stats returns a point-in-time snapshot.
func (p *ConnectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	checkedOut := 0
	for c := range p.connections {
		if c.checkedOut {
			checkedOut++
		}
	}
	return Stats{
		Total:      len(p.connections),
		Available:  len(p.available),
		CheckedOut: checkedOut,
		Created:    p.created,
		Destroyed:  p.destroyed,
	}
}
