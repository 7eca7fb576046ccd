package mcppool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/monitor-core/pkg/mcp/transport"
)

type fakeSession struct{}

func (fakeSession) ListTools(ctx context.Context) ([]string, error) { return []string{"tool_a"}, nil }
func (fakeSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (fakeSession) Close() error { return nil }

type fakeTransport struct {
	url     string
	closed  int32
	healthy bool
	listErr error
}

func (f *fakeTransport) OpenSession(ctx context.Context) (transport.Session, error) {
	return fakeSession{}, nil
}
func (f *fakeTransport) ListTools(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []string{"tool_a"}, nil
}
func (f *fakeTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (f *fakeTransport) IsHealthy(ctx context.Context) bool { return f.healthy }
func (f *fakeTransport) Close() error {
	atomic.StoreInt32(&f.closed, 1)
	return nil
}

func newFactory(created *sync.Map) Factory {
	return func(url string) (transport.Transport, error) {
		tr := &fakeTransport{url: url}
		created.Store(url, tr)
		return tr, nil
	}
}

func TestAcquireCreatesUpToMaxSize(t *testing.T) {
	var created sync.Map
	pool := NewConnectionPool(PoolConfig{MaxSize: 2, MaxIdleTime: time.Minute, HealthCheckInterval: time.Minute}, newFactory(&created))

	c1, err := pool.Acquire(context.Background(), "srv", "http://a")
	require.NoError(t, err)
	c2, err := pool.Acquire(context.Background(), "srv", "http://b")
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)

	_, err = pool.Acquire(context.Background(), "srv", "http://c")
	assert.Error(t, err)
}

func TestReleaseReusesHealthyConnection(t *testing.T) {
	var created sync.Map
	pool := NewConnectionPool(PoolConfig{MaxSize: 1, MaxIdleTime: time.Minute, HealthCheckInterval: time.Minute}, newFactory(&created))

	c1, err := pool.Acquire(context.Background(), "srv", "http://a")
	require.NoError(t, err)
	pool.Release(c1)

	c2, err := pool.Acquire(context.Background(), "srv", "http://a")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestReleaseDestroysUnhealthyConnection(t *testing.T) {
	var created sync.Map
	pool := NewConnectionPool(PoolConfig{MaxSize: 1, MaxIdleTime: time.Minute, HealthCheckInterval: time.Minute}, newFactory(&created))

	c1, err := pool.Acquire(context.Background(), "srv", "http://a")
	require.NoError(t, err)
	c1.Healthy = false
	pool.Release(c1)

	stats := pool.Stats()
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 1, stats.Destroyed)
}

func TestStatsReflectsCheckedOutVsAvailable(t *testing.T) {
	var created sync.Map
	pool := NewConnectionPool(PoolConfig{MaxSize: 2, MaxIdleTime: time.Minute, HealthCheckInterval: time.Minute}, newFactory(&created))

	c1, err := pool.Acquire(context.Background(), "srv", "http://a")
	require.NoError(t, err)
	stats := pool.Stats()
	assert.Equal(t, 1, stats.CheckedOut)
	assert.Equal(t, 0, stats.Available)

	pool.Release(c1)
	stats = pool.Stats()
	assert.Equal(t, 0, stats.CheckedOut)
	assert.Equal(t, 1, stats.Available)
}

func TestCleanupDestroysExpiredIdleConnections(t *testing.T) {
	var created sync.Map
	pool := NewConnectionPool(PoolConfig{MaxSize: 1, MaxIdleTime: time.Millisecond, HealthCheckInterval: time.Minute}, newFactory(&created))

	c1, err := pool.Acquire(context.Background(), "srv", "http://a")
	require.NoError(t, err)
	pool.Release(c1)

	time.Sleep(5 * time.Millisecond)
	pool.Cleanup()

	assert.Equal(t, 0, pool.Stats().Total)
}

func TestFactoryErrorPropagates(t *testing.T) {
	boom := errors.New("dial failed")
	pool := NewConnectionPool(DefaultPoolConfig(), func(url string) (transport.Transport, error) {
		return nil, boom
	})
	_, err := pool.Acquire(context.Background(), "srv", "http://a")
	require.Error(t, err)
}
