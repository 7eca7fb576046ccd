package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoScript answers every newline-delimited JSON-RPC request (including
// the initialize handshake) with a fixed tools/list-shaped result, which
// is enough to exercise the stdin/stdout framing without a real MCP
// server binary.
const echoScript = `while IFS= read -r line; do printf '{"result":{"tools":[{"name":"search"}]}}\n'; done`

func echoConfig() LocalProcessConfig {
	return LocalProcessConfig{
		Command:        []string{"/bin/sh", "-c", echoScript},
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
	}
}

func TestLocalProcessListToolsRoundTripsOverStdio(t *testing.T) {
	tr := NewLocalProcessTransport(echoConfig())
	names, err := tr.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"search"}, names)
}

func TestLocalProcessRejectsEmptyCommand(t *testing.T) {
	tr := NewLocalProcessTransport(LocalProcessConfig{ConnectTimeout: time.Second})
	_, err := tr.OpenSession(context.Background())
	require.Error(t, err)
}

func TestLocalProcessCloseIsIdempotent(t *testing.T) {
	tr := NewLocalProcessTransport(echoConfig())
	_, err := tr.ListTools(context.Background())
	require.NoError(t, err)
	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
}

func TestLocalProcessOpenSessionFailsAfterClose(t *testing.T) {
	tr := NewLocalProcessTransport(echoConfig())
	require.NoError(t, tr.Close())
	_, err := tr.OpenSession(context.Background())
	require.Error(t, err)
}
