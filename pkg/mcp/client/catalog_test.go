package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentoven/monitor-core/pkg/mcp/transport"
)

func TestLookupByQualifiedKey(t *testing.T) {
	c := NewToolCatalog()
	c.Add("srv-a", transport.ToolInfo{Name: "search"})

	info, ok := c.Lookup("srv-a/search")
	assert.True(t, ok)
	assert.Equal(t, "srv-a", info.MCPServer)
	assert.NotNil(t, info.Parameters)
}

func TestLookupByBareNameWhenUnambiguous(t *testing.T) {
	c := NewToolCatalog()
	c.Add("srv-a", transport.ToolInfo{Name: "search"})

	info, ok := c.Lookup("search")
	assert.True(t, ok)
	assert.Equal(t, "srv-a", info.MCPServer)
}

func TestLookupByBareNameFailsWhenAmbiguous(t *testing.T) {
	c := NewToolCatalog()
	c.Add("srv-a", transport.ToolInfo{Name: "search"})
	c.Add("srv-b", transport.ToolInfo{Name: "search"})

	_, ok := c.Lookup("search")
	assert.False(t, ok)

	info, ok := c.Lookup("srv-b/search")
	assert.True(t, ok)
	assert.Equal(t, "srv-b", info.MCPServer)
}

func TestAddNamesFillsDefaults(t *testing.T) {
	c := NewToolCatalog()
	c.AddNames("srv-a", []string{"list", "create"})

	all := c.All()
	assert.Len(t, all, 2)
	info := all["srv-a/list"]
	assert.Equal(t, "srv-a", info.MCPServer)
	assert.Empty(t, info.Parameters)
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	c := NewToolCatalog()
	_, ok := c.Lookup("nope")
	assert.False(t, ok)
}
