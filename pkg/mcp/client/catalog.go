package client

import (
	"fmt"
	"sync"

	"github.com/agentoven/monitor-core/pkg/mcp/transport"
)

// ToolCatalog holds the set of tools discovered on one or more MCP servers,
// dual-indexed by qualified key ("server/tool") and bare name, per the
// supplemented dual-indexed lookup feature: a lookup by bare name
// succeeds only when the name is unambiguous across servers.
type ToolCatalog struct {
	mu        sync.RWMutex
	byKey     map[string]transport.ToolInfo
	byNameCnt map[string]int
	byName    map[string]transport.ToolInfo
}

func NewToolCatalog() *ToolCatalog {
	return &ToolCatalog{
		byKey:     make(map[string]transport.ToolInfo),
		byNameCnt: make(map[string]int),
		byName:    make(map[string]transport.ToolInfo),
	}
}

// Add registers one tool under serverName, filling defaults for any
// metadata fields the server did not supply (§6's "absent per-tool
// metadata" rule).
func (c *ToolCatalog) Add(serverName string, info transport.ToolInfo) {
	if info.MCPServer == "" {
		info.MCPServer = serverName
	}
	if info.Parameters == nil {
		info.Parameters = map[string]interface{}{}
	}
	key := qualifiedKey(serverName, info.Name)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[key] = info
	c.byNameCnt[info.Name]++
	if c.byNameCnt[info.Name] == 1 {
		c.byName[info.Name] = info
	} else {
		delete(c.byName, info.Name) // ambiguous, no longer resolvable by bare name
	}
}

// AddNames registers every tool name returned by a bare list_tools
// call, filling defaults.
func (c *ToolCatalog) AddNames(serverName string, names []string) {
	for _, n := range names {
		info := transport.DefaultToolInfo(n)
		if serverName != "" {
			info.MCPServer = serverName
		}
		c.Add(serverName, info)
	}
}

func qualifiedKey(server, name string) string { return fmt.Sprintf("%s/%s", server, name) }

// Lookup resolves ref as either a qualified "server/tool" key or a bare
// tool name, returning false if the bare name is absent or ambiguous.
func (c *ToolCatalog) Lookup(ref string) (transport.ToolInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if info, ok := c.byKey[ref]; ok {
		return info, true
	}
	info, ok := c.byName[ref]
	return info, ok
}

// All returns every registered tool, keyed by qualified key.
func (c *ToolCatalog) All() map[string]transport.ToolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]transport.ToolInfo, len(c.byKey))
	for k, v := range c.byKey {
		out[k] = v
	}
	return out
}
