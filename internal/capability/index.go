// Package capability maintains the per-server cache of discovered tools, resources
// and prompts, a derived tool-category index for lazy browsing, and a TTL-bounded
// search-result cache.
package capability

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultSearchTTL bounds how long a cached search result is served before recomputing.
const DefaultSearchTTL = 5 * time.Minute

// ServerCapabilities is one server's discovered capability lists plus the derived
// category index (tool names per category).
type ServerCapabilities struct {
	Tools      []mcp.Tool
	Resources  []mcp.Resource
	Prompts    []mcp.Prompt
	Categories map[Category][]string
}

// Index holds capability state for every known server. It is safe for concurrent use.
// NewIndex should be used to create instances of Index.
type Index struct {
	logger hclog.Logger

	mu      sync.RWMutex
	servers map[string]*ServerCapabilities

	searchTTL   time.Duration
	now         func() time.Time
	searchMu    sync.Mutex
	searchCache map[string]*searchCacheEntry
}

type searchCacheEntry struct {
	result SearchResult
	at     time.Time
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithSearchTTL overrides the search-cache TTL.
func WithSearchTTL(ttl time.Duration) IndexOption {
	return func(i *Index) {
		if ttl > 0 {
			i.searchTTL = ttl
		}
	}
}

// WithClock substitutes the time source; used by tests to control cache expiry.
func WithClock(now func() time.Time) IndexOption {
	return func(i *Index) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIndex creates an empty capability index.
func NewIndex(logger hclog.Logger, opt ...IndexOption) *Index {
	idx := &Index{
		logger:      logger.Named("capability"),
		servers:     make(map[string]*ServerCapabilities),
		searchTTL:   DefaultSearchTTL,
		now:         time.Now,
		searchCache: make(map[string]*searchCacheEntry),
	}
	for _, o := range opt {
		o(idx)
	}
	return idx
}

// SetTools replaces a server's tool list and rebuilds its category index.
func (i *Index) SetTools(serverID string, tools []mcp.Tool) {
	categories := make(map[Category][]string)
	for _, tool := range tools {
		c := Classify(tool)
		categories[c] = append(categories[c], tool.Name)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	caps := i.ensureLocked(serverID)
	caps.Tools = tools
	caps.Categories = categories
}

// SetResources replaces a server's resource list.
func (i *Index) SetResources(serverID string, resources []mcp.Resource) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ensureLocked(serverID).Resources = resources
}

// SetPrompts replaces a server's prompt list.
func (i *Index) SetPrompts(serverID string, prompts []mcp.Prompt) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ensureLocked(serverID).Prompts = prompts
}

// Clear drops everything known about a server (used on stop/removal).
func (i *Index) Clear(serverID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.servers, serverID)
}

// Server returns a copy of one server's capabilities.
func (i *Index) Server(serverID string) (ServerCapabilities, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	caps, ok := i.servers[serverID]
	if !ok {
		return ServerCapabilities{}, false
	}
	return copyCapabilities(caps), true
}

// Counts returns how many tools/resources/prompts are known for a server.
func (i *Index) Counts(serverID string) (tools, resources, prompts int) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	caps, ok := i.servers[serverID]
	if !ok {
		return 0, 0, 0
	}
	return len(caps.Tools), len(caps.Resources), len(caps.Prompts)
}

// Tool looks up a single tool by name on a server.
func (i *Index) Tool(serverID, name string) (mcp.Tool, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	caps, ok := i.servers[serverID]
	if !ok {
		return mcp.Tool{}, false
	}
	for _, tool := range caps.Tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return mcp.Tool{}, false
}

// ToolsByCategory returns the tool names a server exposes in one category.
func (i *Index) ToolsByCategory(serverID string, category Category) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	caps, ok := i.servers[serverID]
	if !ok {
		return nil
	}

	names := caps.Categories[category]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// InvalidateSearchCache drops all cached search results. Called whenever a server's
// capabilities change so stale hits don't outlive a re-discovery.
func (i *Index) InvalidateSearchCache() {
	i.searchMu.Lock()
	defer i.searchMu.Unlock()
	i.searchCache = make(map[string]*searchCacheEntry)
}

// sortedServerIDs returns the ids in i.servers intersected with the given set,
// in deterministic order.
func sortedServerIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}

func (i *Index) ensureLocked(serverID string) *ServerCapabilities {
	caps, ok := i.servers[serverID]
	if !ok {
		caps = &ServerCapabilities{Categories: make(map[Category][]string)}
		i.servers[serverID] = caps
	}
	return caps
}

func copyCapabilities(caps *ServerCapabilities) ServerCapabilities {
	out := ServerCapabilities{
		Tools:      make([]mcp.Tool, len(caps.Tools)),
		Resources:  make([]mcp.Resource, len(caps.Resources)),
		Prompts:    make([]mcp.Prompt, len(caps.Prompts)),
		Categories: make(map[Category][]string, len(caps.Categories)),
	}
	copy(out.Tools, caps.Tools)
	copy(out.Resources, caps.Resources)
	copy(out.Prompts, caps.Prompts)
	for c, names := range caps.Categories {
		cloned := make([]string, len(names))
		copy(cloned, names)
		out.Categories[c] = cloned
	}
	return out
}
