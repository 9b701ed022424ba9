package capability

import (
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// relevantToolsFallback is how many tools are returned when relevance scoring
// matches nothing. A usability heuristic, not a ranking contract.
const relevantToolsFallback = 5

// ToolMatch is one search hit with its owning server.
type ToolMatch struct {
	ServerID string   `json:"server_id"`
	Tool     mcp.Tool `json:"tool"`
}

// ResourceMatch is one resource hit with its owning server.
type ResourceMatch struct {
	ServerID string       `json:"server_id"`
	Resource mcp.Resource `json:"resource"`
}

// PromptMatch is one prompt hit with its owning server.
type PromptMatch struct {
	ServerID string     `json:"server_id"`
	Prompt   mcp.Prompt `json:"prompt"`
}

// SearchResult groups hits across all three capability kinds.
type SearchResult struct {
	Tools     []ToolMatch     `json:"tools"`
	Resources []ResourceMatch `json:"resources"`
	Prompts   []PromptMatch   `json:"prompts"`
}

// Search scans the given servers for capabilities whose name, description or URI
// contains the query (case-insensitive). Results are unranked, in server-then-
// capability enumeration order. An empty query matches everything.
func (i *Index) Search(query string, serverIDs []string) SearchResult {
	needle := strings.ToLower(strings.TrimSpace(query))

	i.mu.RLock()
	defer i.mu.RUnlock()

	var result SearchResult
	for _, serverID := range sortedServerIDs(serverIDs) {
		caps, ok := i.servers[serverID]
		if !ok {
			continue
		}

		for _, tool := range caps.Tools {
			if matchText(needle, tool.Name, tool.Description) {
				result.Tools = append(result.Tools, ToolMatch{ServerID: serverID, Tool: tool})
			}
		}
		for _, resource := range caps.Resources {
			if matchText(needle, resource.Name, resource.Description, resource.URI) {
				result.Resources = append(result.Resources, ResourceMatch{ServerID: serverID, Resource: resource})
			}
		}
		for _, prompt := range caps.Prompts {
			if matchText(needle, prompt.Name, prompt.Description) {
				result.Prompts = append(result.Prompts, PromptMatch{ServerID: serverID, Prompt: prompt})
			}
		}
	}

	return result
}

// SearchCached wraps Search with a TTL cache keyed by the literal query string
// (not normalized). The cached result is served until its age exceeds the TTL.
func (i *Index) SearchCached(query string, serverIDs []string) SearchResult {
	i.searchMu.Lock()
	entry, ok := i.searchCache[query]
	if ok && i.now().Sub(entry.at) <= i.searchTTL {
		result := entry.result
		i.searchMu.Unlock()
		return result
	}
	i.searchMu.Unlock()

	result := i.Search(query, serverIDs)

	i.searchMu.Lock()
	i.searchCache[query] = &searchCacheEntry{result: result, at: i.now()}
	i.searchMu.Unlock()

	return result
}

// RelevantTools scores one server's tools against a free-text context: an exact
// name/description substring match scores highest, a category inferred from the
// context scores second, anything else is excluded. When nothing scores, the first
// few tools are returned as a fallback rather than an empty set.
func (i *Index) RelevantTools(serverID, context string) []mcp.Tool {
	caps, ok := i.Server(serverID)
	if !ok || len(caps.Tools) == 0 {
		return nil
	}

	lowered := strings.ToLower(context)
	inferred := inferCategories(context)

	type scored struct {
		tool  mcp.Tool
		score int
	}

	var matches []scored
	for _, tool := range caps.Tools {
		switch {
		case lowered != "" && (strings.Contains(strings.ToLower(tool.Name), lowered) ||
			strings.Contains(strings.ToLower(tool.Description), lowered)):
			matches = append(matches, scored{tool: tool, score: 2})
		case hasCategory(inferred, Classify(tool)):
			matches = append(matches, scored{tool: tool, score: 1})
		}
	}

	if len(matches) == 0 {
		n := min(relevantToolsFallback, len(caps.Tools))
		return caps.Tools[:n]
	}

	// Stable: equal scores keep enumeration order.
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].score > matches[b].score
	})

	tools := make([]mcp.Tool, 0, len(matches))
	for _, m := range matches {
		tools = append(tools, m.tool)
	}
	return tools
}

func matchText(needle string, fields ...string) bool {
	if needle == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func hasCategory(set map[Category]struct{}, c Category) bool {
	_, ok := set[c]
	return ok
}
