package capability

import (
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

func testIndex(t *testing.T, opt ...IndexOption) *Index {
	t.Helper()
	return NewIndex(hclog.NewNullLogger(), opt...)
}

func tool(name, description string) mcp.Tool {
	return mcp.Tool{Name: name, Description: description}
}

func TestIndex_SetToolsBuildsCategories(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	idx.SetTools("srv", []mcp.Tool{
		tool("read_file", "Read a file from disk"),
		tool("write_file", "Write a file to disk"),
		tool("create_commit", "Commit staged changes"),
	})

	require.ElementsMatch(t, []string{"read_file", "write_file"}, idx.ToolsByCategory("srv", CategoryFilesystem))
	require.Equal(t, []string{"create_commit"}, idx.ToolsByCategory("srv", CategoryGit))
	require.Empty(t, idx.ToolsByCategory("srv", CategoryDatabase))

	tools, resources, prompts := idx.Counts("srv")
	require.Equal(t, 3, tools)
	require.Zero(t, resources)
	require.Zero(t, prompts)
}

func TestIndex_SetToolsReplacesWholesale(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	idx.SetTools("srv", []mcp.Tool{tool("read_file", "")})
	idx.SetTools("srv", []mcp.Tool{tool("grep_logs", "")})

	_, ok := idx.Tool("srv", "read_file")
	require.False(t, ok)

	got, ok := idx.Tool("srv", "grep_logs")
	require.True(t, ok)
	require.Equal(t, "grep_logs", got.Name)

	require.Empty(t, idx.ToolsByCategory("srv", CategoryFilesystem))
}

func TestIndex_ClearDropsServer(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	idx.SetTools("srv", []mcp.Tool{tool("read_file", "")})
	idx.SetResources("srv", []mcp.Resource{{URI: "file:///a", Name: "a"}})
	idx.SetPrompts("srv", []mcp.Prompt{{Name: "summarize"}})

	idx.Clear("srv")

	_, ok := idx.Server("srv")
	require.False(t, ok)

	tools, resources, prompts := idx.Counts("srv")
	require.Zero(t, tools+resources+prompts)
}

func TestIndex_ServerReturnsCopy(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	idx.SetTools("srv", []mcp.Tool{tool("read_file", "")})

	caps, ok := idx.Server("srv")
	require.True(t, ok)

	caps.Tools[0].Name = "mutated"

	got, ok := idx.Tool("srv", "read_file")
	require.True(t, ok)
	require.Equal(t, "read_file", got.Name)
}

func TestIndex_Search(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	idx.SetTools("alpha", []mcp.Tool{
		tool("create_branch", "Create a Git branch"),
		tool("read_file", "Read file contents"),
	})
	idx.SetResources("alpha", []mcp.Resource{{URI: "repo://branches", Name: "branches", Description: "All branches"}})
	idx.SetPrompts("beta", []mcp.Prompt{{Name: "branching-strategy", Description: "Explain branching"}})

	result := idx.Search("branch", []string{"alpha", "beta"})

	require.Len(t, result.Tools, 1)
	require.Equal(t, "alpha", result.Tools[0].ServerID)
	require.Equal(t, "create_branch", result.Tools[0].Tool.Name)

	require.Len(t, result.Resources, 1)
	require.Equal(t, "repo://branches", result.Resources[0].Resource.URI)

	require.Len(t, result.Prompts, 1)
	require.Equal(t, "beta", result.Prompts[0].ServerID)
}

func TestIndex_SearchScopedToGivenServers(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	idx.SetTools("running", []mcp.Tool{tool("deploy_service", "")})
	idx.SetTools("stopped", []mcp.Tool{tool("deploy_other", "")})

	result := idx.Search("deploy", []string{"running"})
	require.Len(t, result.Tools, 1)
	require.Equal(t, "running", result.Tools[0].ServerID)
}

func TestIndex_SearchCaseInsensitive(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	idx.SetTools("srv", []mcp.Tool{tool("CreateBranch", "makes a new BRANCH")})

	require.Len(t, idx.Search("branch", []string{"srv"}).Tools, 1)
	require.Len(t, idx.Search("BRANCH", []string{"srv"}).Tools, 1)
}

func TestIndex_SearchEmptyQueryMatchesEverything(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	idx.SetTools("srv", []mcp.Tool{tool("a", ""), tool("b", "")})

	require.Len(t, idx.Search("", []string{"srv"}).Tools, 2)
}

func TestIndex_SearchCached(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	idx := testIndex(t, WithSearchTTL(time.Minute), WithClock(clock))
	idx.SetTools("srv", []mcp.Tool{tool("read_file", "")})

	first := idx.SearchCached("read", []string{"srv"})
	require.Len(t, first.Tools, 1)

	// Underlying data changes, but the cached result is served within the TTL.
	idx.SetTools("srv", nil)
	cached := idx.SearchCached("read", []string{"srv"})
	require.Len(t, cached.Tools, 1)

	// Past the TTL the query is recomputed against current data.
	advance(2 * time.Minute)
	fresh := idx.SearchCached("read", []string{"srv"})
	require.Empty(t, fresh.Tools)
}

func TestIndex_InvalidateSearchCache(t *testing.T) {
	t.Parallel()

	idx := testIndex(t, WithSearchTTL(time.Hour))
	idx.SetTools("srv", []mcp.Tool{tool("read_file", "")})

	require.Len(t, idx.SearchCached("read", []string{"srv"}).Tools, 1)

	idx.SetTools("srv", nil)
	idx.InvalidateSearchCache()

	require.Empty(t, idx.SearchCached("read", []string{"srv"}).Tools)
}

func TestIndex_RelevantTools(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	idx.SetTools("srv", []mcp.Tool{
		tool("create_commit", "Commit staged changes"),
		tool("merge_branch", "Merge one branch into another"),
		tool("frobnicate", "Does something unrelated"),
	})

	// Direct substring beats category inference.
	ranked := idx.RelevantTools("srv", "merge")
	require.NotEmpty(t, ranked)
	require.Equal(t, "merge_branch", ranked[0].Name)

	// Category inference includes git tools but excludes unrelated ones.
	names := make([]string, 0)
	for _, tl := range idx.RelevantTools("srv", "help me with my git repository") {
		names = append(names, tl.Name)
	}
	require.Contains(t, names, "create_commit")
	require.Contains(t, names, "merge_branch")
	require.NotContains(t, names, "frobnicate")
}

func TestIndex_RelevantToolsFallback(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	idx.SetTools("srv", []mcp.Tool{
		tool("alpha", ""), tool("beta", ""), tool("gamma", ""),
	})

	// Nothing scores: the first few tools come back rather than nothing.
	got := idx.RelevantTools("srv", "zzzz completely unrelated zzzz")
	require.Len(t, got, 3)

	require.Nil(t, idx.RelevantTools("unknown", "anything"))
}
