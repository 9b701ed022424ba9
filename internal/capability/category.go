package capability

import (
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	CategoryFilesystem Category = "filesystem"
	CategoryGit        Category = "git"
	CategorySearch     Category = "search"
	CategoryDatabase   Category = "database"
	CategoryAPI        Category = "api"
	CategoryExecution  Category = "execution"
	CategoryOther      Category = "other"
)

// Category is the single browsing bucket a tool is classified into.
type Category string

// categoryOrder is the fixed classification priority. The first category whose
// keywords match wins; order changes here change classification results.
var categoryOrder = []Category{
	CategoryFilesystem,
	CategoryGit,
	CategorySearch,
	CategoryDatabase,
	CategoryAPI,
	CategoryExecution,
}

var categoryKeywords = map[Category][]string{
	CategoryFilesystem: {"file", "directory", "folder", "path", "read", "write"},
	CategoryGit:        {"git", "commit", "branch", "merge", "diff", "repository"},
	CategorySearch:     {"search", "find", "grep", "locate", "lookup"},
	CategoryDatabase:   {"database", "sql", "query", "table", "schema"},
	CategoryAPI:        {"api", "http", "request", "endpoint", "fetch", "url"},
	CategoryExecution:  {"execute", "exec", "run", "command", "shell", "script"},
}

// Categories returns every category in classification order, including the fallback.
func Categories() []Category {
	return append(append([]Category{}, categoryOrder...), CategoryOther)
}

// Classify assigns a tool to exactly one category. It is a pure function of the
// tool's name and the serialized form of its input schema: the same inputs always
// yield the same category.
func Classify(tool mcp.Tool) Category {
	haystack := strings.ToLower(tool.Name)
	if data, err := json.Marshal(tool.InputSchema); err == nil {
		haystack += " " + strings.ToLower(string(data))
	}

	for _, category := range categoryOrder {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(haystack, keyword) {
				return category
			}
		}
	}

	return CategoryOther
}

// inferCategories maps a free-text context onto the categories whose keywords it
// mentions. Used to score tools for relevance, not to classify them.
func inferCategories(context string) map[Category]struct{} {
	lowered := strings.ToLower(context)

	inferred := make(map[Category]struct{})
	for _, category := range categoryOrder {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(lowered, keyword) {
				inferred[category] = struct{}{}
				break
			}
		}
	}
	return inferred
}
