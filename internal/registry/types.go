// Package registry syncs and queries the remote catalog of installable MCP servers,
// caching a timestamped snapshot on disk so queries work offline.
package registry

import (
	"time"
)

// Entry is one catalog record describing an installable server.
type Entry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	Installs int     `json:"installs,omitempty"`
	Rating   float64 `json:"rating,omitempty"`

	Packages             []Package             `json:"packages,omitempty"`
	Remotes              []RemoteEndpoint      `json:"remotes,omitempty"`
	EnvironmentVariables []EnvironmentVariable `json:"environment_variables,omitempty"`
}

// Package describes a runnable distribution of a server (e.g. an npm package).
type Package struct {
	Registry string   `json:"registry"`
	Name     string   `json:"name"`
	Version  string   `json:"version,omitempty"`
	Args     []string `json:"args,omitempty"`
}

// RemoteEndpoint describes a hosted deployment reachable over the network.
type RemoteEndpoint struct {
	Transport string            `json:"transport"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// EnvironmentVariable declares a variable a server reads at startup.
type EnvironmentVariable struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Secret      bool   `json:"secret,omitempty"`
}

// Filters narrows Search results. Empty fields match everything; set fields
// must all match.
type Filters struct {
	Category  string
	Transport string
	Tag       string
}

// snapshot is the on-disk cache format: the full entry set plus when it was fetched.
type snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Entries   []Entry   `json:"entries"`
}

// popularity is the sort key for search results. Weights favor adoption over rating.
func (e Entry) popularity() float64 {
	return float64(e.Installs)*0.7 + e.Rating*100*0.3
}

// hasTransport reports whether any remote endpoint or package implies the transport.
// Entries with packages are runnable over stdio.
func (e Entry) hasTransport(transport string) bool {
	if transport == "stdio" {
		return len(e.Packages) > 0
	}
	for _, r := range e.Remotes {
		if r.Transport == transport {
			return true
		}
	}
	return false
}

// hasTag reports whether the entry carries the tag (case-sensitive).
func (e Entry) hasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
