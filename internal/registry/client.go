package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/errors"
	"github.com/agentdeck/agentdeck/internal/files"
	"github.com/agentdeck/agentdeck/internal/perms"
)

const (
	// DefaultURL is the public catalog endpoint.
	DefaultURL = "https://registry.modelcontextprotocol.io/v0/servers"

	// DefaultTTL is how long a synced snapshot is considered fresh.
	DefaultTTL = 24 * time.Hour

	cacheFileName = "registry.json"
)

// Client queries the remote catalog, backed by a disk snapshot that survives
// restarts and outlives registry outages.
// NewClient should be used to create instances of Client.
type Client struct {
	logger     hclog.Logger
	url        string
	cachePath  string
	ttl        time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu   sync.RWMutex
	snap snapshot
}

// Option configures a Client.
type Option func(*Client)

// WithURL overrides the catalog endpoint.
func WithURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.url = url
		}
	}
}

// WithCachePath overrides where the snapshot is persisted.
func WithCachePath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.cachePath = path
		}
	}
}

// WithTTL overrides the snapshot freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithHTTPClient substitutes the HTTP client; used by tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock substitutes the time source; used by tests to control staleness.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a catalog client and loads any existing snapshot from disk.
// A missing or unreadable snapshot is not an error; the client just starts empty.
func NewClient(logger hclog.Logger, opt ...Option) (*Client, error) {
	cacheDir, err := files.UserSpecificCacheDir()
	if err != nil {
		return nil, fmt.Errorf("determine cache dir: %w", err)
	}

	c := &Client{
		logger:     logger.Named("registry"),
		url:        DefaultURL,
		cachePath:  filepath.Join(cacheDir, cacheFileName),
		ttl:        DefaultTTL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, o := range opt {
		o(c)
	}

	c.loadSnapshot()

	return c, nil
}

// Sync fetches the full catalog and replaces the snapshot wholesale. On any
// failure the previous snapshot is kept and the error returned, so a flaky
// registry never wipes out working data.
func (c *Client) Sync(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: build registry request: %w", errors.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetch registry '%s': %w", errors.ErrTransport, c.url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: registry '%s' returned status %d", errors.ErrTransport, c.url, resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("%w: decode registry response: %w", errors.ErrProtocol, err)
	}

	snap := snapshot{Timestamp: c.now(), Entries: entries}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	if err := c.saveSnapshot(snap); err != nil {
		c.logger.Warn("Failed to persist registry snapshot", "path", c.cachePath, "error", err)
	}

	c.logger.Info("Registry synced", "entries", len(entries))

	return nil
}

// NeedsSync reports whether the snapshot is absent or older than the TTL.
func (c *Client) NeedsSync() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snap.Timestamp.IsZero() {
		return true
	}
	return c.now().Sub(c.snap.Timestamp) > c.ttl
}

// LastSynced returns when the snapshot was fetched; zero if never.
func (c *Client) LastSynced() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Timestamp
}

// Search matches the query (case-insensitive) against entry names, descriptions
// and tags, applies all set filters, and sorts by popularity, most popular first.
func (c *Client) Search(query string, filters Filters) []Entry {
	needle := strings.ToLower(strings.TrimSpace(query))

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entry
	for _, entry := range c.snap.Entries {
		if !entryMatches(entry, needle, filters) {
			continue
		}
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].popularity() > out[j].popularity()
	})

	return out
}

// Entry looks up a catalog entry by id.
func (c *Client) Entry(id string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, entry := range c.snap.Entries {
		if entry.ID == id {
			return entry, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: registry entry '%s'", errors.ErrEntryNotFound, id)
}

// GenerateServerConfig builds a runnable definition from a catalog entry.
// Hosted deployments are preferred over local packages, but only remotes whose
// transport this runtime speaks count; entries that declare only foreign
// transports fall through to their package list. npm packages run via npx.
// Only environment variables the entry declares are taken from the supplied set.
func (c *Client) GenerateServerConfig(id string, env map[string]string) (config.ServerDefinition, error) {
	entry, err := c.Entry(id)
	if err != nil {
		return config.ServerDefinition{}, err
	}

	def := config.ServerDefinition{
		ID:   entry.ID,
		Name: entry.Name,
		Env:  declaredEnv(entry, env),
	}

	for _, remote := range entry.Remotes {
		transport := config.Transport(remote.Transport)
		if !transport.Valid() {
			c.logger.Debug("Skipping remote with unsupported transport",
				"entry", entry.ID, "transport", remote.Transport)
			continue
		}
		def.Transport = transport
		def.URL = remote.URL
		if len(remote.Headers) > 0 {
			def.Headers = make(map[string]string, len(remote.Headers))
			for k, v := range remote.Headers {
				def.Headers[k] = v
			}
		}
		return def, def.Validate()
	}

	for _, pkg := range entry.Packages {
		if pkg.Registry != "npm" {
			continue
		}
		spec := pkg.Name
		if pkg.Version != "" {
			spec += "@" + pkg.Version
		}
		def.Transport = config.TransportStdio
		def.Command = "npx"
		def.Args = append([]string{"-y", spec}, pkg.Args...)
		return def, def.Validate()
	}

	return config.ServerDefinition{}, fmt.Errorf(
		"%w: registry entry '%s' has no remote endpoint or npm package", errors.ErrBadRequest, id,
	)
}

func entryMatches(entry Entry, needle string, filters Filters) bool {
	if filters.Category != "" && entry.Category != filters.Category {
		return false
	}
	if filters.Transport != "" && !entry.hasTransport(filters.Transport) {
		return false
	}
	if filters.Tag != "" && !entry.hasTag(filters.Tag) {
		return false
	}
	if needle == "" {
		return true
	}

	if strings.Contains(strings.ToLower(entry.Name), needle) ||
		strings.Contains(strings.ToLower(entry.Description), needle) {
		return true
	}
	for _, tag := range entry.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// declaredEnv intersects the entry's declared variables with the supplied values.
// Undeclared variables are dropped so arbitrary environment never leaks into a config.
func declaredEnv(entry Entry, supplied map[string]string) map[string]string {
	if len(entry.EnvironmentVariables) == 0 || len(supplied) == 0 {
		return nil
	}

	out := make(map[string]string)
	for _, declared := range entry.EnvironmentVariables {
		if v, ok := supplied[declared.Name]; ok {
			out[declared.Name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// loadSnapshot reads the persisted snapshot, if any. Corrupt files are ignored;
// the next Sync rewrites them.
func (c *Client) loadSnapshot() {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("Ignoring corrupt registry snapshot", "path", c.cachePath, "error", err)
		return
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	c.logger.Debug("Loaded registry snapshot", "entries", len(snap.Entries), "synced", snap.Timestamp)
}

// saveSnapshot writes atomically: temp file in the same directory, then rename.
func (c *Client) saveSnapshot(snap snapshot) error {
	dir := filepath.Dir(c.cachePath)
	if err := files.EnsureAtLeastRegularDir(dir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, cacheFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, perms.RegularFile); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, c.cachePath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}
