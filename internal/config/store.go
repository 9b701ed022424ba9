package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/agentdeck/agentdeck/internal/errors"
	"github.com/agentdeck/agentdeck/internal/files"
	"github.com/agentdeck/agentdeck/internal/perms"
)

const (
	// projectDirName is the dot-directory inside a project holding project/local scope files.
	projectDirName = ".agentdeck"

	// userScopeFileName is the file name for the user-global scope (inside the XDG config dir).
	userScopeFileName = "servers.json"

	// projectScopeFileName is the committed, project-shared scope file.
	projectScopeFileName = "servers.json"

	// localScopeFileName is the machine-local, uncommitted scope file.
	localScopeFileName = "servers.local.json"
)

// Store loads, merges and persists the three JSON configuration scopes into a single
// effective server-definition map with deterministic precedence (local > project > user).
// NewStore should be used to create instances of Store.
type Store struct {
	logger hclog.Logger

	mu     sync.Mutex
	paths  map[Scope]string
	scopes map[Scope]*scopeFile
}

// NewStore creates a Store rooted at the given project directory.
// The user scope lives in the XDG config directory; project and local scopes live
// under <projectDir>/.agentdeck. No files are read until Load is called.
func NewStore(logger hclog.Logger, projectDir string) (*Store, error) {
	userDir, err := files.UserSpecificConfigDir()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConfig, err)
	}

	if projectDir == "" {
		projectDir = "."
	}

	return &Store{
		logger: logger.Named("config"),
		paths: map[Scope]string{
			ScopeUser:    filepath.Join(userDir, userScopeFileName),
			ScopeProject: filepath.Join(projectDir, projectDirName, projectScopeFileName),
			ScopeLocal:   filepath.Join(projectDir, projectDirName, localScopeFileName),
		},
		scopes: emptyScopes(),
	}, nil
}

// Load reads all three scope files from disk, replacing any previously loaded state.
// A missing or malformed file is treated as an empty config, never a fatal error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for scope, path := range s.paths {
		s.scopes[scope] = s.readScopeFile(scope, path)
	}

	return nil
}

// Get returns the definition for an id, searching local, then project, then user scope.
// The first hit wins. The returned definition is stamped with its owning scope.
func (s *Store) Get(id string) (ServerDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, def, ok := s.find(id)
	if !ok {
		return ServerDefinition{}, false
	}
	def.Scope = scope
	return def, true
}

// All returns the merged view of every scope, keyed by id.
// Scopes merge in precedence order user, project, local; later writes overwrite
// earlier ones, so local ends up winning.
func (s *Store) All() map[string]ServerDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]ServerDefinition)
	for _, scope := range mergeOrder {
		for id, def := range s.scopes[scope].MCPServers {
			def.ID = id
			def.Scope = scope
			merged[id] = def
		}
	}
	return merged
}

// Add validates the definition and durably writes it to the file for its scope,
// creating parent directories as needed. An empty scope defaults to local.
func (s *Store) Add(def ServerDefinition) error {
	if def.Scope == "" {
		def.Scope = ScopeLocal
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrBadRequest, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scope := def.Scope
	s.scopes[scope].MCPServers[def.ID] = def

	return s.save(scope)
}

// Remove deletes an id from the given scope. When no scope is supplied it searches
// local, then project, then user, removing from the first scope where the id is found.
func (s *Store) Remove(id string, scope ...Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(scope) > 0 {
		target := scope[0]
		if _, ok := s.scopes[target].MCPServers[id]; !ok {
			return fmt.Errorf("%w: '%s' in scope '%s'", errors.ErrServerNotFound, id, target)
		}
		delete(s.scopes[target].MCPServers, id)
		return s.save(target)
	}

	for _, sc := range readOrder {
		if _, ok := s.scopes[sc].MCPServers[id]; ok {
			delete(s.scopes[sc].MCPServers, id)
			return s.save(sc)
		}
	}

	return fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, id)
}

// SetEnabled flips the disabled flag for an id, read-modify-write against whichever
// scope currently defines it (local, then project, then user).
func (s *Store) SetEnabled(id string, enabled bool) error {
	return s.update(id, func(def *ServerDefinition) {
		def.Disabled = !enabled
	})
}

// UpdateEnv applies an environment patch to an id, read-modify-write against whichever
// scope currently defines it. Existing keys are overwritten; other keys are untouched.
func (s *Store) UpdateEnv(id string, patch map[string]string) error {
	return s.update(id, func(def *ServerDefinition) {
		if def.Env == nil {
			def.Env = make(map[string]string, len(patch))
		}
		maps.Copy(def.Env, patch)
	})
}

// Path returns the on-disk path backing the given scope.
func (s *Store) Path(scope Scope) string {
	return s.paths[scope]
}

// InitProject creates an empty project-scope config file, failing if one already exists.
func (s *Store) InitProject() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.paths[ScopeProject]
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return s.save(ScopeProject)
}

// update finds the owning scope for id and applies fn before persisting that scope.
func (s *Store) update(id string, fn func(*ServerDefinition)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sc := range readOrder {
		def, ok := s.scopes[sc].MCPServers[id]
		if !ok {
			continue
		}
		fn(&def)
		s.scopes[sc].MCPServers[id] = def
		return s.save(sc)
	}

	return fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, id)
}

// find locates id in read order without stamping. Caller holds s.mu.
func (s *Store) find(id string) (Scope, ServerDefinition, bool) {
	for _, sc := range readOrder {
		if def, ok := s.scopes[sc].MCPServers[id]; ok {
			def.ID = id
			return sc, def, true
		}
	}
	return "", ServerDefinition{}, false
}

// save durably writes one scope's file. Caller holds s.mu.
func (s *Store) save(scope Scope) error {
	path := s.paths[scope]

	if err := files.EnsureAtLeastRegularDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConfig, err)
	}

	data, err := json.MarshalIndent(s.scopes[scope], "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s scope: %w", errors.ErrConfig, scope, err)
	}

	mode := perms.RegularFile
	if scope == ScopeLocal {
		// Local scope may carry machine secrets (env values), keep it private.
		mode = perms.SecureFile
	}

	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("%w: failed to write %s scope file (%s): %w", errors.ErrConfig, scope, path, err)
	}

	return nil
}

// readScopeFile parses one scope file, degrading to an empty config on any problem.
func (s *Store) readScopeFile(scope Scope, path string) *scopeFile {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read scope file, treating as empty", "scope", scope, "path", path, "error", err)
		}
		return emptyScopeFile()
	}

	var sf scopeFile
	if err := json.Unmarshal(data, &sf); err != nil {
		s.logger.Warn("Malformed scope file, treating as empty", "scope", scope, "path", path, "error", err)
		return emptyScopeFile()
	}
	if sf.MCPServers == nil {
		sf.MCPServers = make(map[string]ServerDefinition)
	}

	// Keys are authoritative for ids; stamp the scope for merged reads.
	for id, def := range sf.MCPServers {
		def.ID = id
		def.Scope = scope
		sf.MCPServers[id] = def
	}

	return &sf
}

func emptyScopes() map[Scope]*scopeFile {
	return map[Scope]*scopeFile{
		ScopeUser:    emptyScopeFile(),
		ScopeProject: emptyScopeFile(),
		ScopeLocal:   emptyScopeFile(),
	}
}

func emptyScopeFile() *scopeFile {
	return &scopeFile{MCPServers: make(map[string]ServerDefinition)}
}
