package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/errors"
)

// newTestStore roots every scope in temp directories via XDG_CONFIG_HOME and a
// temp project dir, so tests never touch real user config.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	projectDir := t.TempDir()

	store, err := NewStore(hclog.NewNullLogger(), projectDir)
	require.NoError(t, err)
	require.NoError(t, store.Load())

	return store, projectDir
}

func stdioDef(id string, scope Scope) ServerDefinition {
	return ServerDefinition{
		ID:        id,
		Name:      id,
		Scope:     scope,
		Transport: TransportStdio,
		Command:   "echo",
	}
}

func TestStore_Load_MissingFilesAreEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	require.Empty(t, store.All())
	_, ok := store.Get("anything")
	require.False(t, ok)
}

func TestStore_Load_MalformedFileIsEmpty(t *testing.T) {
	store, projectDir := newTestStore(t)

	cfgDir := filepath.Join(projectDir, ".agentdeck")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "servers.json"), []byte("{not json"), 0o644))

	require.NoError(t, store.Load())
	require.Empty(t, store.All())
}

func TestStore_AddAndGet(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Add(stdioDef("time", ScopeProject)))

	def, ok := store.Get("time")
	require.True(t, ok)
	require.Equal(t, ScopeProject, def.Scope)
	require.Equal(t, "echo", def.Command)

	// Persisted and reloadable.
	require.NoError(t, store.Load())
	def, ok = store.Get("time")
	require.True(t, ok)
	require.Equal(t, "echo", def.Command)
}

func TestStore_Add_DefaultsToLocalScope(t *testing.T) {
	store, projectDir := newTestStore(t)

	def := stdioDef("secrets", "")
	require.NoError(t, store.Add(def))

	got, ok := store.Get("secrets")
	require.True(t, ok)
	require.Equal(t, ScopeLocal, got.Scope)

	// Local scope file is written with restrictive permissions.
	info, err := os.Stat(filepath.Join(projectDir, ".agentdeck", "servers.local.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStore_Add_InvalidDefinition(t *testing.T) {
	store, _ := newTestStore(t)

	tests := []struct {
		name string
		def  ServerDefinition
	}{
		{
			name: "stdio without command",
			def: ServerDefinition{
				ID:        "broken",
				Scope:     ScopeLocal,
				Transport: TransportStdio,
			},
		},
		{
			name: "http without url",
			def: ServerDefinition{
				ID:        "broken",
				Scope:     ScopeLocal,
				Transport: TransportHTTP,
			},
		},
		{
			name: "unknown transport",
			def: ServerDefinition{
				ID:        "broken",
				Scope:     ScopeLocal,
				Transport: Transport("carrier-pigeon"),
				Command:   "echo",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := store.Add(tc.def)
			require.Error(t, err)
			require.ErrorIs(t, err, errors.ErrBadRequest)
		})
	}
}

func TestStore_Precedence_LocalOverProjectOverUser(t *testing.T) {
	store, _ := newTestStore(t)

	userDef := stdioDef("github", ScopeUser)
	userDef.Command = "user-cmd"
	require.NoError(t, store.Add(userDef))

	got, ok := store.Get("github")
	require.True(t, ok)
	require.Equal(t, ScopeUser, got.Scope)
	require.Equal(t, "user-cmd", got.Command)

	projectDef := stdioDef("github", ScopeProject)
	projectDef.Command = "project-cmd"
	require.NoError(t, store.Add(projectDef))

	got, ok = store.Get("github")
	require.True(t, ok)
	require.Equal(t, ScopeProject, got.Scope)
	require.Equal(t, "project-cmd", got.Command)

	localDef := stdioDef("github", ScopeLocal)
	localDef.Command = "local-cmd"
	require.NoError(t, store.Add(localDef))

	got, ok = store.Get("github")
	require.True(t, ok)
	require.Equal(t, ScopeLocal, got.Scope)
	require.Equal(t, "local-cmd", got.Command)

	merged := store.All()
	require.Len(t, merged, 1)
	require.Equal(t, "local-cmd", merged["github"].Command)

	// Peeling scopes off re-exposes the next tier down.
	require.NoError(t, store.Remove("github", ScopeLocal))
	got, ok = store.Get("github")
	require.True(t, ok)
	require.Equal(t, "project-cmd", got.Command)

	require.NoError(t, store.Remove("github", ScopeProject))
	got, ok = store.Get("github")
	require.True(t, ok)
	require.Equal(t, "user-cmd", got.Command)
}

func TestStore_Remove(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Add(stdioDef("a", ScopeProject)))
	require.NoError(t, store.Add(stdioDef("a", ScopeLocal)))

	// Unscoped removal takes the local definition first.
	require.NoError(t, store.Remove("a"))
	got, ok := store.Get("a")
	require.True(t, ok)
	require.Equal(t, ScopeProject, got.Scope)

	// Explicit scope removal.
	require.NoError(t, store.Remove("a", ScopeProject))
	_, ok = store.Get("a")
	require.False(t, ok)
}

func TestStore_Remove_Unknown(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Remove("ghost")
	require.ErrorIs(t, err, errors.ErrServerNotFound)

	err = store.Remove("ghost", ScopeUser)
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestStore_SetEnabled(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Add(stdioDef("time", ScopeProject)))

	require.NoError(t, store.SetEnabled("time", false))
	def, ok := store.Get("time")
	require.True(t, ok)
	require.True(t, def.Disabled)

	require.NoError(t, store.SetEnabled("time", true))
	def, _ = store.Get("time")
	require.False(t, def.Disabled)

	require.ErrorIs(t, store.SetEnabled("ghost", true), errors.ErrServerNotFound)
}

func TestStore_UpdateEnv(t *testing.T) {
	store, _ := newTestStore(t)

	def := stdioDef("api", ScopeLocal)
	def.Env = map[string]string{"TOKEN": "old", "KEEP": "yes"}
	require.NoError(t, store.Add(def))

	require.NoError(t, store.UpdateEnv("api", map[string]string{"TOKEN": "new", "EXTRA": "1"}))

	got, ok := store.Get("api")
	require.True(t, ok)
	require.Equal(t, map[string]string{"TOKEN": "new", "KEEP": "yes", "EXTRA": "1"}, got.Env)

	require.ErrorIs(t, store.UpdateEnv("ghost", map[string]string{"A": "b"}), errors.ErrServerNotFound)
}

func TestStore_UpdateEnv_WritesOwningScope(t *testing.T) {
	store, projectDir := newTestStore(t)

	require.NoError(t, store.Add(stdioDef("svc", ScopeProject)))
	require.NoError(t, store.UpdateEnv("svc", map[string]string{"KEY": "val"}))

	data, err := os.ReadFile(filepath.Join(projectDir, ".agentdeck", "servers.json"))
	require.NoError(t, err)

	var sf struct {
		MCPServers map[string]ServerDefinition `json:"mcpServers"`
	}
	require.NoError(t, json.Unmarshal(data, &sf))
	require.Equal(t, "val", sf.MCPServers["svc"].Env["KEY"])
}

func TestStore_InitProject(t *testing.T) {
	store, projectDir := newTestStore(t)

	require.NoError(t, store.InitProject())
	_, err := os.Stat(filepath.Join(projectDir, ".agentdeck", "servers.json"))
	require.NoError(t, err)

	// Second init fails rather than clobbering.
	require.Error(t, store.InitProject())
}
