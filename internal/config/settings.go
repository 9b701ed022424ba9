package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/agentdeck/agentdeck/internal/errors"
)

const (
	// DefaultSettingsFileName is the application settings file inside the XDG config dir.
	DefaultSettingsFileName = "config.toml"

	defaultAPIAddr         = "localhost:8090"
	defaultRequestTimeout  = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultPingInterval    = 10 * time.Second
	defaultPingTimeout     = 3 * time.Second
	defaultRegistryURL     = "https://registry.agentdeck.dev/api/servers.json"
	defaultRegistryTTL     = 24 * time.Hour
	defaultSearchCacheTTL  = 5 * time.Minute
	defaultOAuthPort       = 8976
	defaultOAuthTimeout    = 5 * time.Minute
)

// Duration wraps time.Duration so settings files can use values like "30s" or "24h".
type Duration time.Duration

// Settings holds application-level configuration, loaded from a TOML file.
// Scope files (servers.json) only carry server definitions; everything the daemon
// itself needs lives here.
type Settings struct {
	// Addr is the network address the daemon API binds.
	Addr string `toml:"addr"`

	// RequestTimeout is the per-request deadline applied to every outbound JSON-RPC call.
	RequestTimeout Duration `toml:"request_timeout"`

	// ShutdownTimeout bounds graceful API shutdown.
	ShutdownTimeout Duration `toml:"shutdown_timeout"`

	// PingInterval controls how often running servers are pinged for health.
	PingInterval Duration `toml:"ping_interval"`

	// PingTimeout bounds an individual health ping.
	PingTimeout Duration `toml:"ping_timeout"`

	Registry RegistrySettings `toml:"registry"`
	Search   SearchSettings   `toml:"search"`
	OAuth    OAuthSettings    `toml:"oauth"`
	CORS     CORSSettings     `toml:"cors"`
}

// RegistrySettings configures the remote catalog client.
type RegistrySettings struct {
	URL      string   `toml:"url"`
	CacheTTL Duration `toml:"cache_ttl"`
}

// SearchSettings configures the capability search cache.
type SearchSettings struct {
	CacheTTL Duration `toml:"cache_ttl"`
}

// OAuthSettings configures the local OAuth callback listener.
type OAuthSettings struct {
	CallbackPort int      `toml:"callback_port"`
	Timeout      Duration `toml:"timeout"`
}

// CORSSettings configures cross-origin access to the daemon API.
type CORSSettings struct {
	Enabled      bool     `toml:"enabled"`
	AllowOrigins []string `toml:"allow_origins"`
}

// DefaultSettings returns a fully populated Settings with reference defaults.
func DefaultSettings() Settings {
	return Settings{
		Addr:            defaultAPIAddr,
		RequestTimeout:  Duration(defaultRequestTimeout),
		ShutdownTimeout: Duration(defaultShutdownTimeout),
		PingInterval:    Duration(defaultPingInterval),
		PingTimeout:     Duration(defaultPingTimeout),
		Registry: RegistrySettings{
			URL:      defaultRegistryURL,
			CacheTTL: Duration(defaultRegistryTTL),
		},
		Search: SearchSettings{
			CacheTTL: Duration(defaultSearchCacheTTL),
		},
		OAuth: OAuthSettings{
			CallbackPort: defaultOAuthPort,
			Timeout:      Duration(defaultOAuthTimeout),
		},
		CORS: CORSSettings{
			Enabled:      false,
			AllowOrigins: []string{"*"},
		},
	}
}

// LoadSettings reads the settings file at path, layering it over the defaults.
// A missing file yields the defaults; a malformed file is an error since explicit
// settings should never be silently ignored.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return Settings{}, fmt.Errorf("%w: failed to stat settings file (%s): %w", errors.ErrConfig, path, err)
	}

	if _, err := toml.DecodeFile(path, &settings); err != nil {
		return Settings{}, fmt.Errorf("%w: failed to decode settings file (%s): %w", errors.ErrConfig, path, err)
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, fmt.Errorf("%w: invalid settings (%s): %w", errors.ErrConfig, path, err)
	}

	return settings, nil
}

// Validate checks the settings for values the daemon cannot run with.
func (s Settings) Validate() error {
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		return fmt.Errorf("invalid addr '%s': %w", s.Addr, err)
	}
	if time.Duration(s.RequestTimeout) <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if time.Duration(s.Registry.CacheTTL) <= 0 {
		return fmt.Errorf("registry.cache_ttl must be positive")
	}
	if time.Duration(s.Search.CacheTTL) <= 0 {
		return fmt.Errorf("search.cache_ttl must be positive")
	}
	if s.OAuth.CallbackPort < 0 || s.OAuth.CallbackPort > 65535 {
		return fmt.Errorf("oauth.callback_port out of range: %d", s.OAuth.CallbackPort)
	}
	if time.Duration(s.PingInterval) > 0 && time.Duration(s.PingTimeout) > time.Duration(s.PingInterval) {
		return fmt.Errorf("ping_timeout must not exceed ping_interval")
	}
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler so TOML values like "30s" parse.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler for round-tripping settings files.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}
