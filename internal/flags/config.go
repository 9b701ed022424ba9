package flags

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const (
	// Env vars
	EnvVarProjectDir = "AGENTDECK_PROJECT_DIR"
	EnvVarLogPath    = "AGENTDECK_LOG_PATH"
	EnvVarLogLevel   = "AGENTDECK_LOG_LEVEL"

	// Defaults
	DefaultProjectDir = "."
	DefaultLogPath    = ""
	DefaultLogLevel   = "info"

	// Flag names
	FlagNameProjectDir = "project-dir"
	FlagNameLogPath    = "log-path"
	FlagNameLogLevel   = "log-level"
)

var (
	ProjectDir string
	LogPath    string
	LogLevel   string
)

func InitFlags(fs *pflag.FlagSet) {
	initProjectDir(fs)
	initLogger(fs)
}

func initProjectDir(fs *pflag.FlagSet) {
	if ProjectDir == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarProjectDir)); env != "" {
			ProjectDir = env
		} else {
			ProjectDir = DefaultProjectDir
		}
	}
	fs.StringVar(&ProjectDir, FlagNameProjectDir, ProjectDir, "path to the project directory containing project and local scope config")
}

func initLogger(fs *pflag.FlagSet) {
	if LogPath == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarLogPath)); env != "" {
			LogPath = env
		} else {
			LogPath = DefaultLogPath
		}
	}
	fs.StringVar(&LogPath, FlagNameLogPath, LogPath, "path to generated log file")

	if LogLevel == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarLogLevel)); env != "" {
			LogLevel = strings.ToLower(env)
		} else {
			LogLevel = DefaultLogLevel
		}
	}
	fs.StringVar(&LogLevel, FlagNameLogLevel, LogLevel, "log level for agentdeck logs")
}
