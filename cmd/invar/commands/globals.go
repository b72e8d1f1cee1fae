package commands

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/invar/vault/internal/config"
	"github.com/invar/vault/internal/logging"
)

// Global CLI flags
var (
	// ConfigPath is the YAML config file; empty means ~/.invar/config.yaml.
	ConfigPath string

	// LogLevel overrides log.level from the config when set.
	LogLevel string
)

// appConfig is read once per invocation by the root command.
var appConfig *config.Config

// setup reads the config (without validating contract addresses, which
// wallet commands do not need) and configures logging.
func setup() error {
	path := ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Read(path)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if LogLevel != "" {
		level = LogLevel
	}
	if err := logging.Configure(os.Stderr, level, cfg.Log.Format); err != nil {
		return fmt.Errorf("invalid log settings: %w", err)
	}

	appConfig = cfg
	return nil
}

// currentConfig returns the config read by setup, falling back to defaults.
func currentConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// requireConfig returns the config after full validation. Commands that talk
// to the vault call it; missing contract addresses are fatal.
func requireConfig() (*config.Config, error) {
	cfg := currentConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	// Try to get version from build info
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
