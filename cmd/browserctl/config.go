package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// fileConfig represents the YAML config file structure.
type fileConfig struct {
	ChromeDir     *string `yaml:"chrome_dir"`
	ChromeBin     *string `yaml:"chrome_bin"`
	CacheDir      *string `yaml:"cache_dir"`
	PortAttempts  *int    `yaml:"port_attempts"`
	ReadyAttempts *int    `yaml:"ready_attempts"`
	ReadyInterval *string `yaml:"ready_interval"` // duration string, e.g. "500ms"
	CloseAttempts *int    `yaml:"close_attempts"`
	CloseInterval *string `yaml:"close_interval"`
}

// configPath returns the config file to read: --config, then
// BROWSERCTL_CONFIG, then ~/.config/browserctl/config.yaml.
func configPath(cfg *Config) string {
	if cfg.ConfigFile != "" {
		return expandHome(cfg.ConfigFile, cfg.Home)
	}
	if v := cfg.Getenv("BROWSERCTL_CONFIG"); v != "" {
		return expandHome(v, cfg.Home)
	}
	return filepath.Join(cfg.Home, ".config", "browserctl", "config.yaml")
}

// loadConfigFile applies the config file to cfg. A missing file is fine and
// a malformed one is skipped.
func loadConfigFile(cfg *Config) {
	path := configPath(cfg)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		cfg.logger.Warn("skipping malformed config file", zap.String("path", path), zap.Error(err))
		return
	}
	applyFileConfig(cfg, &fc)
}

func applyFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ChromeDir != nil {
		cfg.ChromeDir = expandHome(*fc.ChromeDir, cfg.Home)
	}
	if fc.ChromeBin != nil {
		cfg.ChromeBin = expandHome(*fc.ChromeBin, cfg.Home)
	}
	if fc.CacheDir != nil {
		cfg.CacheDir = expandHome(*fc.CacheDir, cfg.Home)
	}
	if fc.PortAttempts != nil && *fc.PortAttempts > 0 {
		cfg.PortAttempts = *fc.PortAttempts
	}
	if fc.ReadyAttempts != nil && *fc.ReadyAttempts > 0 {
		cfg.ReadyPolicy.Attempts = *fc.ReadyAttempts
	}
	if fc.ReadyInterval != nil {
		if d, err := time.ParseDuration(*fc.ReadyInterval); err == nil {
			cfg.ReadyPolicy.Interval = d
		}
	}
	if fc.CloseAttempts != nil && *fc.CloseAttempts > 0 {
		cfg.ClosePolicy.Attempts = *fc.CloseAttempts
	}
	if fc.CloseInterval != nil {
		if d, err := time.ParseDuration(*fc.CloseInterval); err == nil {
			cfg.ClosePolicy.Interval = d
		}
	}
}

// applyEnvVars applies environment variables on top of the config file.
func applyEnvVars(cfg *Config) {
	if v := cfg.Getenv("CHROME_DIR"); v != "" {
		cfg.ChromeDir = expandHome(v, cfg.Home)
	}
	if v := cfg.Getenv("CHROME_BIN"); v != "" {
		cfg.ChromeBin = expandHome(v, cfg.Home)
	}
	if v := cfg.Getenv("BROWSERCTL_CACHE_DIR"); v != "" {
		cfg.CacheDir = expandHome(v, cfg.Home)
	}
}

// expandHome replaces a leading ~ with home.
func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(home, rest)
	}
	return path
}
