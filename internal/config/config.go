// Package config provides layered configuration loading.
// Precedence: flags > environment > global config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Environments.
const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

// Config holds the resolved configuration.
type Config struct {
	// API settings
	Environment       string `json:"environment"`
	ProductionBaseURL string `json:"production_base_url"`
	SandboxBaseURL    string `json:"sandbox_base_url"`
	MinorVersion      string `json:"minor_version"`
	TimeoutSeconds    int    `json:"timeout_seconds"`

	// OAuth app settings
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"` // env or keychain only, never persisted
	RedirectURI  string   `json:"redirect_uri"`
	Scopes       []string `json:"scopes"`

	// Default realm (company) for commands that don't pass --realm
	RealmID string `json:"realm_id"`

	// Behavior preferences
	Verbose bool `json:"verbose"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceGlobal  Source = "global"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	Environment string
	RealmID     string
	Timeout     int
	Verbose     bool
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Environment:       EnvSandbox,
		ProductionBaseURL: "https://quickbooks.api.intuit.com",
		SandboxBaseURL:    "https://sandbox-quickbooks.api.intuit.com",
		MinorVersion:      "65",
		TimeoutSeconds:    30,
		Scopes:            []string{"com.intuit.quickbooks.accounting"},
		Sources:           make(map[string]string),
	}
}

// BaseURL returns the API base URL for the configured environment,
// without a trailing slash.
func (c *Config) BaseURL() string {
	base := c.SandboxBaseURL
	if c.Environment == EnvProduction {
		base = c.ProductionBaseURL
	}
	return strings.TrimRight(base, "/")
}

// GlobalConfigDir returns the directory for global config and fallback
// credential storage.
func GlobalConfigDir() string {
	if dir := os.Getenv("QB_CONFIG_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "qb")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "qb")
}

func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

// Load loads configuration from all sources with proper precedence.
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, globalConfigPath(), SourceGlobal)
	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	if cfg.Environment != EnvSandbox && cfg.Environment != EnvProduction {
		return nil, fmt.Errorf("invalid environment %q (use %q or %q)", cfg.Environment, EnvSandbox, EnvProduction)
	}
	return cfg, nil
}

// LoadGlobalFile loads only the defaults and the global config file,
// skipping environment variables and flag overrides. The set path uses
// it so values sourced from the environment of one invocation are not
// written back to disk.
func LoadGlobalFile() (*Config, error) {
	cfg := Default()
	loadFromFile(cfg, globalConfigPath(), SourceGlobal)

	if cfg.Environment != EnvSandbox && cfg.Environment != EnvProduction {
		return nil, fmt.Errorf("invalid environment %q (use %q or %q)", cfg.Environment, EnvSandbox, EnvProduction)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	setString := func(key string, dst *string) {
		if v, ok := fileCfg[key].(string); ok && v != "" {
			*dst = v
			cfg.Sources[key] = string(source)
		}
	}

	setString("environment", &cfg.Environment)
	setString("production_base_url", &cfg.ProductionBaseURL)
	setString("sandbox_base_url", &cfg.SandboxBaseURL)
	setString("minor_version", &cfg.MinorVersion)
	setString("client_id", &cfg.ClientID)
	setString("redirect_uri", &cfg.RedirectURI)
	setString("realm_id", &cfg.RealmID)

	if v, ok := fileCfg["timeout_seconds"].(float64); ok && v > 0 && v == float64(int(v)) {
		cfg.TimeoutSeconds = int(v)
		cfg.Sources["timeout_seconds"] = string(source)
	}
	if v, ok := fileCfg["verbose"].(bool); ok {
		cfg.Verbose = v
		cfg.Sources["verbose"] = string(source)
	}
	if v, ok := fileCfg["scopes"].([]any); ok && len(v) > 0 {
		scopes := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok && str != "" {
				scopes = append(scopes, str)
			}
		}
		if len(scopes) > 0 {
			cfg.Scopes = scopes
			cfg.Sources["scopes"] = string(source)
		}
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	setEnv := func(name, key string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
			cfg.Sources[key] = string(SourceEnv)
		}
	}

	setEnv("QB_ENVIRONMENT", "environment", &cfg.Environment)
	setEnv("QB_PRODUCTION_BASE_URL", "production_base_url", &cfg.ProductionBaseURL)
	setEnv("QB_SANDBOX_BASE_URL", "sandbox_base_url", &cfg.SandboxBaseURL)
	setEnv("QB_MINOR_VERSION", "minor_version", &cfg.MinorVersion)
	setEnv("QB_CLIENT_ID", "client_id", &cfg.ClientID)
	setEnv("QB_CLIENT_SECRET", "client_secret", &cfg.ClientSecret)
	setEnv("QB_REDIRECT_URI", "redirect_uri", &cfg.RedirectURI)
	setEnv("QB_REALM_ID", "realm_id", &cfg.RealmID)

	if v := os.Getenv("QB_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TimeoutSeconds = n
			cfg.Sources["timeout_seconds"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("QB_SCOPES"); v != "" {
		scopes := strings.Fields(v)
		if len(scopes) > 0 {
			cfg.Scopes = scopes
			cfg.Sources["scopes"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("QB_VERBOSE"); v == "1" || v == "true" {
		cfg.Verbose = true
		cfg.Sources["verbose"] = string(SourceEnv)
	}
}

// ApplyOverrides applies command-line flag values.
func ApplyOverrides(cfg *Config, overrides FlagOverrides) {
	if overrides.Environment != "" {
		cfg.Environment = overrides.Environment
		cfg.Sources["environment"] = string(SourceFlag)
	}
	if overrides.RealmID != "" {
		cfg.RealmID = overrides.RealmID
		cfg.Sources["realm_id"] = string(SourceFlag)
	}
	if overrides.Timeout > 0 {
		cfg.TimeoutSeconds = overrides.Timeout
		cfg.Sources["timeout_seconds"] = string(SourceFlag)
	}
	if overrides.Verbose {
		cfg.Verbose = true
		cfg.Sources["verbose"] = string(SourceFlag)
	}
}

// Save persists the settable keys to the global config file.
func Save(cfg *Config) error {
	dir := GlobalConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	out := map[string]any{
		"environment":     cfg.Environment,
		"minor_version":   cfg.MinorVersion,
		"timeout_seconds": cfg.TimeoutSeconds,
	}
	if cfg.ClientID != "" {
		out["client_id"] = cfg.ClientID
	}
	if cfg.RedirectURI != "" {
		out["redirect_uri"] = cfg.RedirectURI
	}
	if cfg.RealmID != "" {
		out["realm_id"] = cfg.RealmID
	}
	if len(cfg.Scopes) > 0 {
		out["scopes"] = cfg.Scopes
	}
	if cfg.Verbose {
		out["verbose"] = true
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(globalConfigPath(), append(data, '\n'), 0600)
}
