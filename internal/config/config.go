package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"actionguard/internal/security"
)

// Config is the root configuration for actionguard.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Security SecurityConfig `json:"security"`
	Store    StoreConfig    `json:"store"`
	Server   ServerConfig   `json:"server"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// SecurityConfig seeds the policy of every session.
type SecurityConfig struct {
	Enabled             bool     `json:"enabled"`
	RequireConfirmation bool     `json:"requireConfirmation"`
	LogActions          bool     `json:"logActions"`
	AutoBlock           bool     `json:"autoBlock"`
	AllowedCommands     []string `json:"allowedCommands"`
	BlockedCommands     []string `json:"blockedCommands"`
	AllowedDomains      []string `json:"allowedDomains"`
	BlockedDomains      []string `json:"blockedDomains"`
	MaxActionHistory    int      `json:"maxActionHistory"`    // 0 = unbounded
	RulesFile           string   `json:"rulesFile,omitempty"` // YAML rule pack appended to the built-in rules
	AuditLog            bool     `json:"auditLog"`
}

// Policy converts the file form into the middleware's live config.
func (s SecurityConfig) Policy() security.MiddlewareConfig {
	p := security.DefaultMiddlewareConfig()
	p.Enabled = s.Enabled
	p.RequireConfirmation = s.RequireConfirmation
	p.LogActions = s.LogActions
	p.AutoBlock = s.AutoBlock
	p.MaxActionHistory = s.MaxActionHistory
	p.AllowedCommands = append(p.AllowedCommands, s.AllowedCommands...)
	p.BlockedCommands = append(p.BlockedCommands, s.BlockedCommands...)
	p.AllowedDomains = append(p.AllowedDomains, s.AllowedDomains...)
	p.BlockedDomains = append(p.BlockedDomains, s.BlockedDomains...)
	return p
}

type StoreConfig struct {
	Driver string `json:"driver"` // "sqlite" | "bolt"
	Path   string `json:"path"`
}

// ServerConfig configures the HTTP API started by `actionguard serve`.
type ServerConfig struct {
	Host      string  `json:"host"`
	Port      int     `json:"port"`
	AuthToken string  `json:"authToken,omitempty"` // empty disables bearer auth
	RateLimit float64 `json:"rateLimit"`           // requests per second per client, 0 = unlimited
	RateBurst int     `json:"rateBurst"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.actionguard).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".actionguard"
	}
	return filepath.Join(home, ".actionguard")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Security.RulesFile = ExpandPath(cfg.Security.RulesFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. Unset variables
// without a default are left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Security.MaxActionHistory < 0 {
		errs = append(errs, "security.maxActionHistory must be >= 0")
	}
	for i, c := range cfg.Security.BlockedCommands {
		if strings.TrimSpace(c) == "" {
			errs = append(errs, fmt.Sprintf("security.blockedCommands[%d] must not be empty", i))
		}
	}
	for i, d := range cfg.Security.BlockedDomains {
		if strings.TrimSpace(d) == "" {
			errs = append(errs, fmt.Sprintf("security.blockedDomains[%d] must not be empty", i))
		}
	}

	switch cfg.Store.Driver {
	case "sqlite", "bolt":
		// valid
	default:
		errs = append(errs, "store.driver must be one of: sqlite, bolt")
	}
	if cfg.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.RateLimit < 0 || cfg.Server.RateBurst < 0 {
		errs = append(errs, "server.rateLimit and server.rateBurst must not be negative")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
