package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Security: SecurityConfig{
			Enabled:             true,
			RequireConfirmation: true,
			LogActions:          true,
			AutoBlock:           false,
			AllowedCommands:     []string{},
			BlockedCommands:     []string{},
			AllowedDomains:      []string{},
			BlockedDomains:      []string{},
			AuditLog:            true,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "~/.actionguard/actionguard.db",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
