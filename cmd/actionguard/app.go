package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"actionguard/internal/config"
	"actionguard/internal/security"
	"actionguard/internal/store"
)

// app is the wiring shared by every command that classifies actions.
type app struct {
	cfg      *config.Config
	cfgPath  string
	store    store.Store
	sessions *security.SessionManager
}

// openApp loads the config (defaults when the file does not exist), opens
// the store, loads the optional rule pack and builds the session manager.
func openApp(ctx context.Context) (*app, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	missing := errors.Is(err, fs.ErrNotExist)
	switch {
	case missing:
		cfg = config.Defaults()
		cfg.Store.Path = config.ExpandPath(cfg.Store.Path)
	case err != nil:
		return nil, fmt.Errorf("load config: %w", err)
	}
	configureLogger(cfg)
	if missing {
		logger.Debug("config not found, using defaults", "path", cfgPath)
	}

	rules, err := buildRuleTable(cfg.Security.RulesFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	smCfg := security.SessionManagerConfig{
		Rules:  rules,
		Policy: cfg.Security.Policy(),
		Flags:  st,
		Logger: logger,
	}
	if cfg.Security.AuditLog {
		smCfg.Audit = st
	}

	return &app{
		cfg:      cfg,
		cfgPath:  cfgPath,
		store:    st,
		sessions: security.NewSessionManager(ctx, smCfg),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// buildRuleTable returns the built-in rules followed by the rule pack at
// path, if any.
func buildRuleTable(path string) (*security.RuleTable, error) {
	table := security.MustDefaultTable()
	if path == "" {
		return table, nil
	}
	custom, err := security.LoadRuleFile(path)
	if err != nil {
		return nil, err
	}
	for _, r := range custom {
		if err := table.AddCustomRule(r); err != nil {
			return nil, fmt.Errorf("rule file %s: %w", path, err)
		}
	}
	logger.Debug("rule pack loaded", "path", path, "rules", len(custom))
	return table, nil
}
