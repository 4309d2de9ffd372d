package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"actionguard/internal/config"
	"actionguard/internal/security"
	"actionguard/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your actionguard installation",
		Long: `Verifies that the configuration, store, rule pack and API port are
correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("actionguard doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'actionguard init' to create a default configuration.\n")
				return fmt.Errorf("config not found")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return err
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Store opens and accepts writes
			if err := checkStore(cmd.Context(), cfg.Store); err != nil {
				printFail("Store", err.Error())
				failed++
			} else {
				printPass("Store", fmt.Sprintf("%s (%s)", cfg.Store.Path, cfg.Store.Driver))
				passed++
			}

			// 4. Rule pack compiles
			if cfg.Security.RulesFile != "" {
				if n, err := checkRules(cfg.Security.RulesFile); err != nil {
					printFail("Rule pack", err.Error())
					failed++
				} else {
					printPass("Rule pack", fmt.Sprintf("%s (%d rules)", cfg.Security.RulesFile, n))
					passed++
				}
			} else {
				printPass("Rules", fmt.Sprintf("%d built-in rules", len(security.DefaultRules())))
				passed++
			}

			// 5. Policy sanity
			if !cfg.Security.Enabled {
				printWarn("Policy", "security.enabled is false; every action is allowed")
				warned++
			} else if !cfg.Security.RequireConfirmation && !cfg.Security.AutoBlock {
				printWarn("Policy", "neither confirmation nor autoBlock is enabled")
				warned++
			} else {
				printPass("Policy", fmt.Sprintf("autoBlock=%t requireConfirmation=%t", cfg.Security.AutoBlock, cfg.Security.RequireConfirmation))
				passed++
			}

			// 6. API port
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("API port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("API port", fmt.Sprintf("%s:%d available", cfg.Server.Host, cfg.Server.Port))
				passed++
			}
			if cfg.Server.AuthToken == "" && cfg.Server.Host != "127.0.0.1" && cfg.Server.Host != "localhost" {
				printWarn("API auth", "server listens beyond localhost without an auth token")
				warned++
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running actionguard.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nactionguard should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! actionguard is ready to run.\n")
			}
			return nil
		},
	}
}

// checkStore opens the configured backend and round-trips a throwaway flag.
func checkStore(ctx context.Context, cfg config.StoreConfig) error {
	st, err := store.Open(cfg.Driver, cfg.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	const key = "doctor-check"
	if err := st.SaveFlag(ctx, key, "ok"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	if v, found, err := st.LoadFlag(ctx, key); err != nil || !found || v != "ok" {
		return fmt.Errorf("read back failed: %v", err)
	}
	return nil
}

func checkRules(path string) (int, error) {
	rules, err := security.LoadRuleFile(path)
	if err != nil {
		return 0, err
	}
	if _, err := security.NewRuleTable(append(security.DefaultRules(), rules...)...); err != nil {
		return 0, err
	}
	return len(rules), nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
