package main

import (
	"fmt"
	"strings"

	"actionguard/internal/security"

	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect detection rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the built-in rules and the configured rule pack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-22s %-9s %-11s %-8s %s\n", "ID", "LEVEL", "CATEGORY", "CONFIRM", "PATTERN")
			for _, r := range a.sessions.Rules().Rules() {
				confirm := "no"
				if r.RequiresConfirmation {
					confirm = "yes"
				}
				fmt.Fprintf(out, "%-22s %-9s %-11s %-8s %s\n", r.ID, r.Level, r.Category, confirm, r.Pattern)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check [rules.yaml]",
		Short: "Validate a YAML rule pack against the built-in rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := security.LoadRuleFile(args[0])
			if err != nil {
				return err
			}
			table := security.MustDefaultTable()
			var errs []string
			for _, r := range rules {
				if err := table.AddCustomRule(r); err != nil {
					errs = append(errs, err.Error())
				}
			}
			if len(errs) > 0 {
				return fmt.Errorf("invalid rules:\n  - %s", strings.Join(errs, "\n  - "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK\n", args[0], len(rules))
			return nil
		},
	})
	return cmd
}
