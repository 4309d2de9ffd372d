package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the most recent audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.store.RecentAudit(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, entries)
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %-8s %-8s %s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Result, e.ActionType, e.Command)
				if e.Details != "" {
					fmt.Fprintf(out, "  [%s]", e.Details)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}
