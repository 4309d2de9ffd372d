package main

import (
	"fmt"

	"actionguard/internal/security"

	"github.com/spf13/cobra"
)

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Turn the security monitor on or off",
		Long:  "The monitor state is persisted in the store under the security-monitor-enabled key and survives restarts.",
	}

	toggle := func(enabled bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.sessions.Default().Monitor.SetEnabled(cmd.Context(), enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "security monitor %s\n", onOff(enabled))
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{Use: "on", Short: "Enable the monitor", Args: cobra.NoArgs, RunE: toggle(true)})
	cmd.AddCommand(&cobra.Command{Use: "off", Short: "Disable the monitor", Args: cobra.NoArgs, RunE: toggle(false)})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the monitor state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "security monitor: %s\n", onOff(a.sessions.Default().Monitor.IsEnabled()))
			fmt.Fprintf(out, "store:            %s (%s)\n", a.cfg.Store.Path, a.cfg.Store.Driver)
			fmt.Fprintf(out, "flag key:         %s\n", security.EnabledFlagKey)
			fmt.Fprintf(out, "rules:            %d\n", a.sessions.Rules().Len())
			return nil
		},
	})
	return cmd
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
