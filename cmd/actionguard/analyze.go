package main

import (
	"context"
	"fmt"
	"strings"

	"actionguard/internal/domain"

	"github.com/spf13/cobra"
)

func analyzeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Classify a single action",
		Long:  "Classify a command, file operation, URL or package install. Exits non-zero when the policy blocks the action.",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	// run opens the app, classifies one action on the default session and
	// reports the verdict.
	run := func(cmd *cobra.Command, label string, classify func(ctx context.Context, a *app) domain.SecurityResult) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res := classify(ctx, a)
		if asJSON {
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			printResult(cmd.OutOrStdout(), label, res)
		}
		if !res.Allowed {
			return errBlocked
		}
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "command [command...]",
		Short: "Classify a terminal command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			return run(cmd, command, func(ctx context.Context, a *app) domain.SecurityResult {
				return a.sessions.Default().Middleware.AnalyzeCommand(ctx, command, nil)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "file [read|write|delete] [path]",
		Short: "Classify a file operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := domain.FileOperation(strings.ToLower(args[0]))
			switch op {
			case domain.FileRead, domain.FileWrite, domain.FileDelete:
			default:
				return fmt.Errorf("unknown file operation %q (want read, write or delete)", args[0])
			}
			return run(cmd, string(op)+" "+args[1], func(ctx context.Context, a *app) domain.SecurityResult {
				return a.sessions.Default().Middleware.AnalyzeFileOperation(ctx, op, args[1], nil)
			})
		},
	})

	var download bool
	urlCmd := &cobra.Command{
		Use:   "url [url]",
		Short: "Classify a network access, including the suspicious-URL checks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actionType := domain.ActionNetwork
			if download {
				actionType = domain.ActionDownload
			}
			return run(cmd, args[0], func(ctx context.Context, a *app) domain.SecurityResult {
				sess := a.sessions.Default()
				res := sess.Middleware.AnalyzeNetworkAction(ctx, args[0], actionType, nil)
				urlAlerts := sess.Monitor.AnalyzeURL(args[0])
				if res.Allowed && len(urlAlerts) > 0 && sess.Middleware.Config().RequireConfirmation {
					res.RequiresConfirmation = true
				}
				res.Alerts = append(res.Alerts, urlAlerts...)
				return res
			})
		},
	}
	urlCmd.Flags().BoolVar(&download, "download", false, "treat the access as a file download")
	cmd.AddCommand(urlCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "install [manager] [package]",
		Short: "Classify a package installation (e.g. npm left-pad)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, pkg := args[0], args[1]
			return run(cmd, manager+" install "+pkg, func(ctx context.Context, a *app) domain.SecurityResult {
				return a.sessions.Default().Middleware.AnalyzeInstallAction(ctx, pkg, manager, nil)
			})
		},
	})

	return cmd
}
