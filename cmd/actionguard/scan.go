package main

import (
	"fmt"
	"io"
	"os"

	"actionguard/internal/domain"
	"actionguard/internal/shellscan"

	"github.com/spf13/cobra"
)

func scanCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan [script|-]",
		Short: "Classify every command in a shell script",
		Long:  "Parses a shell script and classifies each simple command it contains, including commands inside pipelines, && chains, subshells and functions. Use - to read from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			name := "stdin"
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r, name = f, args[0]
			}

			commands, err := shellscan.Parse(r, name)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report := scanCommands(cmd, a, commands)
			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, report); err != nil {
					return err
				}
			} else {
				for _, item := range report.Items {
					printResult(out, fmt.Sprintf("%4d  %s", item.Line, item.Command), item.Result)
				}
				fmt.Fprintf(out, "\n%d commands: %d blocked, %d need confirmation, %d with warnings\n",
					len(report.Items), report.Blocked, report.Confirm, report.Warned)
			}
			if report.Blocked > 0 {
				return errBlocked
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

type scanItem struct {
	Line    uint                  `json:"line"`
	Command string                `json:"command"`
	Result  domain.SecurityResult `json:"result"`
}

type scanReport struct {
	Items   []scanItem `json:"items"`
	Blocked int        `json:"blocked"`
	Confirm int        `json:"confirm"`
	Warned  int        `json:"warned"`
}

func scanCommands(cmd *cobra.Command, a *app, commands []shellscan.Command) scanReport {
	mw := a.sessions.Default().Middleware
	report := scanReport{Items: make([]scanItem, 0, len(commands))}
	for _, c := range commands {
		res := mw.AnalyzeCommand(cmd.Context(), c.Text, map[string]string{"line": fmt.Sprint(c.Line)})
		switch verdict(res) {
		case "BLOCK":
			report.Blocked++
		case "CONFIRM":
			report.Confirm++
		case "WARN":
			report.Warned++
		}
		report.Items = append(report.Items, scanItem{Line: c.Line, Command: c.Text, Result: res})
	}
	return report
}
