package main

import (
	"fmt"
	"io"

	"actionguard/internal/domain"
)

// verdict is the one-word summary of a result.
func verdict(res domain.SecurityResult) string {
	switch {
	case !res.Allowed:
		return "BLOCK"
	case res.RequiresConfirmation:
		return "CONFIRM"
	case len(res.Alerts) > 0:
		return "WARN"
	default:
		return "ALLOW"
	}
}

func printResult(w io.Writer, action string, res domain.SecurityResult) {
	fmt.Fprintf(w, "%-8s %s\n", verdict(res), action)
	printAlerts(w, res.Alerts)
	if res.Reason != "" {
		fmt.Fprintf(w, "         reason: %s\n", res.Reason)
	}
	if res.SuggestedAction != "" {
		fmt.Fprintf(w, "         suggestion: %s\n", res.SuggestedAction)
	}
}

func printAlerts(w io.Writer, alerts []domain.SecurityAlert) {
	for _, a := range alerts {
		fmt.Fprintf(w, "  [%-8s] %-10s %s\n", a.Level, a.Category, a.Message)
		if a.Details != "" {
			fmt.Fprintf(w, "             %s\n", a.Details)
		}
		if a.Action != "" {
			fmt.Fprintf(w, "             -> %s\n", a.Action)
		}
	}
}
