package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
	"github.com/spf13/cobra"
)

var configReportCmd = &cobra.Command{
	Use:   "config-report",
	Short: "Validate the configuration and print its security posture",
	RunE: func(cmd *cobra.Command, args []string) error {
		validateErr := cfg.Auth.Validate()
		report := cfg.Auth.Report()

		if flagJSON {
			out := map[string]interface{}{"report": report, "valid": validateErr == nil}
			if validateErr != nil {
				out["error"] = validateErr.Error()
			}
			return printJSON(cmd.OutOrStdout(), out)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "production mode\t%t\n", report.ProductionMode)
		fmt.Fprintf(w, "signing\t%s\n", report.SigningAlgorithm)
		fmt.Fprintf(w, "access ttl\t%s\n", report.AccessTTL)
		fmt.Fprintf(w, "refresh ttl\t%s (retained %s)\n", report.RefreshTTL, report.RefreshRetention)
		fmt.Fprintf(w, "argon2id\tm=%d t=%d p=%d\n", report.Argon2.Memory, report.Argon2.Time, report.Argon2.Parallelism)
		fmt.Fprintf(w, "totp\tskew=%d replay blocked=%t\n", report.TOTPSkew, report.TOTPReplayBlocked)
		fmt.Fprintf(w, "login challenge\tttl=%s attempts=%d\n", report.ChallengeTTL, report.ChallengeAttempts)
		fmt.Fprintf(w, "backup codes\t%d\n", report.BackupCodeCount)
		for _, scope := range sortedScopes(report.RateLimits) {
			p := report.RateLimits[scope]
			fmt.Fprintf(w, "rate %s\t%d per %s\n", scope, p.Max, p.Window)
		}
		fmt.Fprintf(w, "quote daily cap\t%d (%s)\n", report.QuoteDailyCap, report.QuoteTimezone)
		fmt.Fprintf(w, "audit\tenabled=%t drops when full=%t\n", report.AuditEnabled, report.AuditDropsWhenFull)
		if err := w.Flush(); err != nil {
			return err
		}

		for _, l := range report.Lint {
			fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", severityLabel(l.Severity), l.Code, l.Message)
		}
		if validateErr != nil {
			return fmt.Errorf("configuration is invalid: %w", validateErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configReportCmd)
}

func sortedScopes(m map[rate.Scope]rate.Policy) []rate.Scope {
	out := make([]rate.Scope, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func severityLabel(s authcore.LintSeverity) string {
	switch s {
	case authcore.LintHigh:
		return "HIGH"
	case authcore.LintWarn:
		return "WARN"
	default:
		return "INFO"
	}
}
