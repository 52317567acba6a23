package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagEnvFile string
	flagJSON    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Operator tools for the admin auth service",
	Long: `authctl manages the admin auth service from the terminal.

Get started:
  authctl keygen                       Print fresh signing and vault keys
  authctl create-account --email X     Create the first admin account
  authctl config-report                Review the effective security settings`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagEnvFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "Path to a .env file read before the environment")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
