package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/eis-1/electrical-supplier-website-sub001/password"
	"github.com/spf13/cobra"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password read from stdin with the configured argon2id parameters",
	Long: `hash-password reads one line from stdin and prints its PHC encoded
argon2id hash. The password is never taken from a flag so it stays out of
shell history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("no password on stdin")
		}
		pass := strings.TrimRight(line, "\r\n")
		if pass == "" {
			return errors.New("password is empty")
		}

		p := cfg.Auth.Password
		hasher, err := password.NewHasher(password.Config{
			Memory:      p.Memory,
			Time:        p.Time,
			Parallelism: p.Parallelism,
			SaltLength:  p.SaltLength,
			KeyLength:   p.KeyLength,
		})
		if err != nil {
			return err
		}
		hash, err := hasher.Hash(pass)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
