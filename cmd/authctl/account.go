package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/permission"
	"github.com/spf13/cobra"
)

var (
	flagEmail     string
	flagRole      string
	flagAccountID string
)

var createAccountCmd = &cobra.Command{
	Use:   "create-account",
	Short: "Create an admin account; the password is read from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagEmail == "" {
			return errors.New("--email is required")
		}
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("no password on stdin")
		}
		pass := strings.TrimRight(line, "\r\n")

		b, err := openBackend(false)
		if err != nil {
			return err
		}
		defer b.Close()

		p, err := b.engine.CreateAccount(cliContext(), flagEmail, pass, permission.Role(flagRole))
		if err != nil {
			return fmt.Errorf("creating account: %w", err)
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), p)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%s\n", p.Email, p.Role, p.ID)
		return nil
	},
}

var revokeSessionsCmd = &cobra.Command{
	Use:   "revoke-sessions",
	Short: "Revoke every refresh token of an account",
	Long: `revoke-sessions marks all refresh tokens of the account revoked. Access
tokens already issued stay valid until they expire.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (flagEmail == "") == (flagAccountID == "") {
			return errors.New("exactly one of --email or --account-id is required")
		}

		b, err := openBackend(true)
		if err != nil {
			return err
		}
		defer b.Close()

		ctx := cliContext()
		id := flagAccountID
		if id == "" {
			acc, err := b.accounts.FindAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(flagEmail)))
			if err != nil {
				return fmt.Errorf("looking up account: %w", err)
			}
			id = acc.ID
		}

		n, err := b.engine.RevokeAll(ctx, id)
		if err != nil {
			return fmt.Errorf("revoking sessions: %w", err)
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"accountId": id, "revoked": n})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s) for %s\n", n, id)
		return nil
	},
}

func init() {
	createAccountCmd.Flags().StringVar(&flagEmail, "email", "", "Account email")
	createAccountCmd.Flags().StringVar(&flagRole, "role", string(permission.RoleAdmin), "Role: super-admin, admin, editor or viewer")
	rootCmd.AddCommand(createAccountCmd)

	revokeSessionsCmd.Flags().StringVar(&flagEmail, "email", "", "Account email")
	revokeSessionsCmd.Flags().StringVar(&flagAccountID, "account-id", "", "Account id")
	rootCmd.AddCommand(revokeSessionsCmd)
}

func cliContext() context.Context {
	return authcore.WithClientIP(context.Background(), "authctl")
}
