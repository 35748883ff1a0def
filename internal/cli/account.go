package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lu-zhengda/mailgate/internal/secret"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage configured accounts",
	}
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountLoginCmd())
	cmd.AddCommand(newAccountSetSecretCmd())
	return cmd
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			accounts := a.registry.List()

			if jsonFlag {
				return printJSON(toJSONAccounts(accounts))
			}

			if len(accounts) == 0 {
				fmt.Println("No accounts configured. Add them to the config file under [[accounts]].")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROTOCOL\tFROM\tINCOMING\tOUTGOING")
			for _, acct := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					acct.ID,
					acct.Protocol,
					acct.From.Email,
					endpointLabel(acct.Incoming.Host, acct.Incoming.Port),
					endpointLabel(acct.Outgoing.Host, acct.Outgoing.Port),
				)
			}
			return w.Flush()
		},
	}
}

func endpointLabel(host string, port int) string {
	if host == "" {
		return "-"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func newAccountLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <account-id>",
		Short: "Authorize a Gmail account via OAuth",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.registry.Get(args[0])
			if err != nil {
				return err
			}
			if !acct.Protocol.IsProvider() {
				return fmt.Errorf("account %s uses protocol %s; OAuth login applies to provider accounts only", acct.ID, acct.Protocol)
			}

			token, err := a.gmail.Authorize(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to authorize: %w", err)
			}

			key := keyringKey(acct.CredentialRef)
			if err := a.keyring.Save(key, secret.Credentials{Token: token}); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			if jsonFlag {
				return printJSON(jsonAction{OK: true, Action: "login", AccountID: acct.ID})
			}

			fmt.Printf("Account authorized: %s\n", acct.ID)
			return nil
		},
	}
}

func newAccountSetSecretCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "set-secret <account-id>",
		Short: "Store a password in the OS keyring",
		Long:  "Read a password from stdin and store it under the account's credential reference.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.registry.Get(args[0])
			if err != nil {
				return err
			}
			if strings.HasPrefix(acct.CredentialRef, "env:") {
				return fmt.Errorf("account %s reads credentials from the environment (%s)", acct.ID, acct.CredentialRef)
			}

			if !jsonFlag {
				fmt.Fprintf(os.Stderr, "Password for %s: ", acct.ID)
			}
			reader := bufio.NewReader(cmd.InOrStdin())
			password, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(password, "\r\n")

			user := username
			if user == "" {
				user = acct.From.Email
			}

			key := keyringKey(acct.CredentialRef)
			if err := a.keyring.Save(key, secret.Credentials{Username: user, Password: password}); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}

			if jsonFlag {
				return printJSON(jsonAction{OK: true, Action: "set-secret", AccountID: acct.ID})
			}

			fmt.Printf("Credentials stored for %s\n", acct.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login username (defaults to the account's from address)")
	return cmd
}

// keyringKey strips the optional scheme prefix so the CLI writes to
// the same key the resolver reads.
func keyringKey(ref string) string {
	if key, ok := strings.CutPrefix(ref, "keyring:"); ok {
		return key
	}
	return ref
}
