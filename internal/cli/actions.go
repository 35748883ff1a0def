package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newFoldersCmd() *cobra.Command {
	var accountFlag string

	cmd := &cobra.Command{
		Use:   "folders",
		Short: "List an account's folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			folders, err := a.dispatch.ListFolders(cmd.Context(), accountFlag)
			if err != nil {
				return fmt.Errorf("failed to list folders: %w", err)
			}

			if jsonFlag {
				return printJSON(toJSONFolders(folders))
			}

			if len(folders) == 0 {
				fmt.Println("No folders found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDELIMITER\tATTRIBUTES")
			for _, f := range folders {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.Delimiter, strings.Join(f.Attributes, " "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&accountFlag, "account", "", "account ID")
	cmd.MarkFlagRequired("account")
	cmd.AddCommand(newFoldersCreateCmd())
	return cmd
}

func newFoldersCreateCmd() *cobra.Command {
	var accountFlag string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			name := args[0]
			if err := a.dispatch.CreateFolder(cmd.Context(), accountFlag, name); err != nil {
				return fmt.Errorf("failed to create folder: %w", err)
			}

			if jsonFlag {
				return printJSON(jsonAction{OK: true, Action: "create-folder", AccountID: accountFlag, Folder: name})
			}

			fmt.Printf("Folder created: %s\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountFlag, "account", "", "account ID")
	cmd.MarkFlagRequired("account")
	return cmd
}

func newMoveCmd() *cobra.Command {
	return newTransferCmd("move", "Move messages to another folder", func(a *app, cmd *cobra.Command, folder string, ids []string, dest string, accountID string) (jsonTransfer, error) {
		receipt, err := a.dispatch.MoveMessages(cmd.Context(), accountID, folder, ids, dest)
		return toJSONTransfer("move", accountID, receipt), err
	})
}

func newCopyCmd() *cobra.Command {
	return newTransferCmd("copy", "Copy messages to another folder", func(a *app, cmd *cobra.Command, folder string, ids []string, dest string, accountID string) (jsonTransfer, error) {
		receipt, err := a.dispatch.CopyMessages(cmd.Context(), accountID, folder, ids, dest)
		return toJSONTransfer("copy", accountID, receipt), err
	})
}

type transferFunc func(a *app, cmd *cobra.Command, folder string, ids []string, dest string, accountID string) (jsonTransfer, error)

func newTransferCmd(verb, short string, run transferFunc) *cobra.Command {
	var (
		accountFlag string
		folderFlag  string
		destFlag    string
	)

	cmd := &cobra.Command{
		Use:   verb + " <message-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := run(a, cmd, folderFlag, args, destFlag, accountFlag)
			if err != nil && result.Completed == 0 {
				return fmt.Errorf("failed to %s: %w", verb, err)
			}

			if jsonFlag {
				return printJSON(result)
			}

			fmt.Printf("%s: %d of %d completed\n", verb, result.Completed, result.Requested)
			for _, id := range result.FailedIDs {
				fmt.Printf("  failed: %s\n", id)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&accountFlag, "account", "", "account ID")
	cmd.Flags().StringVar(&folderFlag, "folder", "INBOX", "source folder")
	cmd.Flags().StringVar(&destFlag, "dest", "", "destination folder")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("dest")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session state per account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			accounts := a.registry.List()

			if jsonFlag {
				out := make([]jsonStatus, 0, len(accounts))
				for _, acct := range accounts {
					out = append(out, jsonStatus{AccountID: acct.ID, State: sessionStateLabel(a, acct.ID)})
				}
				return printJSON(out)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tSTATE")
			for _, acct := range accounts {
				fmt.Fprintf(w, "%s\t%s\n", acct.ID, sessionStateLabel(a, acct.ID))
			}
			return w.Flush()
		},
	}
}

func sessionStateLabel(a *app, accountID string) string {
	st, ok := a.dispatch.SessionState(accountID)
	if !ok {
		return "disconnected"
	}
	return st.String()
}
