package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lu-zhengda/mailgate/internal/domain"
)

func newFetchCmd() *cobra.Command {
	var (
		accountFlag  string
		folderFlag   string
		cursorFlag   string
		pageSizeFlag int
		sinceFlag    string
		beforeFlag   string
		subjectFlag  string
		fromFlag     string
		toFlag       string
		bodyFlag     string
		textFlag     string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a page of message summaries",
		Long:  "Fetch one page of message summaries from an account's folder. Pass the returned cursor back to continue; an empty page with an unchanged cursor means the folder is exhausted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			opts := domain.FetchOptions{
				Subject: subjectFlag,
				From:    fromFlag,
				To:      toFlag,
				Body:    bodyFlag,
				Text:    textFlag,
			}
			if opts.Since, err = parseDateFlag("since", sinceFlag); err != nil {
				return err
			}
			if opts.Before, err = parseDateFlag("before", beforeFlag); err != nil {
				return err
			}

			page, err := a.dispatch.FetchPage(cmd.Context(), accountFlag, folderFlag, cursorFlag, pageSizeFlag, opts)
			if err != nil {
				return fmt.Errorf("failed to fetch: %w", err)
			}

			if jsonFlag {
				return printJSON(toJSONPage(page))
			}

			if len(page.Messages) == 0 {
				fmt.Println("No more messages.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFROM\tSUBJECT\tDATE\tFLAGS")
			for _, m := range page.Messages {
				from := m.From.Name
				if from == "" {
					from = m.From.Email
				}
				if len(from) > 30 {
					from = from[:27] + "..."
				}
				subject := m.Subject
				if len(subject) > 50 {
					subject = subject[:47] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					m.ID, from, subject,
					m.Date.Format("Jan 2, 2006"),
					strings.Join(m.Flags, " "),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nNext cursor: %s (of ~%d messages)\n", page.Cursor, page.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountFlag, "account", "", "account ID")
	cmd.Flags().StringVar(&folderFlag, "folder", "INBOX", "folder to fetch from")
	cmd.Flags().StringVar(&cursorFlag, "cursor", "", "cursor from the previous page (empty for the first page)")
	cmd.Flags().IntVar(&pageSizeFlag, "page-size", 25, "messages per page")
	cmd.Flags().StringVar(&sinceFlag, "since", "", "only messages on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&beforeFlag, "before", "", "only messages before this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&subjectFlag, "subject", "", "filter by subject substring")
	cmd.Flags().StringVar(&fromFlag, "from", "", "filter by sender")
	cmd.Flags().StringVar(&toFlag, "to", "", "filter by recipient")
	cmd.Flags().StringVar(&bodyFlag, "body", "", "filter by body text")
	cmd.Flags().StringVar(&textFlag, "text", "", "filter by text anywhere in the message")
	cmd.MarkFlagRequired("account")
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		accountFlag string
		toFlag      []string
		ccFlag      []string
		bccFlag     []string
		subjectFlag string
		bodyFlag    string
		htmlFlag    string
		attachFlag  []string
		replyToFlag string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			msg := &domain.OutboundMessage{
				To:        parseAddressFlags(toFlag),
				CC:        parseAddressFlags(ccFlag),
				BCC:       parseAddressFlags(bccFlag),
				Subject:   subjectFlag,
				TextBody:  bodyFlag,
				HTMLBody:  htmlFlag,
				InReplyTo: replyToFlag,
			}
			for _, path := range attachFlag {
				att, err := loadAttachment(path)
				if err != nil {
					return err
				}
				msg.Attachments = append(msg.Attachments, att)
			}

			receipt, err := a.dispatch.Send(cmd.Context(), accountFlag, msg)
			if err != nil && !receipt.Partial() {
				return fmt.Errorf("failed to send: %w", err)
			}

			if jsonFlag {
				return printJSON(toJSONReceipt(receipt, err))
			}

			if receipt.Partial() {
				fmt.Printf("Partially sent %s: %d accepted, %d rejected\n",
					receipt.MessageID, len(receipt.Accepted), len(receipt.Rejected))
				for _, r := range receipt.Rejected {
					fmt.Printf("  rejected %s: %s\n", r.Address, r.Reason)
				}
				return err
			}
			fmt.Printf("Sent %s to %s\n", receipt.MessageID, strings.Join(receipt.Accepted, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&accountFlag, "account", "", "account ID")
	cmd.Flags().StringSliceVar(&toFlag, "to", nil, "recipient address (repeatable)")
	cmd.Flags().StringSliceVar(&ccFlag, "cc", nil, "CC address (repeatable)")
	cmd.Flags().StringSliceVar(&bccFlag, "bcc", nil, "BCC address (repeatable)")
	cmd.Flags().StringVar(&subjectFlag, "subject", "", "message subject")
	cmd.Flags().StringVar(&bodyFlag, "body", "", "plain text body")
	cmd.Flags().StringVar(&htmlFlag, "html", "", "HTML body")
	cmd.Flags().StringSliceVar(&attachFlag, "attach", nil, "attachment file path (repeatable)")
	cmd.Flags().StringVar(&replyToFlag, "in-reply-to", "", "Message-Id this message replies to")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("to")
	return cmd
}

func parseDateFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s date %q: use YYYY-MM-DD", name, v)
	}
	return t, nil
}

// parseAddressFlags accepts "email" or "Name <email>" values.
func parseAddressFlags(values []string) []domain.Address {
	var out []domain.Address
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if i := strings.LastIndex(v, "<"); i >= 0 && strings.HasSuffix(v, ">") {
			out = append(out, domain.Address{
				Name:  strings.TrimSpace(v[:i]),
				Email: strings.TrimSuffix(v[i+1:], ">"),
			})
			continue
		}
		out = append(out, domain.Address{Email: v})
	}
	return out
}

func loadAttachment(path string) (domain.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	return domain.Attachment{
		Filename: filepath.Base(path),
		Content:  content,
	}, nil
}
