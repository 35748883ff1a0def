package classic

import (
	"context"
	"errors"
	"slices"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/lu-zhengda/mailgate/internal/domain"
	"github.com/lu-zhengda/mailgate/internal/handler"
)

// FetchPage returns one page of header summaries from folder. Paging
// is UID-based: the cursor is the last UID delivered, so a page can be
// resumed or repeated against an unchanged mailbox with identical
// results. Only envelope data and flags are requested; bodies are
// fetched on demand elsewhere.
func (c *Conn) FetchPage(ctx context.Context, folder, cursor string, pageSize int, opts domain.FetchOptions) (domain.MessagePage, error) {
	last, err := parseCursor(cursor)
	if err != nil {
		return domain.MessagePage{}, handler.Wrap(handler.KindValidation, err, "malformed cursor "+cursor)
	}
	if pageSize <= 0 {
		return domain.MessagePage{}, handler.Errorf(handler.KindValidation, "page size must be positive, got %d", pageSize)
	}
	defer c.watch(ctx)()

	if err := c.selectFolder(folder, true); err != nil {
		return domain.MessagePage{}, err
	}

	data, err := c.imap.UIDSearch(searchCriteria(opts), nil).Wait()
	if err != nil {
		return domain.MessagePage{}, classifyIMAP(err, "failed to search folder "+folder)
	}
	uids := data.AllUIDs()
	slices.Sort(uids)

	page := domain.MessagePage{Cursor: cursor, Total: len(uids)}
	pageUIDs := uidsAfter(uids, last, pageSize)
	if len(pageUIDs) == 0 {
		// Past the end: an empty page with the cursor unchanged is
		// the terminal marker.
		return page, nil
	}

	fetchCmd := c.imap.Fetch(imap.UIDSetNum(pageUIDs...), &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	})
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		page.Messages = append(page.Messages, summaryFromBuffer(buf, folder))
	}
	if err := fetchCmd.Close(); err != nil {
		return domain.MessagePage{}, classifyIMAP(err, "failed to fetch messages from "+folder)
	}

	slices.SortFunc(page.Messages, func(a, b domain.MessageSummary) int {
		return cmpUID(a.ID, b.ID)
	})
	page.Cursor = formatCursor(pageUIDs[len(pageUIDs)-1])
	return page, nil
}

// ListFolders returns every mailbox of the account.
func (c *Conn) ListFolders(ctx context.Context) ([]domain.FolderInfo, error) {
	defer c.watch(ctx)()
	list, err := c.imap.List("", "*", nil).Collect()
	if err != nil {
		return nil, classifyIMAP(err, "failed to list folders")
	}
	folders := make([]domain.FolderInfo, 0, len(list))
	for _, d := range list {
		attrs := make([]string, 0, len(d.Attrs))
		for _, a := range d.Attrs {
			attrs = append(attrs, string(a))
		}
		folders = append(folders, domain.FolderInfo{
			Name:       d.Mailbox,
			Delimiter:  string(d.Delim),
			Attributes: attrs,
		})
	}
	return folders, nil
}

// CreateFolder creates a new mailbox.
func (c *Conn) CreateFolder(ctx context.Context, name string) error {
	defer c.watch(ctx)()
	if err := c.imap.Create(name, nil).Wait(); err != nil {
		return classifyIMAP(err, "failed to create folder "+name)
	}
	return nil
}

// MoveMessages moves the given UIDs from folder to dest, one at a
// time so a refused UID does not abort the rest of the batch.
func (c *Conn) MoveMessages(ctx context.Context, folder string, ids []string, dest string) (domain.MoveReceipt, error) {
	return c.relocate(ctx, folder, ids, dest, func(set imap.UIDSet) error {
		_, err := c.imap.Move(set, dest).Wait()
		return err
	})
}

// CopyMessages copies the given UIDs from folder to dest.
func (c *Conn) CopyMessages(ctx context.Context, folder string, ids []string, dest string) (domain.MoveReceipt, error) {
	return c.relocate(ctx, folder, ids, dest, func(set imap.UIDSet) error {
		_, err := c.imap.Copy(set, dest).Wait()
		return err
	})
}

func (c *Conn) relocate(ctx context.Context, folder string, ids []string, dest string, op func(imap.UIDSet) error) (domain.MoveReceipt, error) {
	defer c.watch(ctx)()
	receipt := domain.MoveReceipt{Requested: len(ids)}
	if err := c.selectFolder(folder, false); err != nil {
		receipt.FailedIDs = append(receipt.FailedIDs, ids...)
		return receipt, err
	}

	var firstErr error
	for _, id := range ids {
		uid, err := parseCursor(id)
		if err != nil || uid == 0 {
			receipt.FailedIDs = append(receipt.FailedIDs, id)
			continue
		}
		if err := op(imap.UIDSetNum(uid)); err != nil {
			receipt.FailedIDs = append(receipt.FailedIDs, id)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		receipt.Completed++
	}

	if receipt.Completed == 0 && firstErr != nil {
		return receipt, classifyIMAP(firstErr, "failed to transfer messages to "+dest)
	}
	return receipt, nil
}

// selectFolder selects a mailbox, mapping a server refusal to
// NotFound.
func (c *Conn) selectFolder(folder string, readOnly bool) error {
	_, err := c.imap.Select(folder, &imap.SelectOptions{ReadOnly: readOnly}).Wait()
	if err == nil {
		return nil
	}
	var ie *imap.Error
	if errors.As(err, &ie) && ie.Type == imap.StatusResponseTypeNo {
		return handler.Wrap(handler.KindNotFound, err, "no such folder "+folder)
	}
	return classifyIMAP(err, "failed to select folder "+folder)
}

// classifyIMAP maps a go-imap error into the shared taxonomy. Status
// responses are protocol-level refusals; everything else goes through
// the generic transport classification.
func classifyIMAP(err error, detail string) *handler.Error {
	var ie *imap.Error
	if errors.As(err, &ie) {
		return handler.Wrap(handler.KindProtocol, err, detail)
	}
	return handler.Classify(err, detail)
}

// parseCursor decodes a UID cursor; "" is the start-of-folder
// sentinel.
func parseCursor(cursor string) (imap.UID, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(cursor, 10, 32)
	if err != nil {
		return 0, err
	}
	return imap.UID(n), nil
}

func formatCursor(uid imap.UID) string {
	return strconv.FormatUint(uint64(uid), 10)
}

// uidsAfter returns up to pageSize UIDs strictly greater than last
// from the ascending-sorted uids.
func uidsAfter(uids []imap.UID, last imap.UID, pageSize int) []imap.UID {
	idx, _ := slices.BinarySearch(uids, last+1)
	if idx >= len(uids) {
		return nil
	}
	end := idx + pageSize
	if end > len(uids) {
		end = len(uids)
	}
	return uids[idx:end]
}

func cmpUID(a, b string) int {
	ua, _ := strconv.ParseUint(a, 10, 64)
	ub, _ := strconv.ParseUint(b, 10, 64)
	switch {
	case ua < ub:
		return -1
	case ua > ub:
		return 1
	default:
		return 0
	}
}

// searchCriteria translates fetch filters into IMAP SEARCH criteria.
// An empty filter set searches ALL.
func searchCriteria(opts domain.FetchOptions) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	if !opts.Since.IsZero() {
		criteria.Since = opts.Since
	}
	if !opts.Before.IsZero() {
		criteria.Before = opts.Before
	}
	headers := []struct{ key, value string }{
		{"Subject", opts.Subject},
		{"From", opts.From},
		{"To", opts.To},
	}
	for _, h := range headers {
		if h.value != "" {
			criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
				Key: h.key, Value: h.value,
			})
		}
	}
	if opts.Body != "" {
		criteria.Body = append(criteria.Body, opts.Body)
	}
	if opts.Text != "" {
		criteria.Text = append(criteria.Text, opts.Text)
	}
	return criteria
}

// summaryFromBuffer maps a fetched message to the normalized summary
// shape.
func summaryFromBuffer(buf *imapclient.FetchMessageBuffer, folder string) domain.MessageSummary {
	s := domain.MessageSummary{
		ID:     formatCursor(buf.UID),
		Folder: folder,
	}
	if buf.Envelope != nil {
		s.Subject = buf.Envelope.Subject
		s.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			s.From = domain.Address{Name: from.Name, Email: from.Addr()}
		}
	}
	for _, f := range buf.Flags {
		s.Flags = append(s.Flags, string(f))
	}
	return s
}
