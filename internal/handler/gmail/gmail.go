// Package gmail implements the provider:gmail protocol variant on top
// of the Gmail REST API. Messages live in labels rather than folders,
// so folder operations are expressed as label operations and paging
// uses the API's opaque page tokens.
package gmail

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/lu-zhengda/mailgate/internal/domain"
	"github.com/lu-zhengda/mailgate/internal/handler"
	"github.com/lu-zhengda/mailgate/internal/secret"
)

const userID = "me"

// endCursor marks a fully consumed listing. The API reports the end
// of results with an empty next-page token, which collides with the
// start-of-folder sentinel, so a terminal page carries this marker
// instead.
const endCursor = "end"

// Handler connects Gmail accounts using a stored OAuth2 token.
type Handler struct {
	oauth *oauth2.Config
}

// New creates a Gmail handler with the given OAuth client credentials.
func New(clientID, clientSecret string) *Handler {
	return &Handler{oauth: oauthConfig(clientID, clientSecret)}
}

// Connect builds an API client from the account's stored token. The
// token source refreshes expired tokens transparently; a missing
// token means the account was never authorized.
func (h *Handler) Connect(ctx context.Context, acct domain.Account, creds secret.Credentials) (handler.Conn, error) {
	if creds.Token == nil {
		return nil, handler.Errorf(handler.KindAuth,
			"account %s has no OAuth token; run accounts login first", acct.ID)
	}
	svc, err := gmailapi.NewService(ctx,
		option.WithTokenSource(h.oauth.TokenSource(ctx, creds.Token)))
	if err != nil {
		return nil, classifyGmail(err, "failed to create gmail client for "+acct.ID)
	}
	return &Conn{account: acct, svc: svc}, nil
}

// Conn is a live Gmail API session for one account.
type Conn struct {
	account domain.Account
	svc     *gmailapi.Service

	// labelIDs caches the name-to-id mapping for the session.
	labelIDs map[string]string
}

// Close releases the session. The REST client holds no persistent
// transport state, so there is nothing to tear down.
func (c *Conn) Close() error {
	return nil
}

// FetchPage returns one page of message summaries from the label named
// folder. The cursor is the API's page token; past the last page the
// cursor pins to a terminal marker and every further call returns an
// empty page with the cursor unchanged.
func (c *Conn) FetchPage(ctx context.Context, folder, cursor string, pageSize int, opts domain.FetchOptions) (domain.MessagePage, error) {
	if pageSize <= 0 {
		return domain.MessagePage{}, handler.Errorf(handler.KindValidation, "page size must be positive, got %d", pageSize)
	}
	if cursor == endCursor {
		return domain.MessagePage{Cursor: endCursor}, nil
	}

	labelID, err := c.resolveLabel(ctx, folder)
	if err != nil {
		return domain.MessagePage{}, err
	}

	call := c.svc.Users.Messages.List(userID).
		LabelIds(labelID).
		MaxResults(int64(pageSize))
	if cursor != "" {
		call = call.PageToken(cursor)
	}
	if q := searchQuery(opts); q != "" {
		call = call.Q(q)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return domain.MessagePage{}, classifyGmail(err, "failed to list messages in "+folder)
	}

	page := domain.MessagePage{Total: int(resp.ResultSizeEstimate)}
	for _, m := range resp.Messages {
		msg, err := c.svc.Users.Messages.Get(userID, m.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).Do()
		if err != nil {
			return domain.MessagePage{}, classifyGmail(err, "failed to get message "+m.Id)
		}
		page.Messages = append(page.Messages, summaryFromMessage(msg, folder))
	}

	if resp.NextPageToken == "" {
		page.Cursor = endCursor
	} else {
		page.Cursor = resp.NextPageToken
	}
	return page, nil
}

// Send delivers msg through the API. Gmail accepts a message for all
// recipients or refuses it entirely, so the receipt never lists
// rejected recipients.
func (c *Conn) Send(ctx context.Context, msg *domain.OutboundMessage) (domain.SendReceipt, error) {
	from := msg.From
	if from.Email == "" {
		from = c.account.From
	}
	raw, msgID, err := encodeRawMessage(msg, from)
	if err != nil {
		return domain.SendReceipt{}, handler.Wrap(handler.KindValidation, err, "failed to compose message")
	}

	_, err = c.svc.Users.Messages.Send(userID, &gmailapi.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return domain.SendReceipt{}, classifyGmail(err, "failed to send message")
	}

	receipt := domain.SendReceipt{MessageID: msgID}
	for _, rcpt := range msg.Recipients() {
		receipt.Accepted = append(receipt.Accepted, rcpt.Email)
	}
	return receipt, nil
}

// ListFolders returns the account's labels as folders. Label names
// use "/" for nesting.
func (c *Conn) ListFolders(ctx context.Context) ([]domain.FolderInfo, error) {
	resp, err := c.svc.Users.Labels.List(userID).Context(ctx).Do()
	if err != nil {
		return nil, classifyGmail(err, "failed to list labels")
	}
	folders := make([]domain.FolderInfo, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		folders = append(folders, domain.FolderInfo{
			Name:       l.Name,
			Delimiter:  "/",
			Attributes: []string{l.Type},
		})
	}
	return folders, nil
}

// CreateFolder creates a user label.
func (c *Conn) CreateFolder(ctx context.Context, name string) error {
	l, err := c.svc.Users.Labels.Create(userID, &gmailapi.Label{Name: name}).Context(ctx).Do()
	if err != nil {
		return classifyGmail(err, "failed to create label "+name)
	}
	if c.labelIDs != nil {
		c.labelIDs[name] = l.Id
	}
	return nil
}

// MoveMessages relabels each message from folder to dest. A refused
// message id lands in FailedIDs without aborting the batch.
func (c *Conn) MoveMessages(ctx context.Context, folder string, ids []string, dest string) (domain.MoveReceipt, error) {
	return c.relabel(ctx, folder, ids, dest, true)
}

// CopyMessages adds the dest label to each message, keeping the
// source label in place.
func (c *Conn) CopyMessages(ctx context.Context, folder string, ids []string, dest string) (domain.MoveReceipt, error) {
	return c.relabel(ctx, folder, ids, dest, false)
}

func (c *Conn) relabel(ctx context.Context, folder string, ids []string, dest string, removeSource bool) (domain.MoveReceipt, error) {
	receipt := domain.MoveReceipt{Requested: len(ids)}

	destID, err := c.resolveLabel(ctx, dest)
	if err != nil {
		receipt.FailedIDs = append(receipt.FailedIDs, ids...)
		return receipt, err
	}
	req := &gmailapi.ModifyMessageRequest{AddLabelIds: []string{destID}}
	if removeSource {
		srcID, err := c.resolveLabel(ctx, folder)
		if err != nil {
			receipt.FailedIDs = append(receipt.FailedIDs, ids...)
			return receipt, err
		}
		req.RemoveLabelIds = []string{srcID}
	}

	var firstErr error
	for _, id := range ids {
		if _, err := c.svc.Users.Messages.Modify(userID, id, req).Context(ctx).Do(); err != nil {
			receipt.FailedIDs = append(receipt.FailedIDs, id)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		receipt.Completed++
	}

	if receipt.Completed == 0 && firstErr != nil {
		return receipt, classifyGmail(firstErr, "failed to relabel messages to "+dest)
	}
	return receipt, nil
}

// resolveLabel maps a label name to its id. System labels like INBOX
// are addressed by id directly; user label names are looked up once
// per session.
func (c *Conn) resolveLabel(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "INBOX", nil
	}
	if c.labelIDs == nil {
		resp, err := c.svc.Users.Labels.List(userID).Context(ctx).Do()
		if err != nil {
			return "", classifyGmail(err, "failed to list labels")
		}
		c.labelIDs = make(map[string]string, len(resp.Labels))
		for _, l := range resp.Labels {
			c.labelIDs[l.Name] = l.Id
			c.labelIDs[l.Id] = l.Id
		}
	}
	if id, ok := c.labelIDs[name]; ok {
		return id, nil
	}
	return "", handler.Errorf(handler.KindNotFound, "no such folder %s", name)
}

// classifyGmail maps an API error into the shared taxonomy by HTTP
// status.
func classifyGmail(err error, detail string) *handler.Error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Code == 401 || ge.Code == 403:
			return handler.Wrap(handler.KindAuth, err, detail)
		case ge.Code == 404:
			return handler.Wrap(handler.KindNotFound, err, detail)
		case ge.Code == 429 || ge.Code >= 500:
			return handler.Wrap(handler.KindConnection, err, detail)
		default:
			return handler.Wrap(handler.KindProtocol, err, detail)
		}
	}
	return handler.Classify(err, detail)
}
