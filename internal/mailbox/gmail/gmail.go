// Package gmail is the Gmail API mailbox backend.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/mailbox"
	"github.com/roasbeef/labeler/internal/rules"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// user is the Gmail API alias for the authenticated account.
	user = "me"

	// listPageSize is the largest page the list endpoint allows.
	listPageSize = 500

	// defaultMaxBodyBytes caps the body kept in memory per message.
	defaultMaxBodyBytes = 64 * 1024

	// saveTimeout bounds persisting a refreshed token.
	saveTimeout = 10 * time.Second
)

// Scopes are the OAuth scopes a Gmail account must grant.
var Scopes = []string{
	gmail.GmailModifyScope,
	"https://www.googleapis.com/auth/userinfo.email",
	"openid",
}

// TokenSaverFunc returns a callback persisting refreshed credentials for an
// account.
type TokenSaverFunc func(accountID int64) func(ctx context.Context,
	creds json.RawMessage) error

// Config configures the backend.
type Config struct {
	// OAuth holds the client id and secret used to refresh tokens.
	OAuth *oauth2.Config

	// Endpoint overrides the Gmail API base URL.
	Endpoint string

	// HTTPClient is the transport under the OAuth layer.
	HTTPClient *http.Client

	// MaxBodyBytes caps the body text read per message.
	MaxBodyBytes int
}

// OAuthConfigFromFile loads a Google client secrets file as downloaded from
// the cloud console.
func OAuthConfigFromFile(data []byte) (*oauth2.Config, error) {
	cfg, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse gmail client secrets: %w", err)
	}

	return cfg, nil
}

// OAuthConfig builds an OAuth config from a bare client id and secret.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
}

// cachedService is a Gmail client bound to one account's refresh token.
type cachedService struct {
	refreshToken string
	srv          *gmail.Service
}

// Backend implements mailbox.Gateway against the Gmail API.
type Backend struct {
	cfg        Config
	saveTokens TokenSaverFunc
	log        *slog.Logger

	mu       sync.Mutex
	services map[int64]*cachedService
}

// New creates a Gmail backend. saveTokens may be nil, in which case
// refreshed tokens only live in memory.
func New(cfg Config, saveTokens TokenSaverFunc, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	if cfg.OAuth == nil {
		cfg.OAuth = OAuthConfig("", "")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &Backend{
		cfg:        cfg,
		saveTokens: saveTokens,
		log:        log.With("component", "gmail"),
		services:   make(map[int64]*cachedService),
	}
}

// service returns the API client for an account, building it on first use
// or when the stored refresh token changed underneath the cache.
func (b *Backend) service(ctx context.Context,
	acct accounts.Account) (*gmail.Service, error) {

	var creds accounts.GmailCredentials
	if err := json.Unmarshal(acct.Credentials, &creds); err != nil {
		return nil, &mailbox.AuthError{
			Op:  "load credentials",
			Err: fmt.Errorf("decode gmail credentials: %w", err),
		}
	}
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil, &mailbox.AuthError{
			Op:  "load credentials",
			Err: errors.New("account has no gmail token"),
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if cached, ok := b.services[acct.ID]; ok &&
		cached.refreshToken == creds.RefreshToken {

		return cached.srv, nil
	}

	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		Expiry:       creds.Expiry,
	}

	// The token source outlives this call, so it must not inherit the
	// caller's deadline.
	baseCtx := context.Background()
	if b.cfg.HTTPClient != nil {
		baseCtx = context.WithValue(
			baseCtx, oauth2.HTTPClient, b.cfg.HTTPClient,
		)
	}

	src := &notifyTokenSource{
		src:     b.cfg.OAuth.TokenSource(baseCtx, tok),
		current: tok,
		onRefresh: func(t *oauth2.Token) {
			b.persistToken(acct.ID, t)
		},
	}

	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(baseCtx, src)),
	}
	if b.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(b.cfg.Endpoint))
	}

	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	b.services[acct.ID] = &cachedService{
		refreshToken: creds.RefreshToken,
		srv:          srv,
	}

	return srv, nil
}

// persistToken writes a rotated token back to the account.
func (b *Backend) persistToken(accountID int64, t *oauth2.Token) {
	log := b.log.With("account_id", accountID)
	log.Debug("Gmail token refreshed")

	if b.saveTokens == nil {
		return
	}

	creds, err := json.Marshal(accounts.GmailCredentials{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	})
	if err != nil {
		log.Warn("Unable to encode refreshed token", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := b.saveTokens(accountID)(ctx, creds); err != nil {
		log.Warn("Unable to persist refreshed token", "err", err)
	}
}

// Forget drops the cached client of an account, e.g. after it was removed
// or reconnected.
func (b *Backend) Forget(accountID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.services, accountID)
}

// ListRecentMessages implements mailbox.Gateway.
func (b *Backend) ListRecentMessages(ctx context.Context,
	acct accounts.Account, since time.Time,
	limit int) ([]mailbox.MessageRef, error) {

	srv, err := b.service(ctx, acct)
	if err != nil {
		return nil, err
	}

	// The search operator has second resolution, so the query starts a
	// second early and the exact bound is applied on internalDate below.
	query := fmt.Sprintf("in:inbox after:%d", since.Unix()-1)

	var (
		ids       []string
		pageToken string
	)
	for {
		call := srv.Users.Messages.List(user).Q(query).
			MaxResults(listPageSize).
			Fields("messages/id", "nextPageToken").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, mapError("list messages", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	// Results come newest first. Walk from the oldest end so that when
	// the window holds more than limit messages the oldest are kept.
	// Messages at the cursor's instant do not use up the limit.
	var (
		refs  []mailbox.MessageRef
		later int
	)
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && later >= limit {
			break
		}

		ref, err := b.getRef(ctx, srv, ids[i])
		if errors.Is(err, mailbox.ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if ref.ReceivedAt.Before(since) {
			continue
		}
		if ref.ReceivedAt.After(since) {
			later++
		}

		refs = append(refs, ref)
	}

	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].ReceivedAt.Before(refs[j].ReceivedAt)
	})

	return mailbox.TrimWindow(refs, since, limit), nil
}

func (b *Backend) getRef(ctx context.Context, srv *gmail.Service,
	id string) (mailbox.MessageRef, error) {

	msg, err := srv.Users.Messages.Get(user, id).Format("minimal").
		Fields("id", "internalDate", "snippet").
		Context(ctx).Do()
	if err != nil {
		return mailbox.MessageRef{}, mapError("get message", err)
	}

	return mailbox.MessageRef{
		ID:         msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate),
		Snippet:    msg.Snippet,
	}, nil
}

// GetMessage implements mailbox.Gateway.
func (b *Backend) GetMessage(ctx context.Context, acct accounts.Account,
	id string) (mailbox.MessageRef, error) {

	srv, err := b.service(ctx, acct)
	if err != nil {
		return mailbox.MessageRef{}, err
	}

	return b.getRef(ctx, srv, id)
}

// FetchText implements mailbox.Gateway.
func (b *Backend) FetchText(ctx context.Context, acct accounts.Account,
	id string) (mailbox.Message, error) {

	srv, err := b.service(ctx, acct)
	if err != nil {
		return mailbox.Message{}, err
	}

	msg, err := srv.Users.Messages.Get(user, id).Format("full").
		Context(ctx).Do()
	if err != nil {
		return mailbox.Message{}, mapError("fetch message", err)
	}

	out := mailbox.Message{
		MessageRef: mailbox.MessageRef{
			ID:         msg.Id,
			ReceivedAt: time.UnixMilli(msg.InternalDate),
			Snippet:    msg.Snippet,
		},
	}
	if msg.Payload != nil {
		out.From = header(msg.Payload.Headers, "From")
		out.Subject = header(msg.Payload.Headers, "Subject")
		out.Body = mailbox.TruncateRunes(
			extractBody(msg.Payload), b.cfg.MaxBodyBytes,
		)
	}

	return out, nil
}

// EnsureLabel implements mailbox.Gateway.
func (b *Backend) EnsureLabel(ctx context.Context, acct accounts.Account,
	name string) (mailbox.LabelID, error) {

	srv, err := b.service(ctx, acct)
	if err != nil {
		return "", err
	}

	if id, ok, err := findLabel(ctx, srv, name); err != nil || ok {
		return id, err
	}

	created, err := srv.Users.Labels.Create(user, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		// Created concurrently, look it up again.
		id, ok, err := findLabel(ctx, srv, name)
		if err == nil && !ok {
			err = fmt.Errorf("label %q conflicts but is not listed",
				name)
		}
		return id, err
	}
	if err != nil {
		return "", mapError("create label", err)
	}

	b.log.InfoContext(ctx, "Created label", "account_id", acct.ID,
		"label", name, "label_id", created.Id)

	return mailbox.LabelID(created.Id), nil
}

func findLabel(ctx context.Context, srv *gmail.Service,
	name string) (mailbox.LabelID, bool, error) {

	resp, err := srv.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return "", false, mapError("list labels", err)
	}
	for _, l := range resp.Labels {
		if strings.EqualFold(l.Name, name) {
			return mailbox.LabelID(l.Id), true, nil
		}
	}

	return "", false, nil
}

// ApplyLabel implements mailbox.Gateway.
func (b *Backend) ApplyLabel(ctx context.Context, acct accounts.Account,
	id string, label mailbox.LabelID) error {

	return b.modify(ctx, acct, id, "apply label", &gmail.ModifyMessageRequest{
		AddLabelIds: []string{string(label)},
	})
}

// ApplyAction implements mailbox.Gateway.
func (b *Backend) ApplyAction(ctx context.Context, acct accounts.Account,
	id string, action rules.Action) error {

	switch action {
	case rules.ActionNone, "":
		return nil

	case rules.ActionArchive:
		return b.modify(ctx, acct, id, "archive",
			&gmail.ModifyMessageRequest{
				RemoveLabelIds: []string{"INBOX"},
			},
		)

	case rules.ActionSpam:
		return b.modify(ctx, acct, id, "mark spam",
			&gmail.ModifyMessageRequest{
				AddLabelIds:    []string{"SPAM"},
				RemoveLabelIds: []string{"INBOX"},
			},
		)

	case rules.ActionTrash:
		srv, err := b.service(ctx, acct)
		if err != nil {
			return err
		}
		_, err = srv.Users.Messages.Trash(user, id).Context(ctx).Do()
		if err != nil {
			return mapError("trash", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func (b *Backend) modify(ctx context.Context, acct accounts.Account,
	id, op string, req *gmail.ModifyMessageRequest) error {

	srv, err := b.service(ctx, acct)
	if err != nil {
		return err
	}

	_, err = srv.Users.Messages.Modify(user, id, req).Context(ctx).Do()
	if err != nil {
		return mapError(op, err)
	}

	return nil
}

// mapError sorts a Gmail or OAuth failure into the mailbox error kinds.
func mapError(op string, err error) error {
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {

		return fmt.Errorf("%s: %w", op, err)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 500 {

			return &mailbox.TransientError{Op: op, Err: err}
		}
		return &mailbox.AuthError{Op: op, Err: err}
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Anything below the API, such as DNS or a reset connection.
		return &mailbox.TransientError{Op: op, Err: err}
	}

	switch {
	case apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %v", op, mailbox.ErrMessageNotFound,
			err)

	case apiErr.Code == http.StatusUnauthorized:
		return &mailbox.AuthError{Op: op, Err: err}

	case apiErr.Code == http.StatusForbidden:
		for _, item := range apiErr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded":
				return &mailbox.TransientError{Op: op, Err: err}
			}
		}
		return &mailbox.AuthError{Op: op, Err: err}

	case apiErr.Code == http.StatusTooManyRequests,
		apiErr.Code >= http.StatusInternalServerError:

		return &mailbox.TransientError{Op: op, Err: err}

	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func header(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}

	return ""
}

var (
	tagRE   = regexp.MustCompile(`<[^>]*>`)
	spaceRE = regexp.MustCompile(`[ \t]+`)
)

// extractBody returns the first text/plain part, falling back to the first
// text/html part with its tags stripped.
func extractBody(payload *gmail.MessagePart) string {
	if text := findPart(payload, "text/plain"); text != "" {
		return text
	}
	if html := findPart(payload, "text/html"); html != "" {
		text := tagRE.ReplaceAllString(html, " ")
		text = strings.NewReplacer(
			"&nbsp;", " ", "&lt;", "<", "&gt;", ">", "&amp;", "&",
			"&quot;", `"`,
		).Replace(text)

		return strings.TrimSpace(spaceRE.ReplaceAllString(text, " "))
	}

	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, mimeType) && part.Body != nil &&
		part.Body.Data != "" {

		if text, ok := decodeBody(part.Body.Data); ok {
			return text
		}
	}
	for _, child := range part.Parts {
		if text := findPart(child, mimeType); text != "" {
			return text
		}
	}

	return ""
}

// decodeBody decodes the base64url body data, with or without padding.
func decodeBody(data string) (string, bool) {
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return "", false
		}
	}

	return string(raw), true
}

// Compile-time check that Backend satisfies mailbox.Gateway.
var _ mailbox.Gateway = (*Backend)(nil)
