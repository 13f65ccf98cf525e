// Package imap is the IMAP mailbox backend. Labels map to IMAP keywords and
// post-match actions to moves into the special-use folders.
package imap

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/mailbox"
	"github.com/roasbeef/labeler/internal/rules"
)

const (
	defaultTLSPort      = 993
	defaultStartTLSPort = 143
	defaultMailbox      = "INBOX"
	defaultDialTimeout  = 30 * time.Second
	defaultMaxBodyBytes = 64 * 1024
)

// Config configures the backend.
type Config struct {
	// DialTimeout bounds connection setup.
	DialTimeout time.Duration

	// MaxBodyBytes caps the body text read per message.
	MaxBodyBytes int

	// ArchiveFolders, SpamFolders and TrashFolders are tried in order
	// when the server does not advertise special-use folders.
	ArchiveFolders []string
	SpamFolders    []string
	TrashFolders   []string

	// TLSConfig overrides the TLS settings, mostly for tests.
	TLSConfig *tls.Config
}

// DefaultConfig returns the default backend configuration.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  defaultDialTimeout,
		MaxBodyBytes: defaultMaxBodyBytes,
		ArchiveFolders: []string{
			"Archive", "Archives", "[Gmail]/All Mail", "INBOX.Archive",
		},
		SpamFolders: []string{
			"Junk", "Spam", "[Gmail]/Spam", "INBOX.Junk",
		},
		TrashFolders: []string{
			"Trash", "Deleted Items", "[Gmail]/Trash", "INBOX.Trash",
		},
	}
}

// Backend implements mailbox.Gateway over IMAP. Each call opens its own
// session, so the backend holds no per-account state.
type Backend struct {
	cfg Config
	log *slog.Logger
}

// New creates an IMAP backend.
func New(cfg Config, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &Backend{
		cfg: cfg,
		log: log.With("component", "imap"),
	}
}

// session is a logged in connection with the scanned folder selected.
type session struct {
	client *imapclient.Client
	sel    *imap.SelectData
	creds  accounts.IMAPCredentials
}

// withSession connects, logs in, selects the account's folder and runs fn.
// Cancelling ctx closes the connection, which unblocks any pending command.
func (b *Backend) withSession(ctx context.Context, acct accounts.Account,
	op string, fn func(s *session) error) error {

	var creds accounts.IMAPCredentials
	if err := json.Unmarshal(acct.Credentials, &creds); err != nil {
		return &mailbox.AuthError{
			Op:  "load credentials",
			Err: fmt.Errorf("decode imap credentials: %w", err),
		}
	}
	if creds.Host == "" || creds.Username == "" {
		return &mailbox.AuthError{
			Op:  "load credentials",
			Err: errors.New("imap host and username are required"),
		}
	}

	client, err := b.dial(ctx, creds)
	if err != nil {
		return mapError(ctx, "connect", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	defer func() {
		if stop() {
			_ = client.Logout().Wait()
		}
		_ = client.Close()
	}()

	if err := client.Login(creds.Username, creds.Password).Wait(); err != nil {
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return &mailbox.AuthError{Op: "login", Err: err}
		}
		return mapError(ctx, "login", err)
	}

	folder := creds.Mailbox
	if folder == "" {
		folder = defaultMailbox
	}
	sel, err := client.Select(folder, nil).Wait()
	if err != nil {
		return mapError(ctx, "select "+folder, err)
	}

	err = fn(&session{client: client, sel: sel, creds: creds})
	if err != nil {
		return mapError(ctx, op, err)
	}

	return nil
}

func (b *Backend) dial(ctx context.Context,
	creds accounts.IMAPCredentials) (*imapclient.Client, error) {

	port := creds.Port
	if port == 0 {
		port = defaultTLSPort
		if creds.StartTLS {
			port = defaultStartTLSPort
		}
	}
	addr := net.JoinHostPort(creds.Host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: b.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	tlsCfg := b.cfg.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: creds.Host}
	}

	if creds.StartTLS {
		client, err := imapclient.NewStartTLS(
			conn, &imapclient.Options{TLSConfig: tlsCfg},
		)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("starttls %s: %w", addr, err)
		}
		return client, nil
	}

	return imapclient.New(tls.Client(conn, tlsCfg), nil), nil
}

// ListRecentMessages implements mailbox.Gateway.
func (b *Backend) ListRecentMessages(ctx context.Context,
	acct accounts.Account, since time.Time,
	limit int) ([]mailbox.MessageRef, error) {

	var refs []mailbox.MessageRef
	err := b.withSession(ctx, acct, "list messages", func(s *session) error {
		// SINCE has day resolution in the server's time zone, so search
		// a day early and filter on the internal date.
		search, err := s.client.UIDSearch(&imap.SearchCriteria{
			Since: since.Add(-24 * time.Hour),
		}, nil).Wait()
		if err != nil {
			return err
		}

		uids := search.AllUIDs()
		if len(uids) == 0 {
			return nil
		}

		bufs, err := s.client.Fetch(imap.UIDSetNum(uids...),
			&imap.FetchOptions{
				UID:          true,
				InternalDate: true,
				Envelope:     true,
			},
		).Collect()
		if err != nil {
			return err
		}

		refs = collectRefs(s.sel.UIDValidity, bufs, since, limit)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return refs, nil
}

// collectRefs orders fetched messages by internal date, then uid, and
// applies the listing window. INTERNALDATE has second resolution, so many
// messages can share the cursor's instant.
func collectRefs(validity uint32, bufs []*imapclient.FetchMessageBuffer,
	since time.Time, limit int) []mailbox.MessageRef {

	sorted := append([]*imapclient.FetchMessageBuffer(nil), bufs...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.InternalDate.Equal(b.InternalDate) {
			return a.InternalDate.Before(b.InternalDate)
		}
		return a.UID < b.UID
	})

	refs := make([]mailbox.MessageRef, 0, len(sorted))
	for _, buf := range sorted {
		refs = append(refs, refFromBuffer(validity, buf))
	}

	return mailbox.TrimWindow(refs, since, limit)
}

func refFromBuffer(validity uint32,
	buf *imapclient.FetchMessageBuffer) mailbox.MessageRef {

	ref := mailbox.MessageRef{
		ID:         FormatID(validity, buf.UID),
		ReceivedAt: buf.InternalDate,
	}
	if buf.Envelope != nil {
		ref.Snippet = buf.Envelope.Subject
	}

	return ref
}

// fetchOne fetches a single message by id, checking that the folder has not
// been renumbered since the id was handed out.
func fetchOne(s *session, id string,
	opts *imap.FetchOptions) (*imapclient.FetchMessageBuffer, error) {

	validity, uid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	if validity != s.sel.UIDValidity {
		return nil, fmt.Errorf("%w: %s (uidvalidity changed)",
			mailbox.ErrMessageNotFound, id)
	}

	bufs, err := s.client.Fetch(imap.UIDSetNum(uid), opts).Collect()
	if err != nil {
		return nil, err
	}
	if len(bufs) == 0 {
		return nil, fmt.Errorf("%w: %s", mailbox.ErrMessageNotFound, id)
	}

	return bufs[0], nil
}

// GetMessage implements mailbox.Gateway.
func (b *Backend) GetMessage(ctx context.Context, acct accounts.Account,
	id string) (mailbox.MessageRef, error) {

	var ref mailbox.MessageRef
	err := b.withSession(ctx, acct, "get message", func(s *session) error {
		buf, err := fetchOne(s, id, &imap.FetchOptions{
			UID: true, InternalDate: true, Envelope: true,
		})
		if err != nil {
			return err
		}
		ref = refFromBuffer(s.sel.UIDValidity, buf)

		return nil
	})

	return ref, err
}

// FetchText implements mailbox.Gateway.
func (b *Backend) FetchText(ctx context.Context, acct accounts.Account,
	id string) (mailbox.Message, error) {

	var msg mailbox.Message
	err := b.withSession(ctx, acct, "fetch message", func(s *session) error {
		section := &imap.FetchItemBodySection{Peek: true}
		buf, err := fetchOne(s, id, &imap.FetchOptions{
			UID:          true,
			InternalDate: true,
			Envelope:     true,
			BodySection:  []*imap.FetchItemBodySection{section},
		})
		if err != nil {
			return err
		}

		msg.MessageRef = refFromBuffer(s.sel.UIDValidity, buf)
		if env := buf.Envelope; env != nil {
			msg.Subject = env.Subject
			if len(env.From) > 0 {
				msg.From = formatAddress(env.From[0])
			}
		}
		if raw := buf.FindBodySection(section); raw != nil {
			msg.Body = mailbox.TruncateRunes(
				ParseBody(raw), b.cfg.MaxBodyBytes,
			)
		}

		return nil
	})

	return msg, err
}

// EnsureLabel implements mailbox.Gateway. The label becomes a keyword, which
// exists as soon as it is stored on a message, so nothing is created here.
func (b *Backend) EnsureLabel(ctx context.Context, acct accounts.Account,
	name string) (mailbox.LabelID, error) {

	keyword := LabelKeyword(name)
	if keyword == "" {
		return "", fmt.Errorf("label %q has no usable keyword", name)
	}

	err := b.withSession(ctx, acct, "ensure label", func(s *session) error {
		if !allowsKeyword(s.sel.PermanentFlags, keyword) {
			return fmt.Errorf("folder does not accept custom keywords")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return mailbox.LabelID(keyword), nil
}

// ApplyLabel implements mailbox.Gateway.
func (b *Backend) ApplyLabel(ctx context.Context, acct accounts.Account,
	id string, label mailbox.LabelID) error {

	return b.withSession(ctx, acct, "apply label", func(s *session) error {
		buf, err := fetchOne(s, id, &imap.FetchOptions{UID: true})
		if err != nil {
			return err
		}

		return s.client.Store(imap.UIDSetNum(buf.UID), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.Flag(label)},
		}, nil).Close()
	})
}

// ApplyAction implements mailbox.Gateway.
func (b *Backend) ApplyAction(ctx context.Context, acct accounts.Account,
	id string, action rules.Action) error {

	var (
		attr      imap.MailboxAttr
		fallbacks []string
	)
	switch action {
	case rules.ActionNone, "":
		return nil
	case rules.ActionArchive:
		attr, fallbacks = imap.MailboxAttrArchive, b.cfg.ArchiveFolders
	case rules.ActionSpam:
		attr, fallbacks = imap.MailboxAttrJunk, b.cfg.SpamFolders
	case rules.ActionTrash:
		attr, fallbacks = imap.MailboxAttrTrash, b.cfg.TrashFolders
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	return b.withSession(ctx, acct, string(action), func(s *session) error {
		buf, err := fetchOne(s, id, &imap.FetchOptions{UID: true})
		if err != nil {
			return err
		}

		folders, err := s.client.List("", "*", &imap.ListOptions{
			ReturnSpecialUse: true,
		}).Collect()
		if err != nil {
			return err
		}

		target, ok := pickFolder(folders, attr, fallbacks)
		if !ok {
			return fmt.Errorf("no folder for %s", action)
		}

		_, err = s.client.Move(imap.UIDSetNum(buf.UID), target).Wait()
		if err != nil {
			return fmt.Errorf("move to %s: %w", target, err)
		}

		b.log.DebugContext(ctx, "Moved message", "account_id", acct.ID,
			"message_id", id, "folder", target)

		return nil
	})
}

// pickFolder prefers the folder advertising attr and falls back to the
// first existing folder named in fallbacks.
func pickFolder(folders []*imap.ListData, attr imap.MailboxAttr,
	fallbacks []string) (string, bool) {

	existing := make(map[string]string, len(folders))
	for _, f := range folders {
		for _, a := range f.Attrs {
			if a == attr {
				return f.Mailbox, true
			}
		}
		existing[strings.ToLower(f.Mailbox)] = f.Mailbox
	}
	for _, name := range fallbacks {
		if mbox, ok := existing[strings.ToLower(name)]; ok {
			return mbox, true
		}
	}

	return "", false
}

// mapError sorts an IMAP failure into the mailbox error kinds. Server
// responses are returned as is; anything below them is transient.
func mapError(ctx context.Context, op string, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, errors.Join(err, ctx.Err()))

	case mailbox.IsAuth(err), mailbox.IsTransient(err),
		errors.Is(err, mailbox.ErrMessageNotFound):

		return err
	}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		if imapErr.Code == imap.ResponseCodeAuthenticationFailed ||
			imapErr.Code == imap.ResponseCodeAuthorizationFailed ||
			imapErr.Code == imap.ResponseCodeExpired {

			return &mailbox.AuthError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) {
		return &mailbox.TransientError{Op: op, Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// Compile-time check that Backend satisfies mailbox.Gateway.
var _ mailbox.Gateway = (*Backend)(nil)
