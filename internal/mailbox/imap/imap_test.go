package imap

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/mailbox"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMessageIDRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		validity := rapid.Uint32().Draw(rt, "validity")
		uid := imap.UID(rapid.Uint32Range(1, 1<<32-1).Draw(rt, "uid"))

		gotValidity, gotUID, err := ParseID(FormatID(validity, uid))
		require.NoError(rt, err)
		require.Equal(rt, validity, gotValidity)
		require.Equal(rt, uid, gotUID)
	})

	for _, bad := range []string{"", "12", "a:1", "1:b", "1:0", "1:-3"} {
		_, _, err := ParseID(bad)
		require.Error(t, err, bad)
	}
}

func TestLabelKeyword(t *testing.T) {
	require.Equal(t, "Finance", LabelKeyword("Finance"))
	require.Equal(t, "Receipts_2024", LabelKeyword(" Receipts 2024 "))
	require.Equal(t, "a_b_c_", LabelKeyword(`a(b*c]`))
	require.Equal(t, "caf_", LabelKeyword("café"))
	require.Empty(t, LabelKeyword("   "))
}

func TestAllowsKeyword(t *testing.T) {
	require.True(t, allowsKeyword(
		[]imap.Flag{imap.FlagSeen, imap.FlagWildcard}, "Finance",
	))
	require.True(t, allowsKeyword([]imap.Flag{"finance"}, "Finance"))
	require.False(t, allowsKeyword([]imap.Flag{imap.FlagSeen}, "Finance"))
}

func TestParseBody(t *testing.T) {
	multipart := strings.Join([]string{
		"From: Billing <billing@acme.test>",
		"Subject: Invoice",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Pay&nbsp;<b>now</b></p>",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Please pay invoice 42.",
		"--b1--",
		"",
	}, "\r\n")
	require.Equal(t, "Please pay invoice 42.", ParseBody([]byte(multipart)))

	htmlOnly := strings.Join([]string{
		"Subject: Hi",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Pay&nbsp;<b>now</b></p>",
	}, "\r\n")
	require.Equal(t, "Pay now", ParseBody([]byte(htmlOnly)))

	plain := "Subject: Hi\r\n\r\nJust text.\r\n"
	require.Equal(t, "Just text.", ParseBody([]byte(plain)))
}

func TestCollectRefs(t *testing.T) {
	at := func(ms int64) time.Time { return time.UnixMilli(ms) }
	bufs := []*imapclient.FetchMessageBuffer{
		{UID: 7, InternalDate: at(3000)},
		{UID: 3, InternalDate: at(1000)},
		{UID: 5, InternalDate: at(2000),
			Envelope: &imap.Envelope{Subject: "Invoice"}},
		{UID: 9, InternalDate: at(4000)},
	}

	// The message at the cursor comes back on top of the two later ones.
	refs := collectRefs(42, bufs, at(1000), 2)
	require.Len(t, refs, 3)
	require.Equal(t, "42:3", refs[0].ID)
	require.Equal(t, "42:5", refs[1].ID)
	require.Equal(t, "Invoice", refs[1].Snippet)
	require.Equal(t, "42:7", refs[2].ID)

	refs = collectRefs(42, bufs, at(1500), 0)
	require.Len(t, refs, 3)
	require.Equal(t, "42:5", refs[0].ID)
}

// TestCollectRefsSameSecond checks messages sharing the cursor's second are
// all listed, in uid order, even when the limit is smaller.
func TestCollectRefsSameSecond(t *testing.T) {
	sec := time.Unix(1_700_000_000, 0)
	bufs := []*imapclient.FetchMessageBuffer{
		{UID: 12, InternalDate: sec},
		{UID: 10, InternalDate: sec},
		{UID: 11, InternalDate: sec},
		{UID: 13, InternalDate: sec.Add(time.Second)},
		{UID: 14, InternalDate: sec.Add(2 * time.Second)},
	}

	refs := collectRefs(1, bufs, sec, 1)
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	require.Equal(t, []string{"1:10", "1:11", "1:12", "1:13"}, ids)
}

func TestPickFolder(t *testing.T) {
	folders := []*imap.ListData{
		{Mailbox: "INBOX"},
		{Mailbox: "Papierkorb", Attrs: []imap.MailboxAttr{
			imap.MailboxAttrTrash,
		}},
		{Mailbox: "archive"},
	}

	got, ok := pickFolder(folders, imap.MailboxAttrTrash, []string{"Trash"})
	require.True(t, ok)
	require.Equal(t, "Papierkorb", got)

	got, ok = pickFolder(folders, imap.MailboxAttrArchive,
		[]string{"Archive"})
	require.True(t, ok)
	require.Equal(t, "archive", got)

	_, ok = pickFolder(folders, imap.MailboxAttrJunk, []string{"Spam"})
	require.False(t, ok)
}

func TestBadCredentialsAreAuthErrors(t *testing.T) {
	b := New(DefaultConfig(), nil)
	ctx := context.Background()

	_, err := b.ListRecentMessages(ctx, accounts.Account{
		Credentials: json.RawMessage(`not json`),
	}, time.Time{}, 10)
	require.True(t, mailbox.IsAuth(err))

	_, err = b.ListRecentMessages(ctx, accounts.Account{
		Credentials: json.RawMessage(`{"host": "mail.test"}`),
	}, time.Time{}, 10)
	require.True(t, mailbox.IsAuth(err))
}

func TestMapError(t *testing.T) {
	ctx := context.Background()

	err := mapError(ctx, "login", &imap.Error{
		Type: imap.StatusResponseTypeNo,
		Code: imap.ResponseCodeAuthenticationFailed,
	})
	require.True(t, mailbox.IsAuth(err))

	err = mapError(ctx, "fetch", &imap.Error{Type: imap.StatusResponseTypeNo})
	require.False(t, mailbox.IsAuth(err))
	require.False(t, mailbox.IsTransient(err))

	notFound := mapError(ctx, "get", mailbox.ErrMessageNotFound)
	require.ErrorIs(t, notFound, mailbox.ErrMessageNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = mapError(cancelled, "list", errors.New("use of closed conn"))
	require.ErrorIs(t, err, context.Canceled)
}
