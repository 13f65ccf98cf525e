package mailbox_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/mailbox"
	"github.com/roasbeef/labeler/internal/mailbox/mailboxtest"
	"github.com/stretchr/testify/require"
)

func TestFormatText(t *testing.T) {
	msg := mailbox.Message{
		MessageRef: mailbox.MessageRef{Snippet: "preview only"},
		From:       "Billing <billing@acme.test>",
		Subject:    "Invoice #42",
	}

	// An empty body falls back to the snippet.
	text := mailbox.FormatText(msg, 100)
	require.Equal(t, "From: Billing <billing@acme.test>\n"+
		"Subject: Invoice #42\n\npreview only", text)

	msg.Body = strings.Repeat("é", 10)
	text = mailbox.FormatText(msg, 4)
	require.True(t, strings.HasSuffix(text, "\n\néééé"))

	text = mailbox.FormatText(mailbox.Message{}, 10)
	require.Contains(t, text, "From: unknown")
	require.Contains(t, text, "Subject: (no subject)")
}

func TestTruncateRunes(t *testing.T) {
	require.Equal(t, "abc", mailbox.TruncateRunes("abc", 5))
	require.Equal(t, "ab", mailbox.TruncateRunes("abc", 2))
	require.Equal(t, "日本", mailbox.TruncateRunes("日本語", 2))
	require.Equal(t, "", mailbox.TruncateRunes("abc", 0))
}

func fastRetry() mailbox.RetryConfig {
	return mailbox.RetryConfig{
		Attempts:       3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestRetryingRecoversFromTransientFailures(t *testing.T) {
	ctx := context.Background()
	acct := accounts.Account{ID: 1, Provider: accounts.ProviderGmail}

	fake := mailboxtest.New()
	fake.AddMessage(1, mailbox.Message{
		MessageRef: mailbox.MessageRef{ID: "m1", ReceivedAt: time.Now()},
	})
	fake.FailApplies(1, 2)

	gw := mailbox.NewRetrying(fake, fastRetry(), nil)

	label, err := gw.EnsureLabel(ctx, acct, "Finance")
	require.NoError(t, err)

	require.NoError(t, gw.ApplyLabel(ctx, acct, "m1", label))
	require.Equal(t, 3, fake.ApplyCalls(1, "m1"))
	require.Equal(t, []string{"Finance"}, fake.Labels(1, "m1"))
}

func TestRetryingGivesUp(t *testing.T) {
	ctx := context.Background()
	acct := accounts.Account{ID: 1, Provider: accounts.ProviderGmail}

	fake := mailboxtest.New()
	fake.AddMessage(1, mailbox.Message{
		MessageRef: mailbox.MessageRef{ID: "m1", ReceivedAt: time.Now()},
	})
	fake.FailApplies(1, 10)

	gw := mailbox.NewRetrying(fake, fastRetry(), nil)
	label, err := gw.EnsureLabel(ctx, acct, "Finance")
	require.NoError(t, err)

	err = gw.ApplyLabel(ctx, acct, "m1", label)
	require.True(t, mailbox.IsLabelApply(err))
	require.True(t, mailbox.IsTransient(err))

	var lErr *mailbox.LabelApplyError
	require.ErrorAs(t, err, &lErr)
	require.Equal(t, 3, lErr.Attempts)
	require.Equal(t, 3, fake.ApplyCalls(1, "m1"))
	require.Empty(t, fake.Labels(1, "m1"))

	// A missing message is not worth retrying.
	fake.FailApplies(1, 0)
	err = gw.ApplyLabel(ctx, acct, "gone", label)
	require.ErrorIs(t, err, mailbox.ErrMessageNotFound)
	require.Equal(t, 1, fake.ApplyCalls(1, "gone"))
}

func TestTrimWindow(t *testing.T) {
	at := func(ms int64) mailbox.MessageRef {
		return mailbox.MessageRef{
			ID:         fmt.Sprintf("m%d", ms),
			ReceivedAt: time.UnixMilli(ms),
		}
	}
	ids := func(refs []mailbox.MessageRef) []string {
		out := make([]string, 0, len(refs))
		for _, ref := range refs {
			out = append(out, ref.ID)
		}
		return out
	}

	refs := []mailbox.MessageRef{
		at(1), at(2), at(2), at(3), at(4), at(5),
	}
	refs[2].ID = "m2b"

	tests := []struct {
		name  string
		since int64
		limit int
		want  []string
	}{
		{"unlimited", 3, 0, []string{"m3", "m4", "m5"}},
		{"cursor instant kept", 2, 1, []string{"m2", "m2b", "m3"}},
		{"cap after cursor", 0, 2, []string{"m1", "m2"}},
		{"nothing newer", 6, 5, []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mailbox.TrimWindow(
				refs, time.UnixMilli(tc.since), tc.limit,
			)
			require.Equal(t, tc.want, ids(got))
		})
	}
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	fake := mailboxtest.New()
	fake.AddMessage(7, mailbox.Message{
		MessageRef: mailbox.MessageRef{
			ID: "m1", ReceivedAt: time.UnixMilli(2_000),
		},
	})

	router := mailbox.NewRouter(map[accounts.Provider]mailbox.Gateway{
		accounts.ProviderGmail: fake,
	})

	refs, err := router.ListRecentMessages(ctx, accounts.Account{
		ID: 7, Provider: accounts.ProviderGmail,
	}, time.UnixMilli(1_000), 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	_, err = router.ListRecentMessages(ctx, accounts.Account{
		ID: 7, Provider: accounts.ProviderIMAP,
	}, time.UnixMilli(1_000), 10)
	require.ErrorIs(t, err, mailbox.ErrUnsupportedProvider)
}

func TestErrorHelpers(t *testing.T) {
	base := errors.New("boom")

	require.True(t, mailbox.IsAuth(&mailbox.AuthError{Op: "list", Err: base}))
	require.False(t, mailbox.IsAuth(&mailbox.TransientError{Err: base}))
	require.ErrorIs(t, &mailbox.TransientError{Err: base}, base)
}
