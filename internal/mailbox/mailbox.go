// Package mailbox defines how the scanner talks to a mail provider: listing
// new messages, reading their text, and labeling them.
package mailbox

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/rules"
)

const (
	// DefaultMaxResults caps how many messages one cycle fetches.
	DefaultMaxResults = 50

	// DefaultMaxBodyChars caps the body text handed to the classifier.
	DefaultMaxBodyChars = 3000
)

// MessageRef identifies a message in an account's mailbox.
type MessageRef struct {
	// ID is the provider's message id. It is stable for the life of the
	// message.
	ID string

	// ReceivedAt is when the provider received the message. The scan
	// cursor is expressed in this clock.
	ReceivedAt time.Time

	// Snippet is a short preview, used when no body text can be read.
	Snippet string
}

// Message is the text of a message as seen by the classifier. It is only
// held in memory for the cycle that reads it.
type Message struct {
	MessageRef

	From    string
	Subject string
	Body    string
}

// LabelID is the provider's handle for a label.
type LabelID string

// Gateway is the mailbox capability the scan orchestrator depends on. Every
// method takes the full account so backends can reach its credentials.
// Implementations must be safe for concurrent use across accounts.
type Gateway interface {
	// ListRecentMessages returns messages received at or after since,
	// oldest first. Messages received exactly at since are always
	// returned and at most limit later ones follow them. When more than
	// limit later messages qualify the oldest are returned, so a cursor
	// advanced to the last one never skips unseen mail, including mail
	// sharing the cursor's instant. Failures are *TransientError or
	// *AuthError.
	ListRecentMessages(ctx context.Context, acct accounts.Account,
		since time.Time, limit int) ([]MessageRef, error)

	// GetMessage looks up a single message, returning ErrMessageNotFound
	// once it is gone.
	GetMessage(ctx context.Context, acct accounts.Account,
		id string) (MessageRef, error)

	// FetchText reads the headers and body text of a message.
	FetchText(ctx context.Context, acct accounts.Account,
		id string) (Message, error)

	// EnsureLabel returns the id of the named label, creating it if it
	// does not exist. Names match case-insensitively.
	EnsureLabel(ctx context.Context, acct accounts.Account,
		name string) (LabelID, error)

	// ApplyLabel adds a label to a message. Applying a label the message
	// already carries is a no-op.
	ApplyLabel(ctx context.Context, acct accounts.Account, id string,
		label LabelID) error

	// ApplyAction performs a rule's post-match action on a message.
	ApplyAction(ctx context.Context, acct accounts.Account, id string,
		action rules.Action) error
}

// TrimWindow applies the ListRecentMessages window to refs, which must be
// sorted oldest first: messages before since are dropped, messages at since
// are kept, and at most limit later ones follow. A limit of zero or less
// keeps them all.
func TrimWindow(refs []MessageRef, since time.Time,
	limit int) []MessageRef {

	out := make([]MessageRef, 0, len(refs))
	later := 0
	for _, ref := range refs {
		switch {
		case ref.ReceivedAt.Before(since):
			continue

		case ref.ReceivedAt.After(since):
			if limit > 0 && later >= limit {
				continue
			}
			later++
		}

		out = append(out, ref)
	}

	return out
}

// FormatText renders a message for the classifier, truncating the body to
// maxBody characters. The snippet stands in for an empty body.
func FormatText(msg Message, maxBody int) string {
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		body = strings.TrimSpace(msg.Snippet)
	}
	if maxBody > 0 {
		body = TruncateRunes(body, maxBody)
	}

	from := msg.From
	if from == "" {
		from = "unknown"
	}
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	var b strings.Builder
	b.WriteString("From: ")
	b.WriteString(from)
	b.WriteString("\nSubject: ")
	b.WriteString(subject)
	b.WriteString("\n\n")
	b.WriteString(body)

	return b.String()
}

// TruncateRunes cuts s to at most n characters without splitting a UTF-8
// sequence.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}

	return s
}
