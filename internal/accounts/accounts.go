// Package accounts manages the mailboxes that get scanned, their stored
// credentials and their scan health.
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrAccountNotFound is returned when no account matches.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when the external id is taken.
	ErrAccountExists = errors.New("account already exists")
)

// Provider names the mailbox backend an account uses.
type Provider string

const (
	// ProviderGmail accounts are reached through the Gmail API.
	ProviderGmail Provider = "gmail"

	// ProviderIMAP accounts are reached over IMAP.
	ProviderIMAP Provider = "imap"
)

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderGmail, ProviderIMAP:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// Account is a scanned mailbox.
type Account struct {
	ID int64

	// ExternalID is the stable address of the mailbox, usually the email
	// address.
	ExternalID string

	DisplayName string
	Provider    Provider

	// Credentials is the backend specific credential document.
	Credentials json.RawMessage

	PollInterval time.Duration

	// Active is false when the operator paused the account.
	Active bool

	CreatedAt  time.Time
	LastScanAt fn.Option[time.Time]

	LastError   string
	LastErrorAt fn.Option[time.Time]

	// ConsecutiveAuthFailures resets on the next successful fetch.
	ConsecutiveAuthFailures int

	// TotalFailures counts every failed fetch over the account lifetime.
	TotalFailures int
}

// NewAccount is the input to Store.Create.
type NewAccount struct {
	ExternalID   string
	DisplayName  string
	Provider     Provider
	Credentials  json.RawMessage
	PollInterval time.Duration
}

// GmailCredentials is the credential document of a Gmail account.
type GmailCredentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// IMAPCredentials is the credential document of an IMAP account.
type IMAPCredentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`

	// StartTLS selects STARTTLS on a plain port instead of implicit TLS.
	StartTLS bool `json:"starttls,omitempty"`

	// Mailbox is the folder scanned for new mail, INBOX by default.
	Mailbox string `json:"mailbox,omitempty"`
}
