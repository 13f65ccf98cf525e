package gmail

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/roasbeef/labeler/internal/accounts"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Authorization is the result of a completed consent flow.
type Authorization struct {
	// Email is the address of the account that granted access.
	Email string

	// Credentials is the document stored on the account.
	Credentials json.RawMessage
}

// Authorize runs the installed-app consent flow on a loopback redirect.
// show is called with the URL the user must open. Authorize returns once
// Google redirects back with a code or ctx is done.
func Authorize(ctx context.Context, cfg *oauth2.Config,
	show func(url string)) (*Authorization, error) {

	if cfg.ClientID == "" {
		return nil, errors.New("gmail oauth client id is not configured")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for oauth redirect: %w", err)
	}
	defer ln.Close()

	flowCfg := *cfg
	flowCfg.RedirectURL = "http://" + ln.Addr().String() + "/callback"

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter,
			r *http.Request) {

			q := r.URL.Query()
			var res result
			switch {
			case q.Get("state") != state:
				res.err = errors.New("oauth state mismatch")
			case q.Get("error") != "":
				res.err = fmt.Errorf("consent denied: %s",
					q.Get("error"))
			case q.Get("code") == "":
				res.err = errors.New("oauth redirect without code")
			default:
				res.code = q.Get("code")
			}

			if res.err != nil {
				http.Error(
					w, res.err.Error(), http.StatusBadRequest,
				)
			} else {
				fmt.Fprintln(w, "Authorized. You can close "+
					"this tab.")
			}

			select {
			case results <- res:
			default:
			}
		}),
	}
	go srv.Serve(ln)
	defer srv.Close()

	// Force the consent screen so Google always returns a refresh token.
	show(flowCfg.AuthCodeURL(
		state, oauth2.AccessTypeOffline, oauth2.ApprovalForce,
	))

	var res result
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := flowCfg.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("exchange oauth code: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("google returned no refresh token")
	}

	email, err := profileEmail(ctx, &flowCfg, tok)
	if err != nil {
		return nil, err
	}

	creds, err := json.Marshal(accounts.GmailCredentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		return nil, err
	}

	return &Authorization{Email: email, Credentials: creds}, nil
}

// profileEmail asks Gmail which address the token belongs to.
func profileEmail(ctx context.Context, cfg *oauth2.Config,
	tok *oauth2.Token) (string, error) {

	srv, err := gmail.NewService(
		ctx, option.WithTokenSource(cfg.TokenSource(ctx, tok)),
	)
	if err != nil {
		return "", fmt.Errorf("create gmail service: %w", err)
	}

	profile, err := srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", mapError("get profile", err)
	}

	return profile.EmailAddress, nil
}

func randomState() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}

	return hex.EncodeToString(b[:]), nil
}
