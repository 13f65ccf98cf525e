package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/roasbeef/labeler/internal/config"
	"github.com/roasbeef/labeler/internal/web"
)

// errDaemonUnavailable means labelerd is not listening, so the command
// falls back to the database.
var errDaemonUnavailable = errors.New("daemon not reachable")

// errCycleInFlight mirrors the daemon's 409 for a busy account.
var errCycleInFlight = errors.New("a scan of this account is already " +
	"running")

// daemonClient talks to labelerd's operator API.
type daemonClient struct {
	base string
	http *http.Client
}

// newDaemonClient returns nil when the web API is disabled.
func newDaemonClient(cfg *config.Config) *daemonClient {
	addr := cfg.Web.Addr
	if addr == "" {
		return nil
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	return &daemonClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *daemonClient) do(ctx context.Context, method, path string,
	out any) error {

	if c == nil {
		return errDaemonUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return errDaemonUnavailable
		}

		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr web.APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		if apiErr.Error.Code == "cycle_in_flight" {
			return errCycleInFlight
		}

		return fmt.Errorf("daemon: %s", apiErr.Error.Message)
	}

	if out == nil {
		return nil
	}

	envelope := web.APIResponse{Data: out}

	return json.NewDecoder(resp.Body).Decode(&envelope)
}

func (c *daemonClient) accounts(ctx context.Context) ([]web.AccountView,
	error) {

	var views []web.AccountView
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts", &views)

	return views, err
}

func (c *daemonClient) runNow(ctx context.Context, id int64) error {
	return c.do(
		ctx, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/scan", id),
		nil,
	)
}
