package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/ledger"
)

const defaultListLimit = 20

// AccountLister is the account read side used by the service.
type AccountLister interface {
	Get(ctx context.Context, id int64) (accounts.Account, error)
	List(ctx context.Context) ([]accounts.Account, error)
}

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	Accounts AccountLister
	Ledger   ledger.Ledger
	History  History
	Runner   Runner
	Health   *accounts.HealthConfig

	// MaxFailedAttempts hides capped pairs from failed listings.
	MaxFailedAttempts int
}

// Service answers operator queries about scanning.
type Service struct {
	cfg ServiceConfig
	log *slog.Logger
}

// NewService creates a scan query service.
func NewService(cfg ServiceConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Health == nil {
		cfg.Health = accounts.DefaultHealthConfig()
	}

	return &Service{
		cfg: cfg,
		log: log.With("component", "scan-service"),
	}
}

// Receive dispatches a request to its handler.
func (s *Service) Receive(ctx context.Context,
	msg Request) fn.Result[Response] {

	switch m := msg.(type) {
	case AccountStatusRequest:
		return fn.Ok[Response](s.handleAccountStatus(ctx, m))

	case CyclesRequest:
		return fn.Ok[Response](s.handleCycles(ctx, m))

	case RunNowRequest:
		return fn.Ok[Response](s.handleRunNow(ctx, m))

	case LedgerRequest:
		return fn.Ok[Response](s.handleLedger(ctx, m))

	default:
		return fn.Err[Response](fmt.Errorf(
			"unknown message type: %T", msg,
		))
	}
}

func (s *Service) handleAccountStatus(ctx context.Context,
	req AccountStatusRequest) AccountStatusResponse {

	var (
		accts []accounts.Account
		err   error
	)
	if req.AccountID != 0 {
		var acct accounts.Account
		acct, err = s.cfg.Accounts.Get(ctx, req.AccountID)
		accts = []accounts.Account{acct}
	} else {
		accts, err = s.cfg.Accounts.List(ctx)
	}
	if err != nil {
		return AccountStatusResponse{Error: err}
	}

	statuses := make([]AccountStatus, 0, len(accts))
	for _, acct := range accts {
		st, err := s.status(ctx, acct)
		if err != nil {
			return AccountStatusResponse{Error: err}
		}
		statuses = append(statuses, st)
	}

	return AccountStatusResponse{Statuses: statuses}
}

func (s *Service) status(ctx context.Context,
	acct accounts.Account) (AccountStatus, error) {

	st := AccountStatus{
		Account: acct,
		Health:  s.cfg.Health.ComputeHealth(&acct),
		Task: TaskInfo{
			AccountID: acct.ID,
			State:     TaskStopped,
		},
	}

	if s.cfg.Runner != nil {
		if info, ok := s.cfg.Runner.TaskInfo(acct.ID); ok {
			st.Task = info
		}
	}

	cursor, err := s.cfg.Ledger.Cursor(ctx, acct.ID)
	if err != nil {
		return st, err
	}
	st.Cursor = cursor.UnwrapOr(time.Time{})

	st.Counts, err = s.cfg.Ledger.Counts(ctx, acct.ID)
	if err != nil {
		return st, err
	}

	if s.cfg.History != nil {
		cycles, err := s.cfg.History.List(ctx, acct.ID, 1)
		if err != nil {
			return st, err
		}
		if len(cycles) > 0 {
			st.LastCycle = &cycles[0]
		}
	}

	return st, nil
}

func (s *Service) handleCycles(ctx context.Context,
	req CyclesRequest) CyclesResponse {

	if s.cfg.History == nil {
		return CyclesResponse{}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	cycles, err := s.cfg.History.List(ctx, req.AccountID, limit)

	return CyclesResponse{Cycles: cycles, Error: err}
}

func (s *Service) handleRunNow(ctx context.Context,
	req RunNowRequest) RunNowResponse {

	if s.cfg.Runner == nil {
		return RunNowResponse{Error: fmt.Errorf("scheduler not running")}
	}

	if _, err := s.cfg.Accounts.Get(ctx, req.AccountID); err != nil {
		return RunNowResponse{Error: err}
	}

	err := s.cfg.Runner.RunNow(req.AccountID)
	if err == nil {
		s.log.InfoContext(ctx, "Manual scan requested",
			"account_id", req.AccountID)
	}

	return RunNowResponse{Error: err}
}

func (s *Service) handleLedger(ctx context.Context,
	req LedgerRequest) LedgerResponse {

	if req.FailedOnly {
		recs, err := s.cfg.Ledger.ListFailed(
			ctx, req.AccountID, s.cfg.MaxFailedAttempts,
		)
		if req.Limit > 0 && len(recs) > req.Limit {
			recs = recs[:req.Limit]
		}

		return LedgerResponse{Records: recs, Error: err}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	recs, err := s.cfg.Ledger.ListRecent(ctx, req.AccountID, limit)

	return LedgerResponse{Records: recs, Error: err}
}
