package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultRetention is how long entries are kept.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultMaxRows caps the size of the log.
	DefaultMaxRows = 500

	// DefaultCleanupInterval is how often the cleanup loop runs.
	DefaultCleanupInterval = time.Hour

	// defaultListLimit is used when a list request carries no limit.
	defaultListLimit = 50
)

// Config holds the retention settings of the activity log.
type Config struct {
	Retention       time.Duration
	MaxRows         int
	CleanupInterval time.Duration
}

// DefaultConfig returns the default retention settings.
func DefaultConfig() Config {
	return Config{
		Retention:       DefaultRetention,
		MaxRows:         DefaultMaxRows,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// Service records and serves activity entries.
type Service struct {
	store Store
	cfg   Config
	log   *slog.Logger
}

// NewService creates a new activity service.
func NewService(store Store, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store: store,
		cfg:   cfg,
		log:   log.With("component", "activity"),
	}
}

// Receive dispatches a request to its handler.
func (s *Service) Receive(ctx context.Context,
	msg Request) fn.Result[Response] {

	switch m := msg.(type) {
	case RecordRequest:
		return fn.Ok[Response](s.handleRecord(ctx, m))

	case ListRecentRequest:
		return fn.Ok[Response](s.handleListRecent(ctx, m))

	case ListByAccountRequest:
		return fn.Ok[Response](s.handleListByAccount(ctx, m))

	case CleanupRequest:
		return fn.Ok[Response](s.handleCleanup(ctx, m))

	default:
		return fn.Err[Response](fmt.Errorf(
			"unknown message type: %T", msg,
		))
	}
}

// Record is a convenience wrapper around RecordRequest for callers that
// only care about logging failures. Errors are logged, not returned, since
// a lost activity entry must never fail a scan.
func (s *Service) Record(ctx context.Context, accountID int64, typ Type,
	format string, args ...any) {

	resp := s.handleRecord(ctx, RecordRequest{
		AccountID:   accountID,
		Type:        typ,
		Description: fmt.Sprintf(format, args...),
	})
	if resp.Error != nil {
		s.log.WarnContext(ctx, "Failed to record activity",
			"account_id", accountID, "type", typ, "err", resp.Error)
	}
}

func (s *Service) handleRecord(ctx context.Context,
	req RecordRequest) RecordResponse {

	err := s.store.CreateActivity(ctx, Activity{
		AccountID:   req.AccountID,
		Type:        req.Type,
		Description: req.Description,
		Metadata:    req.Metadata,
	})

	return RecordResponse{Error: err}
}

func (s *Service) handleListRecent(ctx context.Context,
	req ListRecentRequest) ListRecentResponse {

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	activities, err := s.store.ListRecent(ctx, limit)

	return ListRecentResponse{Activities: activities, Error: err}
}

func (s *Service) handleListByAccount(ctx context.Context,
	req ListByAccountRequest) ListByAccountResponse {

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	activities, err := s.store.ListByAccount(ctx, req.AccountID, limit)

	return ListByAccountResponse{Activities: activities, Error: err}
}

func (s *Service) handleCleanup(ctx context.Context,
	req CleanupRequest) CleanupResponse {

	deleted, err := s.store.DeleteBefore(ctx, req.OlderThan)
	if err != nil {
		return CleanupResponse{Error: err}
	}

	if req.MaxRows > 0 {
		trimmed, err := s.store.Trim(ctx, req.MaxRows)
		if err != nil {
			return CleanupResponse{Deleted: deleted, Error: err}
		}
		deleted += trimmed
	}

	return CleanupResponse{Deleted: deleted}
}

// RunCleanup prunes the log on every CleanupInterval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.cleanupOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) cleanupOnce(ctx context.Context) {
	resp := s.handleCleanup(ctx, CleanupRequest{
		OlderThan: time.Now().Add(-s.cfg.Retention),
		MaxRows:   s.cfg.MaxRows,
	})
	if resp.Error != nil {
		s.log.WarnContext(ctx, "Activity cleanup failed",
			"err", resp.Error)
		return
	}
	if resp.Deleted > 0 {
		s.log.DebugContext(ctx, "Pruned activity log",
			"deleted", resp.Deleted)
	}
}
