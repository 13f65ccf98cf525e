package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/activity"
	"github.com/roasbeef/labeler/internal/ledger"
	"github.com/roasbeef/labeler/internal/scan"
	"github.com/roasbeef/labeler/internal/scheduler"
)

const maxListLimit = 500

// APIResponse wraps API responses.
type APIResponse struct {
	Data any `json:"data"`
}

// APIError represents an API error response.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail contains error details.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AccountView is the JSON form of scan.AccountStatus. Credentials are never
// exposed.
type AccountView struct {
	ID           int64                 `json:"id"`
	ExternalID   string                `json:"external_id"`
	DisplayName  string                `json:"display_name"`
	Provider     accounts.Provider     `json:"provider"`
	Active       bool                  `json:"active"`
	Health       accounts.HealthStatus `json:"health"`
	PollInterval int64                 `json:"poll_interval_secs"`

	LastScanAt  *time.Time `json:"last_scan_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`

	ConsecutiveAuthFailures int `json:"consecutive_auth_failures"`
	TotalFailures           int `json:"total_failures"`

	Task      scan.TaskInfo            `json:"task"`
	Cursor    *time.Time               `json:"cursor,omitempty"`
	Counts    map[ledger.Outcome]int64 `json:"counts"`
	LastCycle *scan.CycleReport        `json:"last_cycle,omitempty"`
}

// ActivityView is the JSON form of an activity entry.
type ActivityView struct {
	ID          int64         `json:"id"`
	AccountID   int64         `json:"account_id,omitempty"`
	Type        activity.Type `json:"type"`
	Description string        `json:"description"`
	CreatedAt   time.Time     `json:"created_at"`
}

// registerAPIV1Routes registers all /api/v1/ routes.
func (s *Server) registerAPIV1Routes() {
	api := func(handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			handler(w, r)
		}
	}

	s.mux.HandleFunc("GET /api/v1/health", api(s.handleAPIV1Health))
	s.mux.HandleFunc("GET /api/v1/accounts", api(s.handleAPIV1Accounts))
	s.mux.HandleFunc(
		"GET /api/v1/accounts/{id}/cycles", api(s.handleAPIV1Cycles),
	)
	s.mux.HandleFunc(
		"POST /api/v1/accounts/{id}/scan", api(s.handleAPIV1Scan),
	)
	s.mux.HandleFunc(
		"GET /api/v1/activities", api(s.handleAPIV1Activities),
	)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("Encoding JSON response failed", "err", err)
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code,
	message string) {

	s.writeJSON(w, status, APIError{
		Error: APIErrorDetail{Code: code, Message: message},
	})
}

// handleAPIV1Health handles GET /api/v1/health.
func (s *Server) handleAPIV1Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{Data: map[string]any{
		"status":     "ok",
		"uptime_sec": int64(time.Since(s.started).Seconds()),
		"ws_clients": s.hub.ClientCount(),
	}})
}

// handleAPIV1Accounts handles GET /api/v1/accounts.
func (s *Server) handleAPIV1Accounts(w http.ResponseWriter, r *http.Request) {
	res := s.cfg.Scan.Receive(r.Context(), scan.AccountStatusRequest{})
	resp, err := res.Unpack()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal",
			err.Error())
		return
	}

	statusResp, ok := resp.(scan.AccountStatusResponse)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "internal",
			"unexpected response type")
		return
	}
	if statusResp.Error != nil {
		s.writeError(w, http.StatusInternalServerError, "internal",
			statusResp.Error.Error())
		return
	}

	views := make([]AccountView, 0, len(statusResp.Statuses))
	for _, st := range statusResp.Statuses {
		views = append(views, NewAccountView(st))
	}

	s.writeJSON(w, http.StatusOK, APIResponse{Data: views})
}

// handleAPIV1Cycles handles GET /api/v1/accounts/{id}/cycles.
func (s *Server) handleAPIV1Cycles(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	limit, ok := s.queryLimit(w, r)
	if !ok {
		return
	}

	res := s.cfg.Scan.Receive(r.Context(), scan.CyclesRequest{
		AccountID: id,
		Limit:     limit,
	})
	resp, err := res.Unpack()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal",
			err.Error())
		return
	}

	cyclesResp, ok := resp.(scan.CyclesResponse)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "internal",
			"unexpected response type")
		return
	}
	if cyclesResp.Error != nil {
		s.writeError(w, http.StatusInternalServerError, "internal",
			cyclesResp.Error.Error())
		return
	}

	cycles := cyclesResp.Cycles
	if cycles == nil {
		cycles = []scan.CycleReport{}
	}

	s.writeJSON(w, http.StatusOK, APIResponse{Data: cycles})
}

// handleAPIV1Scan handles POST /api/v1/accounts/{id}/scan.
func (s *Server) handleAPIV1Scan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	res := s.cfg.Scan.Receive(r.Context(), scan.RunNowRequest{
		AccountID: id,
	})
	resp, err := res.Unpack()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal",
			err.Error())
		return
	}

	runResp, ok := resp.(scan.RunNowResponse)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "internal",
			"unexpected response type")
		return
	}

	switch err := runResp.Error; {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, APIResponse{
			Data: map[string]any{"account_id": id, "accepted": true},
		})

	case errors.Is(err, accounts.ErrAccountNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, scheduler.ErrCycleInFlight):
		s.writeError(w, http.StatusConflict, "cycle_in_flight",
			err.Error())

	case errors.Is(err, scheduler.ErrUnknownAccount):
		s.writeError(w, http.StatusConflict, "not_scheduled",
			err.Error())

	case errors.Is(err, scheduler.ErrNotStarted):
		s.writeError(w, http.StatusServiceUnavailable, "unavailable",
			err.Error())

	default:
		s.writeError(w, http.StatusInternalServerError, "internal",
			err.Error())
	}
}

// handleAPIV1Activities handles GET /api/v1/activities. An account_id
// query parameter restricts the listing to one account.
func (s *Server) handleAPIV1Activities(w http.ResponseWriter,
	r *http.Request) {

	limit, ok := s.queryLimit(w, r)
	if !ok {
		return
	}

	var req activity.Request = activity.ListRecentRequest{Limit: limit}
	if v := r.URL.Query().Get("account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			s.writeError(w, http.StatusBadRequest, "bad_request",
				"invalid account_id")
			return
		}
		req = activity.ListByAccountRequest{AccountID: id, Limit: limit}
	}

	resp, err := s.cfg.Activity.Receive(r.Context(), req).Unpack()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal",
			err.Error())
		return
	}

	var (
		list    []activity.Activity
		listErr error
	)
	switch resp := resp.(type) {
	case activity.ListRecentResponse:
		list, listErr = resp.Activities, resp.Error
	case activity.ListByAccountResponse:
		list, listErr = resp.Activities, resp.Error
	default:
		listErr = errors.New("unexpected response type")
	}
	if listErr != nil {
		s.writeError(w, http.StatusInternalServerError, "internal",
			listErr.Error())
		return
	}

	views := make([]ActivityView, 0, len(list))
	for _, a := range list {
		views = append(views, ActivityView{
			ID:          a.ID,
			AccountID:   a.AccountID,
			Type:        a.Type,
			Description: a.Description,
			CreatedAt:   a.CreatedAt.UTC(),
		})
	}

	s.writeJSON(w, http.StatusOK, APIResponse{Data: views})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64,
	bool) {

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "bad_request",
			"invalid account id")
		return 0, false
	}

	return id, true
}

// queryLimit parses the optional limit parameter. Zero leaves the choice
// to the service.
func (s *Server) queryLimit(w http.ResponseWriter, r *http.Request) (int,
	bool) {

	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}

	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		s.writeError(w, http.StatusBadRequest, "bad_request",
			"invalid limit")
		return 0, false
	}

	return min(limit, maxListLimit), true
}

// NewAccountView converts a status for the API.
func NewAccountView(st scan.AccountStatus) AccountView {
	acct := st.Account
	view := AccountView{
		ID:                      acct.ID,
		ExternalID:              acct.ExternalID,
		DisplayName:             acct.DisplayName,
		Provider:                acct.Provider,
		Active:                  acct.Active,
		Health:                  st.Health,
		PollInterval:            int64(acct.PollInterval / time.Second),
		LastError:               acct.LastError,
		ConsecutiveAuthFailures: acct.ConsecutiveAuthFailures,
		TotalFailures:           acct.TotalFailures,
		Task:                    st.Task,
		Counts:                  st.Counts,
		LastCycle:               st.LastCycle,
	}

	acct.LastScanAt.WhenSome(func(t time.Time) {
		view.LastScanAt = &t
	})
	acct.LastErrorAt.WhenSome(func(t time.Time) {
		view.LastErrorAt = &t
	})
	if !st.Cursor.IsZero() {
		cursor := st.Cursor
		view.Cursor = &cursor
	}
	if view.Counts == nil {
		view.Counts = map[ledger.Outcome]int64{}
	}

	return view
}
