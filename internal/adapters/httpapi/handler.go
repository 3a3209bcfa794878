package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alejandrodnm/disputebot/internal/application/disputes"
	"github.com/alejandrodnm/disputebot/internal/domain"
)

const maxBodyBytes = 64 << 10

// Service defines the dispute operations exposed over HTTP.
type Service interface {
	CreateDispute(ctx context.Context, req disputes.CreateRequest) (domain.Summary, error)
	PlaceBet(ctx context.Context, req disputes.BetRequest) (domain.Summary, error)
	CastVote(ctx context.Context, req disputes.VoteRequest) (disputes.VoteAck, error)
	ListDisputes(ctx context.Context, scope string) []domain.Summary
	GetDispute(ctx context.Context, scope, name string) (domain.Summary, error)
	DeleteDispute(ctx context.Context, scope, name string) error
	Resolve(ctx context.Context, scope, name string) (domain.Report, error)
	Resolutions(ctx context.Context, scope string) ([]domain.Report, error)
}

// Handler is the chat-facing HTTP boundary. It decodes requests, calls the
// service and maps domain errors to status codes.
type Handler struct {
	svc    Service
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Handler. A nil logger uses slog.Default.
func New(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger, now: time.Now}
}

// NewRouter mounts the dispute routes and, when metrics is non-nil, GET /metrics.
func NewRouter(h *Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	h.Register(r)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// Register registers the dispute routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/scopes/{scope}", func(r chi.Router) {
		r.Get("/resolutions", h.handleResolutions)

		r.Route("/disputes", func(r chi.Router) {
			r.Post("/", h.handleCreate)
			r.Get("/", h.handleList)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", h.handleGet)
				r.Delete("/", h.handleDelete)
				r.Post("/bets", h.handleBet)
				r.Post("/votes", h.handleVote)
				r.Post("/resolve", h.handleResolve)
			})
		})
	})
}

type createBody struct {
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	BettingClosesAt *time.Time `json:"betting_closes_at,omitempty"`
	ResolvesAt      *time.Time `json:"resolves_at,omitempty"`
	// Relative alternative to the absolute times, as Go durations ("90m").
	BettingFor string `json:"betting_for,omitempty"`
	VotingFor  string `json:"voting_for,omitempty"`
}

type betBody struct {
	Participant string      `json:"participant"`
	Side        domain.Side `json:"side"`
	Amount      float64     `json:"amount"`
}

type voteBody struct {
	Participant string      `json:"participant"`
	Side        domain.Side `json:"side"`
}

type listResponse struct {
	Disputes []domain.Summary `json:"disputes"`
}

type resolutionsResponse struct {
	Resolutions []domain.Report `json:"resolutions"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	scope := pathParam(r, "scope")

	var body createBody
	if !h.decode(w, r, &body) {
		return
	}
	closes, resolves, err := body.window(h.now())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	sum, err := h.svc.CreateDispute(r.Context(), disputes.CreateRequest{
		Scope:           scope,
		Name:            body.Name,
		Description:     body.Description,
		BettingClosesAt: closes,
		ResolvesAt:      resolves,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listResponse{Disputes: h.svc.ListDisputes(r.Context(), pathParam(r, "scope"))})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.GetDispute(r.Context(), pathParam(r, "scope"), pathParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDispute(r.Context(), pathParam(r, "scope"), pathParam(r, "name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBet(w http.ResponseWriter, r *http.Request) {
	var body betBody
	if !h.decode(w, r, &body) {
		return
	}
	sum, err := h.svc.PlaceBet(r.Context(), disputes.BetRequest{
		Scope:       pathParam(r, "scope"),
		Name:        pathParam(r, "name"),
		Participant: body.Participant,
		Side:        body.Side,
		Amount:      body.Amount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleVote(w http.ResponseWriter, r *http.Request) {
	var body voteBody
	if !h.decode(w, r, &body) {
		return
	}
	if !body.Side.Valid() {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "side must be support or oppose")
		return
	}
	ack, err := h.svc.CastVote(r.Context(), disputes.VoteRequest{
		Scope:       pathParam(r, "scope"),
		Name:        pathParam(r, "name"),
		Participant: body.Participant,
		Choice:      body.Side == domain.SideSupport,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Resolve(r.Context(), pathParam(r, "scope"), pathParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleResolutions(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.Resolutions(r.Context(), pathParam(r, "scope"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []domain.Report{}
	}
	writeJSON(w, http.StatusOK, resolutionsResponse{Resolutions: reports})
}

// window resolves the absolute times, preferring them over the relative durations.
func (b createBody) window(now time.Time) (time.Time, time.Time, error) {
	if b.BettingClosesAt != nil && b.ResolvesAt != nil {
		return *b.BettingClosesAt, *b.ResolvesAt, nil
	}
	if b.BettingFor == "" || b.VotingFor == "" {
		return time.Time{}, time.Time{}, errors.New("need betting_closes_at and resolves_at, or betting_for and voting_for")
	}
	betting, err := time.ParseDuration(b.BettingFor)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("betting_for: %w", err)
	}
	voting, err := time.ParseDuration(b.VotingFor)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("voting_for: %w", err)
	}
	closes := now.Add(betting)
	return closes, closes.Add(voting), nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return false
	}
	return true
}

// writeError translates a service error into the JSON error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, desc := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
	}
	writeJSONError(w, status, code, desc)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrNotFound, "not_found"},
	{domain.ErrAlreadyExists, "already_exists"},
	{domain.ErrInvalidWindow, "invalid_window"},
	{domain.ErrNonPositiveAmount, "non_positive_amount"},
	{domain.ErrInvalidInput, "invalid_input"},
	{domain.ErrWindowClosed, "window_closed"},
	{domain.ErrWindowNotOpen, "window_not_open"},
	{domain.ErrAlreadyVoted, "already_voted"},
	{domain.ErrParticipantHasBet, "participant_has_bet"},
	{domain.ErrParticipantHasVoted, "participant_has_voted"},
	{domain.ErrTooEarly, "too_early"},
	{domain.ErrNoVotes, "no_votes"},
	{domain.ErrDegeneratePool, "degenerate_pool"},
	{domain.ErrJobExists, "job_exists"},
}

func classify(err error) (status int, code, desc string) {
	switch kind := domain.KindOf(err); {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case kind == domain.KindValidation:
		status = http.StatusBadRequest
	case kind == domain.KindState, kind == domain.KindScheduling:
		status = http.StatusConflict
	case kind == domain.KindArithmetic:
		status = http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return status, c.code, err.Error()
		}
	}
	return status, "error", err.Error()
}

func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	writeJSON(w, status, map[string]string{
		"error":             errCode,
		"error_description": errDesc,
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}
