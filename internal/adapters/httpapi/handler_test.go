package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/disputebot/internal/adapters/httpapi"
	"github.com/alejandrodnm/disputebot/internal/adapters/memory"
	"github.com/alejandrodnm/disputebot/internal/application/disputes"
	"github.com/alejandrodnm/disputebot/internal/application/scheduler"
	"github.com/alejandrodnm/disputebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type nopPublisher struct{}

func (nopPublisher) PublishReport(context.Context, domain.Report) error { return nil }
func (nopPublisher) PublishFailure(context.Context, domain.FailureNotice) error { return nil }

type testServer struct {
	router http.Handler
	clock  *clock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	c := &clock{now: t0}
	svc := disputes.New(memory.NewRegistry(), scheduler.New(), nopPublisher{}, disputes.WithClock(c.Now))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	return &testServer{router: httpapi.NewRouter(httpapi.New(svc, logger), metrics), clock: c}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) create(t *testing.T, scope, name string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/scopes/"+scope+"/disputes", map[string]any{
		"name":              name,
		"description":       "Will the release ship on Friday?",
		"betting_closes_at": t0.Add(time.Hour),
		"resolves_at":       t0.Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestCreateDispute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/scopes/chat-1/disputes", map[string]any{
		"name":              "release",
		"betting_closes_at": t0.Add(time.Hour),
		"resolves_at":       t0.Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var sum domain.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, "chat-1", sum.Scope)
	assert.Equal(t, "release", sum.Name)
	assert.Equal(t, domain.StageOpen, sum.Stage)
	assert.NotEmpty(t, sum.ID)
}

func TestCreateDispute_RelativeWindow(t *testing.T) {
	s := newTestServer(t)
	s.clock.Set(time.Now())

	rec := s.do(t, http.MethodPost, "/scopes/chat-1/disputes", map[string]any{
		"name":        "release",
		"betting_for": "1h",
		"voting_for":  "30m",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sum domain.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, 30*time.Minute, sum.ResolvesAt.Sub(sum.BettingClosesAt))
}

func TestCreateDispute_Errors(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "chat-1", "release")

	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"duplicate", map[string]any{
			"name": "release", "betting_closes_at": t0.Add(time.Hour), "resolves_at": t0.Add(2 * time.Hour),
		}, http.StatusConflict, "already_exists"},
		{"inverted window", map[string]any{
			"name": "other", "betting_closes_at": t0.Add(2 * time.Hour), "resolves_at": t0.Add(time.Hour),
		}, http.StatusBadRequest, "invalid_window"},
		{"missing times", map[string]any{"name": "other"}, http.StatusBadRequest, "bad_request"},
		{"bad duration", map[string]any{"name": "other", "betting_for": "soon", "voting_for": "1h"}, http.StatusBadRequest, "bad_request"},
		{"unknown field", map[string]any{"name": "other", "colour": "red"}, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/scopes/chat-1/disputes", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec)["error"])
		})
	}
}

func TestBetVoteResolveFlow(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "chat-1", "release")
	base := "/scopes/chat-1/disputes/release"

	for _, b := range []map[string]any{
		{"participant": "alice", "side": "support", "amount": 100},
		{"participant": "bob", "side": "support", "amount": 300},
		{"participant": "carol", "side": "oppose", "amount": 500},
	} {
		rec := s.do(t, http.MethodPost, base+"/bets", b)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	s.clock.Set(t0.Add(90 * time.Minute))
	for _, v := range []map[string]any{
		{"participant": "j1", "side": "support"},
		{"participant": "j2", "side": "yes"},
		{"participant": "j3", "side": "support"},
		{"participant": "j4", "side": "oppose"},
	} {
		rec := s.do(t, http.MethodPost, base+"/votes", v)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum domain.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, domain.StageAwaitingVotes, sum.Stage)
	assert.Equal(t, 3, sum.SupportVotes)
	assert.InDelta(t, 500.0, sum.OpposePool, 1e-9)

	rec = s.do(t, http.MethodPost, base+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "too_early", decodeError(t, rec)["error"])

	s.clock.Set(t0.Add(2 * time.Hour))
	rec = s.do(t, http.MethodPost, base+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report domain.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	require.Len(t, report.Payouts, 3)
	assert.InDelta(t, 168.75, report.Payouts[0].Amount, 1e-9)
	assert.InDelta(t, 506.25, report.Payouts[1].Amount, 1e-9)
	assert.InDelta(t, 225.0, report.Payouts[2].Amount, 1e-9)

	rec = s.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "resolved dispute is purged")
}

func TestBet_Errors(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "chat-1", "release")
	base := "/scopes/chat-1/disputes/release"

	rec := s.do(t, http.MethodPost, base+"/bets", map[string]any{"participant": "alice", "side": "support", "amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "non_positive_amount", decodeError(t, rec)["error"])

	rec = s.do(t, http.MethodPost, base+"/bets", map[string]any{"participant": "alice", "side": "maybe", "amount": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/bets", map[string]any{"participant": "alice", "side": "support", "amount": 1e308})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, base+"/bets", map[string]any{"participant": "alice", "side": "support", "amount": 1e308})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "merged stake would overflow")
	assert.Equal(t, "invalid_input", decodeError(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/scopes/chat-1/disputes/nope/bets", map[string]any{"participant": "alice", "side": "support", "amount": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec)["error"])

	s.clock.Set(t0.Add(time.Hour))
	rec = s.do(t, http.MethodPost, base+"/bets", map[string]any{"participant": "alice", "side": "support", "amount": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "window_closed", decodeError(t, rec)["error"])
}

func TestVote_Errors(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "chat-1", "release")
	base := "/scopes/chat-1/disputes/release"

	rec := s.do(t, http.MethodPost, base+"/votes", map[string]any{"participant": "judge", "side": "support"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "window_not_open", decodeError(t, rec)["error"])

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/bets",
		map[string]any{"participant": "alice", "side": "oppose", "amount": 5}).Code)

	s.clock.Set(t0.Add(90 * time.Minute))
	rec = s.do(t, http.MethodPost, base+"/votes", map[string]any{"participant": "alice", "side": "support"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "participant_has_bet", decodeError(t, rec)["error"])

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/votes",
		map[string]any{"participant": "judge", "side": "oppose"}).Code)
	rec = s.do(t, http.MethodPost, base+"/votes", map[string]any{"participant": "judge", "side": "support"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_voted", decodeError(t, rec)["error"])

	rec = s.do(t, http.MethodPost, base+"/votes", map[string]any{"participant": "other"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "side is required")
}

func TestResolve_NoVotesIsUnprocessable(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "chat-1", "quiet")

	s.clock.Set(t0.Add(2 * time.Hour))
	rec := s.do(t, http.MethodPost, "/scopes/chat-1/disputes/quiet/resolve", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_votes", decodeError(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/scopes/chat-1/disputes/quiet", nil)
	require.Equal(t, http.StatusOK, rec.Code, "failed dispute stays retrievable")
	var sum domain.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.True(t, sum.Stalled)
}

func TestListAndDelete(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "chat-1", "a")
	s.create(t, "chat-1", "b")
	s.create(t, "chat-2", "c")

	rec := s.do(t, http.MethodGet, "/scopes/chat-1/disputes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Disputes []domain.Summary `json:"disputes"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Disputes, 2)
	assert.Equal(t, "a", list.Disputes[0].Name)
	assert.Equal(t, "b", list.Disputes[1].Name)

	rec = s.do(t, http.MethodDelete, "/scopes/chat-1/disputes/a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/scopes/chat-1/disputes/a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/scopes/empty/disputes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"disputes":[]}`, rec.Body.String())
}

func TestResolutions_WithoutStore(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/scopes/chat-1/resolutions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resolutions":[]}`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestEscapedNames(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "chat-1", "ship it")

	rec := s.do(t, http.MethodGet, "/scopes/chat-1/disputes/ship%20it", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
