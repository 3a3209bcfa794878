package storage_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/disputebot/internal/adapters/storage"
	"github.com/alejandrodnm/disputebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Now().UTC().Truncate(time.Second)

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func makeRecord(id, scope, name string) domain.Record {
	return domain.Record{
		ID:              id,
		Scope:           scope,
		Name:            name,
		Description:     "Will it rain tomorrow?",
		CreatedAt:       t0,
		BettingClosesAt: t0.Add(time.Hour),
		ResolvesAt:      t0.Add(2 * time.Hour),
		Stage:           domain.StageOpen,
		Stakes: []domain.Stake{
			{Participant: "alice", Side: domain.SideSupport, Amount: 100, Payout: 100},
			{Participant: "carol", Side: domain.SideOppose, Amount: 500, Payout: 500},
		},
		Votes: []domain.Vote{{Participant: "judge", Choice: false}},
	}
}

func TestSQLiteStorage_SaveAndLoadDispute(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	rec := makeRecord("d-1", "chat-1", "rain")
	require.NoError(t, db.SaveDispute(ctx, rec))

	recs, err := db.LoadDisputes(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0]
	assert.Equal(t, "d-1", got.ID)
	assert.Equal(t, "chat-1", got.Scope)
	assert.Equal(t, "rain", got.Name)
	assert.True(t, rec.BettingClosesAt.Equal(got.BettingClosesAt))
	assert.True(t, rec.ResolvesAt.Equal(got.ResolvesAt))
	assert.Equal(t, domain.StageOpen, got.Stage)
	assert.Equal(t, rec.Stakes, got.Stakes)
	assert.Equal(t, rec.Votes, got.Votes)
}

func TestSQLiteStorage_SaveDisputeReplacesChildren(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	rec := makeRecord("d-1", "chat-1", "rain")
	require.NoError(t, db.SaveDispute(ctx, rec))

	rec.Stakes[0].Amount = 150
	rec.Stakes[0].Payout = 150
	rec.Votes = append(rec.Votes, domain.Vote{Participant: "judge2", Choice: true})
	rec.Stalled = true
	rec.LastFailure = "no votes cast"
	require.NoError(t, db.SaveDispute(ctx, rec))

	recs, err := db.LoadDisputes(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 150.0, recs[0].Stakes[0].Amount, 1e-9)
	assert.Len(t, recs[0].Votes, 2)
	assert.True(t, recs[0].Stalled)
	assert.Equal(t, "no votes cast", recs[0].LastFailure)
}

func TestSQLiteStorage_SameNameNewIDReplacesStaleRow(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	require.NoError(t, db.SaveDispute(ctx, makeRecord("old", "chat-1", "rain")))
	require.NoError(t, db.SaveDispute(ctx, makeRecord("new", "chat-1", "rain")))

	recs, err := db.LoadDisputes(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].ID)
	assert.Len(t, recs[0].Stakes, 2)
}

func TestSQLiteStorage_LoadDisputesCreationOrder(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	second := makeRecord("d-2", "chat-1", "b")
	second.CreatedAt = t0.Add(time.Minute)
	first := makeRecord("d-1", "chat-2", "a")

	require.NoError(t, db.SaveDispute(ctx, second))
	require.NoError(t, db.SaveDispute(ctx, first))

	recs, err := db.LoadDisputes(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "d-1", recs[0].ID)
	assert.Equal(t, "d-2", recs[1].ID)
}

func TestSQLiteStorage_DeleteDispute(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	require.NoError(t, db.SaveDispute(ctx, makeRecord("d-1", "chat-1", "rain")))
	require.NoError(t, db.DeleteDispute(ctx, "chat-1", "rain"))
	require.NoError(t, db.DeleteDispute(ctx, "chat-1", "rain"), "missing dispute is not an error")

	recs, err := db.LoadDisputes(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Child rows go with the parent: saving the same id again starts clean.
	rec := makeRecord("d-1", "chat-1", "rain")
	rec.Stakes = nil
	rec.Votes = nil
	require.NoError(t, db.SaveDispute(ctx, rec))
	recs, err = db.LoadDisputes(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Stakes)
	assert.Empty(t, recs[0].Votes)
}

func makeReport(id, scope string, resolvedAt time.Time) domain.Report {
	return domain.Report{
		ID:           id,
		DisputeID:    "d-" + id,
		Scope:        scope,
		Name:         "rain",
		Description:  "Will it rain tomorrow?",
		ResolvedAt:   resolvedAt,
		SupportVotes: 3,
		OpposeVotes:  1,
		SupportPool:  400,
		OpposePool:   500,
		Payouts: []domain.Payout{
			{Participant: "alice", Side: domain.SideSupport, Staked: 100, Amount: 168.75},
			{Participant: "bob", Side: domain.SideSupport, Staked: 300, Amount: 506.25},
			{Participant: "carol", Side: domain.SideOppose, Staked: 500, Amount: 225},
		},
	}
}

func TestSQLiteStorage_SaveAndGetResolutions(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	require.NoError(t, db.SaveResolution(ctx, makeReport("r-1", "chat-1", t0)))
	require.NoError(t, db.SaveResolution(ctx, makeReport("r-2", "chat-1", t0.Add(time.Hour))))
	require.NoError(t, db.SaveResolution(ctx, makeReport("r-3", "chat-2", t0)))

	reports, err := db.GetResolutions(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, reports, 2)

	// Most recent first
	assert.Equal(t, "r-2", reports[0].ID)
	assert.Equal(t, "r-1", reports[1].ID)
	assert.True(t, t0.Add(time.Hour).Equal(reports[0].ResolvedAt))

	require.Len(t, reports[1].Payouts, 3)
	assert.Equal(t, "alice", reports[1].Payouts[0].Participant)
	assert.InDelta(t, 168.75, reports[1].Payouts[0].Amount, 1e-9)
	assert.Equal(t, domain.SideOppose, reports[1].Payouts[2].Side)
	assert.InDelta(t, reports[1].Pool(), reports[1].TotalPaid(), 1e-9)
}

func TestSQLiteStorage_GetResolutionsUnknownScope(t *testing.T) {
	db := newStore(t)
	reports, err := db.GetResolutions(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestSQLiteStorage_DuplicateResolutionID(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	require.NoError(t, db.SaveResolution(ctx, makeReport("r-1", "chat-1", t0)))
	assert.Error(t, db.SaveResolution(ctx, makeReport("r-1", "chat-1", t0)))

	reports, err := db.GetResolutions(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].Payouts, 3, "failed insert rolled back")
}

func TestSQLiteStorage_HasResolution(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	ok, err := db.HasResolution(ctx, "d-r-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SaveResolution(ctx, makeReport("r-1", "chat-1", t0)))

	ok, err = db.HasResolution(ctx, "d-r-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStorage_GetResolutionsCorruptTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disputes.db")
	db, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.SaveResolution(ctx, makeReport("r-1", "chat-1", t0)))

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, `UPDATE resolutions SET resolved_at = 'yesterday' WHERE id = 'r-1'`)
	require.NoError(t, err)

	_, err = db.GetResolutions(ctx, "chat-1")
	assert.ErrorContains(t, err, "resolved_at")
}
