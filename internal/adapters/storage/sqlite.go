package storage

// sqlite.go: dispute persistence.
//
// Layout:
//   - `disputes`: one row per live dispute, every attribute of the record.
//   - `dispute_stakes` / `dispute_votes`: child rows, rewritten on every save.
//     A dispute holds a few dozen rows at most, so replace-all is cheaper to reason
//     about than diffing.
//   - `resolutions` / `resolution_payouts`: append-only history of paid-out disputes.
//   - Prune on startup: history older than retentionResolutions is dropped.
//
// Times are stored as fixed-width UTC text (nanosecond precision, no trimmed zeros)
// so they sort and compare as strings.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/disputebot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS disputes (
    id                TEXT PRIMARY KEY,
    scope             TEXT NOT NULL,
    name              TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    created_at        TEXT NOT NULL,
    betting_closes_at TEXT NOT NULL,
    resolves_at       TEXT NOT NULL,
    stage             TEXT NOT NULL DEFAULT 'open',
    stalled           INTEGER NOT NULL DEFAULT 0,
    last_failure      TEXT NOT NULL DEFAULT '',
    updated_at        TEXT NOT NULL,
    UNIQUE (scope, name)
);

CREATE TABLE IF NOT EXISTS dispute_stakes (
    dispute_id  TEXT    NOT NULL REFERENCES disputes(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    participant TEXT    NOT NULL,
    side        TEXT    NOT NULL,
    amount      REAL    NOT NULL,
    payout      REAL    NOT NULL,
    PRIMARY KEY (dispute_id, participant, side)
);

CREATE TABLE IF NOT EXISTS dispute_votes (
    dispute_id  TEXT    NOT NULL REFERENCES disputes(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    participant TEXT    NOT NULL,
    choice      INTEGER NOT NULL,
    PRIMARY KEY (dispute_id, participant)
);

CREATE TABLE IF NOT EXISTS resolutions (
    id            TEXT PRIMARY KEY,
    dispute_id    TEXT NOT NULL,
    scope         TEXT NOT NULL,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    resolved_at   TEXT NOT NULL,
    support_votes INTEGER NOT NULL DEFAULT 0,
    oppose_votes  INTEGER NOT NULL DEFAULT 0,
    support_pool  REAL    NOT NULL DEFAULT 0,
    oppose_pool   REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS resolution_payouts (
    resolution_id TEXT    NOT NULL REFERENCES resolutions(id) ON DELETE CASCADE,
    position      INTEGER NOT NULL,
    participant   TEXT    NOT NULL,
    side          TEXT    NOT NULL,
    staked        REAL    NOT NULL,
    amount        REAL    NOT NULL,
    PRIMARY KEY (resolution_id, position)
);

CREATE INDEX IF NOT EXISTS idx_disputes_scope   ON disputes(scope, created_at);
CREATE INDEX IF NOT EXISTS idx_resolutions_scope ON resolutions(scope, resolved_at DESC);
CREATE INDEX IF NOT EXISTS idx_resolutions_dispute ON resolutions(dispute_id);
`

const (
	retentionResolutions = 180 * 24 * time.Hour
	timeLayout           = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLiteStorage implements ports.DisputeStore on SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path, applies the schema and
// prunes old history. Use ":memory:" for tests.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer; also keeps :memory: on one connection
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveDispute upserts the dispute row and rewrites its stakes and votes.
// A stale row holding the same (scope, name) under another id is replaced.
func (s *SQLiteStorage) SaveDispute(ctx context.Context, rec domain.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveDispute: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM disputes WHERE scope = ? AND name = ? AND id <> ?`,
		rec.Scope, rec.Name, rec.ID,
	); err != nil {
		return fmt.Errorf("storage.SaveDispute: drop stale %s/%s: %w", rec.Scope, rec.Name, err)
	}

	stalled := 0
	if rec.Stalled {
		stalled = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO disputes
			(id, scope, name, description, created_at, betting_closes_at, resolves_at,
			 stage, stalled, last_failure, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description  = excluded.description,
			stage        = excluded.stage,
			stalled      = excluded.stalled,
			last_failure = excluded.last_failure,
			updated_at   = excluded.updated_at
	`,
		rec.ID, rec.Scope, rec.Name, rec.Description,
		formatTime(rec.CreatedAt), formatTime(rec.BettingClosesAt), formatTime(rec.ResolvesAt),
		rec.Stage.String(), stalled, rec.LastFailure, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("storage.SaveDispute: upsert %s: %w", rec.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dispute_stakes WHERE dispute_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("storage.SaveDispute: clear stakes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dispute_votes WHERE dispute_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("storage.SaveDispute: clear votes: %w", err)
	}

	for i, st := range rec.Stakes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dispute_stakes (dispute_id, position, participant, side, amount, payout) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, i, st.Participant, st.Side.String(), st.Amount, st.Payout,
		); err != nil {
			return fmt.Errorf("storage.SaveDispute: insert stake %q: %w", st.Participant, err)
		}
	}
	for i, v := range rec.Votes {
		choice := 0
		if v.Choice {
			choice = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dispute_votes (dispute_id, position, participant, choice) VALUES (?, ?, ?, ?)`,
			rec.ID, i, v.Participant, choice,
		); err != nil {
			return fmt.Errorf("storage.SaveDispute: insert vote %q: %w", v.Participant, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveDispute: commit: %w", err)
	}
	return nil
}

// DeleteDispute removes the dispute and, by cascade, its stakes and votes.
func (s *SQLiteStorage) DeleteDispute(ctx context.Context, scope, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM disputes WHERE scope = ? AND name = ?`, scope, name); err != nil {
		return fmt.Errorf("storage.DeleteDispute %s/%s: %w", scope, name, err)
	}
	return nil
}

// LoadDisputes returns all stored disputes ordered by creation time.
func (s *SQLiteStorage) LoadDisputes(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, name, description, created_at, betting_closes_at, resolves_at,
		       stage, stalled, last_failure
		FROM disputes
		ORDER BY created_at, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadDisputes: query: %w", err)
	}

	var recs []domain.Record
	for rows.Next() {
		var rec domain.Record
		var createdAt, closesAt, resolvesAt, stage string
		var stalled int
		if err := rows.Scan(
			&rec.ID, &rec.Scope, &rec.Name, &rec.Description,
			&createdAt, &closesAt, &resolvesAt,
			&stage, &stalled, &rec.LastFailure,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.LoadDisputes: scan row: %w", err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.LoadDisputes: %s created_at: %w", rec.ID, err)
		}
		if rec.BettingClosesAt, err = parseTime(closesAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.LoadDisputes: %s betting_closes_at: %w", rec.ID, err)
		}
		if rec.ResolvesAt, err = parseTime(resolvesAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.LoadDisputes: %s resolves_at: %w", rec.ID, err)
		}
		if rec.Stage, err = domain.ParseStage(stage); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.LoadDisputes: %s: %w", rec.ID, err)
		}
		rec.Stalled = stalled == 1
		recs = append(recs, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.LoadDisputes: iterate: %w", err)
	}

	// Children are loaded after the parent cursor is closed: with one connection
	// a nested query would block.
	for i := range recs {
		if recs[i].Stakes, err = s.loadStakes(ctx, recs[i].ID); err != nil {
			return nil, err
		}
		if recs[i].Votes, err = s.loadVotes(ctx, recs[i].ID); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (s *SQLiteStorage) loadStakes(ctx context.Context, disputeID string) ([]domain.Stake, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT participant, side, amount, payout FROM dispute_stakes WHERE dispute_id = ? ORDER BY position`,
		disputeID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.loadStakes %s: %w", disputeID, err)
	}
	defer rows.Close()

	var stakes []domain.Stake
	for rows.Next() {
		var st domain.Stake
		var side string
		if err := rows.Scan(&st.Participant, &side, &st.Amount, &st.Payout); err != nil {
			return nil, fmt.Errorf("storage.loadStakes %s: scan: %w", disputeID, err)
		}
		if st.Side, err = domain.ParseSide(side); err != nil {
			return nil, fmt.Errorf("storage.loadStakes %s: %w", disputeID, err)
		}
		stakes = append(stakes, st)
	}
	return stakes, rows.Err()
}

func (s *SQLiteStorage) loadVotes(ctx context.Context, disputeID string) ([]domain.Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT participant, choice FROM dispute_votes WHERE dispute_id = ? ORDER BY position`,
		disputeID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.loadVotes %s: %w", disputeID, err)
	}
	defer rows.Close()

	var votes []domain.Vote
	for rows.Next() {
		var v domain.Vote
		var choice int
		if err := rows.Scan(&v.Participant, &choice); err != nil {
			return nil, fmt.Errorf("storage.loadVotes %s: scan: %w", disputeID, err)
		}
		v.Choice = choice == 1
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// SaveResolution appends a report and its payouts to the history.
func (s *SQLiteStorage) SaveResolution(ctx context.Context, r domain.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveResolution: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO resolutions
			(id, dispute_id, scope, name, description, resolved_at,
			 support_votes, oppose_votes, support_pool, oppose_pool)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.DisputeID, r.Scope, r.Name, r.Description, formatTime(r.ResolvedAt),
		r.SupportVotes, r.OpposeVotes, r.SupportPool, r.OpposePool,
	); err != nil {
		return fmt.Errorf("storage.SaveResolution: insert %s: %w", r.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO resolution_payouts (resolution_id, position, participant, side, staked, amount) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveResolution: prepare: %w", err)
	}
	defer stmt.Close()

	for i, p := range r.Payouts {
		if _, err := stmt.ExecContext(ctx, r.ID, i, p.Participant, p.Side.String(), p.Staked, p.Amount); err != nil {
			return fmt.Errorf("storage.SaveResolution: insert payout %q: %w", p.Participant, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveResolution: commit: %w", err)
	}
	return nil
}

// GetResolutions returns the reports of scope, most recent first.
func (s *SQLiteStorage) GetResolutions(ctx context.Context, scope string) ([]domain.Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dispute_id, scope, name, description, resolved_at,
		       support_votes, oppose_votes, support_pool, oppose_pool
		FROM resolutions
		WHERE scope = ?
		ORDER BY resolved_at DESC, rowid DESC
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("storage.GetResolutions: query: %w", err)
	}

	var reports []domain.Report
	for rows.Next() {
		var r domain.Report
		var resolvedAt string
		if err := rows.Scan(
			&r.ID, &r.DisputeID, &r.Scope, &r.Name, &r.Description, &resolvedAt,
			&r.SupportVotes, &r.OpposeVotes, &r.SupportPool, &r.OpposePool,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.GetResolutions: scan row: %w", err)
		}
		if r.ResolvedAt, err = parseTime(resolvedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.GetResolutions: %s resolved_at: %w", r.ID, err)
		}
		reports = append(reports, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.GetResolutions: iterate: %w", err)
	}

	for i := range reports {
		if reports[i].Payouts, err = s.loadPayouts(ctx, reports[i].ID); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

// HasResolution reports whether a resolution of disputeID is already in the history.
func (s *SQLiteStorage) HasResolution(ctx context.Context, disputeID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resolutions WHERE dispute_id = ?`, disputeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage.HasResolution %s: %w", disputeID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStorage) loadPayouts(ctx context.Context, resolutionID string) ([]domain.Payout, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT participant, side, staked, amount FROM resolution_payouts WHERE resolution_id = ? ORDER BY position`,
		resolutionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.loadPayouts %s: %w", resolutionID, err)
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		var p domain.Payout
		var side string
		if err := rows.Scan(&p.Participant, &side, &p.Staked, &p.Amount); err != nil {
			return nil, fmt.Errorf("storage.loadPayouts %s: scan: %w", resolutionID, err)
		}
		if p.Side, err = domain.ParseSide(side); err != nil {
			return nil, fmt.Errorf("storage.loadPayouts %s: %w", resolutionID, err)
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld drops resolution history past the retention window.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(time.Now().Add(-retentionResolutions))
	s.db.ExecContext(ctx, `DELETE FROM resolutions WHERE resolved_at < ?`, cutoff)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}
