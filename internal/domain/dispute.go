package domain

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Side is one of the two positions of a binary dispute.
type Side int8

const (
	SideSupport Side = iota + 1
	SideOppose
)

// Valid reports whether s is Support or Oppose.
func (s Side) Valid() bool {
	return s == SideSupport || s == SideOppose
}

func (s Side) String() string {
	switch s {
	case SideSupport:
		return "support"
	case SideOppose:
		return "oppose"
	default:
		return "unknown"
	}
}

// ParseSide accepts "support"/"oppose" and the yes/no aliases chat users tend to type.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "support", "yes", "for":
		return SideSupport, nil
	case "oppose", "no", "against":
		return SideOppose, nil
	}
	return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidInput, v)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: side %d", ErrInvalidInput, s)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Stage is the lifecycle position of a dispute.
type Stage int

const (
	StageOpen Stage = iota
	StageAwaitingVotes
	StageResolved
	StagePurged
)

func (s Stage) String() string {
	switch s {
	case StageOpen:
		return "open"
	case StageAwaitingVotes:
		return "awaiting_votes"
	case StageResolved:
		return "resolved"
	case StagePurged:
		return "purged"
	default:
		return "unknown"
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStage is the inverse of Stage.String.
func ParseStage(v string) (Stage, error) {
	for _, s := range []Stage{StageOpen, StageAwaitingVotes, StageResolved, StagePurged} {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, v)
}

// Dispute is a binary wager scoped to (Scope, Name).
//
// Mutating methods do not lock; callers serialize access with Lock/Unlock so that
// bets, votes and resolution of the same dispute never interleave.
type Dispute struct {
	mu sync.Mutex

	ID              string
	Scope           string
	Name            string
	Description     string
	CreatedAt       time.Time
	BettingClosesAt time.Time
	ResolvesAt      time.Time

	stage       Stage // only Resolved/Purged are stored; earlier stages derive from time
	stalled     bool
	lastFailure string

	ledger Ledger
	tally  Tally
}

// NewDispute validates the windows against now and returns an empty dispute.
func NewDispute(scope, name, description string, bettingClosesAt, resolvesAt, now time.Time) (*Dispute, error) {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: scope and name are required", ErrInvalidInput)
	}
	if !bettingClosesAt.After(now) || !resolvesAt.After(now) {
		return nil, fmt.Errorf("%w: windows must be in the future", ErrInvalidWindow)
	}
	if !bettingClosesAt.Before(resolvesAt) {
		return nil, fmt.Errorf("%w: betting must close before resolution", ErrInvalidWindow)
	}
	return &Dispute{
		ID:              uuid.NewString(),
		Scope:           scope,
		Name:            name,
		Description:     description,
		CreatedAt:       now,
		BettingClosesAt: bettingClosesAt,
		ResolvesAt:      resolvesAt,
		stage:           StageOpen,
	}, nil
}

func (d *Dispute) Lock()   { d.mu.Lock() }
func (d *Dispute) Unlock() { d.mu.Unlock() }

// StageAt returns the lifecycle stage as seen at now.
// An unresolved dispute past its deadline stays AwaitingVotes.
func (d *Dispute) StageAt(now time.Time) Stage {
	if d.stage >= StageResolved {
		return d.stage
	}
	if now.Before(d.BettingClosesAt) {
		return StageOpen
	}
	return StageAwaitingVotes
}

// Stalled reports whether the last resolution attempt failed, and why.
func (d *Dispute) Stalled() (bool, string) {
	return d.stalled, d.lastFailure
}

// Ledger returns the dispute's bet ledger.
func (d *Dispute) Ledger() *Ledger { return &d.ledger }

// Tally returns the dispute's vote tally.
func (d *Dispute) Tally() *Tally { return &d.tally }

// PlaceBet adds amount to the participant's stake on side.
// The window check runs first: a late bet fails with ErrWindowClosed whatever its amount.
func (d *Dispute) PlaceBet(participant string, side Side, amount float64, now time.Time) error {
	if participant == "" || !side.Valid() {
		return fmt.Errorf("%w: participant and side are required", ErrInvalidInput)
	}
	if d.StageAt(now) != StageOpen {
		return ErrWindowClosed
	}
	if !(amount > 0) || isInf(amount) {
		return ErrNonPositiveAmount
	}
	if d.ledger.overflows(amount) {
		return fmt.Errorf("%w: pool would exceed the representable range", ErrInvalidInput)
	}
	if d.tally.Has(participant) {
		return ErrParticipantHasVoted
	}
	d.ledger.add(participant, side, amount)
	return nil
}

// CastVote records a non-bettor's outcome choice (true = Support).
// Votes are accepted while bettingClosesAt <= now <= resolvesAt.
func (d *Dispute) CastVote(participant string, choice bool, now time.Time) error {
	if participant == "" {
		return fmt.Errorf("%w: participant is required", ErrInvalidInput)
	}
	if d.stage >= StageResolved || now.Before(d.BettingClosesAt) || now.After(d.ResolvesAt) {
		return ErrWindowNotOpen
	}
	if d.ledger.HasStake(participant) {
		return ErrParticipantHasBet
	}
	return d.tally.add(participant, choice)
}

// Settle computes payouts from the current ledger and tally.
// On success the payouts are written onto the stakes and the dispute becomes Resolved.
// On an arithmetic failure the dispute is marked stalled and keeps its stage.
func (d *Dispute) Settle(now time.Time) (Report, error) {
	if d.stage >= StageResolved {
		return Report{}, fmt.Errorf("%w: dispute is %s", ErrWindowClosed, d.stage)
	}
	support, oppose := d.tally.Counts()
	payouts, err := ComputePayouts(d.ledger.stakes, support, oppose)
	if err != nil {
		d.stalled = true
		d.lastFailure = err.Error()
		return Report{}, err
	}
	for i := range payouts {
		d.ledger.stakes[i].Payout = payouts[i].Amount
	}
	d.stage = StageResolved
	d.stalled = false
	d.lastFailure = ""

	return Report{
		ID:           uuid.NewString(),
		DisputeID:    d.ID,
		Scope:        d.Scope,
		Name:         d.Name,
		Description:  d.Description,
		ResolvedAt:   now,
		SupportVotes: support,
		OpposeVotes:  oppose,
		SupportPool:  d.ledger.Total(SideSupport),
		OpposePool:   d.ledger.Total(SideOppose),
		Payouts:      payouts,
	}, nil
}

// Failure builds the notice published when Settle fails.
func (d *Dispute) Failure(err error, now time.Time) FailureNotice {
	support, oppose := d.tally.Counts()
	return FailureNotice{
		DisputeID:    d.ID,
		Scope:        d.Scope,
		Name:         d.Name,
		Reason:       err.Error(),
		Kind:         KindOf(err).String(),
		At:           now,
		SupportVotes: support,
		OpposeVotes:  oppose,
		SupportPool:  d.ledger.Total(SideSupport),
		OpposePool:   d.ledger.Total(SideOppose),
	}
}

// MarkPurged moves the dispute to its terminal stage.
func (d *Dispute) MarkPurged() { d.stage = StagePurged }

// Summary is the read model returned to the chat interface.
type Summary struct {
	ID              string    `json:"id"`
	Scope           string    `json:"scope"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
	BettingClosesAt time.Time `json:"betting_closes_at"`
	ResolvesAt      time.Time `json:"resolves_at"`
	Stage           Stage     `json:"stage"`
	SupportPool     float64   `json:"support_pool"`
	OpposePool      float64   `json:"oppose_pool"`
	SupportVotes    int       `json:"support_votes"`
	OpposeVotes     int       `json:"oppose_votes"`
	Stakes          []Stake   `json:"stakes"`
	Stalled         bool      `json:"stalled,omitempty"`
	LastFailure     string    `json:"last_failure,omitempty"`
}

// Summarize snapshots the dispute as seen at now.
func (d *Dispute) Summarize(now time.Time) Summary {
	support, oppose := d.tally.Counts()
	return Summary{
		ID:              d.ID,
		Scope:           d.Scope,
		Name:            d.Name,
		Description:     d.Description,
		CreatedAt:       d.CreatedAt,
		BettingClosesAt: d.BettingClosesAt,
		ResolvesAt:      d.ResolvesAt,
		Stage:           d.StageAt(now),
		SupportPool:     d.ledger.Total(SideSupport),
		OpposePool:      d.ledger.Total(SideOppose),
		SupportVotes:    support,
		OpposeVotes:     oppose,
		Stakes:          d.ledger.Stakes(),
		Stalled:         d.stalled,
		LastFailure:     d.lastFailure,
	}
}

// Record is the persisted form of a dispute: every attribute plus stakes and votes.
type Record struct {
	ID              string
	Scope           string
	Name            string
	Description     string
	CreatedAt       time.Time
	BettingClosesAt time.Time
	ResolvesAt      time.Time
	Stage           Stage
	Stalled         bool
	LastFailure     string
	Stakes          []Stake
	Votes           []Vote
}

// Record snapshots the dispute for storage.
func (d *Dispute) Record() Record {
	return Record{
		ID:              d.ID,
		Scope:           d.Scope,
		Name:            d.Name,
		Description:     d.Description,
		CreatedAt:       d.CreatedAt,
		BettingClosesAt: d.BettingClosesAt,
		ResolvesAt:      d.ResolvesAt,
		Stage:           d.stage,
		Stalled:         d.stalled,
		LastFailure:     d.lastFailure,
		Stakes:          d.ledger.Stakes(),
		Votes:           d.tally.Votes(),
	}
}

// RestoreDispute rebuilds a dispute from storage without re-checking the windows
// against the current time: a restored dispute may already be past its deadline.
func RestoreDispute(r Record) (*Dispute, error) {
	if r.ID == "" || r.Scope == "" || r.Name == "" {
		return nil, fmt.Errorf("domain.RestoreDispute: %w: incomplete record", ErrInvalidInput)
	}
	if !r.BettingClosesAt.Before(r.ResolvesAt) {
		return nil, fmt.Errorf("domain.RestoreDispute %s/%s: %w", r.Scope, r.Name, ErrInvalidWindow)
	}
	d := &Dispute{
		ID:              r.ID,
		Scope:           r.Scope,
		Name:            r.Name,
		Description:     r.Description,
		CreatedAt:       r.CreatedAt,
		BettingClosesAt: r.BettingClosesAt,
		ResolvesAt:      r.ResolvesAt,
		stage:           r.Stage,
		stalled:         r.Stalled,
		lastFailure:     r.LastFailure,
	}
	for _, s := range r.Stakes {
		if !s.Side.Valid() || !(s.Amount > 0) {
			return nil, fmt.Errorf("domain.RestoreDispute %s/%s: %w: bad stake for %q", r.Scope, r.Name, ErrInvalidInput, s.Participant)
		}
		d.ledger.add(s.Participant, s.Side, s.Amount)
	}
	for _, v := range r.Votes {
		if err := d.tally.add(v.Participant, v.Choice); err != nil {
			return nil, fmt.Errorf("domain.RestoreDispute %s/%s: %w", r.Scope, r.Name, err)
		}
	}
	return d, nil
}
