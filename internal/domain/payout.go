package domain

import (
	"fmt"
	"time"
)

// Payout is the amount owed to one stake after resolution.
type Payout struct {
	Participant string  `json:"participant"`
	Side        Side    `json:"side"`
	Staked      float64 `json:"staked"`
	Amount      float64 `json:"amount"`
}

// ComputePayouts splits the whole pool between the sides in proportion to the votes
// (T:F), then shares each side's allotment among its stakers in proportion to stake:
//
//	pWin      = T/N for Support, F/N for Oppose (N = T+F)
//	payout(b) = pWin * (b.amount / sideTotal) * poolTotal
//
// The result has one entry per stake, in the same order. Values are not rounded.
// A one-sided pool has no defined policy and fails with ErrDegeneratePool.
func ComputePayouts(stakes []Stake, supportVotes, opposeVotes int) ([]Payout, error) {
	if supportVotes < 0 || opposeVotes < 0 {
		return nil, fmt.Errorf("%w: negative vote count", ErrInvalidInput)
	}
	n := supportVotes + opposeVotes
	if n == 0 {
		return nil, ErrNoVotes
	}

	var sumSupport, sumOppose float64
	for _, s := range stakes {
		switch s.Side {
		case SideSupport:
			sumSupport += s.Amount
		case SideOppose:
			sumOppose += s.Amount
		default:
			return nil, fmt.Errorf("%w: stake of %q has no side", ErrInvalidInput, s.Participant)
		}
	}
	if (sumSupport == 0) != (sumOppose == 0) {
		return nil, ErrDegeneratePool
	}

	pool := sumSupport + sumOppose
	pSupport := float64(supportVotes) / float64(n)
	pOppose := float64(opposeVotes) / float64(n)

	payouts := make([]Payout, 0, len(stakes))
	for _, s := range stakes {
		pWin, sideTotal := pOppose, sumOppose
		if s.Side == SideSupport {
			pWin, sideTotal = pSupport, sumSupport
		}
		payouts = append(payouts, Payout{
			Participant: s.Participant,
			Side:        s.Side,
			Staked:      s.Amount,
			Amount:      pWin * (s.Amount / sideTotal) * pool,
		})
	}
	return payouts, nil
}

// Report is the outcome of a successful resolution.
type Report struct {
	ID           string    `json:"id"`
	DisputeID    string    `json:"dispute_id"`
	Scope        string    `json:"scope"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ResolvedAt   time.Time `json:"resolved_at"`
	SupportVotes int       `json:"support_votes"`
	OpposeVotes  int       `json:"oppose_votes"`
	SupportPool  float64   `json:"support_pool"`
	OpposePool   float64   `json:"oppose_pool"`
	Payouts      []Payout  `json:"payouts"`
}

// Pool returns the total staked on both sides.
func (r Report) Pool() float64 {
	return r.SupportPool + r.OpposePool
}

// TotalPaid returns the sum of all payouts; equals Pool up to float rounding.
func (r Report) TotalPaid() float64 {
	total := 0.0
	for _, p := range r.Payouts {
		total += p.Amount
	}
	return total
}

// FailureNotice is published when a resolution attempt fails and the dispute is left in place.
type FailureNotice struct {
	DisputeID    string    `json:"dispute_id"`
	Scope        string    `json:"scope"`
	Name         string    `json:"name"`
	Reason       string    `json:"reason"`
	Kind         string    `json:"kind"`
	At           time.Time `json:"at"`
	SupportVotes int       `json:"support_votes"`
	OpposeVotes  int       `json:"oppose_votes"`
	SupportPool  float64   `json:"support_pool"`
	OpposePool   float64   `json:"oppose_pool"`
}
