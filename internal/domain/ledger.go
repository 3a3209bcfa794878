package domain

import "math"

// Stake is a participant's position on one side of a dispute.
// Payout equals Amount until the dispute is resolved.
type Stake struct {
	Participant string  `json:"participant"`
	Side        Side    `json:"side"`
	Amount      float64 `json:"amount"`
	Payout      float64 `json:"payout"`
}

type stakeKey struct {
	participant string
	side        Side
}

// Ledger holds the stakes of a dispute in insertion order.
// A repeated bet on the same (participant, side) merges into the existing stake.
type Ledger struct {
	stakes []Stake
	index  map[stakeKey]int
}

func (l *Ledger) add(participant string, side Side, amount float64) {
	if l.index == nil {
		l.index = make(map[stakeKey]int)
	}
	key := stakeKey{participant, side}
	if i, ok := l.index[key]; ok {
		l.stakes[i].Amount += amount
		l.stakes[i].Payout += amount
		return
	}
	l.index[key] = len(l.stakes)
	l.stakes = append(l.stakes, Stake{
		Participant: participant,
		Side:        side,
		Amount:      amount,
		Payout:      amount,
	})
}

// Stakes returns a copy of the stakes in insertion order.
func (l *Ledger) Stakes() []Stake {
	out := make([]Stake, len(l.stakes))
	copy(out, l.stakes)
	return out
}

// Total returns the sum of amounts staked on side.
func (l *Ledger) Total(side Side) float64 {
	total := 0.0
	for _, s := range l.stakes {
		if s.Side == side {
			total += s.Amount
		}
	}
	return total
}

// Pool returns the combined stake on both sides.
func (l *Ledger) Pool() float64 {
	return l.Total(SideSupport) + l.Total(SideOppose)
}

// HasStake reports whether participant holds a stake on either side.
func (l *Ledger) HasStake(participant string) bool {
	_, sup := l.index[stakeKey{participant, SideSupport}]
	_, opp := l.index[stakeKey{participant, SideOppose}]
	return sup || opp
}

// overflows reports whether adding amount would take the pool past the float64 range.
// Every stake and side total is bounded by the pool.
func (l *Ledger) overflows(amount float64) bool {
	return isInf(l.Pool() + amount)
}

func isInf(f float64) bool { return math.IsInf(f, 0) }
