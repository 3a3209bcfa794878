package domain

// Vote is a non-bettor's outcome choice. Choice true means Support.
type Vote struct {
	Participant string `json:"participant"`
	Choice      bool   `json:"choice"`
}

// Tally collects one vote per participant, in cast order.
type Tally struct {
	votes   []Vote
	voted   map[string]struct{}
	support int
	oppose  int
}

func (t *Tally) add(participant string, choice bool) error {
	if t.voted == nil {
		t.voted = make(map[string]struct{})
	}
	if _, ok := t.voted[participant]; ok {
		return ErrAlreadyVoted
	}
	t.voted[participant] = struct{}{}
	t.votes = append(t.votes, Vote{Participant: participant, Choice: choice})
	if choice {
		t.support++
	} else {
		t.oppose++
	}
	return nil
}

// Counts returns the number of Support and Oppose votes.
func (t *Tally) Counts() (support, oppose int) {
	return t.support, t.oppose
}

func (t *Tally) IsEmpty() bool { return len(t.votes) == 0 }

func (t *Tally) Has(participant string) bool {
	_, ok := t.voted[participant]
	return ok
}

// Votes returns a copy of the votes in cast order.
func (t *Tally) Votes() []Vote {
	out := make([]Vote, len(t.votes))
	copy(out, t.votes)
	return out
}
