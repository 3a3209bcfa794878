package domain

import "errors"

// Kind classifies an error for callers that need to decide how to surface it.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindArithmetic
	KindScheduling
)

// String returns a short lowercase label, used as a metrics label and in HTTP error codes.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindArithmetic:
		return "arithmetic"
	case KindScheduling:
		return "scheduling"
	default:
		return "unknown"
	}
}

// Validation errors: bad input, rejected with no state change.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidWindow     = errors.New("invalid window: need now < betting close < resolution")
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

// State errors: the request does not fit the dispute's current state.
var (
	ErrNotFound            = errors.New("dispute not found")
	ErrAlreadyExists       = errors.New("dispute already exists")
	ErrWindowClosed        = errors.New("betting window closed")
	ErrWindowNotOpen       = errors.New("voting window not open")
	ErrAlreadyVoted        = errors.New("participant already voted")
	ErrParticipantHasBet   = errors.New("participant has a stake in this dispute")
	ErrParticipantHasVoted = errors.New("participant already voted in this dispute")
	ErrTooEarly            = errors.New("resolution deadline not reached")
)

// Arithmetic errors: raised only when computing payouts.
var (
	ErrNoVotes        = errors.New("no votes cast")
	ErrDegeneratePool = errors.New("one side of the pool is empty")
)

// ErrJobExists is returned when a job id is scheduled twice while still pending.
var ErrJobExists = errors.New("job already scheduled")

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidInput, KindValidation},
	{ErrInvalidWindow, KindValidation},
	{ErrNonPositiveAmount, KindValidation},
	{ErrNotFound, KindState},
	{ErrAlreadyExists, KindState},
	{ErrWindowClosed, KindState},
	{ErrWindowNotOpen, KindState},
	{ErrAlreadyVoted, KindState},
	{ErrParticipantHasBet, KindState},
	{ErrParticipantHasVoted, KindState},
	{ErrTooEarly, KindState},
	{ErrNoVotes, KindArithmetic},
	{ErrDegeneratePool, KindArithmetic},
	{ErrJobExists, KindScheduling},
}

// KindOf returns the Kind of the first known sentinel found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
