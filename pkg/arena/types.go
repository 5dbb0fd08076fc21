package arena

import (
	"context"
	"fmt"
	"time"

	"github.com/bancalabs/banca/pkg/ledger"
)

// Kind selects the game variant a session plays.
type Kind string

const (
	KindDuel       Kind = "duel"
	KindGroupMelee Kind = "group_melee"
	KindCupGuess   Kind = "cup_guess"
	KindCoinFlip   Kind = "coin_flip"
)

// String returns the kind label.
func (kind Kind) String() string {
	return string(kind)
}

// ParseKind validates a kind label.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindDuel, KindGroupMelee, KindCupGuess, KindCoinFlip:
		return Kind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
}

// State is a session lifecycle state. Settled, Cancelled and Expired are
// terminal; a session never leaves a terminal state.
type State string

const (
	StateProposed  State = "proposed"
	StateJoining   State = "joining"
	StateSettling  State = "settling"
	StateSettled   State = "settled"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// Terminal reports whether the state ends the session.
func (state State) Terminal() bool {
	switch state {
	case StateSettled, StateCancelled, StateExpired:
		return true
	}
	return false
}

// String returns the state label.
func (state State) String() string {
	return string(state)
}

// Termination reasons carried on outcomes so the presentation layer can
// word its message without inspecting engine internals.
const (
	ReasonAccepted          = "accepted"
	ReasonDeclined          = "declined"
	ReasonCapacityReached   = "capacity_reached"
	ReasonManualFinalize    = "manual_finalize"
	ReasonGuess             = "guess"
	ReasonTimeout           = "timeout"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonSettlementFailed  = "settlement_failed"
)

// Coin faces for coin-flip outcomes.
const (
	CoinHeads = "heads"
	CoinTails = "tails"
)

// Proposal describes a new session. Opponent applies to Duel and CoinFlip,
// Capacity to GroupMelee.
type Proposal struct {
	Kind     Kind
	Proposer ledger.UserID
	Stake    ledger.AmountCents
	Opponent ledger.UserID
	Capacity int
}

// Ack acknowledges a non-terminal transition.
type Ack struct {
	SessionID    string
	Kind         Kind
	State        State
	Participants int
	ExpiresAtUTC int64
}

// Outcome describes the single terminal transition of a session.
type Outcome struct {
	SessionID     string
	Kind          Kind
	State         State
	Reason        string
	Stake         ledger.AmountCents
	Participants  []ledger.UserID
	Winner        *ledger.UserID
	CoinFace      string
	CorrectChoice int
	Transactions  []ledger.Transaction
}

// Timeouts holds the per-kind window a session may stay non-terminal.
type Timeouts struct {
	Duel       time.Duration
	GroupMelee time.Duration
	CupGuess   time.Duration
	CoinFlip   time.Duration
}

// DefaultTimeouts mirrors the windows the games were tuned with.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Duel:       60 * time.Second,
		GroupMelee: 60 * time.Second,
		CupGuess:   15 * time.Second,
		CoinFlip:   30 * time.Second,
	}
}

func (timeouts Timeouts) forKind(kind Kind) time.Duration {
	switch kind {
	case KindDuel:
		return timeouts.Duel
	case KindGroupMelee:
		return timeouts.GroupMelee
	case KindCupGuess:
		return timeouts.CupGuess
	case KindCoinFlip:
		return timeouts.CoinFlip
	}
	return 0
}

// Ledger is the slice of the ledger service the engine needs. The engine
// never mutates balances directly; every movement of funds goes through
// these primitives.
type Ledger interface {
	Balance(ctx context.Context, userID ledger.UserID) (ledger.AmountCents, error)
	Adjust(ctx context.Context, userID ledger.UserID, delta ledger.AmountCents, kind ledger.TransactionKind, description string) (ledger.Transaction, error)
	Transfer(ctx context.Context, fromUserID ledger.UserID, toUserID ledger.UserID, amount ledger.AmountCents, descriptionFrom string, descriptionTo string) (ledger.Transaction, ledger.Transaction, error)
}

// OutcomeListener observes terminal transitions. It fires exactly once per
// session, synchronously from whichever trigger won the terminal claim, and
// must not call back into the engine.
type OutcomeListener func(outcome Outcome)
