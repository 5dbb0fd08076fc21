// Package arena runs short-lived, timed, stake-bearing game sessions over
// the ledger: duels, group melees, cup guesses and coin flips. Each session
// is a small state machine whose terminal transition happens exactly once,
// no matter how many triggers (acceptance, capacity, manual finalize, timer)
// race for it.
package arena

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bancalabs/banca/pkg/draw"
	"github.com/bancalabs/banca/pkg/ledger"
)

const cupPositions = 3

// Engine owns every session for its lifetime. Operations on different
// sessions proceed independently; transitions on one session serialize on
// the session's own mutex.
type Engine struct {
	ledger   Ledger
	source   draw.Source
	nowFn    func() int64
	timeouts Timeouts
	listener OutcomeListener

	manualTimers bool

	mutex    sync.RWMutex
	sessions map[string]*session
}

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// WithTimeouts overrides the per-kind expiry windows.
func WithTimeouts(timeouts Timeouts) EngineOption {
	return func(engine *Engine) {
		engine.timeouts = timeouts
	}
}

// WithOutcomeListener wires a callback fired once per terminal transition.
func WithOutcomeListener(listener OutcomeListener) EngineOption {
	return func(engine *Engine) {
		engine.listener = listener
	}
}

// WithManualTimers disables the internal expiry scheduler. Timeouts then
// fire only through explicit OnTimeout calls; tests drive expiry this way.
func WithManualTimers() EngineOption {
	return func(engine *Engine) {
		engine.manualTimers = true
	}
}

// NewEngine wires an Engine.
func NewEngine(ledgerService Ledger, source draw.Source, now func() int64, options ...EngineOption) (*Engine, error) {
	if ledgerService == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidEngineConfig)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: draw source dependency is nil", ErrInvalidEngineConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidEngineConfig)
	}
	engine := &Engine{
		ledger:   ledgerService,
		source:   source,
		nowFn:    now,
		timeouts: DefaultTimeouts(),
		sessions: map[string]*session{},
	}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// Propose validates and registers a new session and schedules its expiry.
// Sufficiency checks here are informational: they reject obviously unfunded
// proposals early, but every stake is re-validated at the terminal claim.
func (engine *Engine) Propose(ctx context.Context, proposal Proposal) (Ack, error) {
	if proposal.Stake <= 0 {
		return Ack{}, fmt.Errorf("%w: stake must be positive", ErrInvalidStake)
	}
	if proposal.Proposer == (ledger.UserID{}) {
		return Ack{}, fmt.Errorf("%w: missing proposer", ErrInvalidParticipant)
	}

	sess := &session{
		id:             uuid.NewString(),
		kind:           proposal.Kind,
		stake:          proposal.Stake,
		proposer:       proposal.Proposer,
		createdUnixUTC: engine.nowFn(),
	}

	switch proposal.Kind {
	case KindDuel, KindCoinFlip:
		if proposal.Opponent == (ledger.UserID{}) || proposal.Opponent == proposal.Proposer {
			return Ack{}, fmt.Errorf("%w: opponent must be a distinct user", ErrInvalidParticipant)
		}
		if err := engine.checkFunds(ctx, proposal.Proposer, proposal.Stake); err != nil {
			return Ack{}, err
		}
		if err := engine.checkFunds(ctx, proposal.Opponent, proposal.Stake); err != nil {
			return Ack{}, err
		}
		sess.opponent = proposal.Opponent
		sess.participants = []ledger.UserID{proposal.Proposer, proposal.Opponent}
		sess.state = StateProposed
	case KindGroupMelee:
		if proposal.Capacity < 2 {
			return Ack{}, fmt.Errorf("%w: capacity must be at least 2", ErrInvalidCapacity)
		}
		sess.capacity = proposal.Capacity
		sess.state = StateJoining
	case KindCupGuess:
		if err := engine.checkFunds(ctx, proposal.Proposer, proposal.Stake); err != nil {
			return Ack{}, err
		}
		sess.participants = []ledger.UserID{proposal.Proposer}
		sess.secretCup = engine.source.IntN(cupPositions) + 1
		sess.state = StateProposed
	default:
		return Ack{}, fmt.Errorf("%w: %q", ErrInvalidKind, proposal.Kind)
	}

	timeout := engine.timeouts.forKind(proposal.Kind)
	sess.expiresUnixUTC = sess.createdUnixUTC + int64(timeout/time.Second)

	engine.mutex.Lock()
	engine.sessions[sess.id] = sess
	engine.mutex.Unlock()

	// The timer is assigned under the session mutex: once the session is in
	// the map any trigger may reach stopTimer, and a fired timer blocks here
	// until the field is set.
	sess.mutex.Lock()
	defer sess.mutex.Unlock()
	if !engine.manualTimers {
		sessionID := sess.id
		sess.timer = time.AfterFunc(timeout, func() {
			_, _ = engine.OnTimeout(context.Background(), sessionID)
		})
	}
	return sess.ack(), nil
}

// Session returns a point-in-time view of a session.
func (engine *Engine) Session(sessionID string) (Ack, error) {
	sess, err := engine.lookup(sessionID)
	if err != nil {
		return Ack{}, err
	}
	sess.mutex.Lock()
	defer sess.mutex.Unlock()
	return sess.ack(), nil
}

// OnTimeout is the timer's bid for the terminal claim. Losing the race to a
// human-triggered transition is a no-op, not an error: the outcome is nil
// when the session was already terminal.
func (engine *Engine) OnTimeout(ctx context.Context, sessionID string) (*Outcome, error) {
	sess, err := engine.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	if sess.state.Terminal() {
		return nil, nil
	}

	switch sess.kind {
	case KindGroupMelee:
		if len(sess.participants) >= 2 {
			outcome := engine.settleMelee(ctx, sess, ReasonTimeout)
			return &outcome, nil
		}
		outcome := engine.terminate(sess, StateExpired, ReasonTimeout)
		return &outcome, nil
	case KindCupGuess:
		// The secret stays with the discarded session; the engine never
		// reveals it on expiry.
		outcome := engine.terminate(sess, StateExpired, ReasonTimeout)
		return &outcome, nil
	default:
		outcome := engine.terminate(sess, StateCancelled, ReasonTimeout)
		return &outcome, nil
	}
}

func (engine *Engine) lookup(sessionID string) (*session, error) {
	engine.mutex.RLock()
	defer engine.mutex.RUnlock()
	sess, ok := engine.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return sess, nil
}

func (engine *Engine) checkFunds(ctx context.Context, userID ledger.UserID, stake ledger.AmountCents) error {
	balance, err := engine.ledger.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if balance < stake {
		return fmt.Errorf("%w: %s holds %d, stake is %d", ErrInsufficientFunds, userID, balance.Int64(), stake.Int64())
	}
	return nil
}

// terminate commits a terminal state that moves no funds. Caller holds the
// session mutex and has already verified the state is non-terminal.
func (engine *Engine) terminate(sess *session, state State, reason string) Outcome {
	sess.state = state
	sess.stopTimer()
	outcome := Outcome{
		SessionID:    sess.id,
		Kind:         sess.kind,
		State:        state,
		Reason:       reason,
		Stake:        sess.stake,
		Participants: sess.participantsCopy(),
	}
	engine.conclude(sess, outcome)
	return outcome
}

// conclude forgets a session that just reached a terminal state and
// publishes its outcome. Callers still holding stale pointers observe the
// terminal state and back off; later lookups get ErrUnknownSession.
func (engine *Engine) conclude(sess *session, outcome Outcome) {
	engine.mutex.Lock()
	delete(engine.sessions, sess.id)
	engine.mutex.Unlock()
	if engine.listener != nil {
		engine.listener(outcome)
	}
}
