package arena

import (
	"context"
	"fmt"

	"github.com/bancalabs/banca/pkg/ledger"
)

// Accept is the invited opponent's acceptance of a duel or coin flip. It is
// always a terminal claim: the session settles, or cancels if a stake can no
// longer be covered.
func (engine *Engine) Accept(ctx context.Context, sessionID string, userID ledger.UserID) (Outcome, error) {
	sess, err := engine.lookup(sessionID)
	if err != nil {
		return Outcome{}, err
	}
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	if sess.kind != KindDuel && sess.kind != KindCoinFlip {
		return Outcome{}, fmt.Errorf("%w: %s sessions are not accepted", ErrInvalidKind, sess.kind)
	}
	if sess.state.Terminal() {
		return Outcome{}, ErrSessionAlreadyTerminal
	}
	if sess.state != StateProposed {
		return Outcome{}, ErrSessionNotJoinable
	}
	if userID != sess.opponent {
		return Outcome{}, fmt.Errorf("%w: only the invited opponent may accept", ErrInvalidParticipant)
	}
	return engine.settleVersus(ctx, sess), nil
}

// Decline cancels a pending duel or coin flip. Only the invited opponent may
// decline; no funds move.
func (engine *Engine) Decline(ctx context.Context, sessionID string, userID ledger.UserID) (Outcome, error) {
	sess, err := engine.lookup(sessionID)
	if err != nil {
		return Outcome{}, err
	}
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	if sess.kind != KindDuel && sess.kind != KindCoinFlip {
		return Outcome{}, fmt.Errorf("%w: %s sessions are not declined", ErrInvalidKind, sess.kind)
	}
	if sess.state.Terminal() {
		return Outcome{}, ErrSessionAlreadyTerminal
	}
	if sess.state != StateProposed {
		return Outcome{}, ErrSessionNotJoinable
	}
	if userID != sess.opponent {
		return Outcome{}, fmt.Errorf("%w: only the invited opponent may decline", ErrInvalidParticipant)
	}
	return engine.terminate(sess, StateCancelled, ReasonDeclined), nil
}

// Join adds a user to a group melee. The returned outcome is non-nil only
// when this join filled the last seat and therefore won the terminal claim.
func (engine *Engine) Join(ctx context.Context, sessionID string, userID ledger.UserID) (Ack, *Outcome, error) {
	sess, err := engine.lookup(sessionID)
	if err != nil {
		return Ack{}, nil, err
	}
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	if sess.kind != KindGroupMelee {
		return Ack{}, nil, fmt.Errorf("%w: only %s sessions are joined", ErrInvalidKind, KindGroupMelee)
	}
	if sess.state.Terminal() {
		return Ack{}, nil, ErrSessionAlreadyTerminal
	}
	if sess.state != StateJoining {
		return Ack{}, nil, ErrSessionNotJoinable
	}
	if sess.hasParticipant(userID) {
		return Ack{}, nil, fmt.Errorf("%w: %s already joined", ErrInvalidParticipant, userID)
	}
	if len(sess.participants) >= sess.capacity {
		return Ack{}, nil, ErrCapacityExceeded
	}
	if err := engine.checkFunds(ctx, userID, sess.stake); err != nil {
		return Ack{}, nil, err
	}

	sess.participants = append(sess.participants, userID)
	if len(sess.participants) < sess.capacity {
		return sess.ack(), nil, nil
	}
	outcome := engine.settleMelee(ctx, sess, ReasonCapacityReached)
	return sess.ack(), &outcome, nil
}

// Finalize is the proposer's manual start of a group melee before capacity
// is reached. Valid only once at least two players have joined.
func (engine *Engine) Finalize(ctx context.Context, sessionID string, requesterID ledger.UserID) (Outcome, error) {
	sess, err := engine.lookup(sessionID)
	if err != nil {
		return Outcome{}, err
	}
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	if sess.kind != KindGroupMelee {
		return Outcome{}, fmt.Errorf("%w: only %s sessions are finalized", ErrInvalidKind, KindGroupMelee)
	}
	if sess.state.Terminal() {
		return Outcome{}, ErrSessionAlreadyTerminal
	}
	if sess.state != StateJoining {
		return Outcome{}, ErrSessionNotJoinable
	}
	if requesterID != sess.proposer {
		return Outcome{}, fmt.Errorf("%w: only the proposer may finalize", ErrInvalidParticipant)
	}
	if len(sess.participants) < 2 {
		return Outcome{}, ErrNotEnoughParticipants
	}
	return engine.settleMelee(ctx, sess, ReasonManualFinalize), nil
}

// Guess registers the cup-guess participant's single pick. The first guess
// is final and is the terminal claim.
func (engine *Engine) Guess(ctx context.Context, sessionID string, userID ledger.UserID, choice int) (Outcome, error) {
	sess, err := engine.lookup(sessionID)
	if err != nil {
		return Outcome{}, err
	}
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	if sess.kind != KindCupGuess {
		return Outcome{}, fmt.Errorf("%w: only %s sessions take guesses", ErrInvalidKind, KindCupGuess)
	}
	if sess.guessed {
		return Outcome{}, ErrAlreadyGuessed
	}
	if sess.state.Terminal() {
		return Outcome{}, ErrSessionAlreadyTerminal
	}
	if userID != sess.proposer {
		return Outcome{}, fmt.Errorf("%w: only the proposer may guess", ErrInvalidParticipant)
	}
	if choice < 1 || choice > cupPositions {
		return Outcome{}, fmt.Errorf("%w: choice must be between 1 and %d", ErrInvalidChoice, cupPositions)
	}
	sess.guessed = true
	return engine.settleCup(ctx, sess, choice), nil
}
