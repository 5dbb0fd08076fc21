package arena

import (
	"context"
	"fmt"

	"github.com/bancalabs/banca/pkg/draw"
	"github.com/bancalabs/banca/pkg/ledger"
)

// Settlement helpers. Every one of them runs with the session mutex held,
// after the caller verified the session is non-terminal, so moving the state
// to Settling here is the winning terminal claim. Stakes are re-validated
// against live balances at this point, never trusted from proposal time.

// settleVersus resolves a duel or coin flip between proposer and opponent.
func (engine *Engine) settleVersus(ctx context.Context, sess *session) Outcome {
	sess.state = StateSettling
	sess.stopTimer()

	for _, participant := range sess.participants {
		if err := engine.checkFunds(ctx, participant, sess.stake); err != nil {
			return engine.terminate(sess, StateCancelled, ReasonInsufficientFunds)
		}
	}

	var winner ledger.UserID
	var coinFace string
	if sess.kind == KindCoinFlip {
		if draw.Flip(engine.source) {
			winner, coinFace = sess.proposer, CoinHeads
		} else {
			winner, coinFace = sess.opponent, CoinTails
		}
	} else {
		picked, err := draw.PickOne(engine.source, sess.participants)
		if err != nil {
			return engine.terminate(sess, StateCancelled, ReasonSettlementFailed)
		}
		winner = picked
	}
	loser := sess.proposer
	if winner == sess.proposer {
		loser = sess.opponent
	}

	gameName := "duel"
	if sess.kind == KindCoinFlip {
		gameName = "coin flip"
	}
	debit, credit, err := engine.ledger.Transfer(ctx, loser, winner, sess.stake,
		fmt.Sprintf("Lost %s against %s", gameName, winner),
		fmt.Sprintf("Won %s against %s", gameName, loser),
	)
	if err != nil {
		return engine.terminate(sess, StateCancelled, ReasonSettlementFailed)
	}

	sess.state = StateSettled
	outcome := Outcome{
		SessionID:    sess.id,
		Kind:         sess.kind,
		State:        StateSettled,
		Reason:       ReasonAccepted,
		Stake:        sess.stake,
		Participants: sess.participantsCopy(),
		Winner:       &winner,
		CoinFace:     coinFace,
		Transactions: []ledger.Transaction{debit, credit},
	}
	engine.conclude(sess, outcome)
	return outcome
}

// settleMelee charges every participant the stake and pays the pot to one
// uniformly chosen winner.
func (engine *Engine) settleMelee(ctx context.Context, sess *session, reason string) Outcome {
	sess.state = StateSettling
	sess.stopTimer()

	for _, participant := range sess.participants {
		if err := engine.checkFunds(ctx, participant, sess.stake); err != nil {
			return engine.terminate(sess, StateCancelled, ReasonInsufficientFunds)
		}
	}

	winner, err := draw.PickOne(engine.source, sess.participants)
	if err != nil {
		return engine.terminate(sess, StateCancelled, ReasonSettlementFailed)
	}

	transactions := make([]ledger.Transaction, 0, len(sess.participants)+1)
	charged := make([]ledger.UserID, 0, len(sess.participants))
	for _, participant := range sess.participants {
		entry, err := engine.ledger.Adjust(ctx, participant, -sess.stake, ledger.TransactionExpense, "Entered the melee")
		if err != nil {
			engine.refundCharged(ctx, charged, sess.stake)
			return engine.terminate(sess, StateCancelled, ReasonSettlementFailed)
		}
		charged = append(charged, participant)
		transactions = append(transactions, entry)
	}
	pot := sess.stake * ledger.AmountCents(len(sess.participants))
	prize, err := engine.ledger.Adjust(ctx, winner, pot, ledger.TransactionIncome, "Won the melee")
	if err != nil {
		engine.refundCharged(ctx, charged, sess.stake)
		return engine.terminate(sess, StateCancelled, ReasonSettlementFailed)
	}
	transactions = append(transactions, prize)

	sess.state = StateSettled
	outcome := Outcome{
		SessionID:    sess.id,
		Kind:         sess.kind,
		State:        StateSettled,
		Reason:       reason,
		Stake:        sess.stake,
		Participants: sess.participantsCopy(),
		Winner:       &winner,
		Transactions: transactions,
	}
	engine.conclude(sess, outcome)
	return outcome
}

// refundCharged reverses entry stakes after a failed melee settlement.
// Refunds are best effort: a store that just failed may fail again, and the
// cancelled outcome still reports the settlement failure either way.
func (engine *Engine) refundCharged(ctx context.Context, charged []ledger.UserID, stake ledger.AmountCents) {
	for _, participant := range charged {
		_, _ = engine.ledger.Adjust(ctx, participant, stake, ledger.TransactionIncome, "Melee entry refund")
	}
}

// settleCup resolves the single guess against the secret cup fixed at
// proposal time.
func (engine *Engine) settleCup(ctx context.Context, sess *session, choice int) Outcome {
	sess.state = StateSettling
	sess.stopTimer()

	if err := engine.checkFunds(ctx, sess.proposer, sess.stake); err != nil {
		return engine.terminate(sess, StateCancelled, ReasonInsufficientFunds)
	}

	var entry ledger.Transaction
	var err error
	won := choice == sess.secretCup
	if won {
		entry, err = engine.ledger.Adjust(ctx, sess.proposer, sess.stake, ledger.TransactionIncome, "Guessed the right cup")
	} else {
		entry, err = engine.ledger.Adjust(ctx, sess.proposer, -sess.stake, ledger.TransactionExpense, "Guessed the wrong cup")
	}
	if err != nil {
		return engine.terminate(sess, StateCancelled, ReasonSettlementFailed)
	}

	sess.state = StateSettled
	outcome := Outcome{
		SessionID:     sess.id,
		Kind:          sess.kind,
		State:         StateSettled,
		Reason:        ReasonGuess,
		Stake:         sess.stake,
		Participants:  sess.participantsCopy(),
		CorrectChoice: sess.secretCup,
		Transactions:  []ledger.Transaction{entry},
	}
	if won {
		winner := sess.proposer
		outcome.Winner = &winner
	}
	engine.conclude(sess, outcome)
	return outcome
}
