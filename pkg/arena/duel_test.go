package arena

import (
	"context"
	"errors"
	"testing"

	"github.com/bancalabs/banca/pkg/ledger"
)

func TestDuelAcceptSettlesAndConservesMoney(test *testing.T) {
	test.Parallel()
	fake := newTestLedger(map[string]int64{"alice": 1000, "bob": 1000})
	// Script value 0 picks the first participant (the proposer) as winner.
	engine := mustEngine(test, fake, &scriptedSource{values: []int{0}})
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")

	ack, err := engine.Propose(context.Background(), Proposal{Kind: KindDuel, Proposer: alice, Opponent: bob, Stake: 300})
	if err != nil {
		test.Fatalf("propose: %v", err)
	}
	if ack.State != StateProposed {
		test.Fatalf("expected proposed state, got %s", ack.State)
	}

	outcome, err := engine.Accept(context.Background(), ack.SessionID, bob)
	if err != nil {
		test.Fatalf("accept: %v", err)
	}
	if outcome.State != StateSettled || outcome.Winner == nil || *outcome.Winner != alice {
		test.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(outcome.Transactions) != 2 {
		test.Fatalf("expected two transactions, got %d", len(outcome.Transactions))
	}
	if fake.balanceOf(test, "alice") != 1300 || fake.balanceOf(test, "bob") != 700 {
		test.Fatalf("unexpected balances: alice=%d bob=%d", fake.balanceOf(test, "alice"), fake.balanceOf(test, "bob"))
	}

	kinds := map[ledger.TransactionKind]int{}
	for _, transaction := range outcome.Transactions {
		kinds[transaction.Kind]++
		if transaction.AmountCents != 300 {
			test.Fatalf("expected magnitude 300, got %d", transaction.AmountCents)
		}
	}
	if kinds[ledger.TransactionIncome] != 1 || kinds[ledger.TransactionExpense] != 1 {
		test.Fatalf("expected one income and one expense, got %+v", kinds)
	}
}

func TestDuelAcceptByOutsiderLeavesSessionOpen(test *testing.T) {
	test.Parallel()
	fake := newTestLedger(map[string]int64{"alice": 1000, "bob": 1000, "mallory": 1000})
	engine := mustEngine(test, fake, &scriptedSource{values: []int{1}})
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")
	mallory := mustUserID(test, "mallory")

	ack, err := engine.Propose(context.Background(), Proposal{Kind: KindDuel, Proposer: alice, Opponent: bob, Stake: 100})
	if err != nil {
		test.Fatalf("propose: %v", err)
	}
	if _, err := engine.Accept(context.Background(), ack.SessionID, mallory); !errors.Is(err, ErrInvalidParticipant) {
		test.Fatalf("expected invalid participant, got %v", err)
	}
	if fake.transactionCount() != 0 {
		test.Fatalf("outsider acceptance moved money")
	}

	// The invited opponent can still accept afterwards.
	outcome, err := engine.Accept(context.Background(), ack.SessionID, bob)
	if err != nil {
		test.Fatalf("accept after rejected outsider: %v", err)
	}
	if outcome.State != StateSettled {
		test.Fatalf("expected settled, got %s", outcome.State)
	}
}

func TestDuelDeclineCancelsWithoutCharges(test *testing.T) {
	test.Parallel()
	fake := newTestLedger(map[string]int64{"alice": 1000, "bob": 1000})
	engine := mustEngine(test, fake, &scriptedSource{})
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")

	ack, err := engine.Propose(context.Background(), Proposal{Kind: KindDuel, Proposer: alice, Opponent: bob, Stake: 100})
	if err != nil {
		test.Fatalf("propose: %v", err)
	}
	if _, err := engine.Decline(context.Background(), ack.SessionID, alice); !errors.Is(err, ErrInvalidParticipant) {
		test.Fatalf("proposer must not decline own duel, got %v", err)
	}
	outcome, err := engine.Decline(context.Background(), ack.SessionID, bob)
	if err != nil {
		test.Fatalf("decline: %v", err)
	}
	if outcome.State != StateCancelled || outcome.Reason != ReasonDeclined {
		test.Fatalf("unexpected outcome: %+v", outcome)
	}
	if fake.transactionCount() != 0 {
		test.Fatalf("decline moved money")
	}
	// The concluded session is gone from the engine.
	if _, err := engine.Accept(context.Background(), ack.SessionID, bob); !errors.Is(err, ErrUnknownSession) {
		test.Fatalf("expected unknown session after conclusion, got %v", err)
	}
}

func TestDuelTimeoutCancels(test *testing.T) {
	test.Parallel()
	fake := newTestLedger(map[string]int64{"alice": 1000, "bob": 1000})
	engine := mustEngine(test, fake, &scriptedSource{})
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")

	ack, err := engine.Propose(context.Background(), Proposal{Kind: KindDuel, Proposer: alice, Opponent: bob, Stake: 100})
	if err != nil {
		test.Fatalf("propose: %v", err)
	}
	outcome, err := engine.OnTimeout(context.Background(), ack.SessionID)
	if err != nil {
		test.Fatalf("timeout: %v", err)
	}
	if outcome == nil || outcome.State != StateCancelled || outcome.Reason != ReasonTimeout {
		test.Fatalf("unexpected outcome: %+v", outcome)
	}
	if fake.transactionCount() != 0 {
		test.Fatalf("timeout moved money")
	}

	// The first fire concluded and removed the session.
	if _, err := engine.OnTimeout(context.Background(), ack.SessionID); !errors.Is(err, ErrUnknownSession) {
		test.Fatalf("expected unknown session on second timeout, got %v", err)
	}
}

func TestDuelInsufficientFundsAtSettlementCancels(test *testing.T) {
	test.Parallel()
	fake := newTestLedger(map[string]int64{"alice": 1000, "bob": 1000})
	engine := mustEngine(test, fake, &scriptedSource{})
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")

	ack, err := engine.Propose(context.Background(), Proposal{Kind: KindDuel, Proposer: alice, Opponent: bob, Stake: 800})
	if err != nil {
		test.Fatalf("propose: %v", err)
	}

	// Bob's funds drain between proposal and acceptance.
	if _, err := fake.Adjust(context.Background(), bob, -900, ledger.TransactionExpense, "spent elsewhere"); err != nil {
		test.Fatalf("drain: %v", err)
	}
	drainCount := fake.transactionCount()

	outcome, err := engine.Accept(context.Background(), ack.SessionID, bob)
	if err != nil {
		test.Fatalf("accept: %v", err)
	}
	if outcome.State != StateCancelled || outcome.Reason != ReasonInsufficientFunds {
		test.Fatalf("expected cancelled for insufficient funds, got %+v", outcome)
	}
	if fake.transactionCount() != drainCount {
		test.Fatalf("cancelled settlement moved money")
	}
}

func TestCoinFlipSettlesOnCoinDraw(test *testing.T) {
	test.Parallel()
	fake := newTestLedger(map[string]int64{"alice": 500, "bob": 500})
	// Script value 0 lands heads, which pays the proposer.
	engine := mustEngine(test, fake, &scriptedSource{values: []int{0}})
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")

	ack, err := engine.Propose(context.Background(), Proposal{Kind: KindCoinFlip, Proposer: alice, Opponent: bob, Stake: 200})
	if err != nil {
		test.Fatalf("propose: %v", err)
	}
	outcome, err := engine.Accept(context.Background(), ack.SessionID, bob)
	if err != nil {
		test.Fatalf("accept: %v", err)
	}
	if outcome.State != StateSettled || outcome.CoinFace != CoinHeads {
		test.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Winner == nil || *outcome.Winner != alice {
		test.Fatalf("heads should pay the proposer")
	}
	if fake.balanceOf(test, "alice") != 700 || fake.balanceOf(test, "bob") != 300 {
		test.Fatalf("unexpected balances: %d/%d", fake.balanceOf(test, "alice"), fake.balanceOf(test, "bob"))
	}
}
