package webapi

import (
	"github.com/bancalabs/banca/internal/vip"
	"github.com/bancalabs/banca/pkg/arena"
	"github.com/bancalabs/banca/pkg/ledger"
)

type claimRequest struct {
	UserID string `json:"user_id"`
}

type participantRequest struct {
	UserID string `json:"user_id"`
}

type guessRequest struct {
	UserID string `json:"user_id"`
	Choice int    `json:"choice"`
}

type proposeRequest struct {
	Kind       string `json:"kind"`
	ProposerID string `json:"proposer_id"`
	StakeCents int64  `json:"stake_cents"`
	OpponentID string `json:"opponent_id"`
	Capacity   int    `json:"capacity"`
}

type adminCreditRequest struct {
	AdminID     string `json:"admin_id"`
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note"`
}

type adminGrantRequest struct {
	AdminID string `json:"admin_id"`
	UserID  string `json:"user_id"`
}

type vipGrantRequest struct {
	AdminID string `json:"admin_id"`
	UserID  string `json:"user_id"`
	Days    int64  `json:"days"`
}

type emblemRequest struct {
	Emblem string `json:"emblem"`
}

type walletResponse struct {
	UserID       string               `json:"user_id"`
	BalanceCents int64                `json:"balance_cents"`
	Transactions []transactionPayload `json:"transactions"`
}

type transactionPayload struct {
	TransactionID  string `json:"transaction_id"`
	UserID         string `json:"user_id"`
	Kind           string `json:"kind"`
	AmountCents    int64  `json:"amount_cents"`
	Description    string `json:"description"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

func newTransactionPayload(transaction ledger.Transaction) transactionPayload {
	return transactionPayload{
		TransactionID:  transaction.TransactionID,
		UserID:         transaction.UserID.String(),
		Kind:           transaction.Kind.String(),
		AmountCents:    transaction.AmountCents.Int64(),
		Description:    transaction.Description,
		CreatedUnixUTC: transaction.CreatedUnixUTC,
	}
}

type ackPayload struct {
	SessionID    string `json:"session_id"`
	Kind         string `json:"kind"`
	State        string `json:"state"`
	Participants int    `json:"participants"`
	ExpiresAtUTC int64  `json:"expires_at_unix_utc"`
}

func newAckPayload(ack arena.Ack) ackPayload {
	return ackPayload{
		SessionID:    ack.SessionID,
		Kind:         ack.Kind.String(),
		State:        ack.State.String(),
		Participants: ack.Participants,
		ExpiresAtUTC: ack.ExpiresAtUTC,
	}
}

type outcomePayload struct {
	SessionID     string               `json:"session_id"`
	Kind          string               `json:"kind"`
	State         string               `json:"state"`
	Reason        string               `json:"reason"`
	StakeCents    int64                `json:"stake_cents"`
	Participants  []string             `json:"participants"`
	Winner        string               `json:"winner,omitempty"`
	CoinFace      string               `json:"coin_face,omitempty"`
	CorrectChoice int                  `json:"correct_choice,omitempty"`
	Transactions  []transactionPayload `json:"transactions"`
}

func newOutcomePayload(outcome arena.Outcome) outcomePayload {
	participants := make([]string, 0, len(outcome.Participants))
	for _, participant := range outcome.Participants {
		participants = append(participants, participant.String())
	}
	transactions := make([]transactionPayload, 0, len(outcome.Transactions))
	for _, transaction := range outcome.Transactions {
		transactions = append(transactions, newTransactionPayload(transaction))
	}
	payload := outcomePayload{
		SessionID:     outcome.SessionID,
		Kind:          outcome.Kind.String(),
		State:         outcome.State.String(),
		Reason:        outcome.Reason,
		StakeCents:    outcome.Stake.Int64(),
		Participants:  participants,
		CoinFace:      outcome.CoinFace,
		CorrectChoice: outcome.CorrectChoice,
		Transactions:  transactions,
	}
	if outcome.Winner != nil {
		payload.Winner = outcome.Winner.String()
	}
	return payload
}

type entitlementPayload struct {
	UserID         string `json:"user_id"`
	ExpiresUnixUTC int64  `json:"expires_unix_utc"`
	Emblem         string `json:"emblem,omitempty"`
}

func newEntitlementPayload(entitlement vip.Entitlement) entitlementPayload {
	return entitlementPayload{
		UserID:         entitlement.UserID.String(),
		ExpiresUnixUTC: entitlement.ExpiresUnixUTC,
		Emblem:         entitlement.Emblem,
	}
}
