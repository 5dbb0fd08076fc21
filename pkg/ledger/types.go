package ledger

import (
	"context"
	"fmt"
	"strings"
)

// AmountCents is an integer currency amount in minor units.
type AmountCents int64

// Int64 returns the raw amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// UserID identifies an account owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// TransactionKind labels a ledger transaction as money in or money out.
type TransactionKind string

const (
	TransactionIncome  TransactionKind = "income"
	TransactionExpense TransactionKind = "expense"
)

// String returns the kind label.
func (kind TransactionKind) String() string {
	return string(kind)
}

// ParseTransactionKind validates a stored kind label.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case TransactionIncome, TransactionExpense:
		return TransactionKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
}

// Transaction is a single immutable line in an account's history.
// AmountCents holds the non-negative magnitude; Kind carries the sign.
type Transaction struct {
	TransactionID  string
	UserID         UserID
	Kind           TransactionKind
	AmountCents    AmountCents
	Description    string
	CreatedUnixUTC int64
}

// Signed returns the signed delta this transaction applied to the balance.
func (transaction Transaction) Signed() AmountCents {
	if transaction.Kind == TransactionExpense {
		return -transaction.AmountCents
	}
	return transaction.AmountCents
}

// NewPositiveAmountCents validates an amount and ensures it is strictly positive.
func NewPositiveAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Store is the persistence contract used by Service. Accounts are created
// lazily: GetOrCreateBalance must return a zero balance for a user it has
// never seen. Transaction rows are append-only.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateBalance(ctx context.Context, userID UserID) (AmountCents, error)
	AddToBalance(ctx context.Context, userID UserID, delta AmountCents) error
	InsertTransaction(ctx context.Context, transaction Transaction) error
	ListTransactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error)
}
