package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

// Service contains the balance and transaction logic over a Store.
//
// The Service is the sole writer of balances. Adjustments on one account are
// serialized by a striped mutex so concurrent read-modify-write cycles never
// lose updates; adjustments on unrelated accounts proceed independently.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
	locks  [lockStripeCount]sync.Mutex
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the current balance, creating the account on first reference.
func (service *Service) Balance(ctx context.Context, userID UserID) (AmountCents, error) {
	return service.store.GetOrCreateBalance(ctx, userID)
}

// Adjust atomically applies a signed delta to the account and appends the
// matching transaction. The kind must agree with the sign of the delta
// (income positive, expense negative). Negative resulting balances are not
// rejected here; sufficiency is the caller's decision.
func (service *Service) Adjust(ctx context.Context, userID UserID, delta AmountCents, kind TransactionKind, description string) (Transaction, error) {
	transaction, err := service.buildTransaction(userID, delta, kind, description)
	if err != nil {
		service.logAdjust(ctx, userID, delta, kind, description, err)
		return Transaction{}, err
	}

	stripe := service.lockFor(userID)
	stripe.Lock()
	defer stripe.Unlock()

	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.GetOrCreateBalance(ctx, userID); err != nil {
			return err
		}
		if err := txStore.AddToBalance(ctx, userID, delta); err != nil {
			return err
		}
		return txStore.InsertTransaction(ctx, transaction)
	})
	service.logAdjust(ctx, userID, delta, kind, description, operationError)
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

// Transfer moves amount from one account to the other inside a single store
// transaction, so no reader observes the debit without the credit. Both
// account stripes are held for the duration, acquired in a fixed order.
func (service *Service) Transfer(ctx context.Context, fromUserID UserID, toUserID UserID, amount AmountCents, descriptionFrom string, descriptionTo string) (Transaction, Transaction, error) {
	logTransfer := func(err error) {
		service.logOperation(ctx, OperationLog{
			Operation:      operationTransfer,
			UserID:         fromUserID,
			CounterpartyID: &toUserID,
			Amount:         amount,
			Kind:           TransactionExpense,
			Description:    descriptionFrom,
			Error:          err,
		})
	}
	if fromUserID == toUserID {
		logTransfer(ErrSameAccountTransfer)
		return Transaction{}, Transaction{}, ErrSameAccountTransfer
	}
	if amount <= 0 {
		err := fmt.Errorf("%w: transfer amount must be positive", ErrInvalidAmountCents)
		logTransfer(err)
		return Transaction{}, Transaction{}, err
	}

	debit, err := service.buildTransaction(fromUserID, -amount, TransactionExpense, descriptionFrom)
	if err != nil {
		logTransfer(err)
		return Transaction{}, Transaction{}, err
	}
	credit, err := service.buildTransaction(toUserID, amount, TransactionIncome, descriptionTo)
	if err != nil {
		logTransfer(err)
		return Transaction{}, Transaction{}, err
	}

	first, second := service.lockPair(fromUserID, toUserID)
	first.Lock()
	defer first.Unlock()
	if second != nil {
		second.Lock()
		defer second.Unlock()
	}

	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.GetOrCreateBalance(ctx, fromUserID); err != nil {
			return err
		}
		if _, err := txStore.GetOrCreateBalance(ctx, toUserID); err != nil {
			return err
		}
		if err := txStore.AddToBalance(ctx, fromUserID, -amount); err != nil {
			return err
		}
		if err := txStore.AddToBalance(ctx, toUserID, amount); err != nil {
			return err
		}
		if err := txStore.InsertTransaction(ctx, debit); err != nil {
			return err
		}
		return txStore.InsertTransaction(ctx, credit)
	})
	logTransfer(operationError)
	if operationError != nil {
		return Transaction{}, Transaction{}, operationError
	}
	return debit, credit, nil
}

// History lists the account's most recent transactions, newest first.
func (service *Service) History(ctx context.Context, userID UserID, limit int) ([]Transaction, error) {
	if _, err := service.store.GetOrCreateBalance(ctx, userID); err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, userID, limit)
}

func (service *Service) buildTransaction(userID UserID, delta AmountCents, kind TransactionKind, description string) (Transaction, error) {
	if userID == (UserID{}) {
		return Transaction{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if delta == 0 {
		return Transaction{}, fmt.Errorf("%w: delta must be non-zero", ErrInvalidAmountCents)
	}
	switch kind {
	case TransactionIncome:
		if delta < 0 {
			return Transaction{}, fmt.Errorf("%w: income requires a positive delta", ErrInvalidTransactionKind)
		}
	case TransactionExpense:
		if delta > 0 {
			return Transaction{}, fmt.Errorf("%w: expense requires a negative delta", ErrInvalidTransactionKind)
		}
	default:
		return Transaction{}, fmt.Errorf("%w: %q", ErrInvalidTransactionKind, kind)
	}
	magnitude := delta
	if magnitude < 0 {
		magnitude = -magnitude
	}
	return Transaction{
		TransactionID:  uuid.NewString(),
		UserID:         userID,
		Kind:           kind,
		AmountCents:    magnitude,
		Description:    description,
		CreatedUnixUTC: service.nowFn(),
	}, nil
}

func (service *Service) lockFor(userID UserID) *sync.Mutex {
	return &service.locks[stripeIndex(userID)]
}

// lockPair returns the stripes for both accounts in ascending index order.
// The second mutex is nil when both accounts share a stripe.
func (service *Service) lockPair(firstID UserID, secondID UserID) (*sync.Mutex, *sync.Mutex) {
	firstIndex := stripeIndex(firstID)
	secondIndex := stripeIndex(secondID)
	if firstIndex == secondIndex {
		return &service.locks[firstIndex], nil
	}
	if firstIndex > secondIndex {
		firstIndex, secondIndex = secondIndex, firstIndex
	}
	return &service.locks[firstIndex], &service.locks[secondIndex]
}

func stripeIndex(userID UserID) uint32 {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(userID.String()))
	return hasher.Sum32() % lockStripeCount
}

func (service *Service) logAdjust(ctx context.Context, userID UserID, delta AmountCents, kind TransactionKind, description string, err error) {
	magnitude := delta
	if magnitude < 0 {
		magnitude = -magnitude
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationAdjust,
		UserID:      userID,
		Amount:      magnitude,
		Kind:        kind,
		Description: description,
		Error:       err,
	})
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
