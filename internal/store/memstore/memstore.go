// Package memstore keeps every store contract in process memory. It backs
// tests and the no-persistence run mode; nothing survives a restart.
package memstore

import (
	"context"
	"sync"

	"github.com/bancalabs/banca/internal/admin"
	"github.com/bancalabs/banca/internal/vip"
	"github.com/bancalabs/banca/pkg/cooldown"
	"github.com/bancalabs/banca/pkg/ledger"
)

// Store implements the ledger, cooldown, vip and admin store contracts
// with maps guarded by one mutex.
type Store struct {
	mutex        sync.Mutex
	balances     map[string]ledger.AmountCents
	transactions []ledger.Transaction
	claims       map[string]map[cooldown.ActionKey]int64
	entitlements map[string]vip.Entitlement
	grants       map[string]admin.Grant
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		balances:     map[string]ledger.AmountCents{},
		claims:       map[string]map[cooldown.ActionKey]int64{},
		entitlements: map[string]vip.Entitlement{},
		grants:       map[string]admin.Grant{},
	}
}

// WithTx runs fn against a view of the same store and rolls the ledger
// state back when fn fails. The mutex is held for the whole transaction,
// matching the all-or-nothing contract.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	balancesSnapshot := make(map[string]ledger.AmountCents, len(store.balances))
	for key, value := range store.balances {
		balancesSnapshot[key] = value
	}
	transactionsLen := len(store.transactions)

	err := fn(ctx, &lockedStore{store: store})
	if err != nil {
		store.balances = balancesSnapshot
		store.transactions = store.transactions[:transactionsLen]
	}
	return err
}

// GetOrCreateBalance returns the user's balance, creating a zero-balance
// account on first touch.
func (store *Store) GetOrCreateBalance(_ context.Context, userID ledger.UserID) (ledger.AmountCents, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.getOrCreateBalanceLocked(userID), nil
}

// AddToBalance applies a signed delta to the user's balance.
func (store *Store) AddToBalance(_ context.Context, userID ledger.UserID, delta ledger.AmountCents) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.addToBalanceLocked(userID, delta)
	return nil
}

// InsertTransaction appends one history row.
func (store *Store) InsertTransaction(_ context.Context, transaction ledger.Transaction) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.transactions = append(store.transactions, transaction)
	return nil
}

// ListTransactions returns the user's most recent rows, newest first.
func (store *Store) ListTransactions(_ context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.listTransactionsLocked(userID, limit), nil
}

// GetLastClaim returns the unix time of the user's last claim of an action.
func (store *Store) GetLastClaim(_ context.Context, userID ledger.UserID, action cooldown.ActionKey) (int64, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	byAction, exists := store.claims[userID.String()]
	if !exists {
		return 0, false, nil
	}
	at, exists := byAction[action]
	return at, exists, nil
}

// UpsertLastClaim stamps the user's last claim of an action.
func (store *Store) UpsertLastClaim(_ context.Context, userID ledger.UserID, action cooldown.ActionKey, atUnixUTC int64) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	byAction, exists := store.claims[userID.String()]
	if !exists {
		byAction = map[cooldown.ActionKey]int64{}
		store.claims[userID.String()] = byAction
	}
	byAction[action] = atUnixUTC
	return nil
}

// GetEntitlement returns the user's VIP record when one exists.
func (store *Store) GetEntitlement(_ context.Context, userID ledger.UserID) (vip.Entitlement, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entitlement, exists := store.entitlements[userID.String()]
	return entitlement, exists, nil
}

// UpsertEntitlement writes the user's VIP record.
func (store *Store) UpsertEntitlement(_ context.Context, entitlement vip.Entitlement) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entitlements[entitlement.UserID.String()] = entitlement
	return nil
}

// GetGrant returns the user's admin grant when one exists.
func (store *Store) GetGrant(_ context.Context, userID ledger.UserID) (admin.Grant, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	grant, exists := store.grants[userID.String()]
	return grant, exists, nil
}

// InsertGrant records an admin grant.
func (store *Store) InsertGrant(_ context.Context, grant admin.Grant) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.grants[grant.UserID.String()]; exists {
		return admin.ErrAlreadyAuthorized
	}
	store.grants[grant.UserID.String()] = grant
	return nil
}

// DeleteGrant removes an admin grant, reporting whether one existed.
func (store *Store) DeleteGrant(_ context.Context, userID ledger.UserID) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	_, exists := store.grants[userID.String()]
	delete(store.grants, userID.String())
	return exists, nil
}

func (store *Store) getOrCreateBalanceLocked(userID ledger.UserID) ledger.AmountCents {
	balance, exists := store.balances[userID.String()]
	if !exists {
		store.balances[userID.String()] = 0
	}
	return balance
}

func (store *Store) addToBalanceLocked(userID ledger.UserID, delta ledger.AmountCents) {
	store.balances[userID.String()] += delta
}

func (store *Store) listTransactionsLocked(userID ledger.UserID, limit int) []ledger.Transaction {
	matched := make([]ledger.Transaction, 0, limit)
	for index := len(store.transactions) - 1; index >= 0 && len(matched) < limit; index-- {
		if store.transactions[index].UserID == userID {
			matched = append(matched, store.transactions[index])
		}
	}
	return matched
}

// lockedStore serves ledger calls issued inside WithTx, where the outer
// mutex is already held.
type lockedStore struct {
	store *Store
}

func (locked *lockedStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, locked)
}

func (locked *lockedStore) GetOrCreateBalance(_ context.Context, userID ledger.UserID) (ledger.AmountCents, error) {
	return locked.store.getOrCreateBalanceLocked(userID), nil
}

func (locked *lockedStore) AddToBalance(_ context.Context, userID ledger.UserID, delta ledger.AmountCents) error {
	locked.store.addToBalanceLocked(userID, delta)
	return nil
}

func (locked *lockedStore) InsertTransaction(_ context.Context, transaction ledger.Transaction) error {
	locked.store.transactions = append(locked.store.transactions, transaction)
	return nil
}

func (locked *lockedStore) ListTransactions(_ context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	return locked.store.listTransactionsLocked(userID, limit), nil
}
