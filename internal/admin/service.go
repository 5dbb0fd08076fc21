// Package admin maintains the set of users allowed to mint currency and
// exposes the mint operation itself.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/bancalabs/banca/pkg/ledger"
)

// Error values returned by the admin service.
var (
	ErrNotAuthorized        = errors.New("not authorized")
	ErrAlreadyAuthorized    = errors.New("already authorized")
	ErrGrantNotFound        = errors.New("grant not found")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// Grant records one user's admin authorization.
type Grant struct {
	UserID         ledger.UserID
	GrantedBy      ledger.UserID
	GrantedUnixUTC int64
}

// Store is the persistence contract for admin grants.
type Store interface {
	GetGrant(ctx context.Context, userID ledger.UserID) (Grant, bool, error)
	InsertGrant(ctx context.Context, grant Grant) error
	DeleteGrant(ctx context.Context, userID ledger.UserID) (bool, error)
}

// Adjuster is the slice of the ledger the admin service needs.
type Adjuster interface {
	Adjust(ctx context.Context, userID ledger.UserID, amount ledger.AmountCents, kind ledger.TransactionKind, description string) (ledger.Transaction, error)
}

// Service gates privileged operations behind the grant set.
type Service struct {
	store  Store
	ledger Adjuster
	nowFn  func() int64
}

// NewService wires a Service.
func NewService(store Store, adjuster Adjuster, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if adjuster == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, ledger: adjuster, nowFn: now}, nil
}

// IsAuthorized reports whether the user holds an admin grant.
func (service *Service) IsAuthorized(ctx context.Context, userID ledger.UserID) (bool, error) {
	_, exists, err := service.store.GetGrant(ctx, userID)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Bootstrap installs a grant without requiring an authorized actor. Meant
// for seeding the first admin at deploy time.
func (service *Service) Bootstrap(ctx context.Context, userID ledger.UserID) error {
	_, exists, err := service.store.GetGrant(ctx, userID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return service.store.InsertGrant(ctx, Grant{
		UserID:         userID,
		GrantedBy:      userID,
		GrantedUnixUTC: service.nowFn(),
	})
}

// GrantAccess lets an existing admin authorize another user.
func (service *Service) GrantAccess(ctx context.Context, actorID ledger.UserID, userID ledger.UserID) error {
	if err := service.requireAuthorized(ctx, actorID); err != nil {
		return err
	}
	_, exists, err := service.store.GetGrant(ctx, userID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyAuthorized, userID)
	}
	return service.store.InsertGrant(ctx, Grant{
		UserID:         userID,
		GrantedBy:      actorID,
		GrantedUnixUTC: service.nowFn(),
	})
}

// RevokeAccess lets an existing admin remove another user's grant.
func (service *Service) RevokeAccess(ctx context.Context, actorID ledger.UserID, userID ledger.UserID) error {
	if err := service.requireAuthorized(ctx, actorID); err != nil {
		return err
	}
	removed, err := service.store.DeleteGrant(ctx, userID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", ErrGrantNotFound, userID)
	}
	return nil
}

// Credit mints currency into a user's account on behalf of an admin.
func (service *Service) Credit(ctx context.Context, actorID ledger.UserID, userID ledger.UserID, amount ledger.AmountCents, note string) (ledger.Transaction, error) {
	if err := service.requireAuthorized(ctx, actorID); err != nil {
		return ledger.Transaction{}, err
	}
	description := note
	if description == "" {
		description = fmt.Sprintf("Granted by %s", actorID)
	}
	return service.ledger.Adjust(ctx, userID, amount, ledger.TransactionIncome, description)
}

func (service *Service) requireAuthorized(ctx context.Context, actorID ledger.UserID) error {
	authorized, err := service.IsAuthorized(ctx, actorID)
	if err != nil {
		return err
	}
	if !authorized {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, actorID)
	}
	return nil
}
