// Package vip tracks VIP entitlements: an expiry granted by an admin and a
// cosmetic emblem the holder may customize while the entitlement is active.
package vip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bancalabs/banca/pkg/ledger"
)

// Error values returned by the VIP service.
var (
	ErrNotVIP               = errors.New("not a vip")
	ErrVIPExpired           = errors.New("vip expired")
	ErrInvalidDuration      = errors.New("invalid duration")
	ErrInvalidEmblem        = errors.New("invalid emblem")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// Entitlement is one user's VIP record.
type Entitlement struct {
	UserID         ledger.UserID
	ExpiresUnixUTC int64
	Emblem         string
}

// Active reports whether the entitlement covers the given instant.
func (entitlement Entitlement) Active(atUnixUTC int64) bool {
	return entitlement.ExpiresUnixUTC > atUnixUTC
}

// Store is the persistence contract for VIP records.
type Store interface {
	GetEntitlement(ctx context.Context, userID ledger.UserID) (Entitlement, bool, error)
	UpsertEntitlement(ctx context.Context, entitlement Entitlement) error
}

// Service contains the entitlement logic over a Store.
type Service struct {
	store Store
	nowFn func() int64
}

// NewService wires a Service.
func NewService(store Store, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, nowFn: now}, nil
}

// Grant extends the user's entitlement by duration, counting from the
// current expiry when it is still in the future.
func (service *Service) Grant(ctx context.Context, userID ledger.UserID, duration time.Duration) (Entitlement, error) {
	if duration <= 0 {
		return Entitlement{}, fmt.Errorf("%w: must be positive", ErrInvalidDuration)
	}
	now := service.nowFn()
	entitlement, exists, err := service.store.GetEntitlement(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}
	base := now
	if exists && entitlement.ExpiresUnixUTC > now {
		base = entitlement.ExpiresUnixUTC
	}
	if !exists {
		entitlement = Entitlement{UserID: userID}
	}
	entitlement.ExpiresUnixUTC = base + int64(duration/time.Second)
	if err := service.store.UpsertEntitlement(ctx, entitlement); err != nil {
		return Entitlement{}, err
	}
	return entitlement, nil
}

// Entitlement returns the user's record, expired or not.
func (service *Service) Entitlement(ctx context.Context, userID ledger.UserID) (Entitlement, error) {
	entitlement, exists, err := service.store.GetEntitlement(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}
	if !exists {
		return Entitlement{}, ErrNotVIP
	}
	return entitlement, nil
}

// Active fails unless the user currently holds an unexpired entitlement.
func (service *Service) Active(ctx context.Context, userID ledger.UserID) error {
	entitlement, err := service.Entitlement(ctx, userID)
	if err != nil {
		return err
	}
	if !entitlement.Active(service.nowFn()) {
		return ErrVIPExpired
	}
	return nil
}

// SetEmblem updates the cosmetic marker. Only active VIPs may customize it.
func (service *Service) SetEmblem(ctx context.Context, userID ledger.UserID, emblem string) (Entitlement, error) {
	trimmed := strings.TrimSpace(emblem)
	if trimmed == "" {
		return Entitlement{}, fmt.Errorf("%w: empty value", ErrInvalidEmblem)
	}
	entitlement, err := service.Entitlement(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}
	if !entitlement.Active(service.nowFn()) {
		return Entitlement{}, ErrVIPExpired
	}
	entitlement.Emblem = trimmed
	if err := service.store.UpsertEntitlement(ctx, entitlement); err != nil {
		return Entitlement{}, err
	}
	return entitlement, nil
}
