// Package cooldown rate-limits periodic claims per user and action.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/bancalabs/banca/pkg/ledger"
)

// Error values returned by the gate.
var (
	ErrCooldownActive    = errors.New("cooldown active")
	ErrInvalidActionKey  = errors.New("invalid action key")
	ErrInvalidInterval   = errors.New("invalid interval")
	ErrInvalidGateConfig = errors.New("invalid gate config")
)

// ActiveError reports how long a caller must wait before the next claim.
type ActiveError struct {
	Remaining time.Duration
}

// Error returns the formatted error message.
func (activeError ActiveError) Error() string {
	return fmt.Sprintf("cooldown active: %s remaining", activeError.Remaining)
}

// Is matches the ErrCooldownActive sentinel.
func (activeError ActiveError) Is(target error) bool {
	return target == ErrCooldownActive
}

// ActionKey names a rate-limited action. Distinct actions carry
// independent timers.
type ActionKey string

// String returns the key label.
func (key ActionKey) String() string {
	return string(key)
}

// Store is the persistence contract for cooldown records. A record exists
// only after the first successful claim.
type Store interface {
	GetLastClaim(ctx context.Context, userID ledger.UserID, action ActionKey) (int64, bool, error)
	UpsertLastClaim(ctx context.Context, userID ledger.UserID, action ActionKey, atUnixUTC int64) error
}

// Gate performs atomic check-and-update of cooldown records. The check and
// the timestamp write for one (user, action) pair never interleave with a
// concurrent claim for the same pair.
type Gate struct {
	store Store
	nowFn func() int64
	locks [lockStripeCount]sync.Mutex
}

const lockStripeCount = 64

// NewGate wires a Gate.
func NewGate(store Store, now func() int64) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidGateConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidGateConfig)
	}
	return &Gate{store: store, nowFn: now}, nil
}

// TryClaim succeeds and stamps the record when the user's last claim for the
// action is at least minInterval in the past (or absent). Otherwise it
// returns an ActiveError with the remaining wait and leaves the record
// untouched.
func (gate *Gate) TryClaim(ctx context.Context, userID ledger.UserID, action ActionKey, minInterval time.Duration) error {
	if strings.TrimSpace(action.String()) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidActionKey)
	}
	if minInterval <= 0 {
		return fmt.Errorf("%w: must be positive", ErrInvalidInterval)
	}

	stripe := gate.lockFor(userID, action)
	stripe.Lock()
	defer stripe.Unlock()

	now := gate.nowFn()
	lastClaim, exists, err := gate.store.GetLastClaim(ctx, userID, action)
	if err != nil {
		return err
	}
	if exists {
		elapsed := time.Duration(now-lastClaim) * time.Second
		if elapsed < minInterval {
			return ActiveError{Remaining: minInterval - elapsed}
		}
	}
	return gate.store.UpsertLastClaim(ctx, userID, action, now)
}

func (gate *Gate) lockFor(userID ledger.UserID, action ActionKey) *sync.Mutex {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(userID.String()))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(action))
	return &gate.locks[hasher.Sum32()%lockStripeCount]
}
