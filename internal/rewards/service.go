// Package rewards implements the periodic income claims: the daily stipend,
// the work paycheck and the VIP bonus. Each claim is rate limited through
// the cooldown gate before any currency is issued.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bancalabs/banca/pkg/cooldown"
	"github.com/bancalabs/banca/pkg/draw"
	"github.com/bancalabs/banca/pkg/ledger"
)

// Action keys under which claims are rate limited.
const (
	ActionDaily cooldown.ActionKey = "daily"
	ActionWork  cooldown.ActionKey = "work"
	ActionVIP   cooldown.ActionKey = "vip"
)

// ErrInvalidServiceConfig reports a misconfigured rewards service.
var ErrInvalidServiceConfig = errors.New("invalid service config")

// Config carries the claim amounts and their minimum intervals.
type Config struct {
	DailyAmount   ledger.AmountCents
	DailyInterval time.Duration

	WorkMinAmount ledger.AmountCents
	WorkMaxAmount ledger.AmountCents
	WorkInterval  time.Duration

	VIPAmount   ledger.AmountCents
	VIPInterval time.Duration
}

// DefaultConfig returns the stock reward schedule.
func DefaultConfig() Config {
	return Config{
		DailyAmount:   500,
		DailyInterval: 24 * time.Hour,
		WorkMinAmount: 150,
		WorkMaxAmount: 300,
		WorkInterval:  time.Hour,
		VIPAmount:     250,
		VIPInterval:   5 * time.Hour,
	}
}

func (config Config) validate() error {
	if config.DailyAmount <= 0 || config.VIPAmount <= 0 {
		return fmt.Errorf("%w: amounts must be positive", ErrInvalidServiceConfig)
	}
	if config.WorkMinAmount <= 0 || config.WorkMaxAmount < config.WorkMinAmount {
		return fmt.Errorf("%w: invalid work amount range", ErrInvalidServiceConfig)
	}
	if config.DailyInterval <= 0 || config.WorkInterval <= 0 || config.VIPInterval <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidServiceConfig)
	}
	return nil
}

// Adjuster is the slice of the ledger the rewards service needs.
type Adjuster interface {
	Adjust(ctx context.Context, userID ledger.UserID, amount ledger.AmountCents, kind ledger.TransactionKind, description string) (ledger.Transaction, error)
}

// Limiter is the slice of the cooldown gate the rewards service needs.
type Limiter interface {
	TryClaim(ctx context.Context, userID ledger.UserID, action cooldown.ActionKey, minInterval time.Duration) error
}

// Membership checks whether a user currently holds a VIP entitlement.
type Membership interface {
	Active(ctx context.Context, userID ledger.UserID) error
}

// Service issues periodic rewards.
type Service struct {
	ledger Adjuster
	gate   Limiter
	vips   Membership
	source draw.Source
	config Config
}

// NewService wires a Service.
func NewService(adjuster Adjuster, gate Limiter, vips Membership, source draw.Source, config Config) (*Service, error) {
	if adjuster == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if gate == nil {
		return nil, fmt.Errorf("%w: gate dependency is nil", ErrInvalidServiceConfig)
	}
	if vips == nil {
		return nil, fmt.Errorf("%w: vip dependency is nil", ErrInvalidServiceConfig)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: draw source dependency is nil", ErrInvalidServiceConfig)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Service{ledger: adjuster, gate: gate, vips: vips, source: source, config: config}, nil
}

// ClaimDaily pays the fixed daily stipend once per daily interval.
func (service *Service) ClaimDaily(ctx context.Context, userID ledger.UserID) (ledger.Transaction, error) {
	if err := service.gate.TryClaim(ctx, userID, ActionDaily, service.config.DailyInterval); err != nil {
		return ledger.Transaction{}, err
	}
	return service.ledger.Adjust(ctx, userID, service.config.DailyAmount, ledger.TransactionIncome, "Daily reward")
}

// ClaimWork pays a drawn amount within the configured range once per work
// interval.
func (service *Service) ClaimWork(ctx context.Context, userID ledger.UserID) (ledger.Transaction, error) {
	if err := service.gate.TryClaim(ctx, userID, ActionWork, service.config.WorkInterval); err != nil {
		return ledger.Transaction{}, err
	}
	amount, err := draw.Between(service.source, int64(service.config.WorkMinAmount), int64(service.config.WorkMaxAmount))
	if err != nil {
		return ledger.Transaction{}, err
	}
	return service.ledger.Adjust(ctx, userID, ledger.AmountCents(amount), ledger.TransactionIncome, "Work paycheck")
}

// ClaimVIP pays the VIP bonus once per VIP interval. The caller must hold
// an active entitlement; the check runs before the cooldown so a lapsed
// VIP does not burn a claim window.
func (service *Service) ClaimVIP(ctx context.Context, userID ledger.UserID) (ledger.Transaction, error) {
	if err := service.vips.Active(ctx, userID); err != nil {
		return ledger.Transaction{}, err
	}
	if err := service.gate.TryClaim(ctx, userID, ActionVIP, service.config.VIPInterval); err != nil {
		return ledger.Transaction{}, err
	}
	return service.ledger.Adjust(ctx, userID, service.config.VIPAmount, ledger.TransactionIncome, "VIP reward")
}
