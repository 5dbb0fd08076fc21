// Package gormstore persists accounts, transactions, cooldowns, VIP
// entitlements and admin grants through GORM, against SQLite or Postgres.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bancalabs/banca/internal/admin"
	"github.com/bancalabs/banca/internal/vip"
	"github.com/bancalabs/banca/pkg/cooldown"
	"github.com/bancalabs/banca/pkg/ledger"
)

const (
	constraintTransactionID = "uniq_transactions_transaction_id"
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectTransaction = "transaction"
	errorSubjectCooldown    = "cooldown"
	errorSubjectVIP         = "vip"
	errorSubjectAdmin       = "admin"
	errorCodeCreate         = "create"
	errorCodeDelete         = "delete"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeUpdate         = "update"
	errorCodeUpsert         = "upsert"
)

// ErrDuplicateTransactionID reports a transaction id collision on insert.
var ErrDuplicateTransactionID = errors.New("duplicate transaction id")

// ErrUnknownAccount reports a balance update against a missing account row.
var ErrUnknownAccount = errors.New("unknown account")

// Store implements the ledger, cooldown, vip and admin store contracts
// over a shared gorm.DB.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema for every model.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetOrCreateBalance returns the user's balance, inserting a zero-balance
// row for a user the store has never seen.
func (store *Store) GetOrCreateBalance(ctx context.Context, userID ledger.UserID) (ledger.AmountCents, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"user_id": clause.Expr{SQL: "excluded.user_id"},
			}),
		}).
		FirstOrCreate(&account, Account{UserID: userID.String()}).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return ledger.AmountCents(account.BalanceCents), nil
}

// AddToBalance applies a signed delta to an existing account row.
func (store *Store) AddToBalance(ctx context.Context, userID ledger.UserID, delta ledger.AmountCents) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ?", userID.String()).
		Update("balance_cents", gorm.Expr("balance_cents + ?", delta.Int64()))
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ErrUnknownAccount)
	}
	return nil
}

// InsertTransaction appends one history row.
func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	row := TransactionRow{
		TransactionID: transaction.TransactionID,
		UserID:        transaction.UserID.String(),
		Kind:          transaction.Kind.String(),
		AmountCents:   transaction.AmountCents.Int64(),
		Description:   transaction.Description,
		CreatedAt:     time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isTransactionConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ErrDuplicateTransactionID)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

// ListTransactions returns the user's most recent rows, newest first.
func (store *Store) ListTransactions(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	var rows []TransactionRow
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// GetLastClaim returns the unix time of the user's last claim of an action.
func (store *Store) GetLastClaim(ctx context.Context, userID ledger.UserID, action cooldown.ActionKey) (int64, bool, error) {
	var row CooldownRow
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND action_key = ?", userID.String(), action.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapStoreError(errorSubjectCooldown, errorCodeGet, err)
	}
	return row.LastClaimAt.Unix(), true, nil
}

// UpsertLastClaim stamps the user's last claim of an action.
func (store *Store) UpsertLastClaim(ctx context.Context, userID ledger.UserID, action cooldown.ActionKey, atUnixUTC int64) error {
	row := CooldownRow{
		UserID:      userID.String(),
		ActionKey:   action.String(),
		LastClaimAt: time.Unix(atUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "action_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_claim_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectCooldown, errorCodeUpsert, err)
	}
	return nil
}

type vipProfile struct {
	Emblem string `json:"emblem,omitempty"`
}

// GetEntitlement returns the user's VIP record when one exists.
func (store *Store) GetEntitlement(ctx context.Context, userID ledger.UserID) (vip.Entitlement, bool, error) {
	var row VIPRow
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return vip.Entitlement{}, false, nil
	}
	if err != nil {
		return vip.Entitlement{}, false, wrapStoreError(errorSubjectVIP, errorCodeGet, err)
	}
	entitlement, err := mapEntitlement(row)
	if err != nil {
		return vip.Entitlement{}, false, wrapStoreError(errorSubjectVIP, errorCodeInvalid, err)
	}
	return entitlement, true, nil
}

// UpsertEntitlement writes the user's VIP record.
func (store *Store) UpsertEntitlement(ctx context.Context, entitlement vip.Entitlement) error {
	profile, err := json.Marshal(vipProfile{Emblem: entitlement.Emblem})
	if err != nil {
		return wrapStoreError(errorSubjectVIP, errorCodeInvalid, err)
	}
	row := VIPRow{
		UserID:    entitlement.UserID.String(),
		ExpiresAt: time.Unix(entitlement.ExpiresUnixUTC, 0).UTC(),
		Profile:   datatypes.JSON(profile),
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at", "profile", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectVIP, errorCodeUpsert, err)
	}
	return nil
}

// GetGrant returns the user's admin grant when one exists.
func (store *Store) GetGrant(ctx context.Context, userID ledger.UserID) (admin.Grant, bool, error) {
	var row AdminGrantRow
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return admin.Grant{}, false, nil
	}
	if err != nil {
		return admin.Grant{}, false, wrapStoreError(errorSubjectAdmin, errorCodeGet, err)
	}
	grant, err := mapGrant(row)
	if err != nil {
		return admin.Grant{}, false, wrapStoreError(errorSubjectAdmin, errorCodeInvalid, err)
	}
	return grant, true, nil
}

// InsertGrant records an admin grant.
func (store *Store) InsertGrant(ctx context.Context, grant admin.Grant) error {
	row := AdminGrantRow{
		UserID:    grant.UserID.String(),
		GrantedBy: grant.GrantedBy.String(),
		CreatedAt: time.Unix(grant.GrantedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAdmin, errorCodeDuplicate, admin.ErrAlreadyAuthorized)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAdmin, errorCodeCreate, err)
	}
	return nil
}

// DeleteGrant removes an admin grant, reporting whether one existed.
func (store *Store) DeleteGrant(ctx context.Context, userID ledger.UserID) (bool, error) {
	result := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Delete(&AdminGrantRow{})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectAdmin, errorCodeDelete, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapTransaction(row TransactionRow) (ledger.Transaction, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	kind, err := ledger.ParseTransactionKind(row.Kind)
	if err != nil {
		return ledger.Transaction{}, err
	}
	amount, err := ledger.NewPositiveAmountCents(row.AmountCents)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		TransactionID:  row.TransactionID,
		UserID:         userID,
		Kind:           kind,
		AmountCents:    amount,
		Description:    row.Description,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapEntitlement(row VIPRow) (vip.Entitlement, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return vip.Entitlement{}, err
	}
	var profile vipProfile
	if len(row.Profile) > 0 {
		if err := json.Unmarshal(row.Profile, &profile); err != nil {
			return vip.Entitlement{}, err
		}
	}
	return vip.Entitlement{
		UserID:         userID,
		ExpiresUnixUTC: row.ExpiresAt.Unix(),
		Emblem:         profile.Emblem,
	}, nil
}

func mapGrant(row AdminGrantRow) (admin.Grant, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return admin.Grant{}, err
	}
	grantedBy, err := ledger.NewUserID(row.GrantedBy)
	if err != nil {
		return admin.Grant{}, err
	}
	return admin.Grant{
		UserID:         userID,
		GrantedBy:      grantedBy,
		GrantedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionID
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
