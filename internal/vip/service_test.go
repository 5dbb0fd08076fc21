package vip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bancalabs/banca/pkg/ledger"
)

type stubStore struct {
	entitlements map[string]Entitlement
	upsertErr    error
}

func newStubStore() *stubStore {
	return &stubStore{entitlements: map[string]Entitlement{}}
}

func (store *stubStore) GetEntitlement(_ context.Context, userID ledger.UserID) (Entitlement, bool, error) {
	entitlement, exists := store.entitlements[userID.String()]
	return entitlement, exists, nil
}

func (store *stubStore) UpsertEntitlement(_ context.Context, entitlement Entitlement) error {
	if store.upsertErr != nil {
		return store.upsertErr
	}
	store.entitlements[entitlement.UserID.String()] = entitlement
	return nil
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("new user id: %v", err)
	}
	return userID
}

func mustService(test *testing.T, store Store, now func() int64) *Service {
	test.Helper()
	service, err := NewService(store, now)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func TestGrantStartsFromNowForNewUser(test *testing.T) {
	test.Parallel()

	store := newStubStore()
	service := mustService(test, store, func() int64 { return 1000 })
	alice := mustUserID(test, "alice")

	entitlement, err := service.Grant(context.Background(), alice, 48*time.Hour)
	if err != nil {
		test.Fatalf("grant: %v", err)
	}
	expected := int64(1000 + 48*3600)
	if entitlement.ExpiresUnixUTC != expected {
		test.Fatalf("expected expiry %d, got %d", expected, entitlement.ExpiresUnixUTC)
	}
}

func TestGrantExtendsUnexpiredEntitlement(test *testing.T) {
	test.Parallel()

	store := newStubStore()
	service := mustService(test, store, func() int64 { return 1000 })
	alice := mustUserID(test, "alice")

	if _, err := service.Grant(context.Background(), alice, time.Hour); err != nil {
		test.Fatalf("first grant: %v", err)
	}
	entitlement, err := service.Grant(context.Background(), alice, time.Hour)
	if err != nil {
		test.Fatalf("second grant: %v", err)
	}
	if entitlement.ExpiresUnixUTC != 1000+2*3600 {
		test.Fatalf("expected stacked expiry %d, got %d", 1000+2*3600, entitlement.ExpiresUnixUTC)
	}
}

func TestGrantRestartsFromNowAfterExpiry(test *testing.T) {
	test.Parallel()

	now := int64(1000)
	store := newStubStore()
	service := mustService(test, store, func() int64 { return now })
	alice := mustUserID(test, "alice")

	if _, err := service.Grant(context.Background(), alice, time.Hour); err != nil {
		test.Fatalf("grant: %v", err)
	}

	now = 1000 + 3600 + 500
	entitlement, err := service.Grant(context.Background(), alice, time.Hour)
	if err != nil {
		test.Fatalf("regrant: %v", err)
	}
	if entitlement.ExpiresUnixUTC != now+3600 {
		test.Fatalf("expected fresh expiry %d, got %d", now+3600, entitlement.ExpiresUnixUTC)
	}
}

func TestActiveDistinguishesMissingAndExpired(test *testing.T) {
	test.Parallel()

	now := int64(1000)
	store := newStubStore()
	service := mustService(test, store, func() int64 { return now })
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")

	if err := service.Active(context.Background(), bob); !errors.Is(err, ErrNotVIP) {
		test.Fatalf("expected ErrNotVIP, got %v", err)
	}

	if _, err := service.Grant(context.Background(), alice, time.Hour); err != nil {
		test.Fatalf("grant: %v", err)
	}
	if err := service.Active(context.Background(), alice); err != nil {
		test.Fatalf("expected active entitlement, got %v", err)
	}

	now = 1000 + 3601
	if err := service.Active(context.Background(), alice); !errors.Is(err, ErrVIPExpired) {
		test.Fatalf("expected ErrVIPExpired, got %v", err)
	}
}

func TestSetEmblemRequiresActiveEntitlement(test *testing.T) {
	test.Parallel()

	now := int64(1000)
	store := newStubStore()
	service := mustService(test, store, func() int64 { return now })
	alice := mustUserID(test, "alice")

	if _, err := service.SetEmblem(context.Background(), alice, "⭐"); !errors.Is(err, ErrNotVIP) {
		test.Fatalf("expected ErrNotVIP, got %v", err)
	}

	if _, err := service.Grant(context.Background(), alice, time.Hour); err != nil {
		test.Fatalf("grant: %v", err)
	}
	entitlement, err := service.SetEmblem(context.Background(), alice, "⭐")
	if err != nil {
		test.Fatalf("set emblem: %v", err)
	}
	if entitlement.Emblem != "⭐" {
		test.Fatalf("expected emblem to stick, got %q", entitlement.Emblem)
	}

	now = 1000 + 3601
	if _, err := service.SetEmblem(context.Background(), alice, "👑"); !errors.Is(err, ErrVIPExpired) {
		test.Fatalf("expected ErrVIPExpired, got %v", err)
	}
	if store.entitlements["alice"].Emblem != "⭐" {
		test.Fatalf("expired update must not persist, got %q", store.entitlements["alice"].Emblem)
	}
}

func TestGrantRejectsNonPositiveDuration(test *testing.T) {
	test.Parallel()

	service := mustService(test, newStubStore(), func() int64 { return 0 })
	alice := mustUserID(test, "alice")

	if _, err := service.Grant(context.Background(), alice, 0); !errors.Is(err, ErrInvalidDuration) {
		test.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}
