package ledger

import (
	"context"
	"errors"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsAdjustOperation(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(), WithOperationLogger(logger))
	userID := mustUserID(test, "log-user")
	if _, err := service.Adjust(context.Background(), userID, 250, TransactionIncome, "vip reward"); err != nil {
		test.Fatalf("adjust: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationAdjust || entry.UserID != userID || entry.Amount != 250 {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Status != operationStatusOK || entry.Error != nil {
		test.Fatalf("expected ok status, got %+v", entry)
	}
}

func TestServiceLogsTransferFailure(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(), WithOperationLogger(logger))
	alice := mustUserID(test, "alice")
	_, _, err := service.Transfer(context.Background(), alice, alice, 10, "a", "b")
	if !errors.Is(err, ErrSameAccountTransfer) {
		test.Fatalf("expected same-account error, got %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationTransfer || entry.Status != operationStatusError || entry.Error == nil {
		test.Fatalf("expected error entry, got %+v", entry)
	}
}
