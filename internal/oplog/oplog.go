// Package oplog bridges ledger operation callbacks into zap.
package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/bancalabs/banca/pkg/ledger"
)

// ZapLogger implements ledger.OperationLogger over a zap logger.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger returns a ZapLogger. A nil logger falls back to zap.NewNop.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

// LogOperation emits one structured entry per ledger operation.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.String("kind", entry.Kind.String()),
		zap.String("description", entry.Description),
		zap.String("status", entry.Status),
	}
	if entry.CounterpartyID != nil {
		fields = append(fields, zap.String("counterparty_id", entry.CounterpartyID.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("ledger operation failed", fields...)
		return
	}
	zapLogger.logger.Info("ledger operation", fields...)
}
