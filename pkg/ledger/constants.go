package ledger

const (
	operationAdjust   = "adjust"
	operationTransfer = "transfer"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	lockStripeCount = 64
)
