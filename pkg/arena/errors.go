package arena

import "errors"

// Domain-level error values returned by the session engine. All are
// expected, recoverable, caller-facing conditions; the engine never retries
// on its own.
var (
	ErrUnknownSession         = errors.New("unknown session")
	ErrInvalidParticipant     = errors.New("invalid participant")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrSessionNotJoinable     = errors.New("session not joinable")
	ErrSessionAlreadyTerminal = errors.New("session already terminal")
	ErrAlreadyGuessed         = errors.New("already guessed")
	ErrNotEnoughParticipants  = errors.New("not enough participants")
	ErrInvalidStake           = errors.New("invalid stake")
	ErrInvalidCapacity        = errors.New("invalid capacity")
	ErrInvalidChoice          = errors.New("invalid choice")
	ErrInvalidKind            = errors.New("invalid session kind")
	ErrInvalidEngineConfig    = errors.New("invalid engine config")
)
