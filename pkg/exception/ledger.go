package exception

import "errors"

// Ledger errors
var (
	ErrLedgerNoOpenPosition  = errors.New("ledger: no open position")
	ErrLedgerOverfill        = errors.New("ledger: exit quantity exceeds open quantity")
	ErrLedgerDirectionFlip   = errors.New("ledger: fill direction conflicts with open position")
	ErrLedgerNonPositiveFill = errors.New("ledger: fill quantity must be positive")
)
