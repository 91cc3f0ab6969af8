package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProcessingRecord links a raw signal to its downstream lifecycle. Exactly one
// record exists per signal; it is never deleted, only updated and appended to.
type ProcessingRecord struct {
	RecordID       string          `json:"record_id"`
	RawSignalRef   string          `json:"raw_signal_ref"`
	SignalID       string          `json:"signal_id"`
	Decision       string          `json:"decision,omitempty"`
	DecisionReason string          `json:"decision_reason,omitempty"`
	ExecutionRef   string          `json:"execution_ref,omitempty"`
	PositionStatus string          `json:"position_status,omitempty"`
	ExitSignalIDs  []string        `json:"exit_signals,omitempty"`
	PnLRealized    decimal.Decimal `json:"pnl_realized"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
