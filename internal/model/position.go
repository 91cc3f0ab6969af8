package model

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Position is the ledger view of one (strategy, instrument) pair. At most one
// open position exists per pair; positions of different strategies sharing an
// instrument are tracked independently and never netted.
type Position struct {
	StrategyID    string              `json:"strategy_id"`
	EntrySignalID string              `json:"entry_signal_id,omitempty"`
	Instrument    string              `json:"instrument"`
	Direction     enum.Direction      `json:"direction"`
	Quantity      decimal.Decimal     `json:"quantity"`
	CumEntryQty   decimal.Decimal     `json:"cum_entry_qty"`
	AvgEntryPrice decimal.Decimal     `json:"avg_entry_price"`
	AvgExitPrice  decimal.Decimal     `json:"avg_exit_price,omitempty"`
	Status        enum.PositionStatus `json:"status"`
	RealizedPnL   decimal.Decimal     `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal     `json:"unrealized_pnl"`
	CurrentPrice  decimal.Decimal     `json:"current_price"`
	OpenedAt      time.Time           `json:"opened_at"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
}
