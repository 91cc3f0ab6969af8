package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/model"
	"main/internal/model/enum"
)

type positionRow struct {
	StrategyID    string `gorm:"primaryKey;size:64"`
	Instrument    string `gorm:"primaryKey;size:64"`
	OpenedAtNano  int64  `gorm:"primaryKey;autoIncrement:false"`
	EntrySignalID string `gorm:"size:64"`
	Direction     string `gorm:"size:8"`
	Quantity      string `gorm:"type:numeric"`
	CumEntryQty   string `gorm:"type:numeric"`
	AvgEntryPrice string `gorm:"type:numeric"`
	AvgExitPrice  string `gorm:"type:numeric"`
	Status        string `gorm:"size:8;index"`
	RealizedPnL   string `gorm:"type:numeric"`
	ClosedAtNano  int64
}

func (positionRow) TableName() string {
	return "positions"
}

// Store persists ledger positions in postgres. One row per position lifetime,
// upserted on every fill.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&positionRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate positions")
	}
	return &Store{db: db}, nil
}

func (s *Store) SavePosition(ctx context.Context, p model.Position) error {
	row := positionRow{
		StrategyID:    p.StrategyID,
		Instrument:    p.Instrument,
		OpenedAtNano:  p.OpenedAt.UnixNano(),
		EntrySignalID: p.EntrySignalID,
		Direction:     p.Direction.String(),
		Quantity:      p.Quantity.String(),
		CumEntryQty:   p.CumEntryQty.String(),
		AvgEntryPrice: p.AvgEntryPrice.String(),
		AvgExitPrice:  p.AvgExitPrice.String(),
		Status:        p.Status.String(),
		RealizedPnL:   p.RealizedPnL.String(),
	}
	if p.ClosedAt != nil {
		row.ClosedAtNano = p.ClosedAt.UnixNano()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "upsert position")
	}
	return nil
}

// OpenPositions loads every OPEN row, used to rebuild the in-memory ledger on
// startup.
func (s *Store) OpenPositions(ctx context.Context) ([]model.Position, error) {
	var rows []positionRow
	err := s.db.WithContext(ctx).
		Where("status = ?", enum.PositionStatusOpen.String()).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "load open positions")
	}

	out := make([]model.Position, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// StrategyReturns builds daily return series per strategy from closed
// positions over the trailing window, for the allocation solve. A position's
// return is its realized PnL over the entry notional, bucketed by close day;
// days without closes contribute zero.
func (s *Store) StrategyReturns(ctx context.Context, days int) (map[string][]float64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var rows []positionRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND closed_at_nano >= ?", enum.PositionStatusClosed.String(), cutoff.UnixNano()).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "load closed positions")
	}

	out := make(map[string][]float64)
	for _, row := range rows {
		pnl, err := decimal.NewFromString(row.RealizedPnL)
		if err != nil {
			continue
		}
		entry, err := decimal.NewFromString(row.AvgEntryPrice)
		if err != nil || !entry.IsPositive() {
			continue
		}
		cumQty, err := decimal.NewFromString(row.CumEntryQty)
		if err != nil || !cumQty.IsPositive() {
			continue
		}

		closed := time.Unix(0, row.ClosedAtNano).UTC()
		day := days - 1 - int(time.Since(closed).Hours()/24)
		if day < 0 || day >= days {
			continue
		}

		series, ok := out[row.StrategyID]
		if !ok {
			series = make([]float64, days)
			out[row.StrategyID] = series
		}
		series[day] += pnl.Div(entry.Mul(cumQty)).InexactFloat64()
	}
	return out, nil
}

func (row positionRow) toModel() (model.Position, error) {
	direction, ok := enum.ParseDirection(row.Direction)
	if !ok {
		return model.Position{}, errors.Errorf("position row direction %q", row.Direction)
	}
	status, ok := enum.ParsePositionStatus(row.Status)
	if !ok {
		return model.Position{}, errors.Errorf("position row status %q", row.Status)
	}

	var err error
	p := model.Position{
		StrategyID:    row.StrategyID,
		EntrySignalID: row.EntrySignalID,
		Instrument:    row.Instrument,
		Direction:     direction,
		Status:        status,
		OpenedAt:      time.Unix(0, row.OpenedAtNano).UTC(),
	}
	if p.Quantity, err = decimal.NewFromString(row.Quantity); err != nil {
		return model.Position{}, errors.Wrap(err, "position row quantity")
	}
	if p.CumEntryQty, err = decimal.NewFromString(row.CumEntryQty); err != nil {
		return model.Position{}, errors.Wrap(err, "position row entry quantity")
	}
	if p.AvgEntryPrice, err = decimal.NewFromString(row.AvgEntryPrice); err != nil {
		return model.Position{}, errors.Wrap(err, "position row entry price")
	}
	if p.AvgExitPrice, err = decimal.NewFromString(row.AvgExitPrice); err != nil {
		return model.Position{}, errors.Wrap(err, "position row exit price")
	}
	if p.RealizedPnL, err = decimal.NewFromString(row.RealizedPnL); err != nil {
		return model.Position{}, errors.Wrap(err, "position row pnl")
	}
	if row.ClosedAtNano != 0 {
		t := time.Unix(0, row.ClosedAtNano).UTC()
		p.ClosedAt = &t
	}
	return p, nil
}
