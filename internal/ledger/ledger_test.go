package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/model/enum"
	"main/pkg/exception"
)

func fillOrder(strategy, instrument string, dir enum.Direction) model.Order {
	return model.Order{
		StrategyID: strategy,
		Instrument: instrument,
		Direction:  dir,
		OrderType:  enum.OrderTypeMarket,
	}
}

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestApplyFillScaleInWeightedAverage(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	buy := fillOrder("momentum", "AAPL", enum.DirectionLong)

	_, err := l.ApplyFill(ctx, buy, d("100"), d("150"))
	require.NoError(t, err)

	pos, err := l.ApplyFill(ctx, buy, d("50"), d("155"))
	require.NoError(t, err)

	assert.True(t, pos.Quantity.Equal(d("150")))
	assert.True(t, pos.CumEntryQty.Equal(d("150")))
	// (100*150 + 50*155) / 150
	expected := d("22750").Div(d("150"))
	assert.True(t, pos.AvgEntryPrice.Equal(expected), "got %s", pos.AvgEntryPrice)
	assert.Equal(t, enum.PositionStatusOpen, pos.Status)
}

func TestApplyFillPartialThenFullExit(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	buy := fillOrder("momentum", "AAPL", enum.DirectionLong)
	sell := fillOrder("momentum", "AAPL", enum.DirectionShort)

	_, err := l.ApplyFill(ctx, buy, d("100"), d("150"))
	require.NoError(t, err)

	pos, err := l.ApplyFill(ctx, sell, d("40"), d("160"))
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("60")))
	assert.True(t, pos.AvgEntryPrice.Equal(d("150")), "partial exit must not move entry price")
	assert.True(t, pos.RealizedPnL.Equal(d("400")))
	assert.Equal(t, enum.PositionStatusOpen, pos.Status)

	pos, err = l.ApplyFill(ctx, sell, d("60"), d("162"))
	require.NoError(t, err)
	assert.Equal(t, enum.PositionStatusClosed, pos.Status)
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.AvgExitPrice.Equal(d("162")))
	assert.True(t, pos.RealizedPnL.Equal(d("1120")))
	require.NotNil(t, pos.ClosedAt)

	_, ok := l.OpenPosition("momentum", "AAPL")
	assert.False(t, ok)
}

func TestApplyFillShortPnL(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	sell := fillOrder("meanrev", "TSLA", enum.DirectionShort)
	buy := fillOrder("meanrev", "TSLA", enum.DirectionLong)

	_, err := l.ApplyFill(ctx, sell, d("10"), d("200"))
	require.NoError(t, err)

	pos, err := l.ApplyFill(ctx, buy, d("10"), d("190"))
	require.NoError(t, err)
	assert.Equal(t, enum.PositionStatusClosed, pos.Status)
	assert.True(t, pos.RealizedPnL.Equal(d("100")), "got %s", pos.RealizedPnL)
}

func TestApplyFillOverfillRejected(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	buy := fillOrder("momentum", "AAPL", enum.DirectionLong)
	sell := fillOrder("momentum", "AAPL", enum.DirectionShort)

	_, err := l.ApplyFill(ctx, buy, d("100"), d("150"))
	require.NoError(t, err)

	_, err = l.ApplyFill(ctx, sell, d("120"), d("160"))
	assert.ErrorIs(t, err, exception.ErrLedgerOverfill)

	pos, ok := l.OpenPosition("momentum", "AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("100")), "overfill must not mutate the position")
}

func TestApplyFillStrategiesIndependent(t *testing.T) {
	l := New(nil)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, fillOrder("alpha", "AAPL", enum.DirectionLong), d("100"), d("150"))
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, fillOrder("beta", "AAPL", enum.DirectionShort), d("30"), d("151"))
	require.NoError(t, err)

	a, ok := l.OpenPosition("alpha", "AAPL")
	require.True(t, ok)
	b, ok := l.OpenPosition("beta", "AAPL")
	require.True(t, ok)

	assert.Equal(t, enum.DirectionLong, a.Direction)
	assert.Equal(t, enum.DirectionShort, b.Direction)
	assert.True(t, a.Quantity.Equal(d("100")))
	assert.True(t, b.Quantity.Equal(d("30")))
}

func TestApplyFillNonPositiveQuantity(t *testing.T) {
	l := New(nil)
	_, err := l.ApplyFill(context.Background(), fillOrder("a", "AAPL", enum.DirectionLong), decimal.Zero, d("10"))
	assert.ErrorIs(t, err, exception.ErrLedgerNonPositiveFill)
}

func TestRestoreSkipsClosed(t *testing.T) {
	l := New(nil)
	l.Restore([]model.Position{
		{StrategyID: "a", Instrument: "AAPL", Status: enum.PositionStatusOpen, Quantity: d("5")},
		{StrategyID: "b", Instrument: "MSFT", Status: enum.PositionStatusClosed},
	})

	_, ok := l.OpenPosition("a", "AAPL")
	assert.True(t, ok)
	_, ok = l.OpenPosition("b", "MSFT")
	assert.False(t, ok)
}
