package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"main/internal/model"
	"main/internal/model/enum"
)

func rawDoc() rawSignalDoc {
	return rawSignalDoc{
		ID:             primitive.NewObjectID(),
		SignalID:       "sig-1",
		StrategyID:     "momentum",
		Instrument:     "AAPL",
		InstrumentType: "EQUITY",
		Direction:      "LONG",
		Action:         "ENTRY",
		Quantity:       100,
		OrderType:      "LIMIT",
		LimitPrice:     150.25,
		Environment:    "prod",
		Unprocessed:    true,
		CreatedAt:      primitive.NewDateTimeFromTime(time.Now()),
	}
}

func TestRawSignalDocToSignal(t *testing.T) {
	sig, err := rawDoc().signal()
	require.NoError(t, err)

	assert.Equal(t, "sig-1", sig.SignalID)
	assert.Equal(t, enum.InstrumentTypeEquity, sig.InstrumentType)
	assert.Equal(t, enum.DirectionLong, sig.Direction)
	assert.Equal(t, enum.SignalActionEntry, sig.Action)
	assert.Equal(t, enum.OrderTypeLimit, sig.OrderType)
	assert.Equal(t, "100", sig.Quantity.String())
	assert.Equal(t, "150.25", sig.LimitPrice.String())
}

func TestRawSignalDocLegs(t *testing.T) {
	doc := rawDoc()
	doc.InstrumentType = "OPTION"
	doc.Legs = []rawLegDoc{
		{Instrument: "AAPL260116C00150000", Direction: "SHORT", Quantity: 2, Strike: 150, Right: "CALL"},
	}

	sig, err := doc.signal()
	require.NoError(t, err)
	require.Len(t, sig.Legs, 1)
	assert.Equal(t, enum.DirectionShort, sig.Legs[0].Direction)
	assert.Equal(t, "CALL", sig.Legs[0].Right)
}

func TestRawSignalDocEvent(t *testing.T) {
	doc := rawDoc()
	doc.LinkedID = "rec-1"

	e := doc.event()
	assert.Equal(t, doc.ID.Hex(), e.ID)
	assert.Equal(t, "sig-1", e.CorrelationID)
	assert.Equal(t, "prod", e.Environment)
	assert.Equal(t, "rec-1", e.LinkID)

	sig, ok := e.Document.(model.Signal)
	require.True(t, ok)
	assert.Equal(t, "sig-1", sig.SignalID)
}

func TestMalformedDocForcesSkip(t *testing.T) {
	doc := rawDoc()
	doc.Direction = "SIDEWAYS"

	e := doc.event()
	assert.Empty(t, e.CorrelationID, "malformed signals must be unlinkable")
	assert.Nil(t, e.Document)
}

func TestIsCursorInvalidCodes(t *testing.T) {
	for _, code := range []int32{43, 280, 286} {
		err := mongo.CommandError{Code: code, Message: "cursor gone"}
		assert.True(t, isCursorInvalid(err), "code %d", code)
	}

	assert.False(t, isCursorInvalid(mongo.CommandError{Code: 11000}))
	assert.False(t, isCursorInvalid(assert.AnError))
	assert.False(t, isCursorInvalid(nil))
}
