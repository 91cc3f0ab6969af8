package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"main/internal/model"
	"main/internal/model/enum"
	"main/pkg/exception"
)

type processingRecordDoc struct {
	RecordID       string    `bson:"_id"`
	RawSignalRef   string    `bson:"raw_signal_ref"`
	SignalID       string    `bson:"signal_id"`
	Decision       string    `bson:"decision,omitempty"`
	DecisionReason string    `bson:"decision_reason,omitempty"`
	ExecutionRef   string    `bson:"execution_ref,omitempty"`
	PositionStatus string    `bson:"position_status,omitempty"`
	ExitSignalIDs  []string  `bson:"exit_signals,omitempty"`
	PnLRealized    float64   `bson:"pnl_realized"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func (doc processingRecordDoc) record() model.ProcessingRecord {
	return model.ProcessingRecord{
		RecordID:       doc.RecordID,
		RawSignalRef:   doc.RawSignalRef,
		SignalID:       doc.SignalID,
		Decision:       doc.Decision,
		DecisionReason: doc.DecisionReason,
		ExecutionRef:   doc.ExecutionRef,
		PositionStatus: doc.PositionStatus,
		ExitSignalIDs:  doc.ExitSignalIDs,
		PnLRealized:    decimal.NewFromFloat(doc.PnLRealized),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

// Record returns the processing record for a signal.
func (s *Store) Record(ctx context.Context, signalID string) (model.ProcessingRecord, error) {
	var doc processingRecordDoc
	err := s.records.FindOne(ctx, bson.D{{Key: "signal_id", Value: signalID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.ProcessingRecord{}, exception.ErrStoreNotFound
		}
		return model.ProcessingRecord{}, errors.Wrap(err, "find processing record").With("signal_id", signalID)
	}
	return doc.record(), nil
}

// SetDecision records the decision engine outcome on a processing record.
func (s *Store) SetDecision(ctx context.Context, recordID string, decision enum.Decision, reason string) error {
	return s.updateRecord(ctx, recordID, bson.D{
		{Key: "decision", Value: decision.String()},
		{Key: "decision_reason", Value: reason},
	})
}

// SetExecution links the broker execution and position lifecycle state.
func (s *Store) SetExecution(ctx context.Context, recordID, executionRef string, positionStatus enum.PositionStatus) error {
	return s.updateRecord(ctx, recordID, bson.D{
		{Key: "execution_ref", Value: executionRef},
		{Key: "position_status", Value: positionStatus.String()},
	})
}

// AppendExitSignal appends an exit signal id to the entry signal's record.
// realizedPnL is the position's cumulative realized pnl and overwrites the
// stored value; the ledger is the accumulator, the record mirrors it.
func (s *Store) AppendExitSignal(ctx context.Context, entrySignalID, exitSignalID string, realizedPnL decimal.Decimal) error {
	res, err := s.records.UpdateOne(ctx,
		bson.D{{Key: "signal_id", Value: entrySignalID}},
		bson.D{
			{Key: "$push", Value: bson.D{{Key: "exit_signals", Value: exitSignalID}}},
			{Key: "$set", Value: bson.D{
				{Key: "pnl_realized", Value: realizedPnL.InexactFloat64()},
				{Key: "updated_at", Value: now()},
			}},
		},
	)
	if err != nil {
		return errors.Wrap(err, "append exit signal").With("signal_id", entrySignalID)
	}
	if res.MatchedCount == 0 {
		return exception.ErrStoreNotFound
	}
	return nil
}

func (s *Store) updateRecord(ctx context.Context, recordID string, set bson.D) error {
	set = append(set, bson.E{Key: "updated_at", Value: now()})
	res, err := s.records.UpdateByID(ctx, recordID, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return errors.Wrap(err, "update processing record").With("record_id", recordID)
	}
	if res.MatchedCount == 0 {
		return exception.ErrStoreNotFound
	}
	return nil
}
