package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/watch"
	"main/pkg/exception"
)

type rawSignalDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	SignalID       string             `bson:"signal_id"`
	StrategyID     string             `bson:"strategy_id"`
	Instrument     string             `bson:"instrument"`
	InstrumentType string             `bson:"instrument_type"`
	Direction      string             `bson:"direction"`
	Action         string             `bson:"action"`
	Quantity       float64            `bson:"quantity"`
	OrderType      string             `bson:"order_type"`
	LimitPrice     float64            `bson:"limit_price,omitempty"`
	StopPrice      float64            `bson:"stop_price,omitempty"`
	Expiry         string             `bson:"expiry,omitempty"`
	Legs           []rawLegDoc        `bson:"legs,omitempty"`
	Environment    string             `bson:"environment"`
	Unprocessed    bool               `bson:"unprocessed"`
	LinkedID       string             `bson:"linked_id,omitempty"`
	CreatedAt      primitive.DateTime `bson:"created_at"`
}

type rawLegDoc struct {
	Instrument string  `bson:"instrument"`
	Direction  string  `bson:"direction"`
	Quantity   float64 `bson:"quantity"`
	Strike     float64 `bson:"strike,omitempty"`
	Right      string  `bson:"right,omitempty"`
	Expiry     string  `bson:"expiry,omitempty"`
	LimitPrice float64 `bson:"limit_price,omitempty"`
}

func (doc rawSignalDoc) signal() (model.Signal, error) {
	direction, ok := enum.ParseDirection(doc.Direction)
	if !ok {
		return model.Signal{}, errors.Errorf("bad direction %q", doc.Direction)
	}
	action, ok := enum.ParseSignalAction(doc.Action)
	if !ok {
		return model.Signal{}, errors.Errorf("bad action %q", doc.Action)
	}
	orderType, ok := enum.ParseOrderType(doc.OrderType)
	if !ok {
		return model.Signal{}, errors.Errorf("bad order type %q", doc.OrderType)
	}
	instrumentType, ok := enum.ParseInstrumentType(doc.InstrumentType)
	if !ok {
		return model.Signal{}, errors.Errorf("bad instrument type %q", doc.InstrumentType)
	}

	sig := model.Signal{
		SignalID:       doc.SignalID,
		StrategyID:     doc.StrategyID,
		Instrument:     doc.Instrument,
		InstrumentType: instrumentType,
		Direction:      direction,
		Action:         action,
		Quantity:       decimal.NewFromFloat(doc.Quantity),
		OrderType:      orderType,
		LimitPrice:     decimal.NewFromFloat(doc.LimitPrice),
		StopPrice:      decimal.NewFromFloat(doc.StopPrice),
		Expiry:         doc.Expiry,
		ReceivedAt:     doc.CreatedAt.Time().UTC(),
	}
	for _, leg := range doc.Legs {
		legDirection, ok := enum.ParseDirection(leg.Direction)
		if !ok {
			return model.Signal{}, errors.Errorf("bad leg direction %q", leg.Direction)
		}
		sig.Legs = append(sig.Legs, model.OrderLeg{
			Instrument: leg.Instrument,
			Direction:  legDirection,
			Quantity:   decimal.NewFromFloat(leg.Quantity),
			Strike:     decimal.NewFromFloat(leg.Strike),
			Right:      leg.Right,
			Expiry:     leg.Expiry,
			LimitPrice: decimal.NewFromFloat(leg.LimitPrice),
		})
	}
	return sig, nil
}

func (doc rawSignalDoc) event() watch.Event {
	e := watch.Event{
		ID:            doc.ID.Hex(),
		CorrelationID: doc.SignalID,
		Environment:   doc.Environment,
		LinkID:        doc.LinkedID,
		Timestamp:     doc.CreatedAt.Time().UTC(),
	}
	sig, err := doc.signal()
	if err != nil {
		logs.Warnf("store: malformed raw signal %s: %+v", doc.ID.Hex(), err)
		e.CorrelationID = "" // force the watcher to skip it
		return e
	}
	e.Document = sig
	return e
}

// SignalSource adapts the raw_signals collection to the watcher contract,
// creating one ProcessingRecord per signal through the linked_id test-and-set.
type SignalSource struct {
	store *Store
}

// SignalSource returns the raw-signal change source.
func (s *Store) SignalSource() *SignalSource {
	return &SignalSource{store: s}
}

func (src *SignalSource) Connect(ctx context.Context) error {
	return src.store.Ping(ctx)
}

func (src *SignalSource) Pending(ctx context.Context) ([]watch.Event, error) {
	cur, err := src.store.rawSignals.Find(ctx, pendingFilter(src.store.environment), pendingFindOptions())
	if err != nil {
		return nil, errors.Wrap(err, "find pending raw signals")
	}
	defer func() { _ = cur.Close(ctx) }()

	var events []watch.Event
	for cur.Next(ctx) {
		var doc rawSignalDoc
		if err := cur.Decode(&doc); err != nil {
			logs.Errorf("store: decode pending raw signal: %+v", err)
			continue
		}
		events = append(events, doc.event())
	}
	return events, cur.Err()
}

func (src *SignalSource) MarkProcessed(ctx context.Context, e watch.Event) error {
	id, err := primitive.ObjectIDFromHex(e.ID)
	if err != nil {
		return errors.Wrap(err, "parse raw signal id").With("id", e.ID)
	}
	_, err = src.store.rawSignals.UpdateByID(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{{Key: "unprocessed", Value: false}}},
	})
	return err
}

// Link wins or loses the test-and-set on linked_id. The winner creates the
// ProcessingRecord; a unique-index violation after winning means two records
// would exist for one raw signal, which is an invariant violation and halts
// processing of that record.
func (src *SignalSource) Link(ctx context.Context, e watch.Event) (string, bool, error) {
	id, err := primitive.ObjectIDFromHex(e.ID)
	if err != nil {
		return "", false, errors.Wrap(err, "parse raw signal id").With("id", e.ID)
	}

	recordID := uuid.NewString()
	res := src.store.rawSignals.FindOneAndUpdate(ctx,
		bson.D{
			{Key: "_id", Value: id},
			{Key: "linked_id", Value: bson.D{{Key: "$exists", Value: false}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "linked_id", Value: recordID},
			{Key: "unprocessed", Value: false},
		}}},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "link raw signal").With("id", e.ID)
	}

	doc := processingRecordDoc{
		RecordID:     recordID,
		RawSignalRef: e.ID,
		SignalID:     e.CorrelationID,
		CreatedAt:    now(),
		UpdatedAt:    now(),
	}
	if _, err := src.store.records.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", false, errors.Wrap(exception.ErrStoreDuplicateLink, err.Error()).
				With("signal_id", e.CorrelationID)
		}
		return "", false, errors.Wrap(err, "insert processing record").With("signal_id", e.CorrelationID)
	}
	return recordID, true, nil
}

func (src *SignalSource) Subscribe(ctx context.Context, resumeToken []byte) (watch.Subscription, error) {
	cs, err := src.store.rawSignals.Watch(ctx, watchPipeline(), changeStreamOptions(resumeToken))
	if err != nil {
		return nil, err
	}
	return &signalSubscription{cs: cs}, nil
}

func (src *SignalSource) IsCursorInvalid(err error) bool {
	return isCursorInvalid(err)
}

type signalSubscription struct {
	cs *mongo.ChangeStream
}

func (sub *signalSubscription) Next(ctx context.Context) (watch.Event, []byte, error) {
	for sub.cs.Next(ctx) {
		var ce changeEvent
		if err := sub.cs.Decode(&ce); err != nil {
			logs.Errorf("store: decode change event: %+v", err)
			continue
		}
		if len(ce.FullDocument) == 0 {
			continue
		}

		var doc rawSignalDoc
		if err := bson.Unmarshal(ce.FullDocument, &doc); err != nil {
			logs.Errorf("store: unmarshal raw signal change: %+v", err)
			continue
		}

		token := append([]byte(nil), sub.cs.ResumeToken()...)
		return doc.event(), token, nil
	}
	if err := sub.cs.Err(); err != nil {
		return watch.Event{}, nil, err
	}
	return watch.Event{}, nil, errors.Wrap(exception.ErrWatchStopped, "change stream exhausted")
}

func (sub *signalSubscription) Close(ctx context.Context) error {
	return sub.cs.Close(ctx)
}
