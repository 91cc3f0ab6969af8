package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"main/internal/watch"
	"main/pkg/exception"
)

// positionTriggerDoc records a broker-side position change that should make
// the poller re-poll the account immediately instead of waiting for the next
// scheduled interval.
type positionTriggerDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	AccountID   string             `bson:"account_id"`
	Broker      string             `bson:"broker,omitempty"`
	Environment string             `bson:"environment"`
	Unprocessed bool               `bson:"unprocessed"`
	LinkedID    string             `bson:"linked_id,omitempty"`
	CreatedAt   primitive.DateTime `bson:"created_at"`
}

func (doc positionTriggerDoc) event() watch.Event {
	return watch.Event{
		ID:            doc.ID.Hex(),
		CorrelationID: doc.AccountID,
		Environment:   doc.Environment,
		LinkID:        doc.LinkedID,
		Timestamp:     doc.CreatedAt.Time().UTC(),
		Document:      doc.AccountID,
	}
}

// TriggerSource adapts the position_triggers collection to the watcher
// contract. Same linked_id discipline as signals, but no downstream record
// document: the link id on the trigger itself is the consumption marker.
type TriggerSource struct {
	store *Store
}

// TriggerSource returns the position-trigger change source.
func (s *Store) TriggerSource() *TriggerSource {
	return &TriggerSource{store: s}
}

// InsertPositionTrigger appends a trigger document. Used by broker event
// listeners and by the paper tooling.
func (s *Store) InsertPositionTrigger(ctx context.Context, accountID, broker string) error {
	_, err := s.triggers.InsertOne(ctx, positionTriggerDoc{
		AccountID:   accountID,
		Broker:      broker,
		Environment: s.environment,
		Unprocessed: true,
		CreatedAt:   primitive.NewDateTimeFromTime(now()),
	})
	return err
}

func (src *TriggerSource) Connect(ctx context.Context) error {
	return src.store.Ping(ctx)
}

func (src *TriggerSource) Pending(ctx context.Context) ([]watch.Event, error) {
	cur, err := src.store.triggers.Find(ctx, pendingFilter(src.store.environment), pendingFindOptions())
	if err != nil {
		return nil, errors.Wrap(err, "find pending triggers")
	}
	defer func() { _ = cur.Close(ctx) }()

	var events []watch.Event
	for cur.Next(ctx) {
		var doc positionTriggerDoc
		if err := cur.Decode(&doc); err != nil {
			logs.Errorf("store: decode pending trigger: %+v", err)
			continue
		}
		events = append(events, doc.event())
	}
	return events, cur.Err()
}

func (src *TriggerSource) MarkProcessed(ctx context.Context, e watch.Event) error {
	id, err := primitive.ObjectIDFromHex(e.ID)
	if err != nil {
		return errors.Wrap(err, "parse trigger id").With("id", e.ID)
	}
	_, err = src.store.triggers.UpdateByID(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{{Key: "unprocessed", Value: false}}},
	})
	return err
}

func (src *TriggerSource) Link(ctx context.Context, e watch.Event) (string, bool, error) {
	id, err := primitive.ObjectIDFromHex(e.ID)
	if err != nil {
		return "", false, errors.Wrap(err, "parse trigger id").With("id", e.ID)
	}

	linkID := uuid.NewString()
	res := src.store.triggers.FindOneAndUpdate(ctx,
		bson.D{
			{Key: "_id", Value: id},
			{Key: "linked_id", Value: bson.D{{Key: "$exists", Value: false}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "linked_id", Value: linkID},
			{Key: "unprocessed", Value: false},
		}}},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "link trigger").With("id", e.ID)
	}
	return linkID, true, nil
}

func (src *TriggerSource) Subscribe(ctx context.Context, resumeToken []byte) (watch.Subscription, error) {
	cs, err := src.store.triggers.Watch(ctx, watchPipeline(), changeStreamOptions(resumeToken))
	if err != nil {
		return nil, err
	}
	return &triggerSubscription{cs: cs}, nil
}

func (src *TriggerSource) IsCursorInvalid(err error) bool {
	return isCursorInvalid(err)
}

type triggerSubscription struct {
	cs *mongo.ChangeStream
}

func (sub *triggerSubscription) Next(ctx context.Context) (watch.Event, []byte, error) {
	for sub.cs.Next(ctx) {
		var ce changeEvent
		if err := sub.cs.Decode(&ce); err != nil {
			logs.Errorf("store: decode trigger change event: %+v", err)
			continue
		}
		if len(ce.FullDocument) == 0 {
			continue
		}

		var doc positionTriggerDoc
		if err := bson.Unmarshal(ce.FullDocument, &doc); err != nil {
			logs.Errorf("store: unmarshal trigger change: %+v", err)
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

func (sub *triggerSubscription) Close(ctx context.Context) error {
	return sub.cs.Close(ctx)
}
