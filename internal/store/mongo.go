// Package store persists raw signals, processing records and broker
// position-change triggers in MongoDB, and exposes the two change sources the
// watchers consume.
package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/yanun0323/errors"
)

const (
	collRawSignals       = "raw_signals"
	collSignalRecords    = "signal_records"
	collPositionTriggers = "position_triggers"
)

// Cursor-invalid server codes: CursorNotFound, ChangeStreamFatalError,
// ChangeStreamHistoryLost. Everything else is treated as transport failure.
var cursorInvalidCodes = []int{43, 280, 286}

// Store wraps the Mongo database holding the pipeline's durable state.
type Store struct {
	db          *mongo.Database
	environment string

	rawSignals *mongo.Collection
	records    *mongo.Collection
	triggers   *mongo.Collection
}

// New creates a store over db scoped to one environment tag.
func New(db *mongo.Database, environment string) *Store {
	return &Store{
		db:          db,
		environment: environment,
		rawSignals:  db.Collection(collRawSignals),
		records:     db.Collection(collSignalRecords),
		triggers:    db.Collection(collPositionTriggers),
	}
}

// Ping verifies the session is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the unique signal_id index backing the
// one-record-per-signal invariant, plus the catch-up query index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "signal_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.Wrap(err, "create signal_id index")
	}

	for _, coll := range []*mongo.Collection{s.rawSignals, s.triggers} {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{
				{Key: "unprocessed", Value: 1},
				{Key: "environment", Value: 1},
				{Key: "created_at", Value: 1},
			},
		})
		if err != nil {
			return errors.Wrap(err, "create catch-up index").With("collection", coll.Name())
		}
	}
	return nil
}

// isCursorInvalid reports whether err is the store's explicit invalid-cursor
// error, as opposed to a generic connectivity failure.
func isCursorInvalid(err error) bool {
	if err == nil {
		return false
	}
	var serverErr mongo.ServerError
	if !errors.As(err, &serverErr) {
		return false
	}
	for _, code := range cursorInvalidCodes {
		if serverErr.HasErrorCode(code) {
			return true
		}
	}
	return false
}

// changeEvent is the subset of the change stream document the sources decode.
type changeEvent struct {
	OperationType string   `bson:"operationType"`
	FullDocument  bson.Raw `bson:"fullDocument"`
}

// watchPipeline restricts the stream to inserts and updates.
func watchPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update"}}}},
		}}},
	}
}

func changeStreamOptions(resumeToken []byte) *options.ChangeStreamOptions {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(resumeToken) > 0 {
		// The token is opaque: hand it back verbatim.
		opts = opts.SetResumeAfter(bson.Raw(resumeToken))
	}
	return opts
}

func pendingFilter(environment string) bson.D {
	return bson.D{
		{Key: "unprocessed", Value: true},
		{Key: "environment", Value: environment},
	}
}

func pendingFindOptions() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
}

func now() time.Time {
	return time.Now().UTC()
}
