package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists each collection as a MongoDB collection of the configured database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to MongoDB and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, opts Options) (*MongoStore, error) {
	if opts.URI == "" {
		return nil, ErrMissingURI
	}

	ctx, cancel := context.WithTimeout(ctx, opts.connectTimeout())
	defer cancel()

	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.MaxConnections > 0 {
		clientOpts.SetMaxPoolSize(uint64(opts.MaxConnections))
	}
	if opts.Username != "" {
		clientOpts.SetAuth(options.Credential{
			Username: opts.Username,
			Password: opts.Password,
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w: %w", ErrStorageUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w: %w", ErrStorageUnavailable, err)
	}

	return &MongoStore{
		client: client,
		db:     client.Database(opts.databaseName()),
	}, nil
}

func (s *MongoStore) Create(ctx context.Context, collection string, record Record) (InsertResult, error) {
	if err := checkNewRecord(record); err != nil {
		return InsertResult{}, err
	}

	doc := bson.M(record.Clone())
	oid := primitive.NewObjectID()
	doc[IDField] = oid

	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return InsertResult{}, mongoError("insert into "+collection, err)
	}
	return InsertResult{InsertedID: oid.Hex()}, nil
}

func (s *MongoStore) Find(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	f, err := mongoFilter(filter)
	if err != nil {
		return nil, err
	}

	cursor, err := s.db.Collection(collection).Find(ctx, f)
	if err != nil {
		return nil, mongoError("find in "+collection, err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoError("read cursor of "+collection, err)
	}

	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromBSON(doc))
	}
	return out, nil
}

func (s *MongoStore) FindOne(ctx context.Context, collection string, id string) (Record, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	var doc bson.M
	err = s.db.Collection(collection).FindOne(ctx, bson.M{IDField: oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mongoError("find one in "+collection, err)
	}
	return fromBSON(doc), nil
}

func (s *MongoStore) DeleteOne(ctx context.Context, collection string, filter Filter) (DeleteResult, error) {
	f, err := mongoFilter(filter)
	if err != nil {
		return DeleteResult{}, err
	}

	res, err := s.db.Collection(collection).DeleteOne(ctx, f)
	if err != nil {
		return DeleteResult{}, mongoError("delete from "+collection, err)
	}
	return DeleteResult{DeletedCount: res.DeletedCount}, nil
}

func (s *MongoStore) FindOneAndDelete(ctx context.Context, collection string, filter Filter) (Record, error) {
	f, err := mongoFilter(filter)
	if err != nil {
		return nil, err
	}

	var doc bson.M
	err = s.db.Collection(collection).FindOneAndDelete(ctx, f).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mongoError("find and delete in "+collection, err)
	}
	return fromBSON(doc), nil
}

func (s *MongoStore) UpdateOne(ctx context.Context, collection string, filter Filter, patch Record) (UpdateResult, error) {
	if err := checkPatch(patch); err != nil {
		return UpdateResult{}, err
	}
	f, err := mongoFilter(filter)
	if err != nil {
		return UpdateResult{}, err
	}

	res, err := s.db.Collection(collection).UpdateOne(ctx, f, bson.M{"$set": bson.M(patch)})
	if err != nil {
		return UpdateResult{}, mongoError("update in "+collection, err)
	}
	return UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
	}, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongo: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// mongoFilter converts the _id key to an ObjectID; other keys pass through.
func mongoFilter(filter Filter) (bson.M, error) {
	out := bson.M{}
	for k, v := range filter {
		if k != IDField {
			out[k] = v
			continue
		}
		id, _ := v.(string)
		oid, err := ParseID(id)
		if err != nil {
			return nil, err
		}
		out[k] = oid
	}
	return out, nil
}

func mongoError(action string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", action, ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func fromBSON(doc bson.M) Record {
	out := make(Record, len(doc))
	for k, v := range doc {
		out[k] = bsonValue(v)
	}
	return out
}

func bsonValue(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case bson.M:
		return map[string]any(fromBSON(val))
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = bsonValue(e.Value)
		}
		return m
	case bson.A:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = bsonValue(item)
		}
		return items
	default:
		return v
	}
}
