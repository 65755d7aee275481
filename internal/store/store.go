package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the document field holding the store-assigned identifier.
const IDField = "_id"

var (
	// ErrStorageUnavailable indicates the backing store could not be reached or timed out.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidIdentifier indicates an identifier that is not a well-formed ObjectID.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrNotFound indicates a well-formed identifier (or claim filter) matched no record.
	ErrNotFound = errors.New("record not found")
	// ErrMissingURI indicates the store URI is not provided.
	ErrMissingURI = errors.New("store URI is required")
	// ErrIdentifierAssigned is returned when a caller tries to supply or rewrite _id.
	ErrIdentifierAssigned = errors.New("_id is assigned by the store and cannot be set")
)

// Record is a schemaless document stored in a collection.
type Record map[string]any

// Filter is an equality match over top-level fields. An empty filter matches every record.
type Filter map[string]any

// InsertResult mirrors the acknowledgement of a single insert.
type InsertResult struct {
	InsertedID string
}

// DeleteResult reports how many records a delete removed (0 or 1).
type DeleteResult struct {
	DeletedCount int64
}

// UpdateResult reports matched and modified counts of a single-record update.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// Store is the per-collection persistence contract. Every call is atomic with
// respect to one collection; nothing ties two calls together.
//
// When a filter matches several records, the single-record operations act on
// the earliest created one in store-native order.
type Store interface {
	Create(ctx context.Context, collection string, record Record) (InsertResult, error)
	Find(ctx context.Context, collection string, filter Filter) ([]Record, error)
	FindOne(ctx context.Context, collection string, id string) (Record, error)
	DeleteOne(ctx context.Context, collection string, filter Filter) (DeleteResult, error)
	UpdateOne(ctx context.Context, collection string, filter Filter, patch Record) (UpdateResult, error)
	// FindOneAndDelete atomically removes the first matching record and returns it.
	// It returns ErrNotFound when nothing matched.
	FindOneAndDelete(ctx context.Context, collection string, filter Filter) (Record, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewID generates a fresh identifier in the ObjectID hex format.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// ParseID validates the identifier format.
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return oid, nil
}

// IDFilter builds a filter selecting the record with the given identifier.
func IDFilter(id string) (Filter, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}
	return Filter{IDField: id}, nil
}

// ID returns the identifier of the record, or "" if it has none.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Without returns a shallow copy with the listed fields removed.
func (r Record) Without(fields ...string) Record {
	out := r.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

func checkNewRecord(record Record) error {
	if _, ok := record[IDField]; ok {
		return ErrIdentifierAssigned
	}
	return nil
}

func checkPatch(patch Record) error {
	if _, ok := patch[IDField]; ok {
		return ErrIdentifierAssigned
	}
	return nil
}

// matches reports whether every filter field equals the record field.
func matches(record Record, filter Filter) bool {
	for k, want := range filter {
		got, ok := record[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return math.NaN(), false
	}
}
