package store

import (
	"context"
	"sync"
)

// Op names a Store operation for fault injection on the in-memory store.
type Op string

const (
	OpCreate           Op = "create"
	OpFind             Op = "find"
	OpFindOne          Op = "findOne"
	OpDeleteOne        Op = "deleteOne"
	OpUpdateOne        Op = "updateOne"
	OpFindOneAndDelete Op = "findOneAndDelete"
)

// MemoryStore is an in-process Store used by tests and the "memory" driver.
// Records keep insertion order, which is the store-native order.
type MemoryStore struct {
	mu           sync.Mutex
	collections  map[string][]Record
	failures     map[Op][]error
	connectivity error
	calls        []Call
}

// Call captures a store operation executed against the in-memory store.
type Call struct {
	Op         Op
	Collection string
}

// NewMemoryStore instantiates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Record),
		failures:    make(map[Op][]error),
	}
}

// FailNext makes the next call of op return err without touching any data.
func (m *MemoryStore) FailNext(op Op, err error) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
	return m
}

// WithConnectivityError forces Ping to return the supplied error.
func (m *MemoryStore) WithConnectivityError(err error) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectivity = err
	return m
}

// Calls returns a snapshot of executed operations.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Count returns how many records in collection match filter.
func (m *MemoryStore) Count(collection string, filter Filter) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.collections[collection] {
		if matches(rec, filter) {
			n++
		}
	}
	return n
}

// begin records the call and pops an injected failure. Callers must hold mu.
func (m *MemoryStore) begin(op Op, collection string) error {
	m.calls = append(m.calls, Call{Op: op, Collection: collection})
	queued := m.failures[op]
	if len(queued) == 0 {
		return nil
	}
	err := queued[0]
	m.failures[op] = queued[1:]
	return err
}

func (m *MemoryStore) Create(_ context.Context, collection string, record Record) (InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpCreate, collection); err != nil {
		return InsertResult{}, err
	}
	if err := checkNewRecord(record); err != nil {
		return InsertResult{}, err
	}

	stored := record.Clone()
	id := NewID()
	stored[IDField] = id
	m.collections[collection] = append(m.collections[collection], stored)
	return InsertResult{InsertedID: id}, nil
}

func (m *MemoryStore) Find(_ context.Context, collection string, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpFind, collection); err != nil {
		return nil, err
	}
	out := []Record{}
	for _, rec := range m.collections[collection] {
		if matches(rec, filter) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) FindOne(_ context.Context, collection string, id string) (Record, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpFindOne, collection); err != nil {
		return nil, err
	}
	for _, rec := range m.collections[collection] {
		if rec.ID() == id {
			return rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) DeleteOne(_ context.Context, collection string, filter Filter) (DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpDeleteOne, collection); err != nil {
		return DeleteResult{}, err
	}
	if _, ok := m.removeFirst(collection, filter); ok {
		return DeleteResult{DeletedCount: 1}, nil
	}
	return DeleteResult{}, nil
}

func (m *MemoryStore) FindOneAndDelete(_ context.Context, collection string, filter Filter) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpFindOneAndDelete, collection); err != nil {
		return nil, err
	}
	rec, ok := m.removeFirst(collection, filter)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) UpdateOne(_ context.Context, collection string, filter Filter, patch Record) (UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpUpdateOne, collection); err != nil {
		return UpdateResult{}, err
	}
	if err := checkPatch(patch); err != nil {
		return UpdateResult{}, err
	}

	for _, rec := range m.collections[collection] {
		if !matches(rec, filter) {
			continue
		}
		modified := false
		for k, v := range patch {
			if cur, ok := rec[k]; !ok || !valuesEqual(cur, v) {
				rec[k] = v
				modified = true
			}
		}
		res := UpdateResult{MatchedCount: 1}
		if modified {
			res.ModifiedCount = 1
		}
		return res, nil
	}
	return UpdateResult{}, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectivity
}

func (m *MemoryStore) Close(context.Context) error {
	return nil
}

func (m *MemoryStore) removeFirst(collection string, filter Filter) (Record, bool) {
	records := m.collections[collection]
	for i, rec := range records {
		if !matches(rec, filter) {
			continue
		}
		m.collections[collection] = append(records[:i:i], records[i+1:]...)
		return rec, true
	}
	return nil, false
}
