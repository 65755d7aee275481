package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// cypherRunner is the minimal contract the neo4j store needs from a graph session.
type cypherRunner interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Records are :Record nodes. _collection and _seq are bookkeeping properties;
// _json names the properties holding JSON-encoded objects or lists and _null
// names the fields stored as null, which a node cannot hold directly.
const (
	collectionProp = "_collection"
	seqProp        = "_seq"
	jsonProp       = "_json"
	nullProp       = "_null"
)

const (
	createRecordCypher = `CREATE (n:Record) SET n = $props`

	findRecordsCypher = `
MATCH (n:Record {_collection: $collection})
WHERE all(k IN keys($filter) WHERE n[k] = $filter[k])
RETURN properties(n) AS doc
ORDER BY n._seq`

	findRecordByIDCypher = `
MATCH (n:Record {_collection: $collection, _id: $id})
RETURN properties(n) AS doc
LIMIT 1`

	deleteOneCypher = `
MATCH (n:Record {_collection: $collection})
WHERE all(k IN keys($filter) WHERE n[k] = $filter[k])
WITH n ORDER BY n._seq LIMIT 1
WITH collect(n) AS targets
FOREACH (t IN targets | DETACH DELETE t)
RETURN size(targets) AS deleted`

	findOneAndDeleteCypher = `
MATCH (n:Record {_collection: $collection})
WHERE all(k IN keys($filter) WHERE n[k] = $filter[k])
WITH n ORDER BY n._seq LIMIT 1
WITH n, properties(n) AS doc
DETACH DELETE n
RETURN doc`

	updateOneCypher = `
MATCH (n:Record {_collection: $collection})
WHERE all(k IN keys($filter) WHERE n[k] = $filter[k])
WITH n ORDER BY n._seq LIMIT 1
WITH n, coalesce(n._json, []) AS encoded, coalesce(n._null, []) AS nulls
WITH n, encoded, nulls,
	all(k IN keys($patch) WHERE n[k] = $patch[k])
	AND all(k IN $patched WHERE (k IN $jsonKeys) = (k IN encoded) AND (k IN $nullKeys) = (k IN nulls)) AS unchanged
SET n += $patch, n += $cleared
SET n._json = [k IN encoded WHERE NOT k IN $patched] + $jsonKeys,
	n._null = [k IN nulls WHERE NOT k IN $patched] + $nullKeys
RETURN unchanged`
)

// Neo4jStore keeps records as graph nodes. Objects and lists are stored as JSON
// strings because node properties only hold scalars and homogeneous lists.
type Neo4jStore struct {
	runner cypherRunner
	seq    atomic.Int64
}

// NewNeo4jStore establishes a Bolt connection using the official driver.
func NewNeo4jStore(ctx context.Context, opts Options) (*Neo4jStore, error) {
	if opts.URI == "" {
		return nil, ErrMissingURI
	}

	auth := neo4j.NoAuth()
	if opts.Username != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, auth, func(c *neo4j.Config) {
		if opts.MaxConnections > 0 {
			c.MaxConnectionPoolSize = opts.MaxConnections
		}
		c.SocketConnectTimeout = opts.connectTimeout()
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w: %w", ErrStorageUnavailable, err)
	}

	return newNeo4jStore(&neo4jRunner{driver: driver, database: opts.Database}), nil
}

func newNeo4jStore(runner cypherRunner) *Neo4jStore {
	s := &Neo4jStore{runner: runner}
	s.seq.Store(time.Now().UnixNano())
	return s
}

func (s *Neo4jStore) Create(ctx context.Context, collection string, record Record) (InsertResult, error) {
	if err := checkNewRecord(record); err != nil {
		return InsertResult{}, err
	}
	props, err := toProperties(record)
	if err != nil {
		return InsertResult{}, err
	}

	id := NewID()
	if len(props.jsonKeys) > 0 {
		props.values[jsonProp] = props.jsonKeys
	}
	if len(props.nullKeys) > 0 {
		props.values[nullProp] = props.nullKeys
	}
	props.values[IDField] = id
	props.values[collectionProp] = collection
	props.values[seqProp] = s.seq.Add(1)

	if _, err := s.runner.ExecuteWrite(ctx, createRecordCypher, map[string]any{"props": props.values}); err != nil {
		return InsertResult{}, neo4jError("create in "+collection, err)
	}
	return InsertResult{InsertedID: id}, nil
}

func (s *Neo4jStore) Find(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	rows, err := s.runner.ExecuteRead(ctx, findRecordsCypher, map[string]any{
		"collection": collection,
		"filter":     map[string]any(filter.orEmpty()),
	})
	if err != nil {
		return nil, neo4jError("find in "+collection, err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromProperties(row["doc"])
		if err != nil {
			return nil, fmt.Errorf("find in %s: %w", collection, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Neo4jStore) FindOne(ctx context.Context, collection string, id string) (Record, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}

	rows, err := s.runner.ExecuteRead(ctx, findRecordByIDCypher, map[string]any{
		"collection": collection,
		"id":         id,
	})
	if err != nil {
		return nil, neo4jError("find one in "+collection, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return fromProperties(rows[0]["doc"])
}

func (s *Neo4jStore) DeleteOne(ctx context.Context, collection string, filter Filter) (DeleteResult, error) {
	rows, err := s.runner.ExecuteWrite(ctx, deleteOneCypher, map[string]any{
		"collection": collection,
		"filter":     map[string]any(filter.orEmpty()),
	})
	if err != nil {
		return DeleteResult{}, neo4jError("delete from "+collection, err)
	}
	if len(rows) == 0 {
		return DeleteResult{}, nil
	}
	return DeleteResult{DeletedCount: toInt64(rows[0]["deleted"])}, nil
}

func (s *Neo4jStore) FindOneAndDelete(ctx context.Context, collection string, filter Filter) (Record, error) {
	rows, err := s.runner.ExecuteWrite(ctx, findOneAndDeleteCypher, map[string]any{
		"collection": collection,
		"filter":     map[string]any(filter.orEmpty()),
	})
	if err != nil {
		return nil, neo4jError("find and delete in "+collection, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return fromProperties(rows[0]["doc"])
}

func (s *Neo4jStore) UpdateOne(ctx context.Context, collection string, filter Filter, patch Record) (UpdateResult, error) {
	if err := checkPatch(patch); err != nil {
		return UpdateResult{}, err
	}
	props, err := toProperties(patch)
	if err != nil {
		return UpdateResult{}, err
	}

	cleared := make(map[string]any, len(props.nullKeys))
	for _, k := range props.nullKeys {
		cleared[k] = nil
	}
	patched := make([]string, 0, len(patch))
	for k := range patch {
		patched = append(patched, k)
	}
	sort.Strings(patched)

	rows, err := s.runner.ExecuteWrite(ctx, updateOneCypher, map[string]any{
		"collection": collection,
		"filter":     map[string]any(filter.orEmpty()),
		"patch":      props.values,
		"cleared":    cleared,
		"patched":    patched,
		"jsonKeys":   props.jsonKeys,
		"nullKeys":   props.nullKeys,
	})
	if err != nil {
		return UpdateResult{}, neo4jError("update in "+collection, err)
	}

	var res UpdateResult
	for _, row := range rows {
		res.MatchedCount++
		if unchanged, _ := row["unchanged"].(bool); !unchanged {
			res.ModifiedCount++
		}
	}
	return res, nil
}

func (s *Neo4jStore) Ping(ctx context.Context) error {
	if err := s.runner.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("verify neo4j connectivity: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.runner.Close(ctx)
}

func (f Filter) orEmpty() Filter {
	if f == nil {
		return Filter{}
	}
	return f
}

type nodeProperties struct {
	values   map[string]any
	jsonKeys []string
	nullKeys []string
}

// toProperties flattens a record into values a node property can hold.
func toProperties(record Record) (nodeProperties, error) {
	props := nodeProperties{
		values:   make(map[string]any, len(record)),
		jsonKeys: []string{},
		nullKeys: []string{},
	}
	for k, v := range record {
		switch v.(type) {
		case nil:
			props.nullKeys = append(props.nullKeys, k)
		case map[string]any, []any, []map[string]any, []string:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nodeProperties{}, fmt.Errorf("encode field %s: %w", k, err)
			}
			props.values[k] = string(encoded)
			props.jsonKeys = append(props.jsonKeys, k)
		default:
			props.values[k] = v
		}
	}
	sort.Strings(props.jsonKeys)
	sort.Strings(props.nullKeys)
	return props, nil
}

func fromProperties(raw any) (Record, error) {
	props, _ := raw.(map[string]any)
	out := make(Record, len(props))
	for k, v := range props {
		switch k {
		case collectionProp, seqProp, jsonProp, nullProp:
			continue
		}
		out[k] = v
	}

	for _, k := range stringList(props[jsonProp]) {
		encoded, ok := out[k].(string)
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(encoded), &decoded); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", k, err)
		}
		out[k] = decoded
	}
	for _, k := range stringList(props[nullProp]) {
		out[k] = nil
	}
	return out, nil
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func neo4jError(action string, err error) error {
	var connErr *neo4j.ConnectivityError
	if errors.As(err, &connErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", action, ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

type neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *neo4jRunner) ExecuteWrite(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return r.run(ctx, neo4j.AccessModeWrite, cypher, params)
}

func (r *neo4jRunner) ExecuteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return r.run(ctx, neo4j.AccessModeRead, cypher, params)
}

func (r *neo4jRunner) VerifyConnectivity(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

func (r *neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *neo4jRunner) run(ctx context.Context, mode neo4j.AccessMode, cypher string, params map[string]any) ([]map[string]any, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: r.database,
		AccessMode:   mode,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	for res.Next(ctx) {
		rec := res.Record()
		row := make(map[string]any, len(rec.Keys))
		for _, key := range rec.Keys {
			value, _ := rec.Get(key)
			row[key] = value
		}
		rows = append(rows, row)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
