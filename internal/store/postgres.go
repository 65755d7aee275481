package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore keeps each collection in its own table of JSONB documents.
// Store-native order is the insertion sequence.
type PostgresStore struct {
	db *sqlx.DB

	mu     sync.Mutex
	tables map[string]bool
}

type documentRow struct {
	ID  string `db:"id"`
	Doc []byte `db:"doc"`
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS %s (
		seq BIGSERIAL,
		id  TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	)`

// NewPostgresStore opens a connection pool against the configured DSN.
func NewPostgresStore(ctx context.Context, opts Options) (*PostgresStore, error) {
	if opts.URI == "" {
		return nil, ErrMissingURI
	}

	ctx, cancel := context.WithTimeout(ctx, opts.connectTimeout())
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", opts.URI)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w: %w", ErrStorageUnavailable, err)
	}
	if opts.MaxConnections > 0 {
		db.SetMaxOpenConns(opts.MaxConnections)
		db.SetMaxIdleConns(opts.MaxConnections)
	}
	db.SetConnMaxLifetime(3 * time.Minute)

	return &PostgresStore{db: db, tables: make(map[string]bool)}, nil
}

func (s *PostgresStore) Create(ctx context.Context, collection string, record Record) (InsertResult, error) {
	if err := checkNewRecord(record); err != nil {
		return InsertResult{}, err
	}
	table, err := s.table(ctx, collection)
	if err != nil {
		return InsertResult{}, err
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return InsertResult{}, fmt.Errorf("encode record for %s: %w", collection, err)
	}

	id := NewID()
	query := fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb)`, table)
	if _, err := s.db.ExecContext(ctx, query, id, string(doc)); err != nil {
		return InsertResult{}, postgresError("insert into "+collection, err)
	}
	return InsertResult{InsertedID: id}, nil
}

func (s *PostgresStore) Find(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	table, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}

	var rows []documentRow
	query := fmt.Sprintf(`SELECT id, doc FROM %s WHERE %s ORDER BY seq`, table, where)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, postgresError("find in "+collection, err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PostgresStore) FindOne(ctx context.Context, collection string, id string) (Record, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}
	table, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}

	var row documentRow
	query := fmt.Sprintf(`SELECT id, doc FROM %s WHERE id = $1`, table)
	err = s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, postgresError("find one in "+collection, err)
	}
	return row.record()
}

func (s *PostgresStore) DeleteOne(ctx context.Context, collection string, filter Filter) (DeleteResult, error) {
	table, err := s.table(ctx, collection)
	if err != nil {
		return DeleteResult{}, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return DeleteResult{}, err
	}

	res, err := s.db.ExecContext(ctx, deleteFirstSQL(table, where, false), args...)
	if err != nil {
		return DeleteResult{}, postgresError("delete from "+collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return DeleteResult{}, postgresError("delete from "+collection, err)
	}
	return DeleteResult{DeletedCount: n}, nil
}

// deleteFirstSQL deletes the earliest matching row. A plain delete waits for a
// row locked by a concurrent update so the record is not reported missing; the
// claim skips locked rows so concurrent buyers each take a different row or none.
func deleteFirstSQL(table, where string, skipLocked bool) string {
	lock := "FOR UPDATE"
	if skipLocked {
		lock += " SKIP LOCKED"
	}
	return fmt.Sprintf(`
		DELETE FROM %[1]s WHERE id = (
			SELECT id FROM %[1]s WHERE %[2]s ORDER BY seq LIMIT 1 %[3]s
		)`, table, where, lock)
}

func (s *PostgresStore) FindOneAndDelete(ctx context.Context, collection string, filter Filter) (Record, error) {
	table, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}

	query := deleteFirstSQL(table, where, true) + " RETURNING id, doc"
	var row documentRow
	err = s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, postgresError("find and delete in "+collection, err)
	}
	return row.record()
}

func (s *PostgresStore) UpdateOne(ctx context.Context, collection string, filter Filter, patch Record) (UpdateResult, error) {
	if err := checkPatch(patch); err != nil {
		return UpdateResult{}, err
	}
	table, err := s.table(ctx, collection)
	if err != nil {
		return UpdateResult{}, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return UpdateResult{}, err
	}
	patchDoc, err := json.Marshal(patch)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("encode patch for %s: %w", collection, err)
	}
	args = append(args, string(patchDoc))
	patchArg := len(args)

	query := fmt.Sprintf(`
		WITH target AS (
			SELECT id, doc @> $%[3]d::jsonb AS unchanged
			FROM %[1]s WHERE %[2]s ORDER BY seq LIMIT 1 FOR UPDATE
		)
		UPDATE %[1]s AS t SET doc = t.doc || $%[3]d::jsonb
		FROM target WHERE t.id = target.id
		RETURNING target.unchanged`, table, where, patchArg)

	var unchanged []bool
	if err := s.db.SelectContext(ctx, &unchanged, query, args...); err != nil {
		return UpdateResult{}, postgresError("update in "+collection, err)
	}

	var res UpdateResult
	for _, same := range unchanged {
		res.MatchedCount++
		if !same {
			res.ModifiedCount++
		}
	}
	return res, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close(context.Context) error {
	return s.db.Close()
}

// table returns the quoted table name, creating the table on first use.
func (s *PostgresStore) table(ctx context.Context, collection string) (string, error) {
	quoted := pq.QuoteIdentifier(collection)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[collection] {
		return quoted, nil
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(createTableSQL, quoted)); err != nil {
		return "", postgresError("create table "+collection, err)
	}
	s.tables[collection] = true
	return quoted, nil
}

// whereClause matches _id against the id column and everything else by JSONB containment.
func whereClause(filter Filter) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	fields := Filter{}
	for k, v := range filter {
		if k != IDField {
			fields[k] = v
			continue
		}
		id, _ := v.(string)
		if _, err := ParseID(id); err != nil {
			return "", nil, err
		}
		args = append(args, id)
		clauses = append(clauses, fmt.Sprintf("id = $%d", len(args)))
	}
	if len(fields) > 0 {
		doc, err := json.Marshal(fields)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter: %w", err)
		}
		args = append(args, string(doc))
		clauses = append(clauses, fmt.Sprintf("doc @> $%d::jsonb", len(args)))
	}
	if len(clauses) == 0 {
		return "TRUE", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

func (row documentRow) record() (Record, error) {
	rec := Record{}
	if err := json.Unmarshal(row.Doc, &rec); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", row.ID, err)
	}
	rec[IDField] = row.ID
	return rec, nil
}

func postgresError(action string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", action, ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}
