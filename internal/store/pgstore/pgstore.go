// Package pgstore implements store.Store as a JSONB document table in
// PostgreSQL. Every document is one row keyed by its collection path and id.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// timeLayout is fixed width so that stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open connects to Postgres, waiting up to attempts*2s for it to accept
// connections, and creates the document table.
func Open(ctx context.Context, dsn string, attempts int, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for i := 0; ; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			logger.Info("Database connection established")
			break
		}
		if i+1 >= attempts {
			db.Close()
			return nil, fmt.Errorf("database not reachable: %w", err)
		}
		logger.Info("Waiting for database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_business ON documents (collection, (data->>'business_id'))`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents (collection, (data->'created_at'))`,
	}
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	return get(ctx, s.db, path)
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	query, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, store.Document{ID: id, Data: data})
	}
	return docs, rows.Err()
}

func (s *Store) Set(ctx context.Context, path string, fields map[string]interface{}) error {
	return set(ctx, s.db, path, fields)
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]interface{}, conds ...store.Precondition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := update(ctx, tx, path, fields, conds); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	return add(ctx, s.db, collection, fields)
}

func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context, w store.Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(ctx, &txWriter{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type txWriter struct {
	tx *sql.Tx
}

func (w *txWriter) Set(ctx context.Context, path string, fields map[string]interface{}) error {
	return set(ctx, w.tx, path, fields)
}

func (w *txWriter) Update(ctx context.Context, path string, fields map[string]interface{}, conds ...store.Precondition) error {
	return update(ctx, w.tx, path, fields, conds)
}

func (w *txWriter) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	return add(ctx, w.tx, collection, fields)
}

func get(ctx context.Context, db execer, path string) (store.Document, error) {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return store.Document{}, err
	}

	var raw []byte
	err = db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	if err != nil {
		return store.Document{}, err
	}

	data, err := decodeData(raw)
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{ID: id, Data: data}, nil
}

func set(ctx context.Context, db execer, path string, fields map[string]interface{}) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	data, err := encodeData(fields)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data`,
		collection, id, data)
	return err
}

func add(ctx context.Context, db execer, collection string, fields map[string]interface{}) (string, error) {
	if _, _, err := store.SplitCollection(collection); err != nil {
		return "", err
	}
	data, err := encodeData(fields)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	_, err = db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`,
		collection, id, data)
	if err != nil {
		return "", err
	}
	return id, nil
}

// update locks the row, checks preconditions against the stored values, then
// merges fields into the document. Fields set to store.Missing are removed.
func update(ctx context.Context, db execer, path string, fields map[string]interface{}, conds []store.Precondition) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	var raw []byte
	err = db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	if err != nil {
		return err
	}

	current, err := decodeData(raw)
	if err != nil {
		return err
	}
	for _, c := range conds {
		if !satisfied(current, c) {
			return fmt.Errorf("%w: %s on %s", store.ErrConflict, c.Field, path)
		}
	}

	changed := map[string]interface{}{}
	unset := []string{}
	for k, v := range fields {
		if v == store.Missing {
			unset = append(unset, k)
			continue
		}
		changed[k] = v
	}
	patch, err := encodeData(changed)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		UPDATE documents SET data = (data || $3::jsonb) - $4::text[]
		WHERE collection = $1 AND id = $2`,
		collection, id, patch, pq.Array(unset))
	return err
}

func satisfied(current map[string]interface{}, c store.Precondition) bool {
	v, ok := current[c.Field]
	if !ok || v == nil {
		return c.Equals == nil
	}
	if c.Equals == nil {
		return false
	}
	cmp, err := store.Compare(v, c.Equals)
	return err == nil && cmp == 0
}

var sqlOperators = map[store.Operator]string{
	store.OpEqual:          "=",
	store.OpLessThan:       "<",
	store.OpLessOrEqual:    "<=",
	store.OpGreaterThan:    ">",
	store.OpGreaterOrEqual: ">=",
}

// buildQuery renders a store.Query as SQL. Field names and values are bound
// as parameters; values are compared as jsonb, which orders numbers
// numerically and strings (including encoded times) lexically.
func buildQuery(q store.Query) (string, []interface{}, error) {
	if _, _, err := store.SplitCollection(q.Collection); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	args := []interface{}{q.Collection}
	param := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	b.WriteString("SELECT id, data FROM documents WHERE collection = $1")

	for _, f := range q.Filters {
		op, ok := sqlOperators[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
		}
		field := param(f.Field) + "::text"
		if f.Value == nil && f.Op == store.OpEqual {
			fmt.Fprintf(&b, " AND (data->>%s) IS NULL", field)
			continue
		}
		value, err := encodeValue(f.Value)
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(&b, " AND data->%s %s %s::jsonb", field, op, param(value))
	}

	desc := q.OrderBy != nil && q.OrderBy.Desc
	cmp, dir := ">", "ASC"
	if desc {
		cmp, dir = "<", "DESC"
	}

	var orderField string
	if q.OrderBy != nil && q.OrderBy.Field != "" {
		orderField = param(q.OrderBy.Field) + "::text"
	}

	if q.After != nil {
		if orderField == "" {
			fmt.Fprintf(&b, " AND id %s %s", cmp, param(q.After.ID))
		} else {
			value, err := encodeValue(q.After.Value)
			if err != nil {
				return "", nil, err
			}
			v := param(value)
			fmt.Fprintf(&b, " AND (data->%s %s %s::jsonb OR (data->%s = %s::jsonb AND id %s %s))",
				orderField, cmp, v, orderField, v, cmp, param(q.After.ID))
		}
	}

	if orderField != "" {
		fmt.Fprintf(&b, " ORDER BY data->%s %s, id %s", orderField, dir, dir)
	} else {
		fmt.Fprintf(&b, " ORDER BY id %s", dir)
	}

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %s", param(q.Limit))
	}
	return b.String(), args, nil
}

func encodeData(fields map[string]interface{}) ([]byte, error) {
	plain := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k == "id" || v == store.Missing {
			continue
		}
		plain[k] = encodeTimes(v)
	}
	data, err := json.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

func encodeValue(v interface{}) (string, error) {
	data, err := json.Marshal(encodeTimes(v))
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return string(data), nil
}

func encodeTimes(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(timeLayout)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(timeLayout)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			if e == store.Missing {
				continue
			}
			out[k] = encodeTimes(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = encodeTimes(e)
		}
		return out
	}
	return v
}

func decodeData(raw []byte) (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	for k, v := range data {
		data[k] = decodeTimes(v)
	}
	return data, nil
}

func decodeTimes(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if len(val) == len(timeLayout) {
			if t, err := time.Parse(timeLayout, val); err == nil {
				return t
			}
		}
	case map[string]interface{}:
		for k, e := range val {
			val[k] = decodeTimes(e)
		}
	case []interface{}:
		for i, e := range val {
			val[i] = decodeTimes(e)
		}
	}
	return v
}

var _ store.Store = (*Store)(nil)
