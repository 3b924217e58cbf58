// Package memstore is an in-process store.Store used for local development and
// tests. Transactions are optimistic: writes are staged and applied
// atomically at commit, where preconditions are checked.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/google/uuid"
)

type Op string

const (
	OpGet    Op = "get"
	OpQuery  Op = "query"
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpAdd    Op = "add"
)

// Fault lets tests make a given operation fail. path is the document path
// for get/set/update and the collection path for query/add.
type Fault func(op Op, path string) error

type collections map[string]map[string]map[string]interface{}

type Store struct {
	mu           sync.RWMutex
	data         collections
	fault        Fault
	transactions bool
}

type Option func(*Store)

// WithoutTransactions makes RunInTransaction report
// store.ErrTransactionsUnsupported, like a backend without multi-document
// transactions.
func WithoutTransactions() Option {
	return func(s *Store) { s.transactions = false }
}

func New(opts ...Option) *Store {
	s := &Store{data: collections{}, transactions: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

func (s *Store) checkFault(op Op, path string) error {
	s.mu.RLock()
	f := s.fault
	s.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f(op, path)
}

func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	if err := s.checkFault(OpGet, path); err != nil {
		return store.Document{}, err
	}
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return store.Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[collection][id]
	if !ok {
		return store.Document{}, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	return store.Document{ID: id, Data: cloneMap(data)}, nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkFault(OpQuery, q.Collection); err != nil {
		return nil, err
	}
	if _, _, err := store.SplitCollection(q.Collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	docs := make([]store.Document, 0, len(s.data[q.Collection]))
	for id, data := range s.data[q.Collection] {
		if matchesAll(data, q.Filters) {
			docs = append(docs, store.Document{ID: id, Data: cloneMap(data)})
		}
	}
	s.mu.RUnlock()

	ordering := q.OrderBy
	if ordering == nil {
		ordering = &store.OrderBy{}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return less(docs[i], docs[j], ordering)
	})

	if q.After != nil {
		start := len(docs)
		for i, d := range docs {
			if afterCursor(d, q.After, ordering) {
				start = i
				break
			}
		}
		docs = docs[start:]
	}

	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (s *Store) Set(ctx context.Context, path string, fields map[string]interface{}) error {
	return s.apply(ctx, OpSet, path, func(c collections) error {
		return setDoc(c, path, fields)
	})
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]interface{}, conds ...store.Precondition) error {
	return s.apply(ctx, OpUpdate, path, func(c collections) error {
		return updateDoc(c, path, fields, conds)
	})
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	id := uuid.New().String()
	err := s.apply(ctx, OpAdd, collection, func(c collections) error {
		if _, _, err := store.SplitCollection(collection); err != nil {
			return err
		}
		return setDoc(c, store.Doc(collection, id), fields)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) apply(ctx context.Context, op Op, path string, mutate func(collections) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkFault(op, path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return mutate(s.data)
}

// RunInTransaction stages the writes fn makes through w and applies them
// all-or-nothing once fn returns nil. fn must write only through w.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context, w store.Writer) error) error {
	if !s.transactions {
		return store.ErrTransactionsUnsupported
	}

	tx := &txWriter{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := cloneCollections(s.data)
	for _, mutate := range tx.ops {
		if err := mutate(staged); err != nil {
			return err
		}
	}
	s.data = staged
	return nil
}

type txWriter struct {
	store *Store
	ops   []func(collections) error
}

func (w *txWriter) stage(ctx context.Context, op Op, path string, mutate func(collections) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.store.checkFault(op, path); err != nil {
		return err
	}
	w.ops = append(w.ops, mutate)
	return nil
}

func (w *txWriter) Set(ctx context.Context, path string, fields map[string]interface{}) error {
	fields = cloneMap(fields)
	return w.stage(ctx, OpSet, path, func(c collections) error {
		return setDoc(c, path, fields)
	})
}

func (w *txWriter) Update(ctx context.Context, path string, fields map[string]interface{}, conds ...store.Precondition) error {
	if _, _, err := store.SplitPath(path); err != nil {
		return err
	}
	fields = cloneMap(fields)
	return w.stage(ctx, OpUpdate, path, func(c collections) error {
		return updateDoc(c, path, fields, conds)
	})
}

func (w *txWriter) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	if _, _, err := store.SplitCollection(collection); err != nil {
		return "", err
	}
	id := uuid.New().String()
	fields = cloneMap(fields)
	err := w.stage(ctx, OpAdd, collection, func(c collections) error {
		return setDoc(c, store.Doc(collection, id), fields)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func setDoc(c collections, path string, fields map[string]interface{}) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	if c[collection] == nil {
		c[collection] = map[string]map[string]interface{}{}
	}
	doc := map[string]interface{}{}
	for k, v := range fields {
		if v == store.Missing {
			continue
		}
		doc[k] = cloneValue(v)
	}
	c[collection][id] = doc
	return nil
}

func updateDoc(c collections, path string, fields map[string]interface{}, conds []store.Precondition) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	doc, ok := c[collection][id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	for _, cond := range conds {
		if !equalField(doc, cond) {
			return fmt.Errorf("%w: %s on %s", store.ErrConflict, cond.Field, path)
		}
	}
	for k, v := range fields {
		if v == store.Missing {
			delete(doc, k)
			continue
		}
		doc[k] = cloneValue(v)
	}
	return nil
}

func equalField(doc map[string]interface{}, cond store.Precondition) bool {
	v, ok := lookup(doc, cond.Field)
	if !ok || v == nil {
		return cond.Equals == nil
	}
	if cond.Equals == nil {
		return false
	}
	c, err := store.Compare(v, cond.Equals)
	return err == nil && c == 0
}

func matchesAll(data map[string]interface{}, filters []store.Filter) bool {
	for _, f := range filters {
		v, ok := lookup(data, f.Field)
		if !ok || !store.Matches(v, f.Op, f.Value) {
			return false
		}
	}
	return true
}

// lookup resolves dotted field paths into nested maps.
func lookup(data map[string]interface{}, field string) (interface{}, bool) {
	parts := strings.Split(field, ".")
	var cur interface{} = data
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func compareDocs(a, b store.Document, ordering *store.OrderBy) int {
	if ordering.Field != "" {
		av, _ := lookup(a.Data, ordering.Field)
		bv, _ := lookup(b.Data, ordering.Field)
		if c, err := store.Compare(av, bv); err == nil && c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

func less(a, b store.Document, ordering *store.OrderBy) bool {
	c := compareDocs(a, b, ordering)
	if ordering.Desc {
		return c > 0
	}
	return c < 0
}

func afterCursor(d store.Document, cursor *store.Cursor, ordering *store.OrderBy) bool {
	pos := store.Document{ID: cursor.ID, Data: map[string]interface{}{}}
	if ordering.Field != "" {
		pos.Data[ordering.Field] = cursor.Value
	}
	return less(pos, d, ordering)
}

func cloneCollections(c collections) collections {
	out := make(collections, len(c))
	for name, docs := range c {
		copied := make(map[string]map[string]interface{}, len(docs))
		for id, doc := range docs {
			copied[id] = cloneMap(doc)
		}
		out[name] = copied
	}
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case *time.Time:
		if val == nil {
			return nil
		}
		return *val
	}
	return v
}

// Count returns the number of documents in a collection path.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

var _ store.Store = (*Store)(nil)

// ErrInjected is a convenience error for Fault implementations.
var ErrInjected = errors.New("injected store fault")
