// Package store is the boundary to the document database. It defines the
// read/write collaborators the order core relies on, normalizes raw records
// coming back from a backend, and guards every call with a deadline and a
// circuit breaker.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound                = errors.New("document not found")
	ErrConflict                = errors.New("document precondition failed")
	ErrUnavailable             = errors.New("store unavailable")
	ErrTransactionsUnsupported = errors.New("store does not support transactions")
	ErrInvalidPath             = errors.New("invalid document path")
)

// Document is a raw record as returned by a backend. Data may still hold
// backend-specific value types; pass it through Normalize before use.
type Document struct {
	ID   string
	Data map[string]interface{}
}

type Operator string

const (
	OpEqual          Operator = "=="
	OpLessThan       Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreaterThan    Operator = ">"
	OpGreaterOrEqual Operator = ">="
)

type Filter struct {
	Field string
	Op    Operator
	Value interface{}
}

func Where(field string, op Operator, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// OrderBy sorts on one field; documents with equal values are ordered by id
// in the same direction so that cursors are stable.
type OrderBy struct {
	Field string
	Desc  bool
}

// Cursor marks the last document of a previous page. A query with After set
// resumes strictly after that position.
type Cursor struct {
	Value interface{}
	ID    string
}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    *OrderBy
	Limit      int
	After      *Cursor
}

// Precondition makes an update conditional on the stored value of Field.
type Precondition struct {
	Field  string
	Equals interface{}
}

type Reader interface {
	Get(ctx context.Context, path string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
}

type Writer interface {
	Set(ctx context.Context, path string, fields map[string]interface{}) error
	Update(ctx context.Context, path string, fields map[string]interface{}, conds ...Precondition) error
	Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error)
}

// Store is the full collaborator. RunInTransaction returns
// ErrTransactionsUnsupported when the backend cannot group writes.
type Store interface {
	Reader
	Writer
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, w Writer) error) error
}

// Doc joins path segments: Doc("orders", id, "items") is "orders/<id>/items".
func Doc(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath breaks a document path into its collection path and id.
func SplitPath(path string) (collection, id string, err error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, s := range segments {
		if s == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1], nil
}

// SplitCollection breaks a collection path into its root collection name and
// the document path of its parent ("" for top-level collections).
func SplitCollection(collection string) (name, parent string, err error) {
	segments := strings.Split(strings.Trim(collection, "/"), "/")
	if len(segments)%2 != 1 || segments[0] == "" {
		return "", "", fmt.Errorf("%w: collection %q", ErrInvalidPath, collection)
	}
	name = segments[len(segments)-1]
	if len(segments) > 1 {
		parent = strings.Join(segments[:len(segments)-1], "/")
	}
	return name, parent, nil
}
