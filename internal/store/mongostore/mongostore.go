// Package mongostore implements store.Store on MongoDB.
//
// A top-level collection path such as "orders" maps to the Mongo collection
// of the same name with the document id as _id. A sub-collection path such
// as "orders/{id}/items" maps to the "items" collection; its documents carry
// the parent document path in _parent and use the full document path as _id.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const parentField = "_parent"

type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
	logger       *logrus.Logger
}

// Connect dials MongoDB and verifies the connection. Transactions require a
// replica set or sharded cluster; pass transactions=false for a standalone
// server.
func Connect(ctx context.Context, uri, dbName string, transactions bool, logger *logrus.Logger) (*Store, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(timeoutCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(timeoutCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"database":     dbName,
		"transactions": transactions,
	}).Info("Connected to MongoDB")

	return &Store{
		client:       client,
		db:           client.Database(dbName),
		transactions: transactions,
		logger:       logger,
	}, nil
}

func (s *Store) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}

// EnsureIndexes creates the indexes the order queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		"orders": {
			{Keys: bson.D{{Key: "business_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		},
		"items": {
			{Keys: bson.D{{Key: parentField, Value: 1}, {Key: "_id", Value: 1}}},
		},
		"status_history": {
			{Keys: bson.D{{Key: parentField, Value: 1}, {Key: "created_at", Value: 1}}},
		},
		"businesses": {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		},
	}
	for name, models := range specs {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// location is where a document or collection path lives in Mongo.
type location struct {
	collection string
	parent     string
}

func locate(collectionPath string) (location, error) {
	name, parent, err := store.SplitCollection(collectionPath)
	if err != nil {
		return location{}, err
	}
	return location{collection: name, parent: parent}, nil
}

func (l location) key(id string) string {
	if l.parent == "" {
		return id
	}
	return l.parent + "/" + l.collection + "/" + id
}

func (l location) idFromKey(key string) string {
	if l.parent == "" {
		return key
	}
	return strings.TrimPrefix(key, l.parent+"/"+l.collection+"/")
}

func (l location) scope() bson.M {
	if l.parent == "" {
		return bson.M{}
	}
	return bson.M{parentField: l.parent}
}

func locateDoc(path string) (location, string, error) {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return location{}, "", err
	}
	loc, err := locate(collection)
	if err != nil {
		return location{}, "", err
	}
	return loc, id, nil
}

func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	loc, id, err := locateDoc(path)
	if err != nil {
		return store.Document{}, err
	}

	var raw bson.M
	err = s.db.Collection(loc.collection).FindOne(ctx, bson.M{"_id": loc.key(id)}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Document{}, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	if err != nil {
		return store.Document{}, err
	}
	return toDocument(loc, raw), nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	loc, err := locate(q.Collection)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(buildSort(q.OrderBy))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(loc.collection).Find(ctx, buildFilter(loc, q), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	docs := make([]store.Document, 0, len(rows))
	for _, raw := range rows {
		docs = append(docs, toDocument(loc, raw))
	}
	return docs, nil
}

func (s *Store) Set(ctx context.Context, path string, fields map[string]interface{}) error {
	loc, id, err := locateDoc(path)
	if err != nil {
		return err
	}
	doc := buildDocument(loc, id, fields)
	_, err = s.db.Collection(loc.collection).ReplaceOne(ctx, bson.M{"_id": doc["_id"]}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]interface{}, conds ...store.Precondition) error {
	loc, id, err := locateDoc(path)
	if err != nil {
		return err
	}

	coll := s.db.Collection(loc.collection)
	filter := buildUpdateFilter(loc.key(id), conds)
	result, err := coll.UpdateOne(ctx, filter, buildUpdate(fields))
	if err != nil {
		return err
	}
	if result.MatchedCount > 0 {
		return nil
	}

	n, err := coll.CountDocuments(ctx, bson.M{"_id": loc.key(id)})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	return fmt.Errorf("%w: %s", store.ErrConflict, path)
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	loc, err := locate(collection)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if _, err := s.db.Collection(loc.collection).InsertOne(ctx, buildDocument(loc, id, fields)); err != nil {
		return "", err
	}
	return id, nil
}

// RunInTransaction runs fn inside a Mongo session transaction. The context
// handed to fn carries the session, so writes through w join it. fn may be
// retried by the driver on transient transaction errors.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context, w store.Writer) error) error {
	if !s.transactions {
		return store.ErrTransactionsUnsupported
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s)
	})
	return err
}

func toDocument(loc location, raw bson.M) store.Document {
	key, _ := raw["_id"].(string)
	data := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if k == "_id" || k == parentField {
			continue
		}
		data[k] = v
	}
	return store.Document{ID: loc.idFromKey(key), Data: data}
}

func buildDocument(loc location, id string, fields map[string]interface{}) bson.M {
	doc := bson.M{"_id": loc.key(id)}
	if loc.parent != "" {
		doc[parentField] = loc.parent
	}
	for k, v := range fields {
		if k == "_id" || k == "id" || v == store.Missing {
			continue
		}
		doc[k] = v
	}
	return doc
}

func buildUpdate(fields map[string]interface{}) bson.M {
	set := bson.M{}
	unset := bson.M{}
	for k, v := range fields {
		if v == store.Missing {
			unset[k] = ""
			continue
		}
		set[k] = v
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

// buildUpdateFilter targets one document and adds each precondition as an
// equality match. A nil expectation matches a missing or null field.
func buildUpdateFilter(key string, conds []store.Precondition) bson.M {
	filter := bson.M{"_id": key}
	for _, c := range conds {
		filter[c.Field] = c.Equals
	}
	return filter
}

var operators = map[store.Operator]string{
	store.OpEqual:          "$eq",
	store.OpLessThan:       "$lt",
	store.OpLessOrEqual:    "$lte",
	store.OpGreaterThan:    "$gt",
	store.OpGreaterOrEqual: "$gte",
}

func buildFilter(loc location, q store.Query) bson.M {
	var clauses []bson.M
	if loc.parent != "" {
		clauses = append(clauses, loc.scope())
	}
	for _, f := range q.Filters {
		clauses = append(clauses, bson.M{f.Field: bson.M{operators[f.Op]: f.Value}})
	}
	if q.After != nil {
		clauses = append(clauses, afterClause(loc, q.OrderBy, q.After))
	}

	switch len(clauses) {
	case 0:
		return bson.M{}
	case 1:
		return clauses[0]
	}
	return bson.M{"$and": clauses}
}

// afterClause is the keyset condition for rows strictly after the cursor in
// (field, _id) order.
func afterClause(loc location, ordering *store.OrderBy, cursor *store.Cursor) bson.M {
	op := "$gt"
	if ordering != nil && ordering.Desc {
		op = "$lt"
	}
	key := loc.key(cursor.ID)
	if ordering == nil || ordering.Field == "" {
		return bson.M{"_id": bson.M{op: key}}
	}
	return bson.M{"$or": []bson.M{
		{ordering.Field: bson.M{op: cursor.Value}},
		{ordering.Field: cursor.Value, "_id": bson.M{op: key}},
	}}
}

func buildSort(ordering *store.OrderBy) bson.D {
	if ordering == nil || ordering.Field == "" {
		return bson.D{{Key: "_id", Value: 1}}
	}
	dir := 1
	if ordering.Desc {
		dir = -1
	}
	return bson.D{{Key: ordering.Field, Value: dir}, {Key: "_id", Value: dir}}
}

var _ store.Store = (*Store)(nil)
