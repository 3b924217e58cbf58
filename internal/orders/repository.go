package orders

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/cache"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	OrdersCollection            = "orders"
	ItemsCollection             = "items"
	HistoryCollection           = "status_history"
	CustomersCollection         = "customers"
	StatusDefinitionsCollection = "status_definitions"

	DefaultPageSize = 50
	MaxPageSize     = 200

	UnknownProductName = "Unknown Product"

	statusDefinitionsTTL = 5 * time.Minute
)

// Page is one slice of a tenant's orders, newest first. NextCursor is empty
// when HasMore is false.
type Page struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

type pageCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func encodeCursor(o models.Order) string {
	data, _ := json.Marshal(pageCursor{CreatedAt: o.CreatedAt, ID: o.ID})
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (*store.Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, validationError("malformed cursor")
	}
	var c pageCursor
	if err := json.Unmarshal(data, &c); err != nil || c.ID == "" {
		return nil, validationError("malformed cursor")
	}
	return &store.Cursor{Value: c.CreatedAt, ID: c.ID}, nil
}

// Repository reads orders and their sub-collections for one tenant at a time.
type Repository struct {
	store  store.Store
	cache  cache.Cache
	logger *logrus.Logger
}

func NewRepository(s store.Store, c cache.Cache, logger *logrus.Logger) *Repository {
	if c == nil {
		c = cache.Nop{}
	}
	return &Repository{store: s, cache: c, logger: logger}
}

func orderPath(id string) string {
	return store.Doc(OrdersCollection, id)
}

// ListOrders returns one page of the tenant's orders ordered by created_at
// descending. It reads one extra record so that HasMore is exact.
func (r *Repository) ListOrders(ctx context.Context, tenantID, cursor string, pageSize int) (Page, error) {
	page := Page{Orders: []models.Order{}}
	if tenantID == "" {
		return page, nil
	}
	switch {
	case pageSize <= 0:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}

	q := store.Query{
		Collection: OrdersCollection,
		Filters:    []store.Filter{store.Where("business_id", store.OpEqual, tenantID)},
		OrderBy:    &store.OrderBy{Field: "created_at", Desc: true},
		Limit:      pageSize + 1,
	}
	if cursor != "" {
		after, err := decodeCursor(cursor)
		if err != nil {
			return page, err
		}
		q.After = after
	}

	docs, err := r.store.Query(ctx, q)
	if err != nil {
		r.logger.WithError(err).WithField("business_id", tenantID).Error("Failed to list orders")
		return page, translate(err)
	}

	if len(docs) > pageSize {
		page.HasMore = true
		docs = docs[:pageSize]
	}
	for _, doc := range docs {
		snap, err := decodeOrder(doc)
		if err != nil {
			r.logger.WithError(err).WithField("order_id", doc.ID).Warn("Skipping malformed order record")
			continue
		}
		page.Orders = append(page.Orders, snap.order)
	}
	if page.HasMore && len(docs) > 0 {
		last, err := decodeOrder(docs[len(docs)-1])
		if err == nil {
			page.NextCursor = encodeCursor(last.order)
		} else {
			page.NextCursor = encodeCursor(models.Order{ID: docs[len(docs)-1].ID})
		}
	}
	return page, nil
}

// ListAllOrders pages through every order of the tenant.
func (r *Repository) ListAllOrders(ctx context.Context, tenantID string) ([]models.Order, error) {
	var all []models.Order
	cursor := ""
	for {
		page, err := r.ListOrders(ctx, tenantID, cursor, MaxPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Orders...)
		if !page.HasMore {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// GetOrder returns the order with its customer snapshot filled in from the
// live customer record. Snapshot fields win; the live record only fills
// fields the snapshot left empty.
func (r *Repository) GetOrder(ctx context.Context, tenantID, id string) (*models.Order, error) {
	snap, err := r.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	order := snap.order

	if order.Customer.ID != "" {
		live, err := r.customer(ctx, tenantID, order.Customer.ID)
		switch {
		case err == nil:
			order.Customer = OverlayCustomer(order.Customer, live)
		case errors.Is(err, ErrNotFound):
		default:
			r.logger.WithError(err).WithFields(logrus.Fields{
				"order_id":    id,
				"customer_id": order.Customer.ID,
			}).Warn("Failed to load live customer record")
		}
	}
	return &order, nil
}

// OverlayCustomer merges a live customer record under the order's snapshot.
func OverlayCustomer(snapshot models.CustomerSnapshot, live models.Customer) models.CustomerSnapshot {
	merged := snapshot
	if merged.ID == "" {
		merged.ID = live.ID
	}
	if merged.Name == "" {
		merged.Name = live.Name
	}
	if merged.Email == "" {
		merged.Email = live.Email
	}
	if merged.Phone == "" {
		merged.Phone = live.Phone
	}
	return merged
}

func (r *Repository) customer(ctx context.Context, tenantID, id string) (models.Customer, error) {
	doc, err := r.store.Get(ctx, store.Doc(CustomersCollection, id))
	if err != nil {
		return models.Customer{}, translate(err)
	}
	var c models.Customer
	if err := store.NormalizeDocument(doc).Decode(&c); err != nil {
		return models.Customer{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if c.BusinessID != "" && c.BusinessID != tenantID {
		return models.Customer{}, ErrNotFound
	}
	return c, nil
}

// ListOrderItems returns the order's line items. Legacy items missing name,
// price, quantity or total get "Unknown Product", 0, 1 and price*quantity.
func (r *Repository) ListOrderItems(ctx context.Context, tenantID, orderID string) ([]models.OrderItem, error) {
	if _, err := r.load(ctx, tenantID, orderID); err != nil {
		return nil, err
	}

	docs, err := r.store.Query(ctx, store.Query{
		Collection: store.Doc(OrdersCollection, orderID, ItemsCollection),
	})
	if err != nil {
		r.logger.WithError(err).WithField("order_id", orderID).Error("Failed to list order items")
		return nil, translate(err)
	}

	items := make([]models.OrderItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, itemFromRecord(store.NormalizeDocument(doc)))
	}
	return items, nil
}

func itemFromRecord(rec store.Record) models.OrderItem {
	item := models.OrderItem{Name: UnknownProductName, Quantity: 1}
	if id, ok := rec.String("product_id"); ok {
		item.ProductID = id
	}
	if name, ok := rec.String("name"); ok && name != "" {
		item.Name = name
	}
	if price, ok := rec.Float("price"); ok {
		item.Price = price
	}
	if qty, ok := rec.Float("quantity"); ok && qty > 0 {
		item.Quantity = int(qty)
	}
	if total, ok := rec.Float("total"); ok {
		item.Total = total
	} else {
		item.Total = item.Price * float64(item.Quantity)
	}
	return item
}

// ListHistory returns the order's status history, oldest first.
func (r *Repository) ListHistory(ctx context.Context, tenantID, orderID string) ([]models.StatusHistoryEntry, error) {
	if _, err := r.load(ctx, tenantID, orderID); err != nil {
		return nil, err
	}

	docs, err := r.store.Query(ctx, store.Query{
		Collection: store.Doc(OrdersCollection, orderID, HistoryCollection),
		OrderBy:    &store.OrderBy{Field: "created_at"},
	})
	if err != nil {
		r.logger.WithError(err).WithField("order_id", orderID).Error("Failed to list status history")
		return nil, translate(err)
	}

	entries := make([]models.StatusHistoryEntry, 0, len(docs))
	for _, doc := range docs {
		var e models.StatusHistoryEntry
		if err := store.NormalizeDocument(doc).Decode(&e); err != nil {
			r.logger.WithError(err).WithField("entry_id", doc.ID).Warn("Skipping malformed history entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func statusDefinitionsKey(tenantID string) string {
	return "status_definitions:" + tenantID
}

// StatusDefinitions returns the tenant's status palette. Results are cached;
// cache failures fall through to the store.
func (r *Repository) StatusDefinitions(ctx context.Context, tenantID string) ([]models.StatusDefinition, error) {
	if tenantID == "" {
		return nil, nil
	}

	var defs []models.StatusDefinition
	found, err := r.cache.Get(ctx, statusDefinitionsKey(tenantID), &defs)
	if err != nil {
		r.logger.WithError(err).Warn("Status definition cache read failed")
	}
	if found {
		return defs, nil
	}

	docs, err := r.store.Query(ctx, store.Query{
		Collection: StatusDefinitionsCollection,
		Filters:    []store.Filter{store.Where("business_id", store.OpEqual, tenantID)},
	})
	if err != nil {
		return nil, translate(err)
	}

	defs = make([]models.StatusDefinition, 0, len(docs))
	for _, doc := range docs {
		var d models.StatusDefinition
		if err := store.NormalizeDocument(doc).Decode(&d); err != nil {
			continue
		}
		defs = append(defs, d)
	}

	if err := r.cache.Set(ctx, statusDefinitionsKey(tenantID), defs, statusDefinitionsTTL); err != nil {
		r.logger.WithError(err).Warn("Status definition cache write failed")
	}
	return defs, nil
}

// snapshot is an order as read from the store together with its raw record,
// which is needed to build preconditions and compensating writes.
type snapshot struct {
	order models.Order
	rec   store.Record
}

func decodeOrder(doc store.Document) (snapshot, error) {
	rec := store.NormalizeDocument(doc)
	var o models.Order
	if err := rec.Decode(&o); err != nil {
		return snapshot{}, err
	}
	if st, ok := models.ParseStatus(string(o.Status)); ok {
		o.Status = st
	}
	return snapshot{order: o, rec: rec}, nil
}

// load reads an order and checks it belongs to the tenant. Orders of other
// tenants are reported as not found.
func (r *Repository) load(ctx context.Context, tenantID, id string) (snapshot, error) {
	if tenantID == "" || id == "" {
		return snapshot{}, ErrNotFound
	}
	doc, err := r.store.Get(ctx, orderPath(id))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.WithError(err).WithField("order_id", id).Error("Failed to get order")
		}
		return snapshot{}, translate(err)
	}
	snap, err := decodeOrder(doc)
	if err != nil {
		r.logger.WithError(err).WithField("order_id", id).Error("Malformed order record")
		return snapshot{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if snap.order.BusinessID != tenantID {
		return snapshot{}, ErrNotFound
	}
	return snap, nil
}

// versionCondition guards a write against concurrent modification. Records
// written before versioning have no version field.
func (s snapshot) versionCondition() store.Precondition {
	if !s.rec.Has("version") {
		return store.Precondition{Field: "version", Equals: nil}
	}
	return store.Precondition{Field: "version", Equals: s.order.Version}
}

// revertOf returns the write that restores every field in fields to its
// value in the snapshot.
func (s snapshot) revertOf(fields map[string]interface{}) map[string]interface{} {
	revert := make(map[string]interface{}, len(fields))
	for k := range fields {
		if v, ok := s.rec[k]; ok {
			revert[k] = v
		} else {
			revert[k] = store.Missing
		}
	}
	return revert
}
