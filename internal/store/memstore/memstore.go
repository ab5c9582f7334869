// Package memstore is an in-memory implementation of the storefront store,
// used by tests and by DB_DRIVER=memory for local runs.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
)

type state struct {
	products map[int64]models.Product
	orders   map[int64]models.Order
	items    []models.OrderItem
	users    map[int64]models.User
	events   map[string]models.ProcessedEvent

	nextProductID int64
	nextOrderID   int64
	nextItemID    int64
	nextUserID    int64
}

func (s *state) clone() *state {
	c := *s
	c.products = make(map[int64]models.Product, len(s.products))
	for k, v := range s.products {
		c.products[k] = v
	}
	c.orders = make(map[int64]models.Order, len(s.orders))
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.items = append([]models.OrderItem(nil), s.items...)
	c.users = make(map[int64]models.User, len(s.users))
	for k, v := range s.users {
		c.users[k] = v
	}
	c.events = make(map[string]models.ProcessedEvent, len(s.events))
	for k, v := range s.events {
		c.events[k] = v
	}
	return &c
}

// Store keeps all rows in maps guarded by one RWMutex. Transactions hold the
// write lock for their whole duration and work on a clone, which replaces
// the live state only on commit.
type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		st: &state{
			products: map[int64]models.Product{},
			orders:   map[int64]models.Order{},
			users:    map[int64]models.User{},
			events:   map[string]models.ProcessedEvent{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

// RunInTx applies fn's writes all-or-nothing.
func (s *Store) RunInTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.nextProductID++
	product.ID = s.st.nextProductID
	product.CreatedAt = s.now()
	product.UpdatedAt = product.CreatedAt
	s.st.products[product.ID] = *product
	return nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]models.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if offset >= len(all) {
		return []models.Product{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *Store) GetLatestOrderIDForUser(ctx context.Context, userID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	for id, o := range s.st.orders {
		if o.UserID == userID && id > latest {
			latest = id
		}
	}
	if latest == 0 {
		return 0, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := []models.OrderItem{}
	for _, it := range s.st.items {
		if it.OrderID == orderID {
			items = append(items, it)
		}
	}
	return items, nil
}

// CountOrders returns the number of committed order headers.
func (s *Store) CountOrders() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.orders)
}

// CountOrderItems returns the number of committed line items.
func (s *Store) CountOrderItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.items)
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.st.events[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.events[eventID]; !ok {
		s.st.events[eventID] = models.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: s.now()}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTaken(user.Email, 0) {
		return store.ErrDuplicate
	}
	s.st.nextUserID++
	user.ID = s.st.nextUserID
	user.CreatedAt = s.now()
	user.UpdatedAt = user.CreatedAt
	s.st.users[user.ID] = *user
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.st.users {
		if strings.EqualFold(u.Email, email) {
			u := u
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.st.users[user.ID]
	if !ok {
		return store.ErrNotFound
	}
	if s.emailTaken(user.Email, user.ID) {
		return store.ErrDuplicate
	}
	current.Name = user.Name
	current.Email = user.Email
	current.PasswordHash = user.PasswordHash
	current.UpdatedAt = s.now()
	s.st.users[user.ID] = current
	user.UpdatedAt = current.UpdatedAt
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.users, id)
	return nil
}

// emailTaken must be called with mu held.
func (s *Store) emailTaken(email string, exceptID int64) bool {
	for id, u := range s.st.users {
		if id != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) GetProductForUpdate(ctx context.Context, id int64) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := t.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := t.st.products[productID]
	if !ok || p.Stock < quantity {
		return store.ErrInsufficientStock
	}
	p.Stock -= quantity
	p.UpdatedAt = t.now()
	t.st.products[productID] = p
	return nil
}

func (t *memTx) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.st.nextOrderID++
	order.ID = t.st.nextOrderID
	order.CreatedAt = t.now()
	t.st.orders[order.ID] = *order
	return nil
}

func (t *memTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.orders[item.OrderID]; !ok {
		return store.ErrNotFound
	}
	t.st.nextItemID++
	item.ID = t.st.nextItemID
	t.st.items = append(t.st.items, *item)
	return nil
}

func (t *memTx) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o, ok := t.st.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.TotalPrice = total
	t.st.orders[orderID] = o
	return nil
}

var _ store.Tx = (*memTx)(nil)
