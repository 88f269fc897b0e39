// Package memstore is an in-memory implementation of the database store
// interfaces. Transactions are serialized and copy-on-write, so a failed
// transaction leaves no trace.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"shop-service/database"
	"shop-service/models"
)

type state struct {
	products  map[int64]models.Product
	discounts map[string]models.DiscountCode
	users     map[int64]models.User
	carts     map[int64]map[int64]int
	orders    map[int64]models.Order
	items     []models.OrderItem
	history   []models.OrderStatusHistory
	refunds   map[int64]models.RefundRequest
	logs      []models.NotificationLog
	verify    map[int64]models.EmailVerification
	nextID    int64
}

func newState() *state {
	return &state{
		products:  map[int64]models.Product{},
		discounts: map[string]models.DiscountCode{},
		users:     map[int64]models.User{},
		carts:     map[int64]map[int64]int{},
		orders:    map[int64]models.Order{},
		refunds:   map[int64]models.RefundRequest{},
		verify:    map[int64]models.EmailVerification{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.discounts {
		c.discounts[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for u, lines := range s.carts {
		cp := make(map[int64]int, len(lines))
		for p, q := range lines {
			cp[p] = q
		}
		c.carts[u] = cp
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.refunds {
		c.refunds[k] = v
	}
	for k, v := range s.verify {
		c.verify[k] = v
	}
	c.items = append([]models.OrderItem(nil), s.items...)
	c.history = append([]models.OrderStatusHistory(nil), s.history...)
	c.logs = append([]models.NotificationLog(nil), s.logs...)
	c.nextID = s.nextID
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(tx database.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&view{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) read() (*view, func()) {
	s.mu.Lock()
	return &view{st: s.st}, s.mu.Unlock
}

// view implements every statement against one state snapshot. The caller
// holds the store lock.
type view struct {
	st *state
}

func (v *view) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	p, ok := v.st.products[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	p.Images = append([]string(nil), p.Images...)
	return &p, nil
}

func (v *view) DecrementStock(_ context.Context, productID int64, qty int) (bool, error) {
	p, ok := v.st.products[productID]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	v.st.products[productID] = p
	return true, nil
}

func (v *view) IncrementStock(_ context.Context, productID int64, qty int) error {
	p, ok := v.st.products[productID]
	if !ok {
		return nil
	}
	p.Stock += qty
	v.st.products[productID] = p
	return nil
}

func (v *view) GetDiscountCode(_ context.Context, code string) (*models.DiscountCode, error) {
	d, ok := v.st.discounts[code]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &d, nil
}

func (v *view) InsertOrder(_ context.Context, o *models.Order) (int64, error) {
	for _, existing := range v.st.orders {
		if existing.OrderNumber == o.OrderNumber {
			return 0, database.ErrDuplicate
		}
	}
	cp := *o
	cp.ID = v.st.id()
	v.st.orders[cp.ID] = cp
	return cp.ID, nil
}

func (v *view) InsertOrderItem(_ context.Context, item *models.OrderItem) (int64, error) {
	cp := *item
	cp.ID = v.st.id()
	v.st.items = append(v.st.items, cp)
	return cp.ID, nil
}

func (v *view) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return v.GetOrder(ctx, id)
}

func (v *view) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := v.st.orders[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &o, nil
}

func (v *view) UpdateOrder(_ context.Context, o *models.Order) error {
	if _, ok := v.st.orders[o.ID]; !ok {
		return database.ErrNotFound
	}
	v.st.orders[o.ID] = *o
	return nil
}

func (v *view) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	out := []models.OrderItem{}
	for _, it := range v.st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (v *view) InsertStatusHistory(_ context.Context, h *models.OrderStatusHistory) error {
	cp := *h
	cp.ID = v.st.id()
	v.st.history = append(v.st.history, cp)
	return nil
}

func (v *view) GetRefundRequestByOrder(_ context.Context, orderID int64) (*models.RefundRequest, error) {
	for _, r := range v.st.refunds {
		if r.OrderID == orderID {
			return &r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (v *view) GetRefundRequestForUpdate(_ context.Context, id int64) (*models.RefundRequest, error) {
	r, ok := v.st.refunds[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &r, nil
}

func (v *view) InsertRefundRequest(ctx context.Context, r *models.RefundRequest) (int64, error) {
	if _, err := v.GetRefundRequestByOrder(ctx, r.OrderID); err == nil {
		return 0, database.ErrDuplicate
	}
	cp := *r
	cp.ID = v.st.id()
	v.st.refunds[cp.ID] = cp
	return cp.ID, nil
}

func (v *view) UpdateRefundRequest(_ context.Context, r *models.RefundRequest) error {
	if _, ok := v.st.refunds[r.ID]; !ok {
		return database.ErrNotFound
	}
	v.st.refunds[r.ID] = *r
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	v, unlock := s.read()
	defer unlock()
	return v.GetProduct(ctx, id)
}

func (s *Store) ListProducts(_ context.Context, q models.ProductQuery) ([]models.Product, error) {
	v, unlock := s.read()
	defer unlock()

	search := strings.ToLower(strings.TrimSpace(q.Q))
	out := []models.Product{}
	for _, p := range v.st.products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) && !strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, q.Page), nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	v, unlock := s.read()
	defer unlock()
	return v.GetOrder(ctx, id)
}

func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	v, unlock := s.read()
	defer unlock()
	return v.GetOrderItems(ctx, orderID)
}

func (s *Store) GetStatusHistory(_ context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	v, unlock := s.read()
	defer unlock()

	out := []models.OrderStatusHistory{}
	for _, h := range v.st.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID int64, page models.Page) ([]models.Order, error) {
	return s.listOrders(page, func(o models.Order) bool { return o.UserID == userID }), nil
}

func (s *Store) ListOrders(_ context.Context, status string, page models.Page) ([]models.Order, error) {
	return s.listOrders(page, func(o models.Order) bool { return status == "" || o.Status == status }), nil
}

func (s *Store) listOrders(page models.Page, keep func(models.Order) bool) []models.Order {
	v, unlock := s.read()
	defer unlock()

	out := []models.Order{}
	for _, o := range v.st.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, page)
}

func (s *Store) ListRefundRequests(_ context.Context, status string, page models.Page) ([]models.RefundRequest, error) {
	v, unlock := s.read()
	defer unlock()

	out := []models.RefundRequest{}
	for _, r := range v.st.refunds {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, page), nil
}

func (s *Store) GetCart(_ context.Context, userID int64) ([]models.CartItem, error) {
	v, unlock := s.read()
	defer unlock()

	out := []models.CartItem{}
	for pid, qty := range v.st.carts[userID] {
		p, ok := v.st.products[pid]
		if !ok {
			continue
		}
		out = append(out, models.CartItem{ProductID: pid, Name: p.Name, Price: p.Price, Stock: p.Stock, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Store) UpsertCartItem(_ context.Context, userID, productID int64, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st.carts[userID] == nil {
		s.st.carts[userID] = map[int64]int{}
	}
	s.st.carts[userID][productID] = qty
	return nil
}

func (s *Store) DeleteCartItem(_ context.Context, userID, productID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.carts[userID][productID]; !ok {
		return false, nil
	}
	delete(s.st.carts[userID], productID)
	return true, nil
}

func (s *Store) ClearCart(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.st.carts, userID)
	return nil
}

func (s *Store) CreateUser(_ context.Context, u *models.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.st.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return 0, database.ErrDuplicate
		}
	}
	cp := *u
	cp.ID = s.st.id()
	s.st.users[cp.ID] = cp
	return cp.ID, nil
}

func (s *Store) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	v, unlock := s.read()
	defer unlock()

	u, ok := v.st.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	v, unlock := s.read()
	defer unlock()

	for _, u := range v.st.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *Store) SaveEmailVerification(_ context.Context, v *models.EmailVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.verify[v.UserID] = *v
	return nil
}

func (s *Store) GetEmailVerification(_ context.Context, tokenHash string) (*models.EmailVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.st.verify {
		if v.TokenHash == tokenHash {
			return &v, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *Store) MarkEmailVerified(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	u.EmailVerified = true
	s.st.users[userID] = u
	delete(s.st.verify, userID)
	return nil
}

func (s *Store) InsertNotificationLog(_ context.Context, entry *models.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	cp.ID = s.st.id()
	s.st.logs = append(s.st.logs, cp)
	return nil
}

func paginate[T any](in []T, page models.Page) []T {
	page = page.Normalize()
	if page.Offset >= len(in) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(in) {
		end = len(in)
	}
	return in[page.Offset:end]
}

// Seeding and inspection helpers for tests and local runs.

func (s *Store) AddProduct(p models.Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.st.id()
	} else if p.ID > s.st.nextID {
		s.st.nextID = p.ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
		p.UpdatedAt = p.CreatedAt
	}
	s.st.products[p.ID] = p
	return p.ID
}

func (s *Store) AddUser(u models.User) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == 0 {
		u.ID = s.st.id()
	} else if u.ID > s.st.nextID {
		s.st.nextID = u.ID
	}
	s.st.users[u.ID] = u
	return u.ID
}

func (s *Store) AddDiscountCode(d models.DiscountCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.discounts[d.Code] = d
}

// SetOrder overwrites a stored order, e.g. to move it to a given status.
func (s *Store) SetOrder(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.orders[o.ID] = o
}

func (s *Store) Stock(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[productID].Stock
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *Store) RefundRequests() []models.RefundRequest {
	out, _ := s.ListRefundRequests(context.Background(), "", models.Page{Limit: models.MaxPageLimit})
	return out
}

func (s *Store) NotificationLogs() []models.NotificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.NotificationLog(nil), s.st.logs...)
}

var (
	_ database.Tx                   = (*view)(nil)
	_ database.OrderStore           = (*Store)(nil)
	_ database.CatalogStore         = (*Store)(nil)
	_ database.CartStore            = (*Store)(nil)
	_ database.UserStore            = (*Store)(nil)
	_ database.NotificationLogStore = (*Store)(nil)
)
