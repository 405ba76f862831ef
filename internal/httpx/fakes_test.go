package httpx

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// memStore mirrors the repository semantics in memory.
type memStore struct {
	mu        sync.Mutex
	users     map[string]orders.User
	orders    map[string]orders.Order
	customers map[string]orders.Customer
	failStats bool
}

func newMemStore(now time.Time) *memStore {
	s := &memStore{
		users:     map[string]orders.User{},
		orders:    map[string]orders.Order{},
		customers: map[string]orders.Customer{},
	}
	d := orders.DemoData(now)
	for _, u := range d.Users {
		s.users[u.UserName] = u
	}
	for _, c := range d.Customers {
		s.customers[c.ID] = c
	}
	for _, o := range d.Orders {
		s.orders[o.ID] = o
	}
	s.users["Eve"] = orders.User{ID: "eve", UserName: "Eve"}
	return s
}

func (s *memStore) user(name string) orders.User { return s.users[name] }

func (s *memStore) DemoCustomerID() string {
	for id := range s.customers {
		return id
	}
	return ""
}

func (s *memStore) UserByName(_ context.Context, name string) (orders.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	if !ok {
		return orders.User{}, fmt.Errorf("%w: %q", orders.ErrUnknownUser, name)
	}
	return u, nil
}

func (s *memStore) Authorize(_ context.Context, a orders.Access) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.AssignedTo(a.UserID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListOrders(_ context.Context, a orders.Access, q orders.ListQuery) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []orders.Order{}
	for _, o := range s.orders {
		visible := a.OrderVisible(o) && !o.Deleted
		if q.IncludeDeleted {
			visible = a.OrderVisible(o) || (o.Deleted && o.AssignedTo(a.UserID))
		}
		if visible && o.UpdatedAt.After(q.UpdatedSince) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) checkOrder(a orders.Access, id string) (orders.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	if o.Deleted && o.AssignedTo(a.UserID) {
		return orders.Order{}, orders.ErrGone
	}
	if !a.OrderVisible(o) {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (s *memStore) GetOrder(_ context.Context, a orders.Access, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOrder(a, id)
}

func (s *memStore) InsertOrder(_ context.Context, o orders.Order) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = orders.NewID()
	}
	if _, ok := s.orders[o.ID]; ok {
		return orders.Order{}, orders.ErrAlreadyExists
	}
	if o.Status == "" {
		o.Status = orders.StatusReady
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.UpdatedAt = time.Now()
	o.Version = orders.NewVersion()
	o.Deleted = o.Status == orders.StatusCancelled
	s.orders[o.ID] = o
	return o, nil
}

func (s *memStore) ReplaceOrder(_ context.Context, a orders.Access, o orders.Order, ifMatch string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.checkOrder(a, o.ID)
	if err != nil {
		return orders.Order{}, err
	}
	if ifMatch != "" && ifMatch != cur.Version {
		return cur, orders.ErrVersionMismatch
	}
	if o.Status == "" {
		o.Status = cur.Status
	}
	if err := orders.CheckTransition(cur.Status, o.Status); err != nil {
		return cur, err
	}
	if o.CustomerID == "" {
		o.CustomerID = cur.CustomerID
	}
	o.CreatedAt = cur.CreatedAt
	o.UpdatedAt = time.Now()
	o.Version = orders.NewVersion()
	o.Deleted = o.Status == orders.StatusCancelled
	s.orders[o.ID] = o
	return o, nil
}

func (s *memStore) DeleteOrder(_ context.Context, a orders.Access, id, ifMatch string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.checkOrder(a, id)
	if err != nil {
		return orders.Order{}, err
	}
	if ifMatch != "" && ifMatch != cur.Version {
		return cur, orders.ErrVersionMismatch
	}
	cur.Deleted = true
	cur.Version = orders.NewVersion()
	s.orders[id] = cur
	return cur, nil
}

func (s *memStore) customerOrders(id string) []orders.Order {
	var out []orders.Order
	for _, o := range s.orders {
		if o.CustomerID == id {
			out = append(out, o)
		}
	}
	return out
}

func (s *memStore) ListCustomers(_ context.Context, a orders.Access, q orders.ListQuery) ([]orders.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []orders.Customer{}
	for _, c := range s.customers {
		if a.CustomerVisible(s.customerOrders(c.ID)) && (q.IncludeDeleted || !c.Deleted) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) checkCustomer(a orders.Access, id string) (orders.Customer, error) {
	c, ok := s.customers[id]
	if !ok || !a.CustomerVisible(s.customerOrders(id)) {
		return orders.Customer{}, orders.ErrNotFound
	}
	if c.Deleted {
		return c, orders.ErrGone
	}
	return c, nil
}

func (s *memStore) GetCustomer(_ context.Context, a orders.Access, id string) (orders.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkCustomer(a, id)
}

func (s *memStore) InsertCustomer(_ context.Context, c orders.Customer) (orders.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = orders.NewID()
	}
	if c.Name == "" {
		return orders.Customer{}, orders.ErrInvalid
	}
	c.Version = orders.NewVersion()
	s.customers[c.ID] = c
	return c, nil
}

func (s *memStore) ReplaceCustomer(_ context.Context, a orders.Access, c orders.Customer, ifMatch string) (orders.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.checkCustomer(a, c.ID)
	if err != nil {
		return orders.Customer{}, err
	}
	if ifMatch != "" && ifMatch != cur.Version {
		return cur, orders.ErrVersionMismatch
	}
	c.Version = orders.NewVersion()
	s.customers[c.ID] = c
	return c, nil
}

func (s *memStore) DeleteCustomer(_ context.Context, a orders.Access, id, ifMatch string) (orders.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.checkCustomer(a, id)
	if err != nil {
		return orders.Customer{}, err
	}
	cur.Deleted = true
	cur.Version = orders.NewVersion()
	s.customers[id] = cur
	return cur, nil
}

func (s *memStore) CustomerUserIDs(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, o := range s.customerOrders(id) {
		if o.AssignedUserID != nil && !seen[*o.AssignedUserID] {
			seen[*o.AssignedUserID] = true
			out = append(out, *o.AssignedUserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) StatsSource(context.Context) ([]orders.Customer, []orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStats {
		return nil, nil, fmt.Errorf("connection refused")
	}
	var cs []orders.Customer
	for _, c := range s.customers {
		cs = append(cs, c)
	}
	var all []orders.Order
	for _, o := range s.orders {
		all = append(all, o)
	}
	return cs, all, nil
}

type recordedEvent struct {
	eventType string
	payload   orders.RowChangedPayload
}

type recFeed struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *recFeed) RowChanged(eventType string, p orders.RowChangedPayload, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType, p})
}

type memIdem struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memIdem) Lookup(_ context.Context, table, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[table+"/"+key]
	return id, ok, nil
}

func (m *memIdem) Remember(_ context.Context, table, key, rowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[table+"/"+key] = rowID
	return nil
}

type fixedHints map[string]time.Time

func (h fixedHints) LastChanged(_ context.Context, userID string) (time.Time, bool, error) {
	t, ok := h[userID]
	return t, ok, nil
}

type testServer struct {
	store *memStore
	feed  *recFeed
	idem  *memIdem
	h     http.Handler
	now   time.Time
}

func newTestServer(now time.Time) *testServer {
	log := zap.NewNop()
	st := newMemStore(now)
	feed := &recFeed{}
	idem := &memIdem{keys: map[string]string{}}
	r := NewRouter(log)
	r.Group(func(r chi.Router) {
		r.Use(Identity(st, log))
		(&OrdersHandler{Store: st, Feed: feed, Idem: idem, Log: log}).Register(r)
		(&CustomersHandler{Store: st, Feed: feed, Log: log}).Register(r)
		(&StatsHandler{Source: st, Now: func() time.Time { return now }, Log: log}).Register(r)
		(&SyncHandler{Hints: fixedHints{st.user("David").ID: now}, Log: log}).Register(r)
	})
	return &testServer{store: st, feed: feed, idem: idem, h: r, now: now}
}
