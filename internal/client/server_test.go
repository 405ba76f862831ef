package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"go.uber.org/zap/zaptest"
)

var refTime = time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC)

// tableServer is a small in-memory stand-in for the table API.
type tableServer struct {
	mu        sync.Mutex
	clock     time.Time
	users     map[string]bool
	orders    map[string]orders.Order
	customers map[string]orders.Customer
	stats     []orders.CustomerStats
	requests  []string
}

func newTableServer() *tableServer {
	david := "u-david"
	s := &tableServer{
		clock:     refTime.Add(time.Hour),
		users:     map[string]bool{"David": true},
		orders:    map[string]orders.Order{},
		customers: map[string]orders.Customer{},
	}
	s.customers["c1"] = orders.Customer{
		Meta: orders.Meta{ID: "c1", UpdatedAt: refTime, Version: "cv1"},
		Name: "Bäckerei Huber", Street: "Hauptstraße 12", PostalCode: "80331", City: "München",
	}
	for i, id := range []string{"o1", "o2"} {
		s.orders[id] = orders.Order{
			Meta:           orders.Meta{ID: id, UpdatedAt: refTime.Add(time.Duration(i) * time.Minute), Version: id + "-v1"},
			CreatedAt:      refTime.AddDate(0, 0, -i),
			Status:         orders.StatusReady,
			AssignedUserID: &david,
			CustomerID:     "c1",
		}
	}
	s.stats = []orders.CustomerStats{{
		Meta:                     orders.Meta{ID: "c1", UpdatedAt: refTime, Version: "1.1"},
		OrdersCreatedInThisMonth: 2,
		WorkerCountForOrders:     1,
	}}
	return s
}

func (s *tableServer) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *tableServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tables/{table}", s.list)
	mux.HandleFunc("PUT /tables/orders/{id}", s.replaceOrder)
	mux.HandleFunc("POST /tables/customers", s.insertCustomer)
	mux.HandleFunc("DELETE /tables/customers/{id}", s.deleteCustomer)
	mux.HandleFunc("GET /sync/hint", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, Hint{ChangedAt: &refTime, ServerTime: refTime})
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		if !s.users[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")] {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "unknown user"})
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func writeTestJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *tableServer) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var since time.Time
	if v := r.URL.Query().Get("updatedSince"); v != "" {
		since, _ = time.Parse(time.RFC3339Nano, v)
	}
	var rows []orders.Meta
	var items []any
	add := func(m orders.Meta, v any) {
		if m.UpdatedAt.After(since) {
			rows = append(rows, m)
			items = append(items, v)
		}
	}
	switch r.PathValue("table") {
	case orders.TableOrders:
		for _, o := range s.orders {
			add(o.Meta, o)
		}
	case orders.TableCustomers:
		for _, c := range s.customers {
			add(c.Meta, c)
		}
	case orders.TableStats:
		for _, st := range s.stats {
			items = append(items, st)
			rows = append(rows, st.Meta)
		}
	default:
		writeTestJSON(w, http.StatusNotFound, nil)
		return
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return rows[idx[a]].ID < rows[idx[b]].ID })
	sorted := make([]any, 0, len(items))
	for _, i := range idx {
		sorted = append(sorted, items[i])
	}

	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	if skip > len(sorted) {
		skip = len(sorted)
	}
	sorted = sorted[skip:]
	writeTestJSON(w, http.StatusOK, map[string]any{"items": sorted, "count": len(sorted)})
}

func (s *tableServer) replaceOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[r.PathValue("id")]
	if !ok {
		writeTestJSON(w, http.StatusNotFound, nil)
		return
	}
	if m := strings.Trim(r.Header.Get("If-Match"), `"`); m != "" && m != cur.Version {
		writeTestJSON(w, http.StatusPreconditionFailed, cur)
		return
	}
	var o orders.Order
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeTestJSON(w, http.StatusBadRequest, nil)
		return
	}
	if err := orders.CheckTransition(cur.Status, o.Status); err != nil {
		writeTestJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	cur.Status = o.Status
	cur.Deleted = o.Status == orders.StatusCancelled
	cur.UpdatedAt = s.tick()
	cur.Version = cur.ID + "-v" + strconv.Itoa(len(s.requests))
	s.orders[cur.ID] = cur
	writeTestJSON(w, http.StatusOK, cur)
}

func (s *tableServer) insertCustomer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c orders.Customer
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.ID == "" {
		writeTestJSON(w, http.StatusBadRequest, nil)
		return
	}
	if _, ok := s.customers[c.ID]; ok {
		writeTestJSON(w, http.StatusConflict, nil)
		return
	}
	c.UpdatedAt = s.tick()
	c.Version = c.ID + "-v1"
	s.customers[c.ID] = c
	writeTestJSON(w, http.StatusCreated, c)
}

func (s *tableServer) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.customers[r.PathValue("id")]
	if !ok || cur.Deleted {
		writeTestJSON(w, http.StatusNotFound, nil)
		return
	}
	if m := strings.Trim(r.Header.Get("If-Match"), `"`); m != "" && m != cur.Version {
		writeTestJSON(w, http.StatusPreconditionFailed, cur)
		return
	}
	cur.Deleted = true
	cur.UpdatedAt = s.tick()
	cur.Version = cur.ID + "-gone"
	s.customers[cur.ID] = cur
	w.WriteHeader(http.StatusNoContent)
}

// mutate changes a server order as another device would.
func (s *tableServer) mutate(id string, fn func(o *orders.Order)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	fn(&o)
	o.UpdatedAt = s.tick()
	o.Version = id + "-other"
	s.orders[id] = o
}

type syncFixture struct {
	srv    *tableServer
	http   *httptest.Server
	store  *Store
	action *SyncAction
	user   string
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	f := &syncFixture{srv: newTableServer(), user: "David"}
	f.http = httptest.NewServer(f.srv.handler())
	t.Cleanup(f.http.Close)

	f.store = openTestStore(t)
	log := zaptest.NewLogger(t)
	f.action = &SyncAction{
		Store:  f.store,
		Tables: NewTableClient(f.http.URL, func() string { return f.user }, 5*time.Second, log),
		Log:    log,
	}
	return f
}
