package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refTime = time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC)

func (ts *testServer) do(t *testing.T, method, target, user string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	return rr
}

func decodePage[T any](t *testing.T, rr *httptest.ResponseRecorder) Page[T] {
	t.Helper()
	var p Page[T]
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestIdentity(t *testing.T) {
	ts := newTestServer(refTime)

	byHeader := ts.do(t, http.MethodGet, "/tables/orders", "David", nil, nil)
	byQuery := ts.do(t, http.MethodGet, "/tables/orders?UserName=David", "", nil, nil)
	require.Equal(t, http.StatusOK, byHeader.Code)
	require.Equal(t, http.StatusOK, byQuery.Code)
	assert.JSONEq(t, byHeader.Body.String(), byQuery.Body.String())

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/tables/orders", "Mallory", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/tables/orders", "", nil, nil).Code)
}

func TestListOrdersOnlyVisible(t *testing.T) {
	ts := newTestServer(refTime)
	david := ts.store.user("David")

	rr := ts.do(t, http.MethodGet, "/tables/orders", "David", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	p := decodePage[orders.Order](t, rr)
	require.Equal(t, 2, p.Count)
	for _, o := range p.Items {
		assert.True(t, o.AssignedTo(david.ID))
		assert.Contains(t, []orders.Status{orders.StatusReady, orders.StatusDelivered}, o.Status)
	}

	rr = ts.do(t, http.MethodGet, "/tables/customers", "David", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, decodePage[orders.Customer](t, rr).Count)

	rr = ts.do(t, http.MethodGet, "/tables/orders?top=abc", "David", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func firstOrder(t *testing.T, ts *testServer, user string) orders.Order {
	t.Helper()
	rr := ts.do(t, http.MethodGet, "/tables/orders", user, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	p := decodePage[orders.Order](t, rr)
	require.NotEmpty(t, p.Items)
	return p.Items[0]
}

func TestReplaceToCancelledTombstones(t *testing.T) {
	ts := newTestServer(refTime)
	o := firstOrder(t, ts, "David")

	o.Status = orders.StatusCancelled
	rr := ts.do(t, http.MethodPut, "/tables/orders/"+o.ID, "David", o,
		map[string]string{"If-Match": strconv.Quote(o.Version)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var saved orders.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &saved))
	assert.True(t, saved.Deleted)
	assert.Equal(t, strconv.Quote(saved.Version), rr.Header().Get("ETag"))

	require.Len(t, ts.feed.events, 1)
	assert.Equal(t, orders.EventOrderCancelled, ts.feed.events[0].eventType)
	assert.True(t, ts.feed.events[0].payload.Deleted)

	rr = ts.do(t, http.MethodGet, "/tables/orders/"+o.ID, "David", nil, nil)
	assert.Equal(t, http.StatusGone, rr.Code)

	p := decodePage[orders.Order](t, ts.do(t, http.MethodGet, "/tables/orders", "David", nil, nil))
	assert.Equal(t, 1, p.Count)

	p = decodePage[orders.Order](t, ts.do(t, http.MethodGet, "/tables/orders?includeDeleted=true", "David", nil, nil))
	assert.Equal(t, 2, p.Count)
}

func TestReplaceGuards(t *testing.T) {
	ts := newTestServer(refTime)
	o := firstOrder(t, ts, "Anna")

	o.Status = orders.StatusDelivered
	rr := ts.do(t, http.MethodPut, "/tables/orders/"+o.ID, "Anna", o, map[string]string{"If-Match": `"stale"`})
	require.Equal(t, http.StatusPreconditionFailed, rr.Code)
	var cur orders.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cur))
	assert.Equal(t, orders.StatusReady, cur.Status)

	rr = ts.do(t, http.MethodPut, "/tables/orders/"+o.ID, "Anna", o, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	o.Status = orders.StatusReady
	rr = ts.do(t, http.MethodPut, "/tables/orders/"+o.ID, "Anna", o, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = ts.do(t, http.MethodPut, "/tables/orders/other-id", "Anna", o, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// David cannot touch Anna's rows even though he is authorized to write
	rr = ts.do(t, http.MethodPut, "/tables/orders/"+o.ID, "David", o, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWriteRequiresAssignedOrder(t *testing.T) {
	ts := newTestServer(refTime)
	cust := ts.store.DemoCustomerID()

	rr := ts.do(t, http.MethodPost, "/tables/orders", "Eve", orders.Order{CustomerID: cust}, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, http.MethodGet, "/tables/orders", "Eve", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, decodePage[orders.Order](t, rr).Count)

	rr = ts.do(t, http.MethodPost, "/tables/orders", "David", orders.Order{CustomerID: cust}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var saved orders.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &saved))
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, orders.StatusReady, saved.Status)
	assert.Equal(t, "/tables/orders/"+saved.ID, rr.Header().Get("Location"))
}

func TestInsertIdempotencyKey(t *testing.T) {
	ts := newTestServer(refTime)
	david := ts.store.user("David").ID
	key := map[string]string{"Idempotency-Key": "k-1"}
	body := orders.Order{CustomerID: ts.store.DemoCustomerID(), AssignedUserID: &david}

	rr := ts.do(t, http.MethodPost, "/tables/orders", "David", body, key)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var saved orders.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &saved))

	rr = ts.do(t, http.MethodPost, "/tables/orders", "David", body, key)
	require.Equal(t, http.StatusOK, rr.Code)
	var replayed orders.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &replayed))
	assert.Equal(t, saved.ID, replayed.ID)

	rr = ts.do(t, http.MethodPost, "/tables/orders", "Anna", body, key)
	assert.Equal(t, http.StatusConflict, rr.Code)

	saved.Status = orders.StatusCancelled
	rr = ts.do(t, http.MethodPut, "/tables/orders/"+saved.ID, "David", saved, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodPost, "/tables/orders", "David", body, key)
	assert.Equal(t, http.StatusGone, rr.Code)
	assert.Len(t, ts.store.orders, len(orders.DemoData(refTime).Orders)+1)
}

func TestDeleteOrder(t *testing.T) {
	ts := newTestServer(refTime)
	o := firstOrder(t, ts, "David")

	rr := ts.do(t, http.MethodDelete, "/tables/orders/"+o.ID, "David", nil, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Len(t, ts.feed.events, 1)
	assert.Equal(t, orders.EventRowDeleted, ts.feed.events[0].eventType)
}

func TestCustomerReplacePublishesToAllAssignedWorkers(t *testing.T) {
	ts := newTestServer(refTime)
	rr := ts.do(t, http.MethodGet, "/tables/customers", "David", nil, nil)
	c := decodePage[orders.Customer](t, rr).Items[0]

	c.City = "Hamburg"
	rr = ts.do(t, http.MethodPut, "/tables/customers/"+c.ID, "David", c, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, ts.feed.events, 1)
	ev := ts.feed.events[0]
	assert.Equal(t, orders.TableCustomers, ev.payload.Table)
	assert.ElementsMatch(t, []string{ts.store.user("David").ID, ts.store.user("Anna").ID}, ev.payload.UserIDs)
}

func TestStatsProjection(t *testing.T) {
	ts := newTestServer(refTime)

	rr := ts.do(t, http.MethodGet, "/tables/inmemorycustomerstats", "David", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	p := decodePage[orders.CustomerStats](t, rr)
	require.Equal(t, 2, p.Count)
	for _, s := range p.Items {
		assert.Equal(t, 1, s.OrdersCreatedInThisMonth)
		assert.Equal(t, 2, s.WorkerCountForOrders)
	}

	rr = ts.do(t, http.MethodGet, "/tables/inmemorycustomerstats/"+p.Items[0].ID, "David", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(t, http.MethodGet, "/tables/inmemorycustomerstats/missing", "David", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, http.MethodGet, "/tables/inmemorycustomerstats?top=1&skip=1", "David", nil, nil)
	assert.Equal(t, 1, decodePage[orders.CustomerStats](t, rr).Count)

	ts.store.failStats = true
	rr = ts.do(t, http.MethodGet, "/tables/inmemorycustomerstats", "David", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestPageClampsTop(t *testing.T) {
	all := make([]int, orders.MaxPageSize+500)
	assert.Len(t, page(all, orders.ListQuery{Top: orders.MaxPageSize + 1}), orders.MaxPageSize)
	assert.Len(t, page(all, orders.ListQuery{}), orders.DefaultPageSize)
	assert.Len(t, page(all, orders.ListQuery{Top: 7, Skip: len(all) - 3}), 3)
	assert.Empty(t, page(all, orders.ListQuery{Skip: len(all)}))
}

func TestStatsRejectWrites(t *testing.T) {
	ts := newTestServer(refTime)
	body := orders.CustomerStats{OrdersCreatedInThisMonth: 99}
	for _, tc := range []struct{ method, target string }{
		{http.MethodPost, "/tables/inmemorycustomerstats"},
		{http.MethodPut, "/tables/inmemorycustomerstats/any"},
		{http.MethodPatch, "/tables/inmemorycustomerstats/any"},
		{http.MethodDelete, "/tables/inmemorycustomerstats/any"},
	} {
		rr := ts.do(t, tc.method, tc.target, "David", body, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, "%s %s", tc.method, tc.target)
		assert.Contains(t, rr.Body.String(), "not supported")
	}
}

func TestSyncHint(t *testing.T) {
	ts := newTestServer(refTime)

	var h SyncHint
	rr := ts.do(t, http.MethodGet, "/sync/hint", "David", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
	require.NotNil(t, h.ChangedAt)
	assert.True(t, refTime.Equal(*h.ChangedAt))

	rr = ts.do(t, http.MethodGet, "/sync/hint", "Anna", nil, nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
	assert.Nil(t, h.ChangedAt)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(refTime)
	rr := ts.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}
