package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CustomerStore interface {
	Authorize(ctx context.Context, a orders.Access) (bool, error)
	ListCustomers(ctx context.Context, a orders.Access, q orders.ListQuery) ([]orders.Customer, error)
	GetCustomer(ctx context.Context, a orders.Access, id string) (orders.Customer, error)
	InsertCustomer(ctx context.Context, c orders.Customer) (orders.Customer, error)
	ReplaceCustomer(ctx context.Context, a orders.Access, c orders.Customer, ifMatch string) (orders.Customer, error)
	DeleteCustomer(ctx context.Context, a orders.Access, id, ifMatch string) (orders.Customer, error)
	CustomerUserIDs(ctx context.Context, customerID string) ([]string, error)
}

type CustomersHandler struct {
	Store CustomerStore
	Feed  ChangeFeed
	Log   *zap.Logger
}

func (h *CustomersHandler) Register(r chi.Router) {
	r.Route("/tables/"+orders.TableCustomers, func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.insert)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.replace)
		r.Delete("/{id}", h.delete)
	})
}

func (h *CustomersHandler) list(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	items, err := h.Store.ListCustomers(ctx, accessFrom(ctx), q)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, Page[orders.Customer]{Items: items, Count: len(items)})
}

func (h *CustomersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Store.GetCustomer(ctx, accessFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeRow(w, http.StatusOK, c.Version, c)
}

func (h *CustomersHandler) insert(w http.ResponseWriter, r *http.Request) {
	var c orders.Customer
	if err := decodeBody(r, &c); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	a := accessFrom(ctx)
	if err := authorizeWrite(ctx, h.Store, a); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	saved, err := h.Store.InsertCustomer(ctx, c)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	h.publish(ctx, r, orders.EventRowInserted, saved, a)

	w.Header().Set("Location", r.URL.Path+"/"+saved.ID)
	writeRow(w, http.StatusCreated, saved.Version, saved)
}

func (h *CustomersHandler) replace(w http.ResponseWriter, r *http.Request) {
	var c orders.Customer
	if err := decodeBody(r, &c); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	id, err := bodyID(chi.URLParam(r, "id"), c.ID)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	c.ID = id

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	a := accessFrom(ctx)
	if err := authorizeWrite(ctx, h.Store, a); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	saved, err := h.Store.ReplaceCustomer(ctx, a, c, ifMatch(r))
	if errors.Is(err, orders.ErrVersionMismatch) {
		writeRow(w, http.StatusPreconditionFailed, saved.Version, saved)
		return
	}
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	h.publish(ctx, r, orders.EventRowReplaced, saved, a)
	writeRow(w, http.StatusOK, saved.Version, saved)
}

func (h *CustomersHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	a := accessFrom(ctx)
	if err := authorizeWrite(ctx, h.Store, a); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	saved, err := h.Store.DeleteCustomer(ctx, a, chi.URLParam(r, "id"), ifMatch(r))
	if errors.Is(err, orders.ErrVersionMismatch) {
		writeRow(w, http.StatusPreconditionFailed, saved.Version, saved)
		return
	}
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	h.publish(ctx, r, orders.EventRowDeleted, saved, a)
	w.WriteHeader(http.StatusNoContent)
}

// A customer row is part of the view of every worker assigned to one of its
// orders, so all of them get the change.
func (h *CustomersHandler) publish(ctx context.Context, r *http.Request, eventType string, c orders.Customer, caller orders.Access) {
	if h.Feed == nil {
		return
	}
	users, err := h.Store.CustomerUserIDs(ctx, c.ID)
	if err != nil {
		h.Log.Warn("customer users for change event", zap.String("customer_id", c.ID), zap.Error(err))
	}
	if !contains(users, caller.UserID) {
		users = append(users, caller.UserID)
	}
	h.Feed.RowChanged(eventType, orders.RowChangedPayload{
		Table:     orders.TableCustomers,
		RowID:     c.ID,
		Version:   c.Version,
		Deleted:   c.Deleted,
		UserIDs:   users,
		UpdatedAt: c.UpdatedAt,
	}, traceID(r))
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
