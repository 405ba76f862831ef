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

type OrderStore interface {
	Authorize(ctx context.Context, a orders.Access) (bool, error)
	ListOrders(ctx context.Context, a orders.Access, q orders.ListQuery) ([]orders.Order, error)
	GetOrder(ctx context.Context, a orders.Access, id string) (orders.Order, error)
	InsertOrder(ctx context.Context, o orders.Order) (orders.Order, error)
	ReplaceOrder(ctx context.Context, a orders.Access, o orders.Order, ifMatch string) (orders.Order, error)
	DeleteOrder(ctx context.Context, a orders.Access, id, ifMatch string) (orders.Order, error)
}

// OrdersHandler serves /tables/orders. Visibility and the cancellation
// tombstone live in the store; the handler adds the write check and publishes
// committed changes.
type OrdersHandler struct {
	Store OrderStore
	Feed  ChangeFeed
	Idem  IdempotencyStore
	Log   *zap.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/tables/"+orders.TableOrders, func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.insert)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.replace)
		r.Delete("/{id}", h.delete)
	})
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	items, err := h.Store.ListOrders(ctx, accessFrom(ctx), q)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, Page[orders.Order]{Items: items, Count: len(items)})
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, accessFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeRow(w, http.StatusOK, o.Version, o)
}

func (h *OrdersHandler) insert(w http.ResponseWriter, r *http.Request) {
	var o orders.Order
	if err := decodeBody(r, &o); err != nil {
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

	// Fast-path idempotency via Redis; the primary key stays the source of truth
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.Idem != nil {
		if id, ok, err := h.Idem.Lookup(ctx, orders.TableOrders, key); err == nil && ok {
			existing, err := h.Store.GetOrder(ctx, a, id)
			switch {
			case err == nil:
				writeRow(w, http.StatusOK, existing.Version, existing)
			case errors.Is(err, orders.ErrNotFound):
				// the key names a row outside the caller's view
				writeErr(w, r, h.Log, orders.ErrAlreadyExists)
			default:
				writeErr(w, r, h.Log, err)
			}
			return
		}
	}

	saved, err := h.Store.InsertOrder(ctx, o)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if key != "" && h.Idem != nil {
		if err := h.Idem.Remember(ctx, orders.TableOrders, key, saved.ID); err != nil {
			h.Log.Warn("remember idempotency key", zap.Error(err))
		}
	}
	h.publish(r, orders.EventRowInserted, saved, a)

	w.Header().Set("Location", r.URL.Path+"/"+saved.ID)
	writeRow(w, http.StatusCreated, saved.Version, saved)
}

func (h *OrdersHandler) replace(w http.ResponseWriter, r *http.Request) {
	var o orders.Order
	if err := decodeBody(r, &o); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	id, err := bodyID(chi.URLParam(r, "id"), o.ID)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	o.ID = id

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	a := accessFrom(ctx)
	if err := authorizeWrite(ctx, h.Store, a); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}

	saved, err := h.Store.ReplaceOrder(ctx, a, o, ifMatch(r))
	if errors.Is(err, orders.ErrVersionMismatch) {
		// the client resolves the conflict from the server copy
		writeRow(w, http.StatusPreconditionFailed, saved.Version, saved)
		return
	}
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}

	ev := orders.EventRowReplaced
	if saved.Status == orders.StatusCancelled && saved.Deleted {
		ev = orders.EventOrderCancelled
	}
	h.publish(r, ev, saved, a)
	writeRow(w, http.StatusOK, saved.Version, saved)
}

func (h *OrdersHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	a := accessFrom(ctx)
	if err := authorizeWrite(ctx, h.Store, a); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}

	saved, err := h.Store.DeleteOrder(ctx, a, chi.URLParam(r, "id"), ifMatch(r))
	if errors.Is(err, orders.ErrVersionMismatch) {
		writeRow(w, http.StatusPreconditionFailed, saved.Version, saved)
		return
	}
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	h.publish(r, orders.EventRowDeleted, saved, a)
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) publish(r *http.Request, eventType string, o orders.Order, caller orders.Access) {
	if h.Feed == nil {
		return
	}
	users := []string{caller.UserID}
	if o.AssignedUserID != nil && *o.AssignedUserID != caller.UserID {
		users = append(users, *o.AssignedUserID)
	}
	h.Feed.RowChanged(eventType, orders.RowChangedPayload{
		Table:     orders.TableOrders,
		RowID:     o.ID,
		Version:   o.Version,
		Deleted:   o.Deleted,
		Status:    o.Status,
		UserIDs:   users,
		UpdatedAt: o.UpdatedAt,
	}, traceID(r))
}
