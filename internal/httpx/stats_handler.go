package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type StatsSource interface {
	StatsSource(ctx context.Context) ([]orders.Customer, []orders.Order, error)
}

// StatsHandler serves the read-only customer statistics projection. Every
// request recomputes it from the current tables; writes are rejected.
type StatsHandler struct {
	Source StatsSource
	Now    func() time.Time
	Log    *zap.Logger
}

func (h *StatsHandler) Register(r chi.Router) {
	r.Route("/tables/"+orders.TableStats, func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Post("/", h.unsupported)
		r.Put("/{id}", h.unsupported)
		r.Patch("/{id}", h.unsupported)
		r.Delete("/{id}", h.unsupported)
	})
}

func (h *StatsHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *StatsHandler) compute(ctx context.Context) ([]orders.CustomerStats, error) {
	cs, all, err := h.Source.StatsSource(ctx)
	if err != nil {
		return nil, err
	}
	return orders.ComputeStats(cs, all, h.now()), nil
}

func (h *StatsHandler) list(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.compute(ctx)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	items := page(stats, q)
	writeJSON(w, http.StatusOK, Page[orders.CustomerStats]{Items: items, Count: len(items)})
}

func (h *StatsHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.compute(ctx)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	id := chi.URLParam(r, "id")
	for _, s := range stats {
		if s.ID == id {
			writeRow(w, http.StatusOK, s.Version, s)
			return
		}
	}
	writeErr(w, r, h.Log, orders.ErrNotFound)
}

func (h *StatsHandler) unsupported(w http.ResponseWriter, r *http.Request) {
	writeErr(w, r, h.Log, ErrUnsupported)
}

// page applies skip/top to an in-memory result. The projection carries no
// change history, so updatedSince is ignored and every read is complete.
func page[T any](all []T, q orders.ListQuery) []T {
	if q.Skip >= len(all) {
		return []T{}
	}
	all = all[q.Skip:]
	if top := q.Limit(); top < len(all) {
		all = all[:top]
	}
	return all
}
