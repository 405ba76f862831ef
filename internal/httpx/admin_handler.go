package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type DemoResetter interface {
	ResetDemo(ctx context.Context, now time.Time) error
}

// AdminHandler drops the database and reseeds the demo rows. Only mounted
// when ENABLE_ADMIN is set.
type AdminHandler struct {
	Resetter DemoResetter
	Log      *zap.Logger
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/admin/reset", h.reset)
}

func (h *AdminHandler) reset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Resetter.ResetDemo(ctx, time.Now()); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	h.Log.Warn("database reset and reseeded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
