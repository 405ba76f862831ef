package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type HintReader interface {
	LastChanged(ctx context.Context, userID string) (time.Time, bool, error)
}

type SyncHint struct {
	ChangedAt  *time.Time `json:"changedAt"`
	ServerTime time.Time  `json:"serverTime"`
}

// SyncHandler tells a client when its view last changed on the server, so it
// can skip a pull that would bring nothing.
type SyncHandler struct {
	Hints HintReader
	Log   *zap.Logger
}

func (h *SyncHandler) Register(r chi.Router) {
	r.Get("/sync/hint", h.hint)
}

func (h *SyncHandler) hint(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := SyncHint{ServerTime: time.Now().UTC()}
	at, ok, err := h.Hints.LastChanged(ctx, accessFrom(ctx).UserID)
	if err != nil {
		// the hint is advisory; without it the client simply pulls
		h.Log.Warn("read sync hint", zap.Error(err))
	}
	if ok {
		out.ChangedAt = &at
	}
	writeJSON(w, http.StatusOK, out)
}
