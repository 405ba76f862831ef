package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

var (
	ErrUnsupported = errors.New("operation not supported on this table")
	errForbidden   = errors.New("caller is not authorized to write this table")
	errBadQuery    = errors.New("invalid query parameter")
)

// Page is the list response of every table endpoint. A page shorter than the
// requested size is the last one.
type Page[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// ChangeFeed receives committed writes; it must not block the request.
type ChangeFeed interface {
	RowChanged(eventType string, p orders.RowChangedPayload, traceID string)
}

type IdempotencyStore interface {
	Lookup(ctx context.Context, table, key string) (string, bool, error)
	Remember(ctx context.Context, table, key, rowID string) error
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) map[string]string { return map[string]string{"error": msg} }

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrGone):
		return http.StatusGone
	case errors.Is(err, orders.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, orders.ErrVersionMismatch):
		return http.StatusPreconditionFailed
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrInvalid), errors.Is(err, errBadQuery):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnsupported):
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeJSON(w, code, errorBody("internal error"))
		return
	}
	writeJSON(w, code, errorBody(err.Error()))
}

// writeRow answers a single row read or write, exposing its version as ETag.
func writeRow(w http.ResponseWriter, code int, version string, v any) {
	if version != "" {
		w.Header().Set("ETag", strconv.Quote(version))
	}
	writeJSON(w, code, v)
}

func parseListQuery(r *http.Request) (orders.ListQuery, error) {
	var q orders.ListQuery
	v := r.URL.Query()
	if s := v.Get("updatedSince"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return q, fmt.Errorf("%w: updatedSince", errBadQuery)
		}
		q.UpdatedSince = t
	}
	if s := v.Get("includeDeleted"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, fmt.Errorf("%w: includeDeleted", errBadQuery)
		}
		q.IncludeDeleted = b
	}
	for name, dst := range map[string]*int{"top": &q.Top, "skip": &q.Skip} {
		if s := v.Get(name); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return q, fmt.Errorf("%w: %s", errBadQuery, name)
			}
			*dst = n
		}
	}
	return q, nil
}

func ifMatch(r *http.Request) string {
	return strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json", orders.ErrInvalid)
	}
	return nil
}

// bodyID reconciles the id in the path with the one in the body.
func bodyID(pathID, body string) (string, error) {
	if body != "" && body != pathID {
		return "", fmt.Errorf("%w: id in body does not match path", orders.ErrInvalid)
	}
	return pathID, nil
}

type authorizer interface {
	Authorize(ctx context.Context, a orders.Access) (bool, error)
}

func authorizeWrite(ctx context.Context, az authorizer, a orders.Access) error {
	ok, err := az.Authorize(ctx, a)
	if err != nil {
		return err
	}
	if !ok {
		return errForbidden
	}
	return nil
}

func traceID(r *http.Request) string { return middleware.GetReqID(r.Context()) }
