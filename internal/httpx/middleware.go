package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ctxKey int

const (
	userKey ctxKey = iota
	reqInfoKey
)

// filled in by later middleware so the access log can report the caller
type reqInfo struct{ userID string }

// AccessLog writes one entry per request, levelled by status code.
func AccessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &reqInfo{}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), reqInfoKey, info)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("ip", r.RemoteAddr),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if info.userID != "" {
				fields = append(fields, zap.String("user_id", info.userID))
			}
			switch {
			case status >= 500:
				log.Error("server error", fields...)
			case status >= 400:
				log.Warn("client error", fields...)
			default:
				log.Info("request", fields...)
			}
		})
	}
}

type UserResolver interface {
	UserByName(ctx context.Context, name string) (orders.User, error)
}

// callerName reads the placeholder identity: a bearer token that is just the
// user name, or the UserName query parameter. Not an authentication scheme.
func callerName(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if name, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(name)
		}
	}
	return r.URL.Query().Get("UserName")
}

// Identity resolves the caller and rejects the request when no user matches.
func Identity(users UserResolver, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := callerName(r)
			if name == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody("missing identity"))
				return
			}
			u, err := users.UserByName(r.Context(), name)
			if err != nil {
				if errors.Is(err, orders.ErrUnknownUser) {
					writeJSON(w, http.StatusUnauthorized, errorBody("unknown user"))
					return
				}
				log.Error("resolve identity", zap.String("user_name", name), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, errorBody("identity lookup failed"))
				return
			}
			if info, ok := r.Context().Value(reqInfoKey).(*reqInfo); ok {
				info.userID = u.ID
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
		})
	}
}

func userFrom(ctx context.Context) (orders.User, bool) {
	u, ok := ctx.Value(userKey).(orders.User)
	return u, ok
}

func accessFrom(ctx context.Context) orders.Access {
	u, _ := userFrom(ctx)
	return orders.Access{UserID: u.ID}
}
