package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type ctxKey struct{}

type Lookuper interface {
	Lookup(ctx context.Context, token string) (orders.Actor, error)
}

func WithActor(ctx context.Context, a orders.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func ActorFrom(ctx context.Context) (orders.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(orders.Actor)
	return a, ok
}

// Middleware rejects requests without a live session and stores the
// session's actor in the request context.
func Middleware(sessions Lookuper, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := sessions.Lookup(r.Context(), bearer(r))
			if err != nil {
				if !errors.Is(err, ErrUnauthenticated) {
					log.ErrorContext(r.Context(), "session lookup failed", slog.Any("err", err))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"code": "UNAUTHENTICATED", "message": "missing or expired session"},
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
