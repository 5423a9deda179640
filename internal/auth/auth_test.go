package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSessions(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &SessionStore{Redis: client, TTL: time.Hour}, mr
}

func TestSessionStore_IssueLookup(t *testing.T) {
	s, mr := setupSessions(t)
	ctx := context.Background()

	token, err := s.Issue(ctx, orders.Actor{AccountID: "root", Role: orders.RoleAdmin})
	require.NoError(t, err)

	actor, err := s.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, orders.Actor{AccountID: "root", Role: orders.RoleAdmin}, actor)

	mr.FastForward(2 * time.Hour)
	_, err = s.Lookup(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSessionStore_RejectsBadSessions(t *testing.T) {
	s, mr := setupSessions(t)
	ctx := context.Background()

	_, err := s.Lookup(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	require.NoError(t, mr.Set("session:legacy", `{"account_id":"alice","role":"1"}`))
	_, err = s.Lookup(ctx, "legacy")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	require.NoError(t, mr.Set("session:junk", `not json`))
	_, err = s.Lookup(ctx, "junk")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = s.Issue(ctx, orders.Actor{AccountID: "alice"})
	assert.ErrorIs(t, err, orders.ErrValidation)
}

func TestSessionStore_Revoke(t *testing.T) {
	s, _ := setupSessions(t)
	ctx := context.Background()

	token, err := s.Issue(ctx, orders.Actor{AccountID: "alice", Role: orders.RoleCustomer})
	require.NoError(t, err)
	require.NoError(t, s.Revoke(ctx, token))

	_, err = s.Lookup(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestMiddleware(t *testing.T) {
	s, _ := setupSessions(t)
	token, err := s.Issue(context.Background(), orders.Actor{AccountID: "alice", Role: orders.RoleCustomer})
	require.NoError(t, err)

	var seen orders.Actor
	h := Middleware(s, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("no token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHENTICATED")
	})

	t.Run("role header is ignored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("x-user-role", "1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, orders.Actor{AccountID: "alice", Role: orders.RoleCustomer}, seen)
	})

	t.Run("unknown token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
