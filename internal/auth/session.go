package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type session struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// SessionStore resolves bearer tokens to the identity the account service
// stored for them. Nothing the client sends besides the token is trusted.
type SessionStore struct {
	Redis *redis.Client
	TTL   time.Duration
}

func (s *SessionStore) Issue(ctx context.Context, actor orders.Actor) (string, error) {
	if actor.AccountID == "" || !actor.Role.Valid() {
		return "", fmt.Errorf("%w: session needs an account and a role", orders.ErrValidation)
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = redisx.TTLSession
	}
	b, err := json.Marshal(session{AccountID: actor.AccountID, Role: actor.Role.String()})
	if err != nil {
		return "", err
	}
	token := uuid.NewString()
	if err := s.Redis.Set(ctx, fmt.Sprintf(redisx.KeySession, token), b, ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (s *SessionStore) Lookup(ctx context.Context, token string) (orders.Actor, error) {
	if token == "" {
		return orders.Actor{}, ErrUnauthenticated
	}
	b, err := s.Redis.Get(ctx, fmt.Sprintf(redisx.KeySession, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.Actor{}, ErrUnauthenticated
	}
	if err != nil {
		return orders.Actor{}, fmt.Errorf("session lookup: %w", err)
	}

	var sess session
	if err := json.Unmarshal(b, &sess); err != nil {
		return orders.Actor{}, fmt.Errorf("%w: malformed session", ErrUnauthenticated)
	}
	role, err := orders.ParseRole(sess.Role)
	if err != nil || sess.AccountID == "" {
		return orders.Actor{}, fmt.Errorf("%w: malformed session", ErrUnauthenticated)
	}
	return orders.Actor{AccountID: sess.AccountID, Role: role}, nil
}

func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	return s.Redis.Del(ctx, fmt.Sprintf(redisx.KeySession, token)).Err()
}
