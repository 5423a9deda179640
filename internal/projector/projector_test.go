package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Projector, *orders.MemStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := orders.NewMemStore()
	return &Projector{
		Orders: store,
		Cache:  &redisx.OrderCache{Redis: rdb},
		Dedup:  &redisx.Dedup{Redis: rdb, Service: "projector"},
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, store, mr
}

func statusMessage(t *testing.T, orderID string, to orders.Status) (kafka.Message, string) {
	t.Helper()
	env, err := orders.NewEnvelope(orders.EventOrderStatusChanged, "order-api", orderID, orders.OrderStatusChangedPayload{
		OrderID: orderID,
		From:    orders.StatusInCart,
		To:      to,
	})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(orderID), Value: kafkax.MustMarshal(env)}, env.EventID
}

func TestHandleStatusChanged_RefreshesFromStore(t *testing.T) {
	p, store, mr := setup(t)
	ctx := context.Background()

	_, err := store.Create(ctx, orders.Order{ID: "o1", AccountID: "alice", ProductID: "p1", Quantity: 1,
		PriceAtOrder: decimal.NewFromInt(5), Status: orders.StatusInCart})
	require.NoError(t, err)
	_, err = store.CompareAndSetStatus(ctx, "o1", orders.StatusInCart, orders.StatusUpdate{To: orders.StatusPending, ShippingAddress: "x"})
	require.NoError(t, err)

	m, eventID := statusMessage(t, "o1", orders.StatusPending)
	require.NoError(t, p.HandleStatusChanged(ctx, m))

	raw, err := mr.Get(fmt.Sprintf(redisx.KeyOrder, "o1"))
	require.NoError(t, err)
	var cached orders.Order
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, orders.StatusPending, cached.Status)
	assert.True(t, mr.Exists("dedup:projector:"+eventID))
}

func TestHandleStatusChanged_DuplicateSkipped(t *testing.T) {
	p, store, mr := setup(t)
	ctx := context.Background()
	_, err := store.Create(ctx, orders.Order{ID: "o1", AccountID: "alice", Status: orders.StatusInCart, Quantity: 1})
	require.NoError(t, err)

	m, _ := statusMessage(t, "o1", orders.StatusInCart)
	require.NoError(t, p.HandleStatusChanged(ctx, m))
	mr.Del(fmt.Sprintf(redisx.KeyOrder, "o1"))

	require.NoError(t, p.HandleStatusChanged(ctx, m))
	assert.False(t, mr.Exists(fmt.Sprintf(redisx.KeyOrder, "o1")), "a redelivered event is not applied twice")
}

func TestHandleStatusChanged_UnknownOrderInvalidates(t *testing.T) {
	p, _, mr := setup(t)
	require.NoError(t, mr.Set(fmt.Sprintf(redisx.KeyOrder, "gone"), "{}"))

	m, _ := statusMessage(t, "gone", orders.StatusCancelled)
	require.NoError(t, p.HandleStatusChanged(context.Background(), m))
	assert.False(t, mr.Exists(fmt.Sprintf(redisx.KeyOrder, "gone")))
}

func TestHandleStatusChanged_PoisonMessage(t *testing.T) {
	p, _, _ := setup(t)
	assert.NoError(t, p.HandleStatusChanged(context.Background(), kafka.Message{Value: []byte("{not json")}))
}

func TestHandleStatusChanged_RedisDownIsRetried(t *testing.T) {
	p, _, mr := setup(t)
	m, _ := statusMessage(t, "o1", orders.StatusPending)
	mr.SetError("LOADING")

	assert.Error(t, p.HandleStatusChanged(context.Background(), m))
}
