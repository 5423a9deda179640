package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/segmentio/kafka-go"
)

// Projector keeps the order cache in line with committed status changes
// published by the API.
type Projector struct {
	Orders orders.Store
	Cache  *redisx.OrderCache
	Dedup  *redisx.Dedup
	Log    *slog.Logger
}

func (p *Projector) HandleStatusChanged(ctx context.Context, m kafka.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// poison message: nothing a retry could fix
		p.Log.WarnContext(ctx, "skip undecodable message", slog.Int64("offset", m.Offset), slog.Any("err", err))
		return nil
	}
	if env.EventType != orders.EventOrderStatusChanged {
		return nil
	}
	pl, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
	if err != nil {
		p.Log.WarnContext(ctx, "skip bad payload", slog.String("event_id", env.EventID), slog.Any("err", err))
		return nil
	}

	seen, err := p.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if seen {
		p.Log.DebugContext(ctx, "duplicate event", slog.String("event_id", env.EventID))
		return nil
	}

	if err := p.refresh(ctx, pl.OrderID); err != nil {
		_ = p.Dedup.Forget(ctx, env.EventID)
		return err
	}
	p.Log.InfoContext(ctx, "order cache refreshed",
		slog.String("order_id", pl.OrderID),
		slog.String("from", string(pl.From)),
		slog.String("to", string(pl.To)),
	)
	return nil
}

// refresh reloads the order from the store; the event may be older than
// the row, so its payload is never written to the cache as is.
func (p *Projector) refresh(ctx context.Context, orderID string) error {
	o, err := p.Orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return p.Cache.Invalidate(ctx, orderID)
	}
	if err != nil {
		return err
	}
	return p.Cache.Put(ctx, o)
}
