package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SweepOrphans settles reservations still held after grace whose order is
// gone or already terminal. A buy-now that crashed between reserving and
// inserting leaves one with no order row; a release or consume that failed
// after its commit leaves one behind a finished order. Reservations of cart
// items are kept: the next checkout of the item reuses them. It reports how
// many reservations it closed.
func (c *Coordinator) SweepOrphans(ctx context.Context, grace time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "checkout.SweepOrphans", trace.WithAttributes(
		attribute.String("grace", grace.String()),
	))
	defer span.End()

	stale, err := c.Ledger.StaleReservations(ctx, grace)
	if err != nil {
		c.fail(ctx, span, "list stale reservations", err)
		return 0, err
	}

	swept := 0
	for _, res := range stale {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		o, err := c.Orders.Get(ctx, res.OrderID)
		switch {
		case errors.Is(err, orders.ErrNotFound):
			o = orders.Order{ID: res.OrderID, Status: orders.StatusCancelled}
		case err != nil:
			c.logger().WarnContext(ctx, "sweep lookup failed", slog.String("order_id", res.OrderID), slog.Any("err", err))
			continue
		case !o.Status.Terminal():
			continue
		}

		c.settle(ctx, res.OrderID, o.Status)
		swept++
		c.logger().InfoContext(ctx, "orphan reservation settled",
			slog.String("order_id", res.OrderID),
			slog.String("product_id", res.ProductID),
			slog.Int("qty", res.Qty),
			slog.String("order_status", string(o.Status)),
		)
	}
	span.SetAttributes(attribute.Int("swept", swept))
	return swept, nil
}

// RunSweeper calls SweepOrphans every interval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval, grace time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.SweepOrphans(ctx, grace); err != nil && ctx.Err() == nil {
				c.logger().ErrorContext(ctx, "sweep orphan reservations", slog.Any("err", err))
			}
		}
	}
}
