package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxCASAttempts bounds the optimistic retries on a single order.
const maxCASAttempts = 3

var tracer = otel.Tracer("github.com/ariefcatur/go-storefront-orders/internal/checkout")

// Notifier is told about every committed change. It runs after the commit,
// so its errors are logged and never undo the change.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, p orders.OrderStatusChangedPayload) error
	StockReceived(ctx context.Context, p orders.StockReceivedPayload) error
}

type Coordinator struct {
	Orders   orders.Store
	Ledger   inventory.Ledger
	Notifier Notifier
	Log      *slog.Logger
	// Parallelism caps how many items of one batch run at once.
	Parallelism int
	NewID       func() string
}

type CreateRequest struct {
	ExternalID      string
	AccountID       string
	ProductID       string
	Quantity        int
	Status          orders.Status
	ShippingAddress string
	PaymentOffline  bool
	Note            string
}

func (c *Coordinator) Create(ctx context.Context, actor orders.Actor, req CreateRequest) (orders.Order, error) {
	ctx, span := tracer.Start(ctx, "checkout.Create", trace.WithAttributes(
		attribute.String("product.id", req.ProductID),
		attribute.Int("quantity", req.Quantity),
	))
	defer span.End()

	o, err := c.create(ctx, actor, req)
	if err != nil {
		c.fail(ctx, span, "create order", err, slog.String("product_id", req.ProductID))
		return orders.Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

func (c *Coordinator) create(ctx context.Context, actor orders.Actor, req CreateRequest) (orders.Order, error) {
	if req.Status == orders.StatusNone {
		req.Status = orders.StatusInCart
	}
	if req.Status != orders.StatusInCart && req.Status != orders.StatusPending {
		return orders.Order{}, fmt.Errorf("%w: new orders start in %s or %s", orders.ErrValidation, orders.StatusInCart, orders.StatusPending)
	}
	if req.Quantity < 1 {
		return orders.Order{}, fmt.Errorf("%w: quantity must be at least 1", orders.ErrValidation)
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return orders.Order{}, fmt.Errorf("%w: product id is required", orders.ErrValidation)
	}
	req.ShippingAddress = strings.TrimSpace(req.ShippingAddress)
	if req.Status == orders.StatusPending && req.ShippingAddress == "" {
		return orders.Order{}, fmt.Errorf("%w: shipping address is required", orders.ErrValidation)
	}
	if req.AccountID == "" {
		req.AccountID = actor.AccountID
	}
	if err := authorize(actor, req.AccountID, orders.StatusNone, req.Status); err != nil {
		return orders.Order{}, err
	}
	if _, err := c.Orders.Account(ctx, req.AccountID); err != nil {
		return orders.Order{}, err
	}

	if req.ExternalID != "" {
		existing, err := c.Orders.FindByExternalID(ctx, req.AccountID, req.ExternalID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, orders.ErrNotFound) {
			return orders.Order{}, err
		}
	}

	rec, err := c.Ledger.Get(ctx, req.ProductID)
	if err != nil {
		return orders.Order{}, err
	}

	o := orders.Order{
		ID:              c.newID(),
		ExternalID:      req.ExternalID,
		ProductID:       req.ProductID,
		AccountID:       req.AccountID,
		Quantity:        req.Quantity,
		PriceAtOrder:    rec.UnitPrice,
		Status:          req.Status,
		PaymentOffline:  req.PaymentOffline,
		ShippingAddress: req.ShippingAddress,
		Note:            req.Note,
	}

	// buy-now: the stock is held before the row exists
	if o.Status.Reserving() {
		if err := c.Ledger.Reserve(ctx, o.ID, o.ProductID, o.Quantity); err != nil {
			return orders.Order{}, err
		}
	}

	created, err := c.Orders.Create(ctx, o)
	if err != nil {
		if o.Status.Reserving() {
			c.release(ctx, o.ID)
		}
		// lost a race against a request carrying the same key
		if errors.Is(err, orders.ErrConflict) && o.ExternalID != "" {
			if existing, ferr := c.Orders.FindByExternalID(ctx, o.AccountID, o.ExternalID); ferr == nil {
				return existing, nil
			}
		}
		return orders.Order{}, err
	}

	c.notifyStatus(ctx, actor, created, orders.StatusNone)
	return created, nil
}

type CheckoutRequest struct {
	OrderIDs []string
	// ShippingAddress is applied to every item that has none yet.
	ShippingAddress string
}

type ItemResult struct {
	OrderID string
	Order   orders.Order
	Err     error
}

// Checkout confirms each cart item on its own. One item failing never rolls
// back or blocks the others. Results follow the request order with
// duplicate ids removed.
func (c *Coordinator) Checkout(ctx context.Context, actor orders.Actor, req CheckoutRequest) []ItemResult {
	ids := dedupe(req.OrderIDs)
	ctx, span := tracer.Start(ctx, "checkout.Checkout", trace.WithAttributes(attribute.Int("items", len(ids))))
	defer span.End()

	results := make([]ItemResult, len(ids))
	c.forEach(ctx, len(ids), func(ctx context.Context, i int) {
		o, err := c.ChangeStatus(ctx, actor, ids[i], orders.StatusPending, req.ShippingAddress)
		results[i] = ItemResult{OrderID: ids[i], Order: o, Err: err}
	})

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("items.failed", failed))
	return results
}

func (c *Coordinator) Cancel(ctx context.Context, actor orders.Actor, orderID string) (orders.Order, error) {
	return c.ChangeStatus(ctx, actor, orderID, orders.StatusCancelled, "")
}

// ChangeStatus drives one order to status to. Reaching pending reserves the
// stock, leaving a reserving status for cancelled releases it and delivered
// makes it permanent.
func (c *Coordinator) ChangeStatus(ctx context.Context, actor orders.Actor, orderID string, to orders.Status, shippingAddress string) (orders.Order, error) {
	ctx, span := tracer.Start(ctx, "checkout.ChangeStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.to", string(to)),
	))
	defer span.End()

	o, err := c.changeStatus(ctx, actor, orderID, to, strings.TrimSpace(shippingAddress))
	if err != nil {
		c.fail(ctx, span, "change order status", err,
			slog.String("order_id", orderID),
			slog.String("to", string(to)),
		)
		return o, err
	}
	return o, nil
}

func (c *Coordinator) changeStatus(ctx context.Context, actor orders.Actor, orderID string, to orders.Status, addr string) (orders.Order, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		o, err := c.Orders.Get(ctx, orderID)
		if err != nil {
			return orders.Order{}, err
		}
		if err := authorize(actor, o.AccountID, o.Status, to); err != nil {
			return o, err
		}
		from := o.Status
		if from == to {
			return c.replay(ctx, o)
		}

		var next orders.Order
		switch to {
		case orders.StatusPending:
			next, err = c.confirm(ctx, o, addr)
		default:
			next, err = c.Orders.CompareAndSetStatus(ctx, o.ID, from, orders.StatusUpdate{To: to})
		}
		if errors.Is(err, orders.ErrStaleStatus) {
			if to == orders.StatusPending && next.Status.Reserving() {
				// a concurrent checkout of the same order won; the
				// reservation is shared, so this is the same success
				return next, nil
			}
			continue
		}
		if err != nil {
			return o, err
		}

		c.afterCommit(ctx, next, from)
		c.notifyStatus(ctx, actor, next, from)
		return next, nil
	}
	return orders.Order{}, fmt.Errorf("%w: order %s kept changing", orders.ErrConflict, orderID)
}

// confirm reserves stock for an inCart order and moves it to pending. The
// reservation is released again if the order moved elsewhere meanwhile.
func (c *Coordinator) confirm(ctx context.Context, o orders.Order, addr string) (orders.Order, error) {
	if addr == "" {
		addr = o.ShippingAddress
	}
	if addr == "" {
		return o, fmt.Errorf("%w: shipping address is required", orders.ErrValidation)
	}

	upd := orders.StatusUpdate{To: orders.StatusPending, ShippingAddress: addr}

	if err := c.Ledger.Reserve(ctx, o.ID, o.ProductID, o.Quantity); err != nil {
		if errors.Is(err, inventory.ErrReservationClosed) {
			return o, fmt.Errorf("%w: %v", orders.ErrConflict, err)
		}
		return o, err
	}

	next, err := c.Orders.CompareAndSetStatus(ctx, o.ID, o.Status, upd)
	if err == nil {
		return next, nil
	}
	if errors.Is(err, orders.ErrStaleStatus) && next.Status.Reserving() {
		return next, err
	}
	c.release(ctx, o.ID)
	return next, err
}

// replay handles a request for the status the order already has. Stock
// side effects are repeated because they are idempotent per order, which
// also completes a release or consume that failed after its commit.
func (c *Coordinator) replay(ctx context.Context, o orders.Order) (orders.Order, error) {
	if o.Status.Terminal() {
		c.settle(ctx, o.ID, o.Status)
	}
	return o, nil
}

func (c *Coordinator) afterCommit(ctx context.Context, o orders.Order, from orders.Status) {
	if !o.Status.Terminal() {
		return
	}
	if o.Status == orders.StatusCancelled && !from.Reserving() {
		return
	}
	c.settle(ctx, o.ID, o.Status)
}

// settle closes the reservation of an order that reached a terminal status.
func (c *Coordinator) settle(ctx context.Context, orderID string, st orders.Status) {
	if st == orders.StatusDelivered {
		c.consume(ctx, orderID)
		return
	}
	c.release(ctx, orderID)
}

func (c *Coordinator) release(ctx context.Context, orderID string) {
	released, err := c.Ledger.Release(ctx, orderID)
	if err != nil {
		c.logger().ErrorContext(ctx, "release reservation failed", slog.String("order_id", orderID), slog.Any("err", err))
		return
	}
	if released {
		c.logger().DebugContext(ctx, "reservation released", slog.String("order_id", orderID))
	}
}

func (c *Coordinator) consume(ctx context.Context, orderID string) {
	if err := c.Ledger.Consume(ctx, orderID); err != nil {
		c.logger().ErrorContext(ctx, "consume reservation failed", slog.String("order_id", orderID), slog.Any("err", err))
	}
}

func (c *Coordinator) Get(ctx context.Context, actor orders.Actor, orderID string) (orders.Order, error) {
	o, err := c.Orders.Get(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if !orders.DefaultPolicy.CanRead(actor, o.AccountID) {
		return orders.Order{}, fmt.Errorf("%w: order %s", orders.ErrAuthorization, orderID)
	}
	return o, nil
}

func (c *Coordinator) ListByAccount(ctx context.Context, actor orders.Actor, accountID string) ([]orders.Order, error) {
	if !orders.DefaultPolicy.CanRead(actor, accountID) {
		return nil, fmt.Errorf("%w: orders of account %s", orders.ErrAuthorization, accountID)
	}
	return c.Orders.ListByAccount(ctx, accountID)
}

func (c *Coordinator) ListAll(ctx context.Context, actor orders.Actor) ([]orders.OrderWithOwner, error) {
	if !orders.DefaultPolicy.CanListAll(actor) {
		return nil, fmt.Errorf("%w: listing all orders", orders.ErrAuthorization)
	}
	return c.Orders.ListAll(ctx)
}

// ReceiveStock books an incoming delivery from a supplier.
func (c *Coordinator) ReceiveStock(ctx context.Context, actor orders.Actor, productID string, qty int) (inventory.Record, error) {
	if !orders.DefaultPolicy.CanReceiveStock(actor) {
		return inventory.Record{}, fmt.Errorf("%w: receiving stock", orders.ErrAuthorization)
	}
	rec, err := c.Ledger.Receive(ctx, productID, qty)
	if err != nil {
		c.fail(ctx, trace.SpanFromContext(ctx), "receive stock", err, slog.String("product_id", productID))
		return inventory.Record{}, err
	}
	if c.Notifier != nil {
		p := orders.StockReceivedPayload{ProductID: rec.ProductID, Quantity: qty, Stock: rec.Stock}
		if err := c.Notifier.StockReceived(ctx, p); err != nil {
			c.logger().ErrorContext(ctx, "publish stock received failed", slog.String("product_id", productID), slog.Any("err", err))
		}
	}
	return rec, nil
}

func (c *Coordinator) UpsertProduct(ctx context.Context, actor orders.Actor, rec inventory.Record) (inventory.Record, error) {
	if !orders.DefaultPolicy.CanReceiveStock(actor) {
		return inventory.Record{}, fmt.Errorf("%w: editing inventory", orders.ErrAuthorization)
	}
	return c.Ledger.Upsert(ctx, rec)
}

func (c *Coordinator) notifyStatus(ctx context.Context, actor orders.Actor, o orders.Order, from orders.Status) {
	c.logger().InfoContext(ctx, "order status changed",
		slog.String("order_id", o.ID),
		slog.String("from", string(from)),
		slog.String("to", string(o.Status)),
		slog.String("by", actor.AccountID),
	)
	if c.Notifier == nil {
		return
	}
	err := c.Notifier.OrderStatusChanged(ctx, orders.OrderStatusChangedPayload{
		OrderID:      o.ID,
		AccountID:    o.AccountID,
		ProductID:    o.ProductID,
		From:         from,
		To:           o.Status,
		Quantity:     o.Quantity,
		PriceAtOrder: o.PriceAtOrder,
		ChangedBy:    actor.AccountID,
		UpdatedAt:    o.UpdatedAt,
	})
	if err != nil {
		c.logger().ErrorContext(ctx, "publish status change failed", slog.String("order_id", o.ID), slog.Any("err", err))
	}
}

// fail records err on the span and logs it at a level matching who has to
// act on it.
func (c *Coordinator) fail(ctx context.Context, span trace.Span, msg string, err error, attrs ...any) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	attrs = append(attrs, slog.Any("err", err))
	switch {
	case orders.Recoverable(err), errors.Is(err, orders.ErrNotFound):
		c.logger().InfoContext(ctx, msg+" rejected", attrs...)
	case errors.Is(err, orders.ErrAuthorization), errors.Is(err, orders.ErrInvalidTransition):
		c.logger().WarnContext(ctx, msg+" refused", attrs...)
	case errors.Is(err, orders.ErrConflict):
		c.logger().WarnContext(ctx, msg+" conflicted", attrs...)
	default:
		c.logger().ErrorContext(ctx, msg+" failed", attrs...)
	}
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

func (c *Coordinator) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

// authorize checks the move against every capacity the actor holds for the
// order. An actor with no capacity at all is refused outright.
func authorize(actor orders.Actor, ownerID string, from, to orders.Status) error {
	roles := actor.Capacities(ownerID)
	if len(roles) == 0 {
		return &orders.TransitionError{From: from, To: to, Role: actor.Role, Err: orders.ErrAuthorization}
	}
	var err error
	for _, role := range roles {
		if _, err = orders.Transition(from, to, role); err == nil {
			return nil
		}
	}
	return err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
