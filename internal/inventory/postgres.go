package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgLedger struct{ DB *pgxpool.Pool }

// Reserve: lock the product row (FOR UPDATE) -> check the order has no
// reservation yet -> decrement -> record the reservation, in one tx.
func (l *PgLedger) Reserve(ctx context.Context, orderID, productID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", orders.ErrValidation)
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var stock int
	err = tx.QueryRow(ctx, `SELECT stock FROM inventory WHERE product_id=$1 FOR UPDATE`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	if err != nil {
		return err
	}

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM reservations WHERE order_id=$1`, orderID).Scan(&status)
	switch {
	case err == nil:
		if ReservationStatus(status) == ReservationReserved {
			return nil
		}
		return fmt.Errorf("%w: order %s is %s", ErrReservationClosed, orderID, status)
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	if stock < qty {
		return &orders.StockError{ProductID: productID, Requested: qty, Available: stock}
	}

	// stock >= $2 keeps the row non-negative even if the lock was skipped
	ct, err := tx.Exec(ctx, `UPDATE inventory SET stock = stock - $2, updated_at = now()
		WHERE product_id=$1 AND stock >= $2`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &orders.StockError{ProductID: productID, Requested: qty, Available: stock}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations(order_id, product_id, qty, status)
		VALUES ($1,$2,$3,'RESERVED')`, orderID, productID, qty); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (l *PgLedger) Release(ctx context.Context, orderID string) (bool, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// flipping the row first makes a concurrent second release a no-op
	var productID string
	var qty int
	err = tx.QueryRow(ctx, `
		UPDATE reservations SET status='RELEASED', updated_at=now()
		WHERE order_id=$1 AND status='RESERVED'
		RETURNING product_id, qty`, orderID).Scan(&productID, &qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `UPDATE inventory SET stock = stock + $2, updated_at = now() WHERE product_id=$1`,
		productID, qty); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (l *PgLedger) Consume(ctx context.Context, orderID string) error {
	ct, err := l.DB.Exec(ctx, `UPDATE reservations SET status='CONSUMED', updated_at=now()
		WHERE order_id=$1 AND status IN ('RESERVED','CONSUMED')`, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	res, err := l.Reservation(ctx, orderID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: order %s is %s", ErrReservationClosed, orderID, res.Status)
}

func (l *PgLedger) Receive(ctx context.Context, productID string, qty int) (Record, error) {
	if qty < 1 {
		return Record{}, fmt.Errorf("%w: received quantity must be at least 1", orders.ErrValidation)
	}
	rec, err := scanRecord(l.DB.QueryRow(ctx, `
		UPDATE inventory SET stock = stock + $2, updated_at = now()
		WHERE product_id=$1
		RETURNING product_id, name, stock, unit_price`, productID, qty))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	return rec, err
}

func (l *PgLedger) Upsert(ctx context.Context, rec Record) (Record, error) {
	if rec.ProductID == "" {
		return Record{}, fmt.Errorf("%w: product id is required", orders.ErrValidation)
	}
	if rec.Stock < 0 || rec.UnitPrice.IsNegative() {
		return Record{}, fmt.Errorf("%w: stock and unit price must not be negative", orders.ErrValidation)
	}
	return scanRecord(l.DB.QueryRow(ctx, `
		INSERT INTO inventory(product_id, name, stock, unit_price)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (product_id) DO UPDATE SET name = EXCLUDED.name, unit_price = EXCLUDED.unit_price, updated_at = now()
		RETURNING product_id, name, stock, unit_price`, rec.ProductID, rec.Name, rec.Stock, rec.UnitPrice))
}

func (l *PgLedger) Get(ctx context.Context, productID string) (Record, error) {
	rec, err := scanRecord(l.DB.QueryRow(ctx,
		`SELECT product_id, name, stock, unit_price FROM inventory WHERE product_id=$1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	return rec, err
}

func (l *PgLedger) List(ctx context.Context) ([]Record, error) {
	rows, err := l.DB.Query(ctx, `SELECT product_id, name, stock, unit_price FROM inventory ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *PgLedger) Reservation(ctx context.Context, orderID string) (Reservation, error) {
	var res Reservation
	var status string
	err := l.DB.QueryRow(ctx, `SELECT order_id, product_id, qty, status, created_at FROM reservations WHERE order_id=$1`, orderID).
		Scan(&res.OrderID, &res.ProductID, &res.Qty, &status, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, fmt.Errorf("%w: reservation for order %s", orders.ErrNotFound, orderID)
	}
	res.Status = ReservationStatus(status)
	return res, err
}

func (l *PgLedger) StaleReservations(ctx context.Context, olderThan time.Duration) ([]Reservation, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT order_id, product_id, qty, status, created_at FROM reservations
		WHERE status='RESERVED' AND created_at <= now() - make_interval(secs => $1)
		ORDER BY created_at, order_id`, olderThan.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var res Reservation
		var status string
		if err := rows.Scan(&res.OrderID, &res.ProductID, &res.Qty, &status, &res.CreatedAt); err != nil {
			return nil, err
		}
		res.Status = ReservationStatus(status)
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ProductID, &rec.Name, &rec.Stock, &rec.UnitPrice)
	return rec, err
}
