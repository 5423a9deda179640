package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Store.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, COALESCE(external_id, ''), product_id, account_id, quantity, price_at_order,
	status, payment_offline, shipping_address, note, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.ExternalID, &o.ProductID, &o.AccountID, &o.Quantity, &o.PriceAtOrder,
		&status, &o.PaymentOffline, &o.ShippingAddress, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	o.Status = Status(status)
	return o, err
}

func (r *Repo) Create(ctx context.Context, o Order) (Order, error) {
	var external any
	if o.ExternalID != "" {
		external = o.ExternalID
	}
	row := r.DB.QueryRow(ctx, `
		INSERT INTO orders(id, external_id, product_id, account_id, quantity, price_at_order,
		                   status, payment_offline, shipping_address, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING `+orderColumns,
		o.ID, external, o.ProductID, o.AccountID, o.Quantity, o.PriceAtOrder,
		string(o.Status), o.PaymentOffline, o.ShippingAddress, o.Note,
	)
	created, err := scanOrder(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return Order{}, fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
			case "23503":
				return Order{}, fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
			}
		}
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	return created, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return o, err
}

func (r *Repo) FindByExternalID(ctx context.Context, accountID, externalID string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE account_id=$1 AND external_id=$2`, accountID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: external id %s", ErrNotFound, externalID)
	}
	return o, err
}

func (r *Repo) ListByAccount(ctx context.Context, accountID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE account_id=$1 ORDER BY created_at DESC, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) ListAll(ctx context.Context) ([]OrderWithOwner, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT o.id, COALESCE(o.external_id, ''), o.product_id, o.account_id, o.quantity, o.price_at_order,
		       o.status, o.payment_offline, o.shipping_address, o.note, o.created_at, o.updated_at,
		       a.username, a.email
		FROM orders o JOIN accounts a ON a.id = o.account_id
		ORDER BY o.created_at DESC, o.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderWithOwner
	for rows.Next() {
		var x OrderWithOwner
		var status string
		if err := rows.Scan(&x.ID, &x.ExternalID, &x.ProductID, &x.AccountID, &x.Quantity, &x.PriceAtOrder,
			&status, &x.PaymentOffline, &x.ShippingAddress, &x.Note, &x.CreatedAt, &x.UpdatedAt,
			&x.Owner.Username, &x.Owner.Email); err != nil {
			return nil, err
		}
		x.Status = Status(status)
		x.Owner.ID = x.AccountID
		out = append(out, x)
	}
	return out, rows.Err()
}

func (r *Repo) CompareAndSetStatus(ctx context.Context, id string, from Status, upd StatusUpdate) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET
			status = $3,
			shipping_address = CASE WHEN $4 <> '' THEN $4 ELSE shipping_address END,
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns,
		id, string(from), string(upd.To), upd.ShippingAddress))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, err
	}
	// no row matched: either the order is gone or its status moved on
	cur, gerr := r.Get(ctx, id)
	if gerr != nil {
		return Order{}, gerr
	}
	return cur, ErrStaleStatus
}

func (r *Repo) Account(ctx context.Context, id string) (Account, error) {
	var a Account
	var role string
	err := r.DB.QueryRow(ctx, `SELECT id, username, email, role FROM accounts WHERE id=$1`, id).
		Scan(&a.ID, &a.Username, &a.Email, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	if err != nil {
		return Account{}, err
	}
	a.Role, _ = ParseRole(role)
	return a, nil
}
