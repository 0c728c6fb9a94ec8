package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshcart/internal/domain/identity"
	"github.com/xenking/freshcart/internal/domain/order"
)

const (
	snapshotCartSQL = `SELECT product_id, quantity FROM cart_items
		WHERE identity = $1 ORDER BY product_id`

	decrementReturningPriceSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
		RETURNING price`

	insertOrderSQL = `INSERT INTO orders
		(id, identity, first_name, last_name, email, address, postal_code, city, total, payment_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, price, quantity)
		VALUES ($1, $2, $3, $4)`

	clearCartItemsSQL = `DELETE FROM cart_items WHERE identity = $1`

	getOrderSQL = `SELECT id, identity, first_name, last_name, email, address, postal_code, city,
			total, payment_state, COALESCE(external_ref, ''), created_at
		FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT id, identity, first_name, last_name, email, address, postal_code, city,
			total, payment_state, COALESCE(external_ref, ''), created_at
		FROM orders WHERE identity = $1 ORDER BY created_at DESC`

	getOrderItemsSQL = `SELECT order_id, product_id, price, quantity
		FROM order_items WHERE order_id = ANY($1) ORDER BY product_id`

	orderStateSQL = `SELECT payment_state FROM orders WHERE id = $1`

	// Every transition below is a single compare-and-set statement: the
	// guard and the write happen in one UPDATE, so concurrent deliveries
	// serialize on the row and the loser observes zero affected rows.
	setAwaitingSQL = `UPDATE orders
		SET payment_state = 'awaiting_payment', external_ref = $2
		WHERE id = $1 AND payment_state <> 'paid'`

	markPaidSQL = `UPDATE orders SET payment_state = 'paid'
		WHERE id = $1 AND payment_state <> 'paid'`

	markFailedSQL = `UPDATE orders SET payment_state = 'failed'
		WHERE id = $1 AND payment_state NOT IN ('paid', 'failed')`
)

var _ order.Ledger = (*OrderLedger)(nil)

// OrderLedger implements order.Ledger backed by PostgreSQL.
type OrderLedger struct {
	pool *pgxpool.Pool
}

// NewOrderLedger returns an OrderLedger that uses the given pool.
func NewOrderLedger(pool *pgxpool.Pool) *OrderLedger {
	return &OrderLedger{pool: pool}
}

// CreateFromCart runs the checkout transaction: snapshot the cart,
// conditionally decrement stock per line capturing the price in the same
// statement, insert the order and its items, and clear the cart. Any
// failure rolls the whole transaction back, so either none or all of
// {decrements, order, cleared cart} become visible.
func (l *OrderLedger) CreateFromCart(ctx context.Context, key identity.Key, shipping order.ShippingDetails) (*order.Order, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin checkout tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, snapshotCartSQL, key.String())
	if err != nil {
		return nil, fmt.Errorf("snapshotting cart %q: %w", key, err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (line, error) {
		var ln line
		err := row.Scan(&ln.productID, &ln.quantity)
		return ln, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning cart %q: %w", key, err)
	}
	if len(lines) == 0 {
		return nil, order.ErrEmptyCart
	}

	// Lines come back ordered by product id, so concurrent checkouts
	// touching the same products lock rows in the same order.
	items := make([]order.Item, 0, len(lines))
	for _, ln := range lines {
		var price decimal.Decimal
		err := tx.QueryRow(ctx, decrementReturningPriceSQL, ln.productID, ln.quantity).Scan(&price)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, &order.OutOfStockError{ProductID: ln.productID}
			}
			return nil, fmt.Errorf("decrementing stock for %q: %w", ln.productID, err)
		}
		items = append(items, order.Item{
			ProductID: ln.productID,
			Price:     price,
			Quantity:  ln.quantity,
		})
	}

	o := &order.Order{
		ID:       uuid.New().String(),
		Identity: key,
		Shipping: shipping,
		Items:    items,
		Total:    order.TotalOf(items).Round(2),
		State:    order.StatePending,
	}

	err = tx.QueryRow(ctx, insertOrderSQL,
		o.ID, o.Identity.String(),
		shipping.FirstName, shipping.LastName, shipping.Email,
		shipping.Address, shipping.PostalCode, shipping.City,
		o.Total, string(o.State),
	).Scan(&o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(insertOrderItemSQL, o.ID, it.ProductID, it.Price, it.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("inserting order items for %q: %w", o.ID, err)
	}

	if _, err := tx.Exec(ctx, clearCartItemsSQL, key.String()); err != nil {
		return nil, fmt.Errorf("clearing cart %q: %w", key, err)
	}
	if _, err := tx.Exec(ctx, deleteCartSQL, key.String()); err != nil {
		return nil, fmt.Errorf("deleting cart %q: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit checkout tx: %w", err)
	}
	return o, nil
}

type line struct {
	productID string
	quantity  int
}

// GetByID returns a single order with its items.
func (l *OrderLedger) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := l.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	itemsByOrder, err := l.loadItems(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = itemsByOrder[o.ID]

	return &o, nil
}

// ListByIdentity returns the identity's orders, newest first, with items.
func (l *OrderLedger) ListByIdentity(ctx context.Context, key identity.Key) ([]order.Order, error) {
	rows, err := l.pool.Query(ctx, listOrdersSQL, key.String())
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", key, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scanning orders for %q: %w", key, err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	itemsByOrder, err := l.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = itemsByOrder[orders[i].ID]
	}

	return orders, nil
}

func (l *OrderLedger) loadItems(ctx context.Context, orderIDs []string) (map[string][]order.Item, error) {
	rows, err := l.pool.Query(ctx, getOrderItemsSQL, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("getting order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]order.Item)
	for rows.Next() {
		var (
			orderID string
			it      order.Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Price, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scanning order item: %w", err)
		}
		items[orderID] = append(items[orderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading order items: %w", err)
	}
	return items, nil
}

// SetAwaitingPayment records the intent reference and moves the order to
// AwaitingPayment, unless it is already Paid (no-op then).
func (l *OrderLedger) SetAwaitingPayment(ctx context.Context, id, externalRef string) error {
	tag, err := l.pool.Exec(ctx, setAwaitingSQL, id, externalRef)
	if err != nil {
		return fmt.Errorf("setting order %q awaiting payment: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return l.missingOrNoop(ctx, id)
	}
	return nil
}

// MarkPaid transitions the order to Paid. Replays observe zero affected
// rows and report changed=false.
func (l *OrderLedger) MarkPaid(ctx context.Context, id string) (bool, error) {
	return l.casState(ctx, id, markPaidSQL)
}

// MarkFailed transitions the order to Failed unless it is already Paid.
func (l *OrderLedger) MarkFailed(ctx context.Context, id string) (bool, error) {
	return l.casState(ctx, id, markFailedSQL)
}

func (l *OrderLedger) casState(ctx context.Context, id, casSQL string) (bool, error) {
	tag, err := l.pool.Exec(ctx, casSQL, id)
	if err != nil {
		return false, fmt.Errorf("updating order %q state: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// Zero rows: either the order does not exist, or it is already Paid
	// and the transition is an idempotent no-op.
	if err := l.missingOrNoop(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (l *OrderLedger) missingOrNoop(ctx context.Context, id string) error {
	var state string
	err := l.pool.QueryRow(ctx, orderStateSQL, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o     order.Order
		ident string
		state string
	)
	err := row.Scan(
		&o.ID, &ident,
		&o.Shipping.FirstName, &o.Shipping.LastName, &o.Shipping.Email,
		&o.Shipping.Address, &o.Shipping.PostalCode, &o.Shipping.City,
		&o.Total, &state, &o.ExternalRef, &o.CreatedAt,
	)
	o.Identity = identity.Key(ident)
	o.State = order.PaymentState(state)
	return o, err
}
