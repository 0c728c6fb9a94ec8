package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/freshcart/internal/domain/cart"
	"github.com/xenking/freshcart/internal/domain/identity"
)

const (
	getCartItemsSQL = `SELECT product_id, quantity FROM cart_items
		WHERE identity = $1 ORDER BY product_id`

	ensureCartSQL = `INSERT INTO carts (identity) VALUES ($1)
		ON CONFLICT (identity) DO NOTHING`

	addCartItemSQL = `INSERT INTO cart_items (identity, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`

	setCartItemSQL = `INSERT INTO cart_items (identity, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity`

	removeCartItemSQL = `DELETE FROM cart_items
		WHERE identity = $1 AND product_id = $2`

	lockCartsSQL = `SELECT identity FROM carts
		WHERE identity = ANY($1) ORDER BY identity FOR UPDATE`

	mergeCartItemsSQL = `INSERT INTO cart_items (identity, product_id, quantity)
		SELECT $2, product_id, quantity FROM cart_items WHERE identity = $1
		ON CONFLICT (identity, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`

	deleteCartSQL = `DELETE FROM carts WHERE identity = $1`
)

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store backed by PostgreSQL.
type CartStore struct {
	pool *pgxpool.Pool
}

// NewCartStore returns a CartStore that uses the given pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

// Get returns the identity's cart. An identity without stored rows gets an
// empty cart; the row is only created on the first add.
func (s *CartStore) Get(ctx context.Context, key identity.Key) (*cart.Cart, error) {
	rows, err := s.pool.Query(ctx, getCartItemsSQL, key.String())
	if err != nil {
		return nil, fmt.Errorf("getting cart %q: %w", key, err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ProductID, &it.Quantity)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning cart %q: %w", key, err)
	}

	return &cart.Cart{Identity: key, Items: items}, nil
}

// AddItem upserts a line additively, creating the cart row on first use.
func (s *CartStore) AddItem(ctx context.Context, key identity.Key, productID string, qty int) error {
	return s.upsertItem(ctx, key, productID, qty, addCartItemSQL)
}

// SetItemQuantity replaces a line's quantity.
func (s *CartStore) SetItemQuantity(ctx context.Context, key identity.Key, productID string, qty int) error {
	return s.upsertItem(ctx, key, productID, qty, setCartItemSQL)
}

func (s *CartStore) upsertItem(ctx context.Context, key identity.Key, productID string, qty int, upsertSQL string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cart tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, ensureCartSQL, key.String()); err != nil {
		return fmt.Errorf("ensuring cart %q: %w", key, err)
	}
	if _, err := tx.Exec(ctx, upsertSQL, key.String(), productID, qty); err != nil {
		return fmt.Errorf("upserting cart item %q/%q: %w", key, productID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cart tx: %w", err)
	}
	return nil
}

// RemoveItem deletes a line. Removing an absent line affects zero rows and
// succeeds.
func (s *CartStore) RemoveItem(ctx context.Context, key identity.Key, productID string) error {
	if _, err := s.pool.Exec(ctx, removeCartItemSQL, key.String(), productID); err != nil {
		return fmt.Errorf("removing cart item %q/%q: %w", key, productID, err)
	}
	return nil
}

// Merge folds the guest cart into the user cart in one transaction. Both
// cart rows are locked in deterministic order first, so concurrent merges
// for the same pair serialize instead of interleaving, and a concurrent
// double-login cannot duplicate or lose items. An absent guest cart makes
// the whole merge a no-op.
func (s *CartStore) Merge(ctx context.Context, guest, user identity.Key) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, lockCartsSQL, []string{guest.String(), user.String()})
	if err != nil {
		return fmt.Errorf("locking carts: %w", err)
	}
	locked, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("scanning locked carts: %w", err)
	}

	guestExists := false
	for _, id := range locked {
		if id == guest.String() {
			guestExists = true
		}
	}
	if !guestExists {
		// Already merged (or never created), commit the empty transaction
		// so the lock is released cleanly.
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, ensureCartSQL, user.String()); err != nil {
		return fmt.Errorf("ensuring user cart: %w", err)
	}
	if _, err := tx.Exec(ctx, mergeCartItemsSQL, guest.String(), user.String()); err != nil {
		return fmt.Errorf("merging cart items: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteCartSQL, guest.String()); err != nil {
		return fmt.Errorf("deleting guest cart: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}
	return nil
}
