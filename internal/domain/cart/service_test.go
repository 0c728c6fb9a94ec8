package cart

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/freshcart/internal/domain/identity"
	"github.com/xenking/freshcart/internal/domain/product"
)

// --- Mock implementations ---

type mockStore struct {
	carts map[identity.Key]map[string]int
}

func newMockStore() *mockStore {
	return &mockStore{carts: make(map[identity.Key]map[string]int)}
}

func (m *mockStore) Get(_ context.Context, key identity.Key) (*Cart, error) {
	c := &Cart{Identity: key}
	for pid, qty := range m.carts[key] {
		c.Items = append(c.Items, Item{ProductID: pid, Quantity: qty})
	}
	return c, nil
}

func (m *mockStore) AddItem(_ context.Context, key identity.Key, productID string, qty int) error {
	if m.carts[key] == nil {
		m.carts[key] = make(map[string]int)
	}
	m.carts[key][productID] += qty
	return nil
}

func (m *mockStore) SetItemQuantity(_ context.Context, key identity.Key, productID string, qty int) error {
	if m.carts[key] == nil {
		m.carts[key] = make(map[string]int)
	}
	m.carts[key][productID] = qty
	return nil
}

func (m *mockStore) RemoveItem(_ context.Context, key identity.Key, productID string) error {
	delete(m.carts[key], productID)
	return nil
}

func (m *mockStore) Merge(_ context.Context, guest, user identity.Key) error {
	for pid, qty := range m.carts[guest] {
		if m.carts[user] == nil {
			m.carts[user] = make(map[string]int)
		}
		m.carts[user][pid] += qty
	}
	delete(m.carts, guest)
	return nil
}

type mockProductRepo struct {
	byID map[string]*product.Product
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) DecrementStock(_ context.Context, id string, qty int) (bool, error) {
	p, ok := m.byID[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	return true, nil
}

// --- Helpers ---

func newTestProduct(id string, price string, stock int) *product.Product {
	return &product.Product{
		ID:    id,
		Name:  "Product " + id,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
}

func newProductRepo(products ...*product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

// --- Tests ---

func TestAddItem_InvalidQuantity(t *testing.T) {
	svc := NewService(newMockStore(), newProductRepo())

	err := svc.AddItem(context.Background(), identity.Guest("s1"), "p1", 0)

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestAddItem_ProductNotFound(t *testing.T) {
	svc := NewService(newMockStore(), newProductRepo())

	err := svc.AddItem(context.Background(), identity.Guest("s1"), "missing", 1)
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestAddItem_AdvisoryStockCheck(t *testing.T) {
	svc := NewService(newMockStore(), newProductRepo(newTestProduct("p1", "10.00", 3)))

	err := svc.AddItem(context.Background(), identity.Guest("s1"), "p1", 5)

	var osErr *OutOfStockError
	require.ErrorAs(t, err, &osErr)
	assert.Equal(t, "p1", osErr.ProductID)
	assert.Equal(t, 3, osErr.Available)
}

func TestAddItem_SumsQuantities(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, newProductRepo(newTestProduct("p1", "10.00", 100)))
	key := identity.Guest("s1")

	require.NoError(t, svc.AddItem(context.Background(), key, "p1", 2))
	require.NoError(t, svc.AddItem(context.Background(), key, "p1", 3))

	c, err := svc.Get(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 5, c.Items[0].Quantity)
}

func TestSetItemQuantity_ZeroRemovesLine(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, newProductRepo(newTestProduct("p1", "10.00", 100)))
	key := identity.Guest("s1")

	require.NoError(t, svc.AddItem(context.Background(), key, "p1", 2))
	require.NoError(t, svc.SetItemQuantity(context.Background(), key, "p1", 0))

	c, err := svc.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestRemoveItem_AbsentLineIsNoop(t *testing.T) {
	svc := NewService(newMockStore(), newProductRepo())

	err := svc.RemoveItem(context.Background(), identity.Guest("s1"), "p1")
	require.NoError(t, err)
}

func TestMergeGuestIntoUser_SumsSharedProducts(t *testing.T) {
	store := newMockStore()
	repo := newProductRepo(newTestProduct("apple", "1.00", 100))
	svc := NewService(store, repo)

	guest := identity.Guest("s1")
	user := identity.User("u1")
	require.NoError(t, svc.AddItem(context.Background(), guest, "apple", 2))
	require.NoError(t, svc.AddItem(context.Background(), user, "apple", 1))

	require.NoError(t, svc.MergeGuestIntoUser(context.Background(), guest, user))

	userCart, err := svc.Get(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, userCart.Items, 1)
	assert.Equal(t, 3, userCart.Items[0].Quantity)

	guestCart, err := svc.Get(context.Background(), guest)
	require.NoError(t, err)
	assert.True(t, guestCart.IsEmpty())
}

func TestMergeGuestIntoUser_EmptyGuestCartIsNoop(t *testing.T) {
	store := newMockStore()
	repo := newProductRepo(newTestProduct("apple", "1.00", 100))
	svc := NewService(store, repo)

	user := identity.User("u1")
	require.NoError(t, svc.AddItem(context.Background(), user, "apple", 1))

	require.NoError(t, svc.MergeGuestIntoUser(context.Background(), identity.Guest("s1"), user))

	userCart, err := svc.Get(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, userCart.Items, 1)
	assert.Equal(t, 1, userCart.Items[0].Quantity)
}

func TestGetView_ComputesSubtotal(t *testing.T) {
	store := newMockStore()
	repo := newProductRepo(
		newTestProduct("p1", "10.00", 100),
		newTestProduct("p2", "2.50", 100),
	)
	svc := NewService(store, repo)
	key := identity.User("u1")

	require.NoError(t, svc.AddItem(context.Background(), key, "p1", 2))
	require.NoError(t, svc.AddItem(context.Background(), key, "p2", 4))

	view, err := svc.GetView(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 2)
	assert.True(t, decimal.RequireFromString("30.00").Equal(view.Subtotal),
		"subtotal %s", view.Subtotal)
}

func TestGetView_EmptyCart(t *testing.T) {
	svc := NewService(newMockStore(), newProductRepo())

	view, err := svc.GetView(context.Background(), identity.Guest("s1"))
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
	assert.True(t, view.Subtotal.IsZero())
}
