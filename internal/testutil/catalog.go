package testutil

import (
	"context"
	"fmt"
	"sync"

	catalogdomain "order-fulfillment/internal/features/catalog/domain"
	"order-fulfillment/internal/features/orders/domain"
)

// Catalog is an in-memory cart store, catalog and stock ledger.
type Catalog struct {
	mu       sync.Mutex
	Products map[string]catalogdomain.Product
	Carts    map[string]*catalogdomain.Cart
	Cleared  []string
	Releases int
}

func NewCatalog() *Catalog {
	return &Catalog{
		Products: map[string]catalogdomain.Product{},
		Carts:    map[string]*catalogdomain.Cart{},
	}
}

// AddProduct stores p.
func (c *Catalog) AddProduct(p catalogdomain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Products[p.ID] = p
}

// AddCart stores cart.
func (c *Catalog) AddCart(cart *catalogdomain.Cart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Carts[cart.ID] = cart
}

// StockOf returns the remaining stock of a product.
func (c *Catalog) StockOf(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Products[id].Stock
}

func (c *Catalog) GetCart(_ context.Context, cartID string) (*catalogdomain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.Carts[cartID]
	if !ok {
		return nil, catalogdomain.ErrCartNotFound
	}
	cp := *cart
	cp.Items = append([]catalogdomain.CartItem(nil), cart.Items...)
	return &cp, nil
}

func (c *Catalog) ClearCart(_ context.Context, cartID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cart, ok := c.Carts[cartID]; ok {
		cart.Items = nil
	}
	c.Cleared = append(c.Cleared, cartID)
	return nil
}

func (c *Catalog) GetProducts(_ context.Context, ids []string) (map[string]catalogdomain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]catalogdomain.Product{}
	for _, id := range ids {
		if p, ok := c.Products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (c *Catalog) Reserve(_ context.Context, productID string, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.Products[productID]
	if !ok {
		return catalogdomain.ErrProductNotFound
	}
	if p.Stock < qty {
		return fmt.Errorf("%w: %s", catalogdomain.ErrInsufficientStock, productID)
	}
	p.Stock -= qty
	c.Products[productID] = p
	return nil
}

func (c *Catalog) Release(_ context.Context, items []domain.LineItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Releases++
	for _, it := range items {
		p, ok := c.Products[it.ProductID]
		if !ok {
			continue
		}
		p.Stock += it.Quantity
		c.Products[it.ProductID] = p
	}
	return nil
}
