package ports

import (
	"context"

	"order-fulfillment/internal/features/catalog/domain"
	orderdomain "order-fulfillment/internal/features/orders/domain"
)

// CartStore loads and clears customer carts.
type CartStore interface {
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, cartID string) error
}

// Catalog looks up products by id.
type Catalog interface {
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// Stock reserves and returns product inventory.
type Stock interface {
	// Reserve atomically takes qty units or fails with domain.ErrInsufficientStock.
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, items []orderdomain.LineItem) error
}
