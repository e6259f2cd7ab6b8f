package service

import (
	"context"
	"testing"
	"time"

	"order-fulfillment/internal/core/config"
	carrierdomain "order-fulfillment/internal/features/carriers/domain"
	catalogdomain "order-fulfillment/internal/features/catalog/domain"
	orderdomain "order-fulfillment/internal/features/orders/domain"
	"order-fulfillment/internal/features/orders/ports"
	orderservice "order-fulfillment/internal/features/orders/service"
	"order-fulfillment/internal/features/payments/adapters"
	"order-fulfillment/internal/features/payments/domain"
	"order-fulfillment/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "rzp_test_secret"

var checkoutNow = time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

type checkoutFixture struct {
	svc     *CheckoutService
	catalog *testutil.Catalog
	repo    *testutil.OrderRepository
}

func newCheckoutFixture(t *testing.T) checkoutFixture {
	t.Helper()
	cat := testutil.NewCatalog()
	cat.AddProduct(catalogdomain.Product{ID: "p-1", SKU: "BOT-1", Name: "Bottle", Price: decimal.NewFromInt(300), WeightGrams: 400, Stock: 10, Active: true})
	cat.AddProduct(catalogdomain.Product{ID: "p-2", SKU: "CAP-1", Name: "Cap", Price: decimal.RequireFromString("99.99"), WeightGrams: 50, Stock: 1, Active: true})
	cat.AddCart(&catalogdomain.Cart{ID: "cart-1", UserID: "user-1", Items: []catalogdomain.CartItem{
		{ProductID: "p-1", Quantity: 2},
		{ProductID: "p-2", Quantity: 1},
	}})

	repo := testutil.NewOrderRepository()
	svc := NewCheckoutService(Deps{
		Carts:    cat,
		Catalog:  cat,
		Stock:    cat,
		Orders:   repo,
		Machine:  orderservice.NewStateMachine(repo, nil),
		Locker:   testutil.NewLocker(),
		Sequence: testutil.NewSequence(),
		Verifier: adapters.NewRazorpayVerifier(secret),
		Pricing: config.PricingConfig{
			TaxRate:               0.18,
			ShippingFlatFee:       50,
			FreeShippingThreshold: 500,
			Currency:              "INR",
		},
	})
	svc.now = func() time.Time { return checkoutNow }
	ids := []string{"order-a", "order-b", "order-c"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	return checkoutFixture{svc: svc, catalog: cat, repo: repo}
}

func address() carrierdomain.Address {
	return carrierdomain.Address{
		Name:       "Meera Iyer",
		Phone:      "9123456780",
		Line1:      "14 Lake View",
		City:       "Chennai",
		State:      "Tamil Nadu",
		PostalCode: "600001",
	}
}

func buyer() orderdomain.Actor {
	return orderdomain.Actor{Kind: orderdomain.ActorCustomer, ID: "user-1"}
}

func confirmation(orderID, paymentID string) *domain.Confirmation {
	return &domain.Confirmation{
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		Signature:        adapters.Signature(secret, orderID, paymentID),
	}
}

func TestCheckout_COD(t *testing.T) {
	f := newCheckoutFixture(t)

	order, err := f.svc.Checkout(context.Background(), buyer(), domain.CheckoutInput{
		CartID:  "cart-1",
		Address: address(),
		Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodCOD},
	})
	require.NoError(t, err)

	assert.Equal(t, "ORD-1001", order.OrderNumber)
	assert.Equal(t, orderdomain.OrderStatusConfirmed, order.Status)
	assert.Equal(t, orderdomain.PaymentStatusPending, order.Payment.Status)
	assert.True(t, order.PaymentCleared())
	assert.Equal(t, "699.99", order.Pricing.Subtotal.String())
	assert.Equal(t, "126", order.Pricing.Tax.String())
	assert.True(t, order.Pricing.Shipping.IsZero())
	assert.Equal(t, "825.99", order.Pricing.Total.String())

	assert.Equal(t, 8, f.catalog.StockOf("p-1"))
	assert.Equal(t, 0, f.catalog.StockOf("p-2"))
	assert.Equal(t, []string{"cart-1"}, f.catalog.Cleared)
	require.NotNil(t, f.repo.Stored("order-a"))
}

func TestCheckout_ShippingFeeBelowThreshold(t *testing.T) {
	f := newCheckoutFixture(t)
	f.catalog.AddCart(&catalogdomain.Cart{ID: "cart-2", UserID: "user-1", Items: []catalogdomain.CartItem{{ProductID: "p-1", Quantity: 1}}})

	order, err := f.svc.Checkout(context.Background(), buyer(), domain.CheckoutInput{
		CartID:  "cart-2",
		Address: address(),
		Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodCOD},
	})
	require.NoError(t, err)
	assert.Equal(t, "50", order.Pricing.Shipping.String())
	assert.Equal(t, "404", order.Pricing.Total.String())
}

func TestCheckout_GatewayVerified(t *testing.T) {
	f := newCheckoutFixture(t)

	order, err := f.svc.Checkout(context.Background(), buyer(), domain.CheckoutInput{
		CartID:  "cart-1",
		Address: address(),
		Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodGateway, Confirmation: confirmation("order_1", "pay_1")},
	})
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusConfirmed, order.Status)
	assert.Equal(t, orderdomain.PaymentStatusPaid, order.Payment.Status)
	assert.Equal(t, "razorpay", order.Payment.Gateway)
	require.NotNil(t, order.Payment.PaidAt)
	assert.Equal(t, checkoutNow, *order.Payment.PaidAt)
}

func TestCheckout_GatewayMismatchCreatesNothing(t *testing.T) {
	f := newCheckoutFixture(t)
	bad := confirmation("order_1", "pay_1")
	bad.Signature = "deadbeef"

	_, err := f.svc.Checkout(context.Background(), buyer(), domain.CheckoutInput{
		CartID:  "cart-1",
		Address: address(),
		Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodGateway, Confirmation: bad},
	})
	assert.ErrorIs(t, err, domain.ErrPaymentMismatch)

	assert.Equal(t, 10, f.catalog.StockOf("p-1"))
	assert.Equal(t, 1, f.catalog.StockOf("p-2"))
	assert.Empty(t, f.catalog.Cleared)
	orders, err := f.repo.List(context.Background(), ports.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_InsufficientStockReleasesEarlierLines(t *testing.T) {
	f := newCheckoutFixture(t)
	f.catalog.AddCart(&catalogdomain.Cart{ID: "cart-3", UserID: "user-1", Items: []catalogdomain.CartItem{
		{ProductID: "p-1", Quantity: 3},
		{ProductID: "p-2", Quantity: 5},
	}})

	_, err := f.svc.Checkout(context.Background(), buyer(), domain.CheckoutInput{
		CartID:  "cart-3",
		Address: address(),
		Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodCOD},
	})
	assert.ErrorIs(t, err, catalogdomain.ErrInsufficientStock)
	assert.Equal(t, 10, f.catalog.StockOf("p-1"))
	assert.Equal(t, 1, f.catalog.StockOf("p-2"))
}

func TestCheckout_Rejections(t *testing.T) {
	f := newCheckoutFixture(t)
	f.catalog.AddCart(&catalogdomain.Cart{ID: "empty", UserID: "user-1"})
	f.catalog.AddCart(&catalogdomain.Cart{ID: "ghost", UserID: "user-1", Items: []catalogdomain.CartItem{{ProductID: "nope", Quantity: 1}}})

	tests := []struct {
		name    string
		actor   orderdomain.Actor
		input   domain.CheckoutInput
		wantErr error
	}{
		{
			name:    "foreign cart",
			actor:   orderdomain.Actor{Kind: orderdomain.ActorCustomer, ID: "user-2"},
			input:   domain.CheckoutInput{CartID: "cart-1", Address: address(), Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodCOD}},
			wantErr: orderdomain.ErrForbidden,
		},
		{
			name:    "empty cart",
			actor:   buyer(),
			input:   domain.CheckoutInput{CartID: "empty", Address: address(), Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodCOD}},
			wantErr: catalogdomain.ErrCartEmpty,
		},
		{
			name:    "unknown product",
			actor:   buyer(),
			input:   domain.CheckoutInput{CartID: "ghost", Address: address(), Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodCOD}},
			wantErr: catalogdomain.ErrProductNotFound,
		},
		{
			name:    "missing cart",
			actor:   buyer(),
			input:   domain.CheckoutInput{CartID: "cart-x", Address: address(), Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodCOD}},
			wantErr: catalogdomain.ErrCartNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), tt.actor, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("invalid address", func(t *testing.T) {
		addr := address()
		addr.PostalCode = "12AB"
		_, err := f.svc.Checkout(context.Background(), buyer(), domain.CheckoutInput{CartID: "cart-1", Address: addr, Payment: domain.PaymentRequest{Method: "cheque"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "postalCode")
		assert.Contains(t, err.Error(), "method")
	})
}

func pendingGatewayOrder(t *testing.T, f checkoutFixture) *orderdomain.Order {
	t.Helper()
	order, err := f.svc.Checkout(context.Background(), buyer(), domain.CheckoutInput{
		CartID:  "cart-1",
		Address: address(),
		Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodGateway, GatewayOrderID: "order_77"},
	})
	require.NoError(t, err)
	require.Equal(t, orderdomain.OrderStatusPendingPayment, order.Status)
	require.False(t, order.PaymentCleared())
	return order
}

func TestConfirmPayment(t *testing.T) {
	t.Run("verified payment confirms order", func(t *testing.T) {
		f := newCheckoutFixture(t)
		order := pendingGatewayOrder(t, f)

		confirmed, err := f.svc.ConfirmPayment(context.Background(), buyer(), order.ID, *confirmation("order_77", "pay_9"))
		require.NoError(t, err)
		assert.Equal(t, orderdomain.OrderStatusConfirmed, confirmed.Status)
		assert.Equal(t, orderdomain.PaymentStatusPaid, confirmed.Payment.Status)
		assert.Equal(t, "pay_9", confirmed.Payment.GatewayPaymentID)
		assert.True(t, f.repo.Stored(order.ID).PaymentCleared())
	})

	t.Run("mismatch fails order and releases stock", func(t *testing.T) {
		f := newCheckoutFixture(t)
		order := pendingGatewayOrder(t, f)
		require.Equal(t, 8, f.catalog.StockOf("p-1"))

		bad := *confirmation("order_77", "pay_9")
		bad.Signature = "0000"
		failed, err := f.svc.ConfirmPayment(context.Background(), buyer(), order.ID, bad)
		assert.ErrorIs(t, err, domain.ErrPaymentMismatch)
		require.NotNil(t, failed)
		assert.Equal(t, orderdomain.OrderStatusPaymentFailed, failed.Status)
		assert.Equal(t, orderdomain.PaymentStatusFailed, f.repo.Stored(order.ID).Payment.Status)
		assert.Equal(t, 10, f.catalog.StockOf("p-1"))
		assert.Equal(t, 1, f.catalog.StockOf("p-2"))
	})

	t.Run("confirmation for another gateway order", func(t *testing.T) {
		f := newCheckoutFixture(t)
		order := pendingGatewayOrder(t, f)

		_, err := f.svc.ConfirmPayment(context.Background(), buyer(), order.ID, *confirmation("order_other", "pay_9"))
		assert.ErrorIs(t, err, domain.ErrPaymentMismatch)
		assert.Equal(t, orderdomain.OrderStatusPaymentFailed, f.repo.Stored(order.ID).Status)
	})

	t.Run("cod order needs no confirmation", func(t *testing.T) {
		f := newCheckoutFixture(t)
		order, err := f.svc.Checkout(context.Background(), buyer(), domain.CheckoutInput{
			CartID: "cart-1", Address: address(), Payment: domain.PaymentRequest{Method: orderdomain.PaymentMethodCOD},
		})
		require.NoError(t, err)

		_, err = f.svc.ConfirmPayment(context.Background(), buyer(), order.ID, *confirmation("order_77", "pay_9"))
		assert.ErrorIs(t, err, domain.ErrPaymentNotRequired)
	})

	t.Run("other customer is forbidden", func(t *testing.T) {
		f := newCheckoutFixture(t)
		order := pendingGatewayOrder(t, f)

		_, err := f.svc.ConfirmPayment(context.Background(), orderdomain.Actor{Kind: orderdomain.ActorCustomer, ID: "user-2"}, order.ID, *confirmation("order_77", "pay_9"))
		assert.ErrorIs(t, err, orderdomain.ErrForbidden)
	})
}
