package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/core/config"
	"order-fulfillment/internal/core/logger"
	"order-fulfillment/internal/core/validation"
	catalogdomain "order-fulfillment/internal/features/catalog/domain"
	catalogports "order-fulfillment/internal/features/catalog/ports"
	orderdomain "order-fulfillment/internal/features/orders/domain"
	orderports "order-fulfillment/internal/features/orders/ports"
	orderservice "order-fulfillment/internal/features/orders/service"
	"order-fulfillment/internal/features/payments/domain"
	"order-fulfillment/internal/features/payments/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var paymentGate = orderdomain.SystemActor("payment-gate")

// Deps groups the collaborators of CheckoutService.
type Deps struct {
	Carts    catalogports.CartStore
	Catalog  catalogports.Catalog
	Stock    catalogports.Stock
	Orders   orderports.Repository
	Machine  *orderservice.StateMachine
	Locker   orderports.Locker
	Sequence orderports.Sequence
	Verifier ports.Verifier
	Pricing  config.PricingConfig
}

// CheckoutService turns carts into orders and gates them on payment.
type CheckoutService struct {
	deps  Deps
	now   func() time.Time
	newID func() string
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(d Deps) *CheckoutService {
	return &CheckoutService{
		deps:  d,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Checkout creates an order from the actor's cart. COD and verified gateway
// payments produce a confirmed order; an unconfirmed gateway payment leaves
// the order in pending_payment. Reserved stock is returned on any failure.
func (s *CheckoutService) Checkout(ctx context.Context, actor orderdomain.Actor, in domain.CheckoutInput) (*orderdomain.Order, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	cart, err := s.deps.Carts.GetCart(ctx, in.CartID)
	if err != nil {
		return nil, err
	}
	if cart.UserID != actor.ID {
		return nil, orderdomain.ErrForbidden
	}

	items, err := s.priceItems(ctx, cart)
	if err != nil {
		return nil, err
	}

	if err := s.reserve(ctx, items); err != nil {
		return nil, err
	}

	now := s.now()
	order := &orderdomain.Order{
		ID:              s.newID(),
		UserID:          actor.ID,
		Items:           items,
		Pricing:         s.computePricing(items),
		ShippingAddress: in.Address,
		Shipping:        orderdomain.Shipping{DeliveryMethod: orderdomain.MethodNone},
	}

	switch in.Payment.Method {
	case orderdomain.PaymentMethodCOD:
		order.Status = orderdomain.OrderStatusConfirmed
		order.Payment = orderdomain.PaymentInfo{Method: orderdomain.PaymentMethodCOD, Status: orderdomain.PaymentStatusPending}
	default:
		order.Status = orderdomain.OrderStatusPendingPayment
		order.Payment = orderdomain.PaymentInfo{
			Method:         orderdomain.PaymentMethodGateway,
			Status:         orderdomain.PaymentStatusPending,
			Gateway:        s.deps.Verifier.Name(),
			GatewayOrderID: in.Payment.GatewayOrderID,
		}
		if c := in.Payment.Confirmation; c != nil {
			if err := s.deps.Verifier.Verify(*c); err != nil {
				s.release(ctx, items, "payment verification failed")
				return nil, err
			}
			order.Status = orderdomain.OrderStatusConfirmed
			order.Payment = paidInfo(s.deps.Verifier.Name(), *c, now)
		}
	}

	n, err := s.deps.Sequence.Next(ctx)
	if err != nil {
		s.release(ctx, items, "order number unavailable")
		return nil, err
	}
	order.OrderNumber = orderdomain.FormatOrderNumber(n)

	if err := s.deps.Machine.Create(ctx, order, actor); err != nil {
		s.release(ctx, items, "order create failed")
		return nil, err
	}

	if err := s.deps.Carts.ClearCart(ctx, cart.ID); err != nil {
		logger.Get().Warn("Failed to clear cart after checkout",
			zap.String("cart_id", cart.ID),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
	}

	logger.Get().Info("Order placed",
		zap.String("order_number", order.OrderNumber),
		zap.String("status", string(order.Status)),
		zap.String("payment_method", string(order.Payment.Method)),
	)
	return order, nil
}

// ConfirmPayment settles a pending gateway payment. A confirmation that does
// not verify moves the order to payment_failed and releases its stock.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, actor orderdomain.Actor, orderID string, c domain.Confirmation) (*orderdomain.Order, error) {
	if err := validation.Struct(c); err != nil {
		return nil, err
	}

	order, err := s.deps.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Kind != orderdomain.ActorAdmin && !order.IsOwnedBy(actor.ID) {
		return nil, orderdomain.ErrForbidden
	}
	if order.Payment.Method != orderdomain.PaymentMethodGateway || order.Status != orderdomain.OrderStatusPendingPayment {
		return nil, domain.ErrPaymentNotRequired
	}

	verifyErr := s.deps.Verifier.Verify(c)
	if errors.Is(verifyErr, domain.ErrGatewayNotConfigured) {
		return nil, verifyErr
	}
	if verifyErr == nil && order.Payment.GatewayOrderID != "" && order.Payment.GatewayOrderID != c.GatewayOrderID {
		verifyErr = domain.ErrPaymentMismatch
	}

	var res *orderservice.Result
	err = orderservice.WithOrderLock(ctx, s.deps.Locker, orderID, func(ctx context.Context) error {
		var err error
		if verifyErr != nil {
			failed := order.Payment
			failed.Status = orderdomain.PaymentStatusFailed
			res, err = s.deps.Machine.Transition(ctx, orderID, orderdomain.OrderStatusPaymentFailed, paymentGate,
				orderdomain.TransitionMeta{Reason: "payment verification failed", Payment: &failed})
			return err
		}
		paid := paidInfo(order.Payment.Gateway, c, s.now())
		res, err = s.deps.Machine.Transition(ctx, orderID, orderdomain.OrderStatusConfirmed, paymentGate,
			orderdomain.TransitionMeta{Reason: "payment confirmed", Payment: &paid})
		return err
	})
	if err != nil {
		return nil, err
	}

	if verifyErr != nil {
		if res.StatusChanged() {
			s.release(ctx, res.Order.Items, "payment failed")
		}
		return res.Order, domain.ErrPaymentMismatch
	}
	return res.Order, nil
}

func (s *CheckoutService) priceItems(ctx context.Context, cart *catalogdomain.Cart) ([]orderdomain.LineItem, error) {
	products, err := s.deps.Catalog.GetProducts(ctx, cart.ProductIDs())
	if err != nil {
		return nil, err
	}

	var items []orderdomain.LineItem
	for _, ci := range cart.Items {
		if ci.Quantity <= 0 {
			continue
		}
		p, ok := products[ci.ProductID]
		if !ok || !p.Active {
			return nil, fmt.Errorf("%w: %s", catalogdomain.ErrProductNotFound, ci.ProductID)
		}
		items = append(items, orderdomain.LineItem{
			ProductID:   p.ID,
			SKU:         p.SKU,
			Name:        p.Name,
			Quantity:    ci.Quantity,
			UnitPrice:   p.Price,
			LineTotal:   p.Price.Mul(decimal.NewFromInt(int64(ci.Quantity))),
			WeightGrams: p.WeightGrams,
		})
	}
	if len(items) == 0 {
		return nil, catalogdomain.ErrCartEmpty
	}
	return items, nil
}

// reserve takes stock line by line and gives back what it took if a line fails.
func (s *CheckoutService) reserve(ctx context.Context, items []orderdomain.LineItem) error {
	for i, it := range items {
		if err := s.deps.Stock.Reserve(ctx, it.ProductID, it.Quantity); err != nil {
			if i > 0 {
				s.release(ctx, items[:i], "reservation failed")
			}
			return err
		}
	}
	return nil
}

func (s *CheckoutService) release(ctx context.Context, items []orderdomain.LineItem, reason string) {
	if err := s.deps.Stock.Release(ctx, items); err != nil {
		logger.Get().Error("Failed to release reserved stock",
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

func (s *CheckoutService) computePricing(items []orderdomain.LineItem) orderdomain.Pricing {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal)
	}

	tax := subtotal.Mul(decimal.NewFromFloat(s.deps.Pricing.TaxRate)).Round(2)
	shipping := decimal.NewFromFloat(s.deps.Pricing.ShippingFlatFee)
	if subtotal.GreaterThanOrEqual(decimal.NewFromFloat(s.deps.Pricing.FreeShippingThreshold)) {
		shipping = decimal.Zero
	}

	return orderdomain.Pricing{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
		Currency: s.deps.Pricing.Currency,
	}
}

func paidInfo(gateway string, c domain.Confirmation, at time.Time) orderdomain.PaymentInfo {
	paidAt := at
	return orderdomain.PaymentInfo{
		Method:           orderdomain.PaymentMethodGateway,
		Status:           orderdomain.PaymentStatusPaid,
		Gateway:          gateway,
		GatewayOrderID:   c.GatewayOrderID,
		GatewayPaymentID: c.GatewayPaymentID,
		PaidAt:           &paidAt,
	}
}
