package httpx

import (
	"context"

	"github.com/ariefcatur/go-checkout-reconcile/internal/cart"
	"github.com/ariefcatur/go-checkout-reconcile/internal/catalog"
	"github.com/ariefcatur/go-checkout-reconcile/internal/checkout"
	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/payments"
)

type MockCart struct {
	Added       []cart.AddItemInput
	Items       []cart.Item
	Err         error
	Removed     []int64
	Reconfirmed []int64
}

func (m *MockCart) AddItem(_ context.Context, in cart.AddItemInput) (cart.Item, error) {
	m.Added = append(m.Added, in)
	if m.Err != nil {
		return cart.Item{}, m.Err
	}
	return cart.Item{ID: 1, UserID: in.UserID, ProductID: in.ProductID, Quantity: in.Quantity}, nil
}

func (m *MockCart) UpdateQuantity(_ context.Context, in cart.UpdateQuantityInput) (cart.Item, error) {
	if m.Err != nil {
		return cart.Item{}, m.Err
	}
	return cart.Item{ID: 1, UserID: in.UserID, ProductID: in.ProductID, Quantity: in.Quantity}, nil
}

func (m *MockCart) Reconfirm(_ context.Context, userID string, productID int64) (cart.Item, error) {
	m.Reconfirmed = append(m.Reconfirmed, productID)
	if m.Err != nil {
		return cart.Item{}, m.Err
	}
	return cart.Item{ID: 1, UserID: userID, ProductID: productID, Quantity: 1}, nil
}

func (m *MockCart) RemoveItem(_ context.Context, _ string, productID int64) error {
	m.Removed = append(m.Removed, productID)
	return m.Err
}

func (m *MockCart) List(_ context.Context, _ string) ([]cart.Item, error) { return m.Items, m.Err }

type MockProducts struct{ Products []catalog.Product }

func (m *MockProducts) ListProducts(context.Context) ([]catalog.Product, error) {
	return m.Products, nil
}

type MockCheckout struct {
	Got   checkout.Request
	Order *orders.Order
	Err   error
}

func (m *MockCheckout) Checkout(_ context.Context, req checkout.Request) (*orders.Order, error) {
	m.Got = req
	return m.Order, m.Err
}

type MockMachine struct {
	Order *orders.Order
	Err   error
	Event orders.Event
}

func (m *MockMachine) Transition(_ context.Context, _ string, ev orders.Event) (*orders.Order, error) {
	m.Event = ev
	return m.Order, m.Err
}

func (m *MockMachine) Get(context.Context, string) (*orders.Order, error) { return m.Order, m.Err }

func (m *MockMachine) View(_ context.Context, id string) (orders.StatusView, error) {
	if m.Err != nil {
		return orders.StatusView{}, m.Err
	}
	return orders.StatusView{OrderID: id, Status: m.Order.Status, Version: m.Order.Version}, nil
}

type MockReconciler struct {
	Callbacks []payments.Callback
	CbErr     error
	IntentErr error
	Queried   int
	State     payments.PaymentStatus
	FaultList []payments.Fault
}

func (m *MockReconciler) CreateIntent(_ context.Context, req payments.IntentRequest) (*payments.Intent, error) {
	if m.IntentErr != nil {
		return nil, m.IntentErr
	}
	return &payments.Intent{OutTradeNo: "abc", Amount: req.Amount, Params: map[string]string{"prepay_id": "wx1"}}, nil
}

func (m *MockReconciler) HandleCallback(_ context.Context, cb payments.Callback) (payments.PaymentStatus, error) {
	m.Callbacks = append(m.Callbacks, cb)
	return m.State, m.CbErr
}

func (m *MockReconciler) QueryPaymentStatus(context.Context, string) (payments.PaymentStatus, error) {
	m.Queried++
	return m.State, nil
}

func (m *MockReconciler) Status(context.Context, string) (payments.PaymentStatus, error) {
	return m.State, nil
}

func (m *MockReconciler) Faults(context.Context, int) ([]payments.Fault, error) {
	return m.FaultList, nil
}
