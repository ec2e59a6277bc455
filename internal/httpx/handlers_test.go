package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ariefcatur/go-checkout-reconcile/internal/cart"
	"github.com/ariefcatur/go-checkout-reconcile/internal/checkout"
	"github.com/ariefcatur/go-checkout-reconcile/internal/gateway"
	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/payments"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	cart   *MockCart
	co     *MockCheckout
	orders *MockMachine
	pay    *MockReconciler
	h      http.Handler
}

func newServer(secret string) *server {
	s := &server{
		cart:   &MockCart{},
		co:     &MockCheckout{},
		orders: &MockMachine{Order: &orders.Order{ID: "o1", Status: orders.StatusConfirmed, Version: 2}},
		pay:    &MockReconciler{},
	}
	r := NewRouter()
	(&CartHandler{Cart: s.cart, Products: &MockProducts{}, Log: zerolog.Nop()}).Register(r)
	(&OrdersHandler{Checkout: s.co, Orders: s.orders, Log: zerolog.Nop()}).Register(r)
	(&PaymentsHandler{Payments: s.pay, Secret: secret, Log: zerolog.Nop()}).Register(r)
	s.h = r
	return s
}

func (s *server) do(method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(UserHeader, "u1")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestCart_AddUsesHeaderUser(t *testing.T) {
	s := newServer("")
	rec := s.do(http.MethodPost, "/cart/items", `{"product_id":7,"quantity":2,"attributes":{"size":"M"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, s.cart.Added, 1)
	assert.Equal(t, "u1", s.cart.Added[0].UserID)
	assert.Equal(t, "M", s.cart.Added[0].Attributes["size"])
}

func TestCart_ErrorsMapToStatus(t *testing.T) {
	s := newServer("")
	s.cart.Err = cart.ErrProductUnavailable
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/cart/items", `{"product_id":7,"quantity":1}`).Code)

	s.cart.Err = cart.ErrNotFound
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/cart/items/7", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodDelete, "/cart/items/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/cart/items", `{"nope":1}`).Code)
}

func TestCart_Reconfirm(t *testing.T) {
	s := newServer("")
	rec := s.do(http.MethodPost, "/cart/items/7/reconfirm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{7}, s.cart.Reconfirmed)

	s.cart.Err = cart.ErrNotFound
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/cart/items/7/reconfirm", "").Code)
}

func TestCart_ListEmptyIsArray(t *testing.T) {
	rec := newServer("").do(http.MethodGet, "/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCheckout_Created(t *testing.T) {
	s := newServer("")
	s.co.Order = &orders.Order{ID: "o1", TotalAmount: 2200, FinalAmount: 2100, Status: orders.StatusPending}

	rec := s.do(http.MethodPost, "/checkout", `{"cart_item_ids":[1,2],"address_id":10,"discount_amount":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "u1", s.co.Got.UserID)
	assert.Equal(t, []int64{1, 2}, s.co.Got.CartItemIDs)
	assert.Equal(t, float64(2100), decodeBody(t, rec)["final_amount"])
}

func TestCheckout_PriceChangedCarriesDetails(t *testing.T) {
	s := newServer("")
	s.co.Err = &checkout.PriceChangedError{Changes: []checkout.PriceChange{{CartItemID: 1, ProductID: 7, CartPrice: 500, LivePrice: 550}}}

	rec := s.do(http.MethodPost, "/checkout", `{"cart_item_ids":[1],"address_id":10}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "price_changed", body["code"])
	details := body["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, float64(550), details[0].(map[string]any)["live_price"])
}

func TestCheckout_BusinessErrors(t *testing.T) {
	cases := map[error]int{
		checkout.ErrInvalidAddress:    http.StatusBadRequest,
		checkout.ErrEmptyCheckout:     http.StatusBadRequest,
		checkout.ErrInsufficientStock: http.StatusConflict,
		checkout.ErrInvalidAmount:     http.StatusUnprocessableEntity,
	}
	for err, want := range cases {
		s := newServer("")
		s.co.Err = err
		assert.Equal(t, want, s.do(http.MethodPost, "/checkout", `{"cart_item_ids":[1],"address_id":10}`).Code, err.Error())
	}
}

func TestTransition(t *testing.T) {
	s := newServer("")
	rec := s.do(http.MethodPost, "/orders/o1/transitions", `{"event":"cancel"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.EventCancel, s.orders.Event)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/orders/o1/transitions", `{"event":"pay"}`).Code)

	s.orders.Err = orders.ErrInvalidTransition
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/orders/o1/transitions", `{"event":"ship"}`).Code)
}

func TestOrderStatusView(t *testing.T) {
	rec := newServer("").do(http.MethodGet, "/orders/o1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decodeBody(t, rec)["status"])
}

func TestCreateIntent(t *testing.T) {
	s := newServer("")
	rec := s.do(http.MethodPost, "/orders/o1/payments", `{"amount":2100,"method":"jsapi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "abc", decodeBody(t, rec)["out_trade_no"])

	s.pay.IntentErr = payments.ErrOrderNotPayable
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/orders/o1/payments", `{"amount":2100,"method":"jsapi"}`).Code)
	s.pay.IntentErr = payments.ErrGatewayUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodPost, "/orders/o1/payments", `{"amount":2100,"method":"jsapi"}`).Code)
}

func TestCallback_AlwaysAcknowledged(t *testing.T) {
	for _, err := range []error{nil, payments.ErrUnknownPayment, payments.ErrGatewayUnavailable} {
		s := newServer("")
		s.pay.CbErr = err
		rec := s.do(http.MethodPost, "/payments/callback",
			`{"transactionId":"42","outTradeNo":"abc","totalAmount":"21.00","tradeState":"SUCCESS"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "SUCCESS", decodeBody(t, rec)["code"])
	}

	// even garbage is acknowledged; there is nothing to retry
	rec := newServer("").do(http.MethodPost, "/payments/callback", `{{{`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallback_Signature(t *testing.T) {
	body := `{"transactionId":"42","outTradeNo":"abc","totalAmount":"21.00","tradeState":"SUCCESS"}`

	s := newServer("k")
	rec := s.do(http.MethodPost, "/payments/callback", body, gateway.SignatureHeader, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, s.pay.Callbacks)

	rec = s.do(http.MethodPost, "/payments/callback", body, gateway.SignatureHeader, gateway.Sign("k", []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, s.pay.Callbacks, 1)
	assert.Equal(t, "21.00", s.pay.Callbacks[0].TotalAmount)
}

func TestPaymentStateRefreshQueriesGateway(t *testing.T) {
	s := newServer("")
	s.pay.State = payments.PaymentStatus{Payment: payments.Payment{OutTradeNo: "abc", TradeState: payments.StatePending}}

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/payments/abc", "").Code)
	assert.Zero(t, s.pay.Queried)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/payments/abc?refresh=1", "").Code)
	assert.Equal(t, 1, s.pay.Queried)
}

func TestFaultsListEmptyIsArray(t *testing.T) {
	rec := newServer("").do(http.MethodGet, "/admin/payment-faults", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
