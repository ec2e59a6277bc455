package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-checkout-reconcile/internal/cart"
	"github.com/ariefcatur/go-checkout-reconcile/internal/catalog"
	"github.com/ariefcatur/go-checkout-reconcile/internal/checkout"
	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/payments"
	"github.com/ariefcatur/go-checkout-reconcile/internal/redisx"
	"github.com/ariefcatur/go-checkout-reconcile/internal/validation"
	"github.com/rs/zerolog"
)

// UserHeader identifies the caller; authentication happens upstream.
const UserHeader = "X-User-Id"

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(validation.ErrInvalid, err)
	}
	return nil
}

func userID(r *http.Request) string { return strings.TrimSpace(r.Header.Get(UserHeader)) }

var statusByErr = []struct {
	err    error
	status int
	code   string
}{
	{validation.ErrInvalid, http.StatusBadRequest, "invalid_request"},
	{checkout.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{checkout.ErrEmptyCheckout, http.StatusBadRequest, "empty_checkout"},
	{cart.ErrNotFound, http.StatusNotFound, "cart_item_not_found"},
	{catalog.ErrNotFound, http.StatusNotFound, "product_not_found"},
	{orders.ErrNotFound, http.StatusNotFound, "order_not_found"},
	{payments.ErrUnknownPayment, http.StatusNotFound, "unknown_payment"},
	{cart.ErrProductUnavailable, http.StatusConflict, "product_unavailable"},
	{checkout.ErrCartChanged, http.StatusConflict, "cart_changed"},
	{checkout.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{orders.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{payments.ErrOrderNotPayable, http.StatusConflict, "order_not_payable"},
	{redisx.ErrLockNotAcquired, http.StatusConflict, "busy"},
	{checkout.ErrPriceChanged, http.StatusUnprocessableEntity, "price_changed"},
	{checkout.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{payments.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount_mismatch"},
	{payments.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
	{payments.ErrGatewayRejected, http.StatusBadGateway, "gateway_rejected"},
}

// writeError maps domain errors to status codes. Anything unknown is a 500
// and its text stays in the log.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	for _, m := range statusByErr {
		if errors.Is(err, m.err) {
			body := errorBody{Error: err.Error(), Code: m.code}
			var pce *checkout.PriceChangedError
			if errors.As(err, &pce) {
				body.Details = pce.Changes
			}
			writeJSON(w, m.status, body)
			return
		}
	}
	log.Error().Err(err).Msg("unhandled error")
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
}
