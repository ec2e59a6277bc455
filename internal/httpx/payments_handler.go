package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-checkout-reconcile/internal/gateway"
	"github.com/ariefcatur/go-checkout-reconcile/internal/payments"
	"github.com/ariefcatur/go-checkout-reconcile/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Reconciler interface {
	CreateIntent(ctx context.Context, req payments.IntentRequest) (*payments.Intent, error)
	HandleCallback(ctx context.Context, cb payments.Callback) (payments.PaymentStatus, error)
	QueryPaymentStatus(ctx context.Context, outTradeNo string) (payments.PaymentStatus, error)
	Status(ctx context.Context, outTradeNo string) (payments.PaymentStatus, error)
	Faults(ctx context.Context, limit int) ([]payments.Fault, error)
}

type PaymentsHandler struct {
	Payments Reconciler
	// Secret verifies X-Gateway-Signature on callbacks; empty disables the check.
	Secret string
	Log    zerolog.Logger
}

// ack is the only body the gateway ever gets back from a callback.
var ack = map[string]string{"code": "SUCCESS", "message": "OK"}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/orders/{id}/payments", h.createIntent)
	r.Post("/payments/callback", h.callback)
	r.Get("/payments/{outTradeNo}", h.status)
	r.Get("/admin/payment-faults", h.faults)
}

func (h *PaymentsHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	var req payments.IntentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	req.OrderID = chi.URLParam(r, "id")
	in, err := h.Payments.CreateIntent(r.Context(), req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

// callback acknowledges everything it can authenticate. Faults and errors are
// logged; the gateway would only retry forever, and the sweep recovers
// anything left open.
func (h *PaymentsHandler) callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		h.Log.Warn().Err(err).Msg("read callback body")
		writeJSON(w, http.StatusOK, ack)
		return
	}
	if !gateway.VerifySignature(h.Secret, body, r.Header.Get(gateway.SignatureHeader)) {
		h.Log.Warn().Str("remote", r.RemoteAddr).Msg("callback signature mismatch")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "FAIL", "message": "bad signature"})
		return
	}

	var cb payments.Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		h.Log.Warn().Err(err).Msg("undecodable callback")
		writeJSON(w, http.StatusOK, ack)
		return
	}
	lg := h.Log.With().Str("out_trade_no", cb.OutTradeNo).Str("trade_state", cb.TradeState).Logger()

	st, err := h.Payments.HandleCallback(r.Context(), cb)
	switch {
	case errors.Is(err, payments.ErrUnknownPayment), errors.Is(err, validation.ErrInvalid):
		lg.Warn().Err(err).Msg("callback rejected")
	case err != nil:
		lg.Error().Err(err).Msg("callback not applied")
	default:
		lg.Info().Str("state", string(st.TradeState)).Int("deliveries", st.CallbackReceivedCount).Msg("callback applied")
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *PaymentsHandler) status(w http.ResponseWriter, r *http.Request) {
	no := chi.URLParam(r, "outTradeNo")
	var (
		st  payments.PaymentStatus
		err error
	)
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		st, err = h.Payments.QueryPaymentStatus(r.Context(), no)
	} else {
		st, err = h.Payments.Status(r.Context(), no)
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *PaymentsHandler) faults(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	fs, err := h.Payments.Faults(r.Context(), limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if fs == nil {
		fs = []payments.Fault{}
	}
	writeJSON(w, http.StatusOK, fs)
}
