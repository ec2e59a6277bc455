package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-checkout-reconcile/internal/checkout"
	"github.com/ariefcatur/go-checkout-reconcile/internal/orders"
	"github.com/ariefcatur/go-checkout-reconcile/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*orders.Order, error)
}

type OrderMachine interface {
	Transition(ctx context.Context, orderID string, ev orders.Event) (*orders.Order, error)
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	View(ctx context.Context, orderID string) (orders.StatusView, error)
}

type OrdersHandler struct {
	Checkout Checkouter
	Orders   OrderMachine
	Log      zerolog.Logger
}

type transitionReq struct {
	Event string `json:"event" validate:"required,oneof=confirm cancel ship deliver refund"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/transitions", h.transition)
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	req.UserID = userID(r)
	o, err := h.Checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus is the cheap poll: Redis first, database on miss.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.Orders.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ev, _ := orders.ParseEvent(req.Event)
	o, err := h.Orders.Transition(r.Context(), chi.URLParam(r, "id"), ev)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
