package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-checkout-reconcile/internal/cart"
	"github.com/ariefcatur/go-checkout-reconcile/internal/catalog"
	"github.com/ariefcatur/go-checkout-reconcile/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type CartService interface {
	AddItem(ctx context.Context, in cart.AddItemInput) (cart.Item, error)
	UpdateQuantity(ctx context.Context, in cart.UpdateQuantityInput) (cart.Item, error)
	Reconfirm(ctx context.Context, userID string, productID int64) (cart.Item, error)
	RemoveItem(ctx context.Context, userID string, productID int64) error
	List(ctx context.Context, userID string) ([]cart.Item, error)
}

type ProductLister interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
}

type CartHandler struct {
	Cart     CartService
	Products ProductLister
	Log      zerolog.Logger
}

func (h *CartHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/cart", h.list)
	r.Post("/cart/items", h.add)
	r.Patch("/cart/items/{productId}", h.updateQuantity)
	r.Delete("/cart/items/{productId}", h.remove)
	r.Post("/cart/items/{productId}/reconfirm", h.reconfirm)
}

func productIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, validation.ErrInvalid
	}
	return id, nil
}

func (h *CartHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Products.ListProducts(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *CartHandler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.Cart.List(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if items == nil {
		items = []cart.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	var in cart.AddItemInput
	if err := decode(r, &in); err != nil {
		writeError(w, h.Log, err)
		return
	}
	in.UserID = userID(r)
	it, err := h.Cart.AddItem(r.Context(), in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *CartHandler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	pid, err := productIDParam(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var in cart.UpdateQuantityInput
	if err := decode(r, &in); err != nil {
		writeError(w, h.Log, err)
		return
	}
	in.UserID, in.ProductID = userID(r), pid
	it, err := h.Cart.UpdateQuantity(r.Context(), in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// reconfirm takes the current catalog price for a line after a checkout
// failed with price_changed.
func (h *CartHandler) reconfirm(w http.ResponseWriter, r *http.Request) {
	pid, err := productIDParam(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	it, err := h.Cart.Reconfirm(r.Context(), userID(r), pid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	pid, err := productIDParam(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Cart.RemoveItem(r.Context(), userID(r), pid); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
