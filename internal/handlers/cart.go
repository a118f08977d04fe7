package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Sad0asc0Sh/user-sub000/internal/platform/auth"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/httpx"
	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the customer cart and the admin abandonment endpoints.
type CartHandlers struct {
	authn      *auth.Authenticator
	carts      services.CartService
	remindRate rateLimiter
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithReminderRateLimit caps reminder sends per operator per minute.
func WithReminderRateLimit(perMinute int) CartOption {
	return func(h *CartHandlers) {
		h.remindRate = newKeyedRateLimiter(perMinute, 0, nil)
	}
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{authn: authn, carts: carts}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /carts endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(customer chi.Router) {
		if h.authn != nil {
			customer.Use(h.authn.RequireFirebaseAuth())
		}
		customer.Get("/cart", h.getCart)
		customer.Post("/cart/sync", h.syncCart)
		customer.Post("/cart/item", h.addItem)
		customer.Patch("/cart/item", h.updateItem)
		customer.Delete("/cart/item/{productID}", h.removeItem)
		customer.Post("/cart/quote", h.quote)
	})
	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
		}
		admin.Get("/admin/abandoned", h.listAbandoned)
		admin.With(rateLimitByCaller(h.remindRate)).Post("/admin/remind/{channel}/{cartID}", h.remind)
	})
}

type variantOptionPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type cartItemRequest struct {
	ProductID      string                 `json:"product_id"`
	Quantity       int                    `json:"quantity"`
	VariantOptions []variantOptionPayload `json:"variant_options"`
}

type syncCartRequest struct {
	Items []cartItemRequest `json:"items"`
}

type quoteRequest struct {
	ShippingMethodID string `json:"shipping_method_id"`
	CouponCode       string `json:"coupon_code"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Currency   string            `json:"currency"`
	ItemsCount int               `json:"items_count"`
	ItemsPrice int64             `json:"items_price"`
	Items      []cartItemPayload `json:"items"`
	CreatedAt  string            `json:"created_at,omitempty"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	Key            string                 `json:"key"`
	ProductID      string                 `json:"product_id"`
	Name           string                 `json:"name"`
	Price          int64                  `json:"price"`
	Quantity       int                    `json:"quantity"`
	VariantOptions []variantOptionPayload `json:"variant_options,omitempty"`
	AddedAt        string                 `json:"added_at,omitempty"`
}

type pricingPayload struct {
	Currency      string `json:"currency"`
	ItemsPrice    int64  `json:"items_price"`
	ShippingPrice int64  `json:"shipping_price"`
	TaxPrice      int64  `json:"tax_price"`
	Discount      int64  `json:"discount"`
	TotalPrice    int64  `json:"total_price"`
	CouponCode    string `json:"coupon_code,omitempty"`
}

type abandonedCartsResponse struct {
	Carts       []cartPayload `json:"carts"`
	CartCount   int           `json:"cart_count"`
	ItemCount   int           `json:"item_count"`
	TotalValue  int64         `json:"total_value"`
	WindowStart string        `json:"window_start"`
	WindowEnd   string        `json:"window_end"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) syncCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req syncCartRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	items := make([]services.SyncCartItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.SyncCartItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			VariantOptions: toVariantOptions(item.VariantOptions),
		})
	}
	cart, err := h.carts.SyncCart(ctx, services.SyncCartCommand{UserID: identity.UID, Items: items})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req cartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:         identity.UID,
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		VariantOptions: toVariantOptions(req.VariantOptions),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req cartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		UserID:         identity.UID,
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		VariantOptions: toVariantOptions(req.VariantOptions),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	options, err := parseOptionQuery(r.URL.Query()["option"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		UserID:         identity.UID,
		ProductID:      chi.URLParam(r, "productID"),
		VariantOptions: options,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req quoteRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	breakdown, err := h.carts.Quote(ctx, services.QuoteCartCommand{
		UserID:           identity.UID,
		ShippingMethodID: req.ShippingMethodID,
		CouponCode:       req.CouponCode,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPricingPayload(breakdown))
}

func (h *CartHandlers) listAbandoned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	query := r.URL.Query()
	hours, err := intQuery(query.Get("hoursAgo"), 1)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "hoursAgo must be an integer", http.StatusBadRequest))
		return
	}
	days, err := intQuery(query.Get("daysAgo"), 7)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "daysAgo must be an integer", http.StatusBadRequest))
		return
	}
	report, err := h.carts.ListAbandoned(ctx, services.AbandonedCartFilter{HoursAgo: hours, DaysAgo: days})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := abandonedCartsResponse{
		Carts:       make([]cartPayload, 0, len(report.Carts)),
		CartCount:   report.Stats.CartCount,
		ItemCount:   report.Stats.ItemCount,
		TotalValue:  report.Stats.TotalValue,
		WindowStart: formatTime(report.WindowStart),
		WindowEnd:   formatTime(report.WindowEnd),
	}
	for _, cart := range report.Carts {
		payload.Carts = append(payload.Carts, buildCartPayload(cart))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) remind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	cartID := strings.TrimSpace(chi.URLParam(r, "cartID"))
	var err error
	switch strings.ToLower(chi.URLParam(r, "channel")) {
	case "email":
		err = h.carts.RemindByEmail(ctx, cartID)
	case "sms":
		err = h.carts.RemindBySMS(ctx, cartID)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "channel must be email or sms", http.StatusBadRequest))
		return
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeCart(w http.ResponseWriter, status int, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
	writeJSONResponse(w, status, cartResponse{Cart: buildCartPayload(cart)})
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:         strings.TrimSpace(cart.ID),
		UserID:     strings.TrimSpace(cart.UserID),
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount: len(cart.Items),
		Items:      make([]cartItemPayload, 0, len(cart.Items)),
		CreatedAt:  formatTime(cart.CreatedAt),
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		payload.ItemsPrice += item.Price * int64(item.Quantity)
		payload.Items = append(payload.Items, cartItemPayload{
			Key:            item.Key(),
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price,
			Quantity:       item.Quantity,
			VariantOptions: fromVariantOptions(item.VariantOptions),
			AddedAt:        formatTime(item.AddedAt),
		})
	}
	return payload
}

func buildPricingPayload(b services.PricingBreakdown) pricingPayload {
	return pricingPayload{
		Currency:      b.Currency,
		ItemsPrice:    b.ItemsPrice,
		ShippingPrice: b.ShippingPrice,
		TaxPrice:      b.TaxPrice,
		Discount:      b.Discount,
		TotalPrice:    b.TotalPrice,
		CouponCode:    b.CouponCode,
	}
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}

func toVariantOptions(in []variantOptionPayload) []services.VariantOption {
	if len(in) == 0 {
		return nil
	}
	out := make([]services.VariantOption, 0, len(in))
	for _, opt := range in {
		out = append(out, services.VariantOption{Name: opt.Name, Value: opt.Value})
	}
	return out
}

func fromVariantOptions(in []services.VariantOption) []variantOptionPayload {
	if len(in) == 0 {
		return nil
	}
	out := make([]variantOptionPayload, 0, len(in))
	for _, opt := range in {
		out = append(out, variantOptionPayload{Name: opt.Name, Value: opt.Value})
	}
	return out
}

// parseOptionQuery reads repeated option=name:value parameters.
func parseOptionQuery(values []string) ([]services.VariantOption, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]services.VariantOption, 0, len(values))
	for _, raw := range values {
		name, value, ok := strings.Cut(raw, ":")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("option %q must be name:value", raw)
		}
		out = append(out, services.VariantOption{Name: name, Value: value})
	}
	return out, nil
}

func intQuery(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
