package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/auth"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/httpx"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/pagination"
	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

const maxOrderBodySize = 16 * 1024

// OrderHandlers exposes order placement, payment initiation and the admin status endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
	payRate     rateLimiter
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderIdempotency wraps order creation and payment initiation with the given middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) { h.idempotency = mw }
}

// WithPaymentRateLimit caps payment initiations per customer per minute.
func WithPaymentRateLimit(perMinute int) OrderOption {
	return func(h *OrderHandlers) {
		h.payRate = newKeyedRateLimiter(perMinute, 0, nil)
	}
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders, payments: payments}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	writes := []func(http.Handler) http.Handler{}
	if h.idempotency != nil {
		writes = append(writes, h.idempotency)
	}
	r.Group(func(customer chi.Router) {
		if h.authn != nil {
			customer.Use(h.authn.RequireFirebaseAuth())
		}
		customer.With(writes...).Post("/", h.createOrder)
		customer.Get("/", h.listOrders)
		customer.Get("/{orderID}", h.getOrder)
		customer.With(append([]func(http.Handler) http.Handler{rateLimitByCaller(h.payRate)}, writes...)...).Post("/{orderID}/pay", h.pay)
	})
	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
		}
		admin.Put("/{orderID}/status", h.updateStatus)
		admin.Put("/{orderID}/status:force", h.forceStatus)
	})
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Phone      string  `json:"phone,omitempty"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

type createOrderRequest struct {
	ShippingAddress  addressPayload `json:"shipping_address"`
	ShippingMethodID string         `json:"shipping_method_id"`
	PaymentMethod    string         `json:"payment_method"`
	CouponCode       string         `json:"coupon_code"`
}

type payOrderRequest struct {
	Gateway string `json:"gateway"`
}

type orderStatusRequest struct {
	Status     string `json:"status"`
	AdminNotes string `json:"admin_notes"`
	Reason     string `json:"reason"`
}

type orderItemPayload struct {
	ProductID      string                 `json:"product_id"`
	Name           string                 `json:"name"`
	Price          int64                  `json:"price"`
	Quantity       int                    `json:"quantity"`
	VariantOptions []variantOptionPayload `json:"variant_options,omitempty"`
}

type paymentResultPayload struct {
	Gateway        string `json:"gateway"`
	GatewayRef     string `json:"gateway_ref"`
	Status         string `json:"status"`
	VerifiedAmount int64  `json:"verified_amount,omitempty"`
	PaymentURL     string `json:"payment_url,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

type statusChangePayload struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	ActorID   string `json:"actor_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Forced    bool   `json:"forced,omitempty"`
	ChangedAt string `json:"changed_at"`
}

type orderPayload struct {
	ID               string                `json:"id"`
	OrderNumber      string                `json:"order_number"`
	UserID           string                `json:"user_id"`
	Status           string                `json:"status"`
	Items            []orderItemPayload    `json:"items"`
	ShippingAddress  addressPayload        `json:"shipping_address"`
	ShippingMethodID string                `json:"shipping_method_id"`
	PaymentMethod    string                `json:"payment_method"`
	PaymentResult    *paymentResultPayload `json:"payment_result,omitempty"`
	CouponCode       string                `json:"coupon_code,omitempty"`
	ItemsPrice       int64                 `json:"items_price"`
	ShippingPrice    int64                 `json:"shipping_price"`
	TaxPrice         int64                 `json:"tax_price"`
	Discount         int64                 `json:"discount"`
	TotalPrice       int64                 `json:"total_price"`
	Currency         string                `json:"currency"`
	IsPaid           bool                  `json:"is_paid"`
	PaidAt           string                `json:"paid_at,omitempty"`
	ShippedAt        string                `json:"shipped_at,omitempty"`
	DeliveredAt      string                `json:"delivered_at,omitempty"`
	CancelledAt      string                `json:"cancelled_at,omitempty"`
	CancelReason     string                `json:"cancel_reason,omitempty"`
	AdminNotes       string                `json:"admin_notes,omitempty"`
	StatusHistory    []statusChangePayload `json:"status_history,omitempty"`
	CreatedAt        string                `json:"created_at"`
	UpdatedAt        string                `json:"updated_at"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type paymentInitiationPayload struct {
	OrderID    string `json:"order_id"`
	Gateway    string `json:"gateway"`
	GatewayRef string `json:"gateway_ref"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:           identity.UID,
		ShippingAddress:  req.ShippingAddress.toDomain(),
		ShippingMethodID: req.ShippingMethodID,
		PaymentMethod:    domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		CouponCode:       req.CouponCode,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writePaginationError(w, r, err)
		return
	}
	page, err := h.orders.ListOrders(ctx, identity.UID, services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := orderListResponse{Items: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, services.OrderQuery{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UID,
		IsAdmin: identity.IsOperator(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) pay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req payOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}
	initiation, err := h.payments.InitiatePayment(ctx, services.InitiatePaymentCommand{
		UserID:  identity.UID,
		OrderID: chi.URLParam(r, "orderID"),
		Gateway: req.Gateway,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentInitiationPayload{
		OrderID:    initiation.OrderID,
		Gateway:    initiation.Gateway,
		GatewayRef: initiation.GatewayRef,
		PaymentURL: initiation.PaymentURL,
		ExpiresAt:  formatTime(initiation.ExpiresAt),
	})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req orderStatusRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	status, ok := services.ParseOrderStatus(req.Status)
	if !ok {
		writeUnknownOrderStatus(ctx, w, req.Status)
		return
	}
	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		ActorID:      identity.UID,
		TargetStatus: status,
		AdminNotes:   req.AdminNotes,
		Reason:       req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) forceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req orderStatusRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	status, ok := services.ParseOrderStatus(req.Status)
	if !ok {
		writeUnknownOrderStatus(ctx, w, req.Status)
		return
	}
	order, err := h.orders.ForceSetStatus(ctx, services.ForceOrderStatusCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		ActorID:      identity.UID,
		TargetStatus: status,
		Reason:       req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (a addressPayload) toDomain() services.Address {
	return services.Address{
		Recipient:  a.Recipient,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func buildAddressPayload(a services.Address) addressPayload {
	return addressPayload{
		Recipient:  a.Recipient,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		UserID:           order.UserID,
		Status:           string(order.Status),
		Items:            make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress:  buildAddressPayload(order.ShippingAddress),
		ShippingMethodID: order.ShippingMethodID,
		PaymentMethod:    string(order.PaymentMethod),
		CouponCode:       order.CouponCode,
		ItemsPrice:       order.ItemsPrice,
		ShippingPrice:    order.ShippingPrice,
		TaxPrice:         order.TaxPrice,
		Discount:         order.Discount,
		TotalPrice:       order.TotalPrice,
		Currency:         order.Currency,
		IsPaid:           order.IsPaid,
		PaidAt:           formatTimePtr(order.PaidAt),
		ShippedAt:        formatTimePtr(order.ShippedAt),
		DeliveredAt:      formatTimePtr(order.DeliveredAt),
		CancelledAt:      formatTimePtr(order.CancelledAt),
		CancelReason:     order.CancelReason,
		AdminNotes:       order.AdminNotes,
		StatusHistory:    buildStatusHistory(order.StatusHistory),
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price,
			Quantity:       item.Quantity,
			VariantOptions: fromVariantOptions(item.VariantOptions),
		})
	}
	if pr := order.PaymentResult; pr != nil {
		payload.PaymentResult = &paymentResultPayload{
			Gateway:        pr.Gateway,
			GatewayRef:     pr.GatewayRef,
			Status:         string(pr.Status),
			VerifiedAmount: pr.VerifiedAmount,
			PaymentURL:     pr.PaymentURL,
			FailureReason:  pr.FailureReason,
			UpdatedAt:      formatTime(pr.UpdatedAt),
		}
	}
	return payload
}

func buildStatusHistory(history []domain.StatusChange) []statusChangePayload {
	if len(history) == 0 {
		return nil
	}
	out := make([]statusChangePayload, 0, len(history))
	for _, change := range history {
		out = append(out, statusChangePayload{
			From:      change.From,
			To:        change.To,
			ActorID:   change.ActorID,
			Reason:    change.Reason,
			Forced:    change.Forced,
			ChangedAt: formatTime(change.ChangedAt),
		})
	}
	return out
}

func writePaginationError(w http.ResponseWriter, r *http.Request, err error) {
	code := "invalid_page_size"
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		code = "invalid_page_token"
	}
	httpx.WriteError(r.Context(), w, httpx.NewError(code, err.Error(), http.StatusBadRequest))
}

func writeUnknownOrderStatus(ctx context.Context, w http.ResponseWriter, value string) {
	allowed := make([]string, 0, len(services.OrderStatuses()))
	for _, status := range services.OrderStatuses() {
		allowed = append(allowed, string(status))
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status", http.StatusBadRequest).
		WithDetails(map[string]any{"requested_status": value, "allowed_statuses": allowed}))
}
