package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Sad0asc0Sh/user-sub000/internal/platform/auth"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/httpx"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/pagination"
	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

const maxRMABodySize = 16 * 1024

// RMAHandlers exposes return requests to customers and operators.
type RMAHandlers struct {
	authn *auth.Authenticator
	rmas  services.RMAService
}

// NewRMAHandlers constructs RMA handlers guarded by Firebase authentication.
func NewRMAHandlers(authn *auth.Authenticator, rmas services.RMAService) *RMAHandlers {
	return &RMAHandlers{authn: authn, rmas: rmas}
}

// Routes wires the /rma endpoints. chi matches the static /admin segment ahead of /{rmaID}.
func (h *RMAHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
		}
		admin.Get("/admin", h.listForAdmin)
		admin.Put("/{rmaID}/status", h.updateStatus)
	})
	r.Group(func(customer chi.Router) {
		if h.authn != nil {
			customer.Use(h.authn.RequireFirebaseAuth())
		}
		customer.Get("/", h.list)
		customer.Post("/", h.create)
		customer.Get("/{rmaID}", h.get)
		customer.Post("/{rmaID}/evidence", h.evidence)
	})
}

type rmaItemRequest struct {
	ProductID      string                 `json:"product_id"`
	Quantity       int                    `json:"quantity"`
	VariantOptions []variantOptionPayload `json:"variant_options"`
}

type createRMARequest struct {
	OrderID string           `json:"order_id"`
	Reason  string           `json:"reason"`
	Items   []rmaItemRequest `json:"items"`
}

type rmaStatusRequest struct {
	Status       string `json:"status"`
	RefundAmount *int64 `json:"refund_amount"`
	AdminNotes   string `json:"admin_notes"`
}

type evidenceRequest struct {
	ContentType string `json:"content_type"`
}

type rmaItemPayload struct {
	ProductID      string                 `json:"product_id"`
	Name           string                 `json:"name"`
	Price          int64                  `json:"price"`
	Quantity       int                    `json:"quantity"`
	VariantOptions []variantOptionPayload `json:"variant_options,omitempty"`
}

type rmaPayload struct {
	ID               string                `json:"id"`
	OrderID          string                `json:"order_id"`
	UserID           string                `json:"user_id"`
	Status           string                `json:"status"`
	Reason           string                `json:"reason"`
	Items            []rmaItemPayload      `json:"items"`
	ReturnedSubtotal int64                 `json:"returned_subtotal"`
	RefundAmount     int64                 `json:"refund_amount,omitempty"`
	AdminNotes       string                `json:"admin_notes,omitempty"`
	Evidence         []string              `json:"evidence,omitempty"`
	StatusHistory    []statusChangePayload `json:"status_history,omitempty"`
	CreatedAt        string                `json:"created_at"`
	UpdatedAt        string                `json:"updated_at"`
	CompletedAt      string                `json:"completed_at,omitempty"`
}

type rmaListResponse struct {
	Items         []rmaPayload `json:"items"`
	NextPageToken string       `json:"next_page_token,omitempty"`
}

type evidenceUploadPayload struct {
	ObjectPath string            `json:"object_path"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  string            `json:"expires_at"`
}

func (h *RMAHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rmas == nil {
		serviceUnavailable(ctx, w, "rma")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createRMARequest
	if !decodeJSONBody(w, r, maxRMABodySize, &req) {
		return
	}
	items := make([]services.CreateRMAItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CreateRMAItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			VariantOptions: toVariantOptions(item.VariantOptions),
		})
	}
	rma, err := h.rmas.CreateRMA(ctx, services.CreateRMACommand{
		UserID:  identity.UID,
		OrderID: req.OrderID,
		Reason:  req.Reason,
		Items:   items,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/rma/"+rma.ID)
	writeJSONResponse(w, http.StatusCreated, buildRMAPayload(rma))
}

func (h *RMAHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rmas == nil {
		serviceUnavailable(ctx, w, "rma")
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
	page, err := h.rmas.ListRMAs(ctx, identity.UID, services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := rmaListResponse{Items: make([]rmaPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, rma := range page.Items {
		resp.Items = append(resp.Items, buildRMAPayload(rma))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *RMAHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rmas == nil {
		serviceUnavailable(ctx, w, "rma")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	rma, err := h.rmas.GetRMA(ctx, services.RMAQuery{
		RMAID:   chi.URLParam(r, "rmaID"),
		UserID:  identity.UID,
		IsAdmin: identity.IsOperator(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRMAPayload(rma))
}

func (h *RMAHandlers) evidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rmas == nil {
		serviceUnavailable(ctx, w, "rma")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req evidenceRequest
	if !decodeJSONBody(w, r, maxRMABodySize, &req) {
		return
	}
	upload, err := h.rmas.CreateEvidenceUpload(ctx, services.EvidenceUploadCommand{
		RMAID:       chi.URLParam(r, "rmaID"),
		UserID:      identity.UID,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, evidenceUploadPayload{
		ObjectPath: upload.ObjectPath,
		URL:        upload.URL,
		Method:     upload.Method,
		Headers:    upload.Headers,
		ExpiresAt:  formatTime(upload.ExpiresAt),
	})
}

func (h *RMAHandlers) listForAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rmas == nil {
		serviceUnavailable(ctx, w, "rma")
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writePaginationError(w, r, err)
		return
	}
	filter := services.AdminRMAFilter{Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}}
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			status, ok := services.ParseRMAStatus(part)
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown rma status "+part, http.StatusBadRequest))
				return
			}
			filter.Status = append(filter.Status, status)
		}
	}
	page, err := h.rmas.ListRMAsForAdmin(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := rmaListResponse{Items: make([]rmaPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, rma := range page.Items {
		resp.Items = append(resp.Items, buildRMAPayload(rma))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *RMAHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rmas == nil {
		serviceUnavailable(ctx, w, "rma")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req rmaStatusRequest
	if !decodeJSONBody(w, r, maxRMABodySize, &req) {
		return
	}
	status, ok := services.ParseRMAStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown rma status", http.StatusBadRequest))
		return
	}
	rma, err := h.rmas.TransitionStatus(ctx, services.RMAStatusCommand{
		RMAID:        chi.URLParam(r, "rmaID"),
		ActorID:      identity.UID,
		TargetStatus: status,
		RefundAmount: req.RefundAmount,
		AdminNotes:   req.AdminNotes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRMAPayload(rma))
}

func buildRMAPayload(rma services.RMA) rmaPayload {
	payload := rmaPayload{
		ID:               rma.ID,
		OrderID:          rma.OrderID,
		UserID:           rma.UserID,
		Status:           string(rma.Status),
		Reason:           rma.Reason,
		Items:            make([]rmaItemPayload, 0, len(rma.Items)),
		ReturnedSubtotal: rma.ReturnedSubtotal(),
		RefundAmount:     rma.RefundAmount,
		AdminNotes:       rma.AdminNotes,
		Evidence:         rma.Evidence,
		StatusHistory:    buildStatusHistory(rma.StatusHistory),
		CreatedAt:        formatTime(rma.CreatedAt),
		UpdatedAt:        formatTime(rma.UpdatedAt),
		CompletedAt:      formatTimePtr(rma.CompletedAt),
	}
	for _, item := range rma.Items {
		payload.Items = append(payload.Items, rmaItemPayload{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price,
			Quantity:       item.Quantity,
			VariantOptions: fromVariantOptions(item.VariantOptions),
		})
	}
	return payload
}
