package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

func sampleRMA() services.RMA {
	created := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	return services.RMA{
		ID:      "rma_1",
		OrderID: "ord_1",
		UserID:  "u1",
		Status:  domain.RMAStatusPending,
		Reason:  "damaged",
		Items: []services.RMAItem{
			{ProductID: "lens", Name: "Lens", Price: 50000, Quantity: 1},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRMAHandlersCreate(t *testing.T) {
	var got services.CreateRMACommand
	svc := &stubRMAService{
		createFunc: func(_ context.Context, cmd services.CreateRMACommand) (services.RMA, error) {
			got = cmd
			return sampleRMA(), nil
		},
	}
	body := `{"order_id":"ord_1","reason":"damaged","items":[{"product_id":"lens","quantity":1}]}`
	rr := serve(NewRMAHandlers(nil, svc).Routes, http.MethodPost, "/", body, customer("u1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Location") != "/api/v1/rma/rma_1" {
		t.Fatalf("unexpected location %q", rr.Header().Get("Location"))
	}
	if got.UserID != "u1" || got.OrderID != "ord_1" || len(got.Items) != 1 || got.Items[0].Quantity != 1 {
		t.Fatalf("unexpected command %+v", got)
	}
	var payload rmaPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ReturnedSubtotal != 50000 || payload.Status != "pending" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestRMAHandlersCreateRejectsUndeliveredOrder(t *testing.T) {
	svc := &stubRMAService{
		createFunc: func(context.Context, services.CreateRMACommand) (services.RMA, error) {
			return services.RMA{}, fmt.Errorf("%w: order is not delivered", services.ErrValidation)
		},
	}
	rr := serve(NewRMAHandlers(nil, svc).Routes, http.MethodPost, "/", `{"order_id":"ord_1","items":[]}`, customer("u1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRMAHandlersGetScopesToCaller(t *testing.T) {
	var got services.RMAQuery
	svc := &stubRMAService{
		getFunc: func(_ context.Context, query services.RMAQuery) (services.RMA, error) {
			got = query
			if !query.IsAdmin && query.UserID != "u1" {
				return services.RMA{}, services.ErrNotFound
			}
			return sampleRMA(), nil
		},
	}
	h := NewRMAHandlers(nil, svc)
	if rr := serve(h.Routes, http.MethodGet, "/rma_1", "", customer("u1")); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.RMAID != "rma_1" {
		t.Fatalf("unexpected query %+v", got)
	}
	if rr := serve(h.Routes, http.MethodGet, "/rma_1", "", customer("u2")); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another customer, got %d", rr.Code)
	}
}

func TestRMAHandlersAdminListParsesStatuses(t *testing.T) {
	var got services.AdminRMAFilter
	svc := &stubRMAService{
		adminListFunc: func(_ context.Context, filter services.AdminRMAFilter) (domain.CursorPage[services.RMA], error) {
			got = filter
			return domain.CursorPage[services.RMA]{Items: []services.RMA{sampleRMA()}}, nil
		},
	}
	h := NewRMAHandlers(nil, svc)
	rr := serve(h.Routes, http.MethodGet, "/admin?status=pending,approved&status=processing", "", operator("admin"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(got.Status) != 3 || got.Status[2] != domain.RMAStatusProcessing {
		t.Fatalf("unexpected filter %+v", got)
	}

	rr = serve(h.Routes, http.MethodGet, "/admin?status=lost", "", operator("admin"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestRMAHandlersApproveWithRefund(t *testing.T) {
	var got services.RMAStatusCommand
	svc := &stubRMAService{
		transitionFunc: func(_ context.Context, cmd services.RMAStatusCommand) (services.RMA, error) {
			got = cmd
			rma := sampleRMA()
			rma.Status = cmd.TargetStatus
			rma.RefundAmount = *cmd.RefundAmount
			return rma, nil
		},
	}
	body := `{"status":"approved","refund_amount":45000,"admin_notes":"restocking fee"}`
	rr := serve(NewRMAHandlers(nil, svc).Routes, http.MethodPut, "/rma_1/status", body, operator("admin"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.TargetStatus != domain.RMAStatusApproved || got.RefundAmount == nil || *got.RefundAmount != 45000 || got.ActorID != "admin" {
		t.Fatalf("unexpected command %+v", got)
	}
	var payload rmaPayload
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload.RefundAmount != 45000 {
		t.Fatalf("expected refund in payload, got %+v", payload)
	}
}

func TestRMAHandlersCompletedIsTerminal(t *testing.T) {
	svc := &stubRMAService{
		transitionFunc: func(context.Context, services.RMAStatusCommand) (services.RMA, error) {
			return services.RMA{}, fmt.Errorf("%w: completed -> pending", services.ErrInvalidTransition)
		},
	}
	rr := serve(NewRMAHandlers(nil, svc).Routes, http.MethodPut, "/rma_1/status", `{"status":"pending"}`, operator("admin"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestRMAHandlersEvidenceUpload(t *testing.T) {
	expires := time.Date(2025, 5, 1, 8, 15, 0, 0, time.UTC)
	var got services.EvidenceUploadCommand
	svc := &stubRMAService{
		evidenceFunc: func(_ context.Context, cmd services.EvidenceUploadCommand) (services.EvidenceUpload, error) {
			got = cmd
			return services.EvidenceUpload{
				ObjectPath: "rma/rma_1/evidence/01.jpg",
				URL:        "https://storage.example/signed",
				Method:     http.MethodPut,
				Headers:    map[string]string{"Content-Type": "image/jpeg"},
				ExpiresAt:  expires,
			}, nil
		},
	}
	rr := serve(NewRMAHandlers(nil, svc).Routes, http.MethodPost, "/rma_1/evidence", `{"content_type":"image/jpeg"}`, customer("u1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.RMAID != "rma_1" || got.UserID != "u1" || got.ContentType != "image/jpeg" {
		t.Fatalf("unexpected command %+v", got)
	}
	var payload evidenceUploadPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Method != http.MethodPut || payload.ExpiresAt != "2025-05-01T08:15:00Z" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
