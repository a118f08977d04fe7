package handlers

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/payments"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/auth"
	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

type stubCartService struct {
	getFunc       func(ctx context.Context, userID string) (services.Cart, error)
	addFunc       func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	updateFunc    func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error)
	removeFunc    func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	syncFunc      func(ctx context.Context, cmd services.SyncCartCommand) (services.Cart, error)
	quoteFunc     func(ctx context.Context, cmd services.QuoteCartCommand) (services.PricingBreakdown, error)
	abandonedFunc func(ctx context.Context, filter services.AbandonedCartFilter) (services.AbandonedCartReport, error)
	remindFunc    func(ctx context.Context, channel, cartID string) error
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return services.Cart{ID: userID, UserID: userID}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) ClearCart(context.Context, string) error { return nil }

func (s *stubCartService) SyncCart(ctx context.Context, cmd services.SyncCartCommand) (services.Cart, error) {
	if s.syncFunc != nil {
		return s.syncFunc(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) Quote(ctx context.Context, cmd services.QuoteCartCommand) (services.PricingBreakdown, error) {
	if s.quoteFunc != nil {
		return s.quoteFunc(ctx, cmd)
	}
	return services.PricingBreakdown{}, nil
}

func (s *stubCartService) ListAbandoned(ctx context.Context, filter services.AbandonedCartFilter) (services.AbandonedCartReport, error) {
	if s.abandonedFunc != nil {
		return s.abandonedFunc(ctx, filter)
	}
	return services.AbandonedCartReport{}, nil
}

func (s *stubCartService) RemindByEmail(ctx context.Context, cartID string) error {
	if s.remindFunc != nil {
		return s.remindFunc(ctx, "email", cartID)
	}
	return nil
}

func (s *stubCartService) RemindBySMS(ctx context.Context, cartID string) error {
	if s.remindFunc != nil {
		return s.remindFunc(ctx, "sms", cartID)
	}
	return nil
}

type stubOrderService struct {
	createFunc     func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFunc        func(ctx context.Context, query services.OrderQuery) (services.Order, error)
	listFunc       func(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error)
	transitionFunc func(ctx context.Context, cmd services.OrderStatusCommand) (services.Order, error)
	forceFunc      func(ctx context.Context, cmd services.ForceOrderStatusCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.OrderQuery) (services.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, query)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, userID, pager)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusCommand) (services.Order, error) {
	if s.transitionFunc != nil {
		return s.transitionFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) ForceSetStatus(ctx context.Context, cmd services.ForceOrderStatusCommand) (services.Order, error) {
	if s.forceFunc != nil {
		return s.forceFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

type stubPaymentService struct {
	initiateFunc func(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentInitiation, error)
	callbackFunc func(ctx context.Context, cb services.PaymentCallback) (services.Order, error)
	callbacks    []services.PaymentCallback
}

func (s *stubPaymentService) InitiatePayment(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentInitiation, error) {
	if s.initiateFunc != nil {
		return s.initiateFunc(ctx, cmd)
	}
	return services.PaymentInitiation{}, nil
}

func (s *stubPaymentService) HandleCallback(ctx context.Context, cb services.PaymentCallback) (services.Order, error) {
	s.callbacks = append(s.callbacks, cb)
	if s.callbackFunc != nil {
		return s.callbackFunc(ctx, cb)
	}
	return services.Order{}, nil
}

type stubRMAService struct {
	createFunc     func(ctx context.Context, cmd services.CreateRMACommand) (services.RMA, error)
	getFunc        func(ctx context.Context, query services.RMAQuery) (services.RMA, error)
	listFunc       func(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.RMA], error)
	adminListFunc  func(ctx context.Context, filter services.AdminRMAFilter) (domain.CursorPage[services.RMA], error)
	transitionFunc func(ctx context.Context, cmd services.RMAStatusCommand) (services.RMA, error)
	evidenceFunc   func(ctx context.Context, cmd services.EvidenceUploadCommand) (services.EvidenceUpload, error)
}

func (s *stubRMAService) CreateRMA(ctx context.Context, cmd services.CreateRMACommand) (services.RMA, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.RMA{}, nil
}

func (s *stubRMAService) GetRMA(ctx context.Context, query services.RMAQuery) (services.RMA, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, query)
	}
	return services.RMA{}, nil
}

func (s *stubRMAService) ListRMAs(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.RMA], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, userID, pager)
	}
	return domain.CursorPage[services.RMA]{}, nil
}

func (s *stubRMAService) ListRMAsForAdmin(ctx context.Context, filter services.AdminRMAFilter) (domain.CursorPage[services.RMA], error) {
	if s.adminListFunc != nil {
		return s.adminListFunc(ctx, filter)
	}
	return domain.CursorPage[services.RMA]{}, nil
}

func (s *stubRMAService) TransitionStatus(ctx context.Context, cmd services.RMAStatusCommand) (services.RMA, error) {
	if s.transitionFunc != nil {
		return s.transitionFunc(ctx, cmd)
	}
	return services.RMA{}, nil
}

func (s *stubRMAService) CreateEvidenceUpload(ctx context.Context, cmd services.EvidenceUploadCommand) (services.EvidenceUpload, error) {
	if s.evidenceFunc != nil {
		return s.evidenceFunc(ctx, cmd)
	}
	return services.EvidenceUpload{}, nil
}

type stubSweepService struct {
	runFunc func(ctx context.Context, job string) (services.SweepReport, error)
}

func (s *stubSweepService) PurgeStaleCarts(ctx context.Context) (services.SweepReport, error) {
	return s.Run(ctx, services.SweepJobCartPurge)
}

func (s *stubSweepService) CancelUnpaidOrders(ctx context.Context) (services.SweepReport, error) {
	return s.Run(ctx, services.SweepJobUnpaidOrders)
}

func (s *stubSweepService) Run(ctx context.Context, job string) (services.SweepReport, error) {
	if s.runFunc != nil {
		return s.runFunc(ctx, job)
	}
	return services.SweepReport{Job: job, Acquired: true}, nil
}

type stubWebhookParser struct {
	callback payments.Callback
	ok       bool
	err      error
	payload  []byte
	sig      string
}

func (p *stubWebhookParser) ParseWebhook(payload []byte, signature string) (payments.Callback, bool, error) {
	p.payload = payload
	p.sig = signature
	return p.callback, p.ok, p.err
}

// serve routes one request through registrar, optionally as the given identity.
func serve(registrar RouteRegistrar, method, target, body string, identity *auth.Identity) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	registrar(router)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func customer(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleUser}}
}

func operator(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleAdmin}}
}

var (
	_ services.CartService    = (*stubCartService)(nil)
	_ services.OrderService   = (*stubOrderService)(nil)
	_ services.PaymentService = (*stubPaymentService)(nil)
	_ services.RMAService     = (*stubRMAService)(nil)
	_ services.SweepService   = (*stubSweepService)(nil)
	_ WebhookParser           = (*stubWebhookParser)(nil)
)
