package services

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/payments"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string {
	return "repository error"
}

func (e *repositoryErrorStub) IsNotFound() bool {
	return e.notFound
}

func (e *repositoryErrorStub) IsConflict() bool {
	return e.conflict
}

func (e *repositoryErrorStub) IsUnavailable() bool {
	return e.unavailable
}

var errRepoNotFound = &repositoryErrorStub{notFound: true}

type memCartRepository struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
	saves int
}

func newMemCartRepository(carts ...domain.Cart) *memCartRepository {
	repo := &memCartRepository{carts: make(map[string]domain.Cart)}
	for _, cart := range carts {
		repo.carts[cart.UserID] = cart
	}
	return repo
}

func (r *memCartRepository) Get(_ context.Context, userID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	if !ok {
		return domain.Cart{}, errRepoNotFound
	}
	cart.Items = slices.Clone(cart.Items)
	return cart, nil
}

// Update holds the lock across the mutator, standing in for a storage transaction.
func (r *memCartRepository) Update(_ context.Context, userID string, mutate repositories.CartMutator) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	if !ok {
		cart = domain.Cart{ID: userID, UserID: userID}
	}
	cart.Items = slices.Clone(cart.Items)
	if err := mutate(&cart); err != nil {
		return domain.Cart{}, err
	}
	r.saves++
	r.carts[userID] = cart
	cart.Items = slices.Clone(cart.Items)
	return cart, nil
}

func (r *memCartRepository) DeleteIfUnchanged(_ context.Context, userID string, updatedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	if !ok || !cart.UpdatedAt.Equal(updatedAt) {
		return false, nil
	}
	delete(r.carts, userID)
	return true, nil
}

func (r *memCartRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}

func (r *memCartRepository) DeleteIfStale(_ context.Context, userID string, cutoff time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	if !ok || !cart.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	delete(r.carts, userID)
	return true, nil
}

func (r *memCartRepository) MarkExpiryWarned(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	if !ok {
		return errRepoNotFound
	}
	cart.ExpiryWarnedAt = &at
	r.carts[userID] = cart
	return nil
}

func (r *memCartRepository) ListUpdatedBetween(_ context.Context, from, to time.Time) ([]domain.Cart, error) {
	return r.list(func(c domain.Cart) bool { return !c.UpdatedAt.Before(from) && !c.UpdatedAt.After(to) }, 0), nil
}

func (r *memCartRepository) ListUpdatedBefore(_ context.Context, before time.Time, limit int) ([]domain.Cart, error) {
	return r.list(func(c domain.Cart) bool { return c.UpdatedAt.Before(before) }, limit), nil
}

func (r *memCartRepository) list(keep func(domain.Cart) bool, limit int) []domain.Cart {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Cart
	for _, cart := range r.carts {
		if keep(cart) {
			out = append(out, cart)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *memCartRepository) cart(userID string) (domain.Cart, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	return cart, ok
}

type memProductRepository struct {
	mu          sync.Mutex
	products    map[string]domain.Product
	decrementFn func(productID string, quantity int) error
	incrementFn func(productID string, quantity int) error
	increments  []string
}

func newMemProductRepository(products ...domain.Product) *memProductRepository {
	repo := &memProductRepository{products: make(map[string]domain.Product)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (r *memProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return domain.Product{}, errRepoNotFound
	}
	return p, nil
}

func (r *memProductRepository) DecrementStock(_ context.Context, productID string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decrementFn != nil {
		if err := r.decrementFn(productID, quantity); err != nil {
			return err
		}
	}
	p, ok := r.products[productID]
	if !ok {
		return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, quantity, 0)
	}
	if !p.IsActive {
		return repositories.NewStockError(repositories.StockErrorProductInactive, productID, quantity, p.Stock)
	}
	if p.Stock < quantity {
		return repositories.NewStockError(repositories.StockErrorInsufficient, productID, quantity, p.Stock)
	}
	p.Stock -= quantity
	r.products[productID] = p
	return nil
}

func (r *memProductRepository) IncrementStock(_ context.Context, productID string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.increments = append(r.increments, productID)
	if r.incrementFn != nil {
		if err := r.incrementFn(productID, quantity); err != nil {
			return err
		}
	}
	p := r.products[productID]
	p.Stock += quantity
	r.products[productID] = p
	return nil
}

func (r *memProductRepository) stock(productID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[productID].Stock
}

type memCouponRepository struct {
	mu      sync.Mutex
	coupons map[string]domain.Coupon
	usageFn func(code string) error
}

func newMemCouponRepository(coupons ...domain.Coupon) *memCouponRepository {
	repo := &memCouponRepository{coupons: make(map[string]domain.Coupon)}
	for _, c := range coupons {
		repo.coupons[c.Code] = c
	}
	return repo
}

func (r *memCouponRepository) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return domain.Coupon{}, errRepoNotFound
	}
	return c, nil
}

func (r *memCouponRepository) IncrementUsage(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usageFn != nil {
		if err := r.usageFn(code); err != nil {
			return err
		}
	}
	c, ok := r.coupons[code]
	if !ok {
		return errRepoNotFound
	}
	c.UsageCount++
	r.coupons[code] = c
	return nil
}

type memShippingRepository struct {
	methods map[string]domain.ShippingMethod
}

func newMemShippingRepository(methods ...domain.ShippingMethod) *memShippingRepository {
	repo := &memShippingRepository{methods: make(map[string]domain.ShippingMethod)}
	for _, m := range methods {
		repo.methods[m.ID] = m
	}
	return repo
}

func (r *memShippingRepository) FindByID(_ context.Context, methodID string) (domain.ShippingMethod, error) {
	m, ok := r.methods[methodID]
	if !ok {
		return domain.ShippingMethod{}, errRepoNotFound
	}
	return m, nil
}

type memOrderRepository struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	insertFn func(domain.Order) error
	updates  int
}

func newMemOrderRepository(orders ...domain.Order) *memOrderRepository {
	repo := &memOrderRepository{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		repo.orders[o.ID] = o
	}
	return repo
}

func (r *memOrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertFn != nil {
		if err := r.insertFn(order); err != nil {
			return err
		}
	}
	if _, exists := r.orders[order.ID]; exists {
		return &repositoryErrorStub{conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	return o, nil
}

func (r *memOrderRepository) FindByGatewayRef(_ context.Context, gateway, gatewayRef string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.HasPaymentAttempt(gateway, gatewayRef) {
			return o, nil
		}
	}
	return domain.Order{}, errRepoNotFound
}

// Update holds the lock across the mutator, standing in for a storage transaction.
func (r *memOrderRepository) Update(_ context.Context, orderID string, mutate repositories.OrderMutator) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	o.StatusHistory = slices.Clone(o.StatusHistory)
	o.PaymentAttempts = slices.Clone(o.PaymentAttempts)
	if o.PaymentResult != nil {
		result := *o.PaymentResult
		o.PaymentResult = &result
	}
	if err := mutate(&o); err != nil {
		return domain.Order{}, err
	}
	r.updates++
	r.orders[orderID] = o
	return o, nil
}

func (r *memOrderRepository) ListByUser(_ context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if pager.PageSize > 0 && len(out) > pager.PageSize {
		out = out[:pager.PageSize]
	}
	return domain.CursorPage[domain.Order]{Items: out}, nil
}

func (r *memOrderRepository) ListUnpaidBefore(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.OrderStatusPending && o.PaymentMethod == domain.PaymentMethodOnline && !o.IsPaid && o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memOrderRepository) order(orderID string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[orderID]
}

func (r *memOrderRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type memRMARepository struct {
	mu     sync.Mutex
	rmas   map[string]domain.RMA
	filter repositories.RMAListFilter
}

func newMemRMARepository(rmas ...domain.RMA) *memRMARepository {
	repo := &memRMARepository{rmas: make(map[string]domain.RMA)}
	for _, rma := range rmas {
		repo.rmas[rma.ID] = rma
	}
	return repo
}

func (r *memRMARepository) Insert(_ context.Context, rma domain.RMA) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rmas[rma.ID] = rma
	return nil
}

func (r *memRMARepository) FindByID(_ context.Context, rmaID string) (domain.RMA, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rma, ok := r.rmas[rmaID]
	if !ok {
		return domain.RMA{}, errRepoNotFound
	}
	return rma, nil
}

func (r *memRMARepository) Update(_ context.Context, rmaID string, mutate repositories.RMAMutator) (domain.RMA, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rma, ok := r.rmas[rmaID]
	if !ok {
		return domain.RMA{}, errRepoNotFound
	}
	rma.StatusHistory = slices.Clone(rma.StatusHistory)
	rma.Evidence = slices.Clone(rma.Evidence)
	if err := mutate(&rma); err != nil {
		return domain.RMA{}, err
	}
	r.rmas[rmaID] = rma
	return rma, nil
}

func (r *memRMARepository) ListByOrder(_ context.Context, orderID string) ([]domain.RMA, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RMA
	for _, rma := range r.rmas {
		if rma.OrderID == orderID {
			out = append(out, rma)
		}
	}
	return out, nil
}

func (r *memRMARepository) List(_ context.Context, filter repositories.RMAListFilter) (domain.CursorPage[domain.RMA], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = filter
	var out []domain.RMA
	for _, rma := range r.rmas {
		if filter.UserID != "" && rma.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, rma.Status) {
			continue
		}
		out = append(out, rma)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return domain.CursorPage[domain.RMA]{Items: out}, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (r *recordingEvents) PublishEvent(_ context.Context, event DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNotifications struct {
	mu     sync.Mutex
	emails []ReminderMessage
	sms    []ReminderMessage
	err    error
}

func (r *recordingNotifications) SendReminderEmail(_ context.Context, msg ReminderMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.emails = append(r.emails, msg)
	return nil
}

func (r *recordingNotifications) SendReminderSMS(_ context.Context, msg ReminderMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sms = append(r.sms, msg)
	return nil
}

type stubContacts map[string]domain.CustomerContact

func (s stubContacts) Contact(_ context.Context, userID string) (domain.CustomerContact, error) {
	contact, ok := s[userID]
	if !ok {
		return domain.CustomerContact{}, errRepoNotFound
	}
	return contact, nil
}

type stubGateway struct {
	mu          sync.Mutex
	id          string
	initiateFn  func(context.Context, payments.InitiateRequest) (payments.InitiateResult, error)
	verifyFn    func(context.Context, payments.Callback) (payments.Verification, error)
	initiates   []payments.InitiateRequest
	verifyCalls int
}

func (g *stubGateway) ID() string { return g.id }

func (g *stubGateway) Initiate(ctx context.Context, req payments.InitiateRequest) (payments.InitiateResult, error) {
	g.mu.Lock()
	g.initiates = append(g.initiates, req)
	g.mu.Unlock()
	if g.initiateFn != nil {
		return g.initiateFn(ctx, req)
	}
	return payments.InitiateResult{GatewayRef: "ref-" + req.OrderID, PaymentURL: "https://pay.example/" + req.OrderID}, nil
}

func (g *stubGateway) Verify(ctx context.Context, cb payments.Callback) (payments.Verification, error) {
	g.mu.Lock()
	g.verifyCalls++
	g.mu.Unlock()
	if g.verifyFn != nil {
		return g.verifyFn(ctx, cb)
	}
	return payments.Verification{}, nil
}

func (g *stubGateway) verifies() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var (
	_ repositories.CartRepository           = (*memCartRepository)(nil)
	_ repositories.ProductRepository        = (*memProductRepository)(nil)
	_ repositories.CouponRepository         = (*memCouponRepository)(nil)
	_ repositories.ShippingMethodRepository = (*memShippingRepository)(nil)
	_ repositories.OrderRepository          = (*memOrderRepository)(nil)
	_ repositories.RMARepository            = (*memRMARepository)(nil)
	_ repositories.RepositoryError          = (*repositoryErrorStub)(nil)
	_ payments.Gateway                      = (*stubGateway)(nil)
)
