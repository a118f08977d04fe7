package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

const (
	reminderChannelEmail = "email"
	reminderChannelSMS   = "sms"
	maxCartLineQuantity  = 999
)

// CartServiceDeps wires the repositories and collaborators for cart operations.
type CartServiceDeps struct {
	Carts         repositories.CartRepository
	Products      repositories.ProductRepository
	Pricing       PricingCalculator
	Contacts      ContactDirectory
	Notifications NotificationSink
	Settings      domain.StoreSettings
	StorefrontURL string
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts         repositories.CartRepository
	products      repositories.ProductRepository
	pricing       PricingCalculator
	contacts      ContactDirectory
	notifications NotificationSink
	currency      string
	storefrontURL string
	now           func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("cart service: pricing calculator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		carts:         deps.Carts,
		products:      deps.Products,
		pricing:       deps.Pricing,
		contacts:      deps.Contacts,
		notifications: deps.Notifications,
		currency:      strings.ToUpper(strings.TrimSpace(deps.Settings.Checkout.Currency)),
		storefrontURL: strings.TrimRight(strings.TrimSpace(deps.StorefrontURL), "/"),
		now:           func() time.Time { return clock().UTC() },
		logger:        logger,
	}, nil
}

// GetCart returns the owner's cart. A missing cart is an empty cart, not an error.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, validationError("user id is required")
	}
	return s.load(ctx, uid)
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if uid == "" || productID == "" {
		return Cart{}, validationError("user id and product id are required")
	}
	if cmd.Quantity < 1 || cmd.Quantity > maxCartLineQuantity {
		return Cart{}, validationError("quantity must be between 1 and %d", maxCartLineQuantity)
	}
	options := domain.NormalizeVariantOptions(cmd.VariantOptions)

	product, err := s.sellableProduct(ctx, productID, options)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	key := domain.CartItemKey(productID, options)
	return s.mutate(ctx, uid, now, func(cart *Cart) error {
		if idx := findCartLine(cart.Items, key); idx >= 0 {
			// The snapshot taken on first add stays; only the quantity grows.
			cart.Items[idx].Quantity += cmd.Quantity
			return checkAvailable(product, cart.Items[idx].Quantity)
		}
		if err := checkAvailable(product, cmd.Quantity); err != nil {
			return err
		}
		cart.Items = append(cart.Items, snapshotLine(product, options, cmd.Quantity, now))
		return nil
	})
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" || strings.TrimSpace(cmd.ProductID) == "" {
		return Cart{}, validationError("user id and product id are required")
	}
	if cmd.Quantity < 1 || cmd.Quantity > maxCartLineQuantity {
		return Cart{}, validationError("quantity must be between 1 and %d", maxCartLineQuantity)
	}
	key := domain.CartItemKey(cmd.ProductID, cmd.VariantOptions)
	return s.mutate(ctx, uid, s.now(), func(cart *Cart) error {
		idx := findCartLine(cart.Items, key)
		if idx < 0 {
			return fmt.Errorf("%w: cart item %s", ErrNotFound, cmd.ProductID)
		}
		if cmd.Quantity > cart.Items[idx].Quantity {
			product, err := s.products.FindByID(ctx, cart.Items[idx].ProductID)
			if err != nil {
				return mapRepositoryError("product", err)
			}
			if err := checkAvailable(product, cmd.Quantity); err != nil {
				return err
			}
		}
		cart.Items[idx].Quantity = cmd.Quantity
		return nil
	})
}

// RemoveItem drops the line with the given key. Removing an unknown line returns the cart unchanged.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" || strings.TrimSpace(cmd.ProductID) == "" {
		return Cart{}, validationError("user id and product id are required")
	}
	key := domain.CartItemKey(cmd.ProductID, cmd.VariantOptions)
	return s.mutate(ctx, uid, s.now(), func(cart *Cart) error {
		idx := findCartLine(cart.Items, key)
		if idx < 0 {
			return errCartUnchanged
		}
		cart.Items = slices.Delete(cart.Items, idx, idx+1)
		return nil
	})
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return validationError("user id is required")
	}
	if err := s.carts.Delete(ctx, uid); err != nil && !isRepoNotFound(err) {
		return mapRepositoryError("cart", err)
	}
	return nil
}

// SyncCart merges a client-held cart into the server cart. Keys present on both sides take the
// larger quantity so replayed syncs never inflate the cart. Server-only lines are kept.
func (s *cartService) SyncCart(ctx context.Context, cmd SyncCartCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, validationError("user id is required")
	}
	local := make(map[string]SyncCartItem, len(cmd.Items))
	order := make([]string, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return Cart{}, validationError("product id is required")
		}
		if item.Quantity < 1 || item.Quantity > maxCartLineQuantity {
			return Cart{}, validationError("quantity for %s must be between 1 and %d", item.ProductID, maxCartLineQuantity)
		}
		item.VariantOptions = domain.NormalizeVariantOptions(item.VariantOptions)
		key := domain.CartItemKey(item.ProductID, item.VariantOptions)
		if prev, ok := local[key]; ok {
			item.Quantity = max(prev.Quantity, item.Quantity)
		} else {
			order = append(order, key)
		}
		local[key] = item
	}

	now := s.now()
	return s.mutate(ctx, uid, now, func(cart *Cart) error {
		for _, key := range order {
			item := local[key]
			if idx := findCartLine(cart.Items, key); idx >= 0 {
				cart.Items[idx].Quantity = max(cart.Items[idx].Quantity, item.Quantity)
				continue
			}
			product, err := s.sellableProduct(ctx, item.ProductID, item.VariantOptions)
			if err != nil {
				if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
					s.logger(ctx, "cart.sync.item_skipped", map[string]any{
						"userId":    uid,
						"productId": item.ProductID,
						"error":     err.Error(),
					})
					continue
				}
				return err
			}
			cart.Items = append(cart.Items, snapshotLine(product, item.VariantOptions, item.Quantity, now))
		}
		return nil
	})
}

// Quote prices the owner's cart with an optional shipping method and coupon.
func (s *cartService) Quote(ctx context.Context, cmd QuoteCartCommand) (PricingBreakdown, error) {
	cart, err := s.GetCart(ctx, cmd.UserID)
	if err != nil {
		return PricingBreakdown{}, err
	}
	return s.pricing.Calculate(ctx, PricingInput{
		Items:            cart.Items,
		ShippingMethodID: cmd.ShippingMethodID,
		CouponCode:       cmd.CouponCode,
		Currency:         cart.Currency,
	})
}

// ListAbandoned returns non-empty carts last mutated within [now-DaysAgo, now-HoursAgo]. Cart TTL
// settings play no part in this query.
func (s *cartService) ListAbandoned(ctx context.Context, filter AbandonedCartFilter) (AbandonedCartReport, error) {
	if filter.HoursAgo < 0 {
		return AbandonedCartReport{}, validationError("hoursAgo must not be negative")
	}
	if filter.DaysAgo < 1 {
		return AbandonedCartReport{}, validationError("daysAgo must be at least 1")
	}
	now := s.now()
	from := now.Add(-time.Duration(filter.DaysAgo) * 24 * time.Hour)
	to := now.Add(-time.Duration(filter.HoursAgo) * time.Hour)
	if !from.Before(to) {
		return AbandonedCartReport{}, validationError("window is empty: daysAgo must exceed hoursAgo")
	}

	carts, err := s.carts.ListUpdatedBetween(ctx, from, to)
	if err != nil {
		return AbandonedCartReport{}, mapRepositoryError("cart", err)
	}
	report := AbandonedCartReport{Carts: make([]Cart, 0, len(carts)), WindowStart: from, WindowEnd: to}
	for _, cart := range carts {
		if cart.IsEmpty() {
			continue
		}
		report.Carts = append(report.Carts, cart)
		report.Stats.CartCount++
		for _, item := range cart.Items {
			report.Stats.ItemCount += item.Quantity
		}
		report.Stats.TotalValue += domain.ItemsPrice(cart.Items)
	}
	return report, nil
}

func (s *cartService) RemindByEmail(ctx context.Context, cartID string) error {
	return s.remind(ctx, cartID, reminderChannelEmail)
}

func (s *cartService) RemindBySMS(ctx context.Context, cartID string) error {
	return s.remind(ctx, cartID, reminderChannelSMS)
}

// remind never writes the cart. The dedupe key only changes when the cart does, so repeated
// reminders for the same cart state collapse downstream.
func (s *cartService) remind(ctx context.Context, cartID, channel string) error {
	if s.contacts == nil || s.notifications == nil {
		return fmt.Errorf("%w: reminders are not configured", ErrUnavailable)
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return validationError("cart id is required")
	}
	cart, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return mapRepositoryError("cart", err)
	}
	if cart.IsEmpty() {
		return fmt.Errorf("%w: cart %s is empty", ErrNotFound, cartID)
	}
	contact, err := s.contacts.Contact(ctx, cart.UserID)
	if err != nil {
		return fmt.Errorf("%w: contact for %s: %v", ErrNotFound, cart.UserID, err)
	}

	msg := s.reminderMessage(ReminderAbandonedCart, cart, contact, channel)
	fields := map[string]any{"cartId": cartID, "channel": channel, "dedupeKey": msg.DedupeKey}
	switch channel {
	case reminderChannelEmail:
		if msg.Email == "" {
			return validationError("customer %s has no email address", cart.UserID)
		}
		err = s.notifications.SendReminderEmail(ctx, msg)
	default:
		if msg.Phone == "" {
			return validationError("customer %s has no phone number", cart.UserID)
		}
		err = s.notifications.SendReminderSMS(ctx, msg)
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "cart.reminder.failed", fields)
		return fmt.Errorf("%w: send reminder: %v", ErrUnavailable, err)
	}
	s.logger(ctx, "cart.reminder.sent", fields)
	return nil
}

func (s *cartService) reminderMessage(kind string, cart Cart, contact domain.CustomerContact, channel string) ReminderMessage {
	items := 0
	for _, item := range cart.Items {
		items += item.Quantity
	}
	msg := ReminderMessage{
		Kind:        kind,
		UserID:      cart.UserID,
		Email:       strings.TrimSpace(contact.Email),
		Phone:       strings.TrimSpace(contact.Phone),
		DisplayName: contact.DisplayName,
		ItemCount:   items,
		CartValue:   domain.ItemsPrice(cart.Items),
		Currency:    cart.Currency,
		DedupeKey:   reminderDedupeKey(cart, channel, kind),
	}
	if s.storefrontURL != "" {
		msg.ResumeURL = s.storefrontURL + "/cart"
	}
	return msg
}

func reminderDedupeKey(cart Cart, channel, kind string) string {
	key := cart.ID + ":" + channel + ":" + strconv.FormatInt(cart.UpdatedAt.UnixMilli(), 10)
	if kind != ReminderAbandonedCart {
		key += ":" + kind
	}
	return key
}

func (s *cartService) load(ctx context.Context, uid string) (Cart, error) {
	cart, err := s.carts.Get(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{ID: uid, UserID: uid, Currency: s.currency}, nil
		}
		return Cart{}, mapRepositoryError("cart", err)
	}
	s.normalise(uid, &cart)
	return cart, nil
}

func (s *cartService) normalise(uid string, cart *Cart) {
	cart.ID = uid
	cart.UserID = uid
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
}

// errCartUnchanged aborts a mutation that has nothing to write.
var errCartUnchanged = errors.New("cart unchanged")

// mutate applies edit to the stored cart in a single read-modify-write, so concurrent edits and
// checkout never overwrite each other. Errors from edit are returned as-is.
func (s *cartService) mutate(ctx context.Context, uid string, now time.Time, edit func(cart *Cart) error) (Cart, error) {
	var unchanged Cart
	updated, err := s.carts.Update(ctx, uid, func(cart *domain.Cart) error {
		s.normalise(uid, cart)
		if err := edit(cart); err != nil {
			if errors.Is(err, errCartUnchanged) {
				unchanged = *cart
			}
			return err
		}
		if cart.CreatedAt.IsZero() {
			cart.CreatedAt = now
		}
		cart.UpdatedAt = now
		// A mutation restarts the expiry clock, so a fresh warning is due later.
		cart.ExpiryWarnedAt = nil
		return nil
	})
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, errCartUnchanged):
		return unchanged, nil
	case isRepoError(err):
		return Cart{}, mapRepositoryError("cart", err)
	default:
		return Cart{}, err
	}
}

// sellableProduct loads the product and checks the requested variant against its option set.
func (s *cartService) sellableProduct(ctx context.Context, productID string, options []VariantOption) (domain.Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, mapRepositoryError("product", err)
	}
	if !product.IsActive {
		return domain.Product{}, validationError("product %s is not available", productID)
	}
	for _, opt := range options {
		allowed, ok := lookupOption(product.VariantOptions, opt.Name)
		if !ok {
			return domain.Product{}, validationError("product %s has no option %q", productID, opt.Name)
		}
		if !slices.Contains(allowed, opt.Value) {
			return domain.Product{}, validationError("product %s option %s has no value %q", productID, opt.Name, opt.Value)
		}
	}
	return product, nil
}

func lookupOption(options map[string][]string, name string) ([]string, bool) {
	for key, values := range options {
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return values, true
		}
	}
	return nil, false
}

func checkAvailable(product domain.Product, quantity int) error {
	if quantity > product.Stock {
		return fmt.Errorf("%w: product %s has %d available", ErrOutOfStock, product.ID, product.Stock)
	}
	return nil
}

func snapshotLine(product domain.Product, options []VariantOption, quantity int, now time.Time) CartItem {
	return CartItem{
		ProductID:      product.ID,
		Name:           product.Name,
		Price:          product.Price,
		Quantity:       quantity,
		VariantOptions: options,
		AddedAt:        now,
	}
}

func findCartLine(items []CartItem, key string) int {
	return slices.IndexFunc(items, func(item CartItem) bool { return item.Key() == key })
}
