package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
)

type cartFixture struct {
	svc           CartService
	carts         *memCartRepository
	products      *memProductRepository
	notifications *recordingNotifications
}

func newCartFixture(t *testing.T, now time.Time, carts ...domain.Cart) cartFixture {
	t.Helper()
	products := newMemProductRepository(
		domain.Product{ID: "tee", Name: "Tee", Price: 1500, Stock: 10, IsActive: true,
			VariantOptions: map[string][]string{"size": {"M", "L"}, "colour": {"red", "blue"}}},
		domain.Product{ID: "mug", Name: "Mug", Price: 800, Stock: 3, IsActive: true},
		domain.Product{ID: "retired", Name: "Retired", Price: 100, Stock: 5, IsActive: false},
	)
	cartRepo := newMemCartRepository(carts...)
	notifications := &recordingNotifications{}
	svc, err := NewCartService(CartServiceDeps{
		Carts:         cartRepo,
		Products:      products,
		Pricing:       newTestPricing(t, newMemCouponRepository()),
		Contacts:      stubContacts{"u1": {UserID: "u1", Email: "u1@example.com"}, "u2": {UserID: "u2"}},
		Notifications: notifications,
		Settings:      domain.StoreSettings{Checkout: domain.CheckoutSettings{Currency: "usd"}},
		StorefrontURL: "https://shop.example/",
		Clock:         fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return cartFixture{svc: svc, carts: cartRepo, products: products, notifications: notifications}
}

func TestCartServiceGetCartReturnsEmptyCartWhenMissing(t *testing.T) {
	fx := newCartFixture(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	cart, err := fx.svc.GetCart(context.Background(), " u1 ")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if cart.UserID != "u1" || cart.Currency != "USD" || len(cart.Items) != 0 {
		t.Fatalf("unexpected cart %+v", cart)
	}
	if fx.carts.saves != 0 {
		t.Fatalf("reading a missing cart must not create one")
	}
}

func TestCartServiceConcurrentAddsKeepEveryUnit(t *testing.T) {
	fx := newCartFixture(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	options := []VariantOption{{Name: "size", Value: "M"}}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fx.svc.AddItem(context.Background(), AddCartItemCommand{UserID: "u1", ProductID: "tee", VariantOptions: options, Quantity: 1}); err != nil {
				t.Errorf("AddItem: %v", err)
			}
		}()
	}
	wg.Wait()

	cart, ok := fx.carts.cart("u1")
	if !ok || len(cart.Items) != 1 || cart.Items[0].Quantity != 8 {
		t.Fatalf("expected a single tee line with 8 units, got %+v", cart.Items)
	}
}

func TestCartServiceAddItemMergesSameVariant(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	fx := newCartFixture(t, now)
	ctx := context.Background()

	options := []VariantOption{{Name: "Size", Value: "M"}, {Name: "colour", Value: "red"}}
	if _, err := fx.svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "tee", Quantity: 1, VariantOptions: options}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	// Same options in a different order and case address the same line.
	reordered := []VariantOption{{Name: "colour", Value: "red"}, {Name: "SIZE", Value: "M"}}
	cart, err := fx.svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "tee", Quantity: 2, VariantOptions: reordered})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 {
		t.Fatalf("expected one merged line of 3, got %+v", cart.Items)
	}
	if cart.Items[0].Price != 1500 || cart.Items[0].Name != "Tee" {
		t.Fatalf("expected price snapshot, got %+v", cart.Items[0])
	}

	cart, err = fx.svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "tee", Quantity: 1, VariantOptions: []VariantOption{{Name: "size", Value: "L"}}})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("expected a second line for another variant, got %d", len(cart.Items))
	}
	if !cart.UpdatedAt.Equal(now) || !cart.CreatedAt.Equal(now) {
		t.Fatalf("expected timestamps set to now, got %+v", cart)
	}
}

func TestCartServiceAddItemKeepsPriceSnapshot(t *testing.T) {
	fx := newCartFixture(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	if _, err := fx.svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "mug", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	p := fx.products.products["mug"]
	p.Price = 9999
	fx.products.products["mug"] = p

	cart, err := fx.svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", ProductID: "mug", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if cart.Items[0].Price != 800 {
		t.Fatalf("expected original price 800 to stick, got %d", cart.Items[0].Price)
	}
}

func TestCartServiceAddItemRejections(t *testing.T) {
	fx := newCartFixture(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	tests := []struct {
		name string
		cmd  AddCartItemCommand
		want error
	}{
		{name: "zero quantity", cmd: AddCartItemCommand{UserID: "u1", ProductID: "mug"}, want: ErrValidation},
		{name: "inactive", cmd: AddCartItemCommand{UserID: "u1", ProductID: "retired", Quantity: 1}, want: ErrValidation},
		{name: "unknown product", cmd: AddCartItemCommand{UserID: "u1", ProductID: "ghost", Quantity: 1}, want: ErrNotFound},
		{name: "unknown option", cmd: AddCartItemCommand{UserID: "u1", ProductID: "tee", Quantity: 1, VariantOptions: []VariantOption{{Name: "fit", Value: "slim"}}}, want: ErrValidation},
		{name: "unknown value", cmd: AddCartItemCommand{UserID: "u1", ProductID: "tee", Quantity: 1, VariantOptions: []VariantOption{{Name: "size", Value: "XXL"}}}, want: ErrValidation},
		{name: "beyond stock", cmd: AddCartItemCommand{UserID: "u1", ProductID: "mug", Quantity: 4}, want: ErrOutOfStock},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := fx.svc.AddItem(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCartServiceUpdateAndRemove(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	existing := domain.Cart{ID: "u1", UserID: "u1", Currency: "USD", UpdatedAt: now.Add(-time.Hour), Items: []CartItem{
		{ProductID: "mug", Name: "Mug", Price: 800, Quantity: 1},
		{ProductID: "tee", Name: "Tee", Price: 1500, Quantity: 1, VariantOptions: []VariantOption{{Name: "size", Value: "M"}}},
	}}
	fx := newCartFixture(t, now, existing)
	ctx := context.Background()

	cart, err := fx.svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{UserID: "u1", ProductID: "mug", Quantity: 3})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", cart.Items[0].Quantity)
	}
	if _, err := fx.svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{UserID: "u1", ProductID: "mug", Quantity: 0}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
	if _, err := fx.svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{UserID: "u1", ProductID: "tee", Quantity: 2}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for a line without its options, got %v", err)
	}
	if _, err := fx.svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{UserID: "u1", ProductID: "mug", Quantity: 4}); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}

	saves := fx.carts.saves
	cart, err = fx.svc.RemoveItem(ctx, RemoveCartItemCommand{UserID: "u1", ProductID: "ghost"})
	if err != nil {
		t.Fatalf("RemoveItem unknown: %v", err)
	}
	if len(cart.Items) != 2 || fx.carts.saves != saves {
		t.Fatalf("removing an unknown line must be a no-op")
	}
	cart, err = fx.svc.RemoveItem(ctx, RemoveCartItemCommand{UserID: "u1", ProductID: "tee", VariantOptions: []VariantOption{{Name: "size", Value: "M"}}})
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "mug" {
		t.Fatalf("unexpected items after remove: %+v", cart.Items)
	}

	if err := fx.svc.ClearCart(ctx, "u1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if _, ok := fx.carts.cart("u1"); ok {
		t.Fatalf("expected cart deleted")
	}
}

func TestCartServiceSyncTakesMaxQuantity(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	existing := domain.Cart{ID: "u1", UserID: "u1", Currency: "USD", Items: []CartItem{
		{ProductID: "mug", Name: "Mug", Price: 800, Quantity: 2},
		{ProductID: "tee", Name: "Tee", Price: 1500, Quantity: 1, VariantOptions: []VariantOption{{Name: "size", Value: "L"}}},
	}}
	fx := newCartFixture(t, now, existing)
	cmd := SyncCartCommand{UserID: "u1", Items: []SyncCartItem{
		{ProductID: "mug", Quantity: 1},
		{ProductID: "tee", Quantity: 4, VariantOptions: []VariantOption{{Name: "Size", Value: "L"}}},
		{ProductID: "tee", Quantity: 2, VariantOptions: []VariantOption{{Name: "size", Value: "M"}}},
		{ProductID: "retired", Quantity: 1},
	}}

	first, err := fx.svc.SyncCart(context.Background(), cmd)
	if err != nil {
		t.Fatalf("SyncCart: %v", err)
	}
	// Replaying the same sync must not inflate anything.
	second, err := fx.svc.SyncCart(context.Background(), cmd)
	if err != nil {
		t.Fatalf("SyncCart replay: %v", err)
	}

	for _, cart := range []Cart{first, second} {
		quantities := map[string]int{}
		for _, item := range cart.Items {
			quantities[item.Key()] = item.Quantity
		}
		want := map[string]int{"mug": 2, "tee|size=L": 4, "tee|size=M": 2}
		if len(quantities) != len(want) {
			t.Fatalf("expected %v, got %v", want, quantities)
		}
		for key, qty := range want {
			if quantities[key] != qty {
				t.Fatalf("expected %s=%d, got %v", key, qty, quantities)
			}
		}
	}
}

func TestCartServiceListAbandoned(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	fx := newCartFixture(t, now,
		domain.Cart{ID: "a", UserID: "a", UpdatedAt: now.Add(-3 * time.Hour), Items: []CartItem{{ProductID: "mug", Price: 800, Quantity: 2}}},
		domain.Cart{ID: "b", UserID: "b", UpdatedAt: now.Add(-30 * time.Minute), Items: []CartItem{{ProductID: "mug", Price: 800, Quantity: 1}}},
		domain.Cart{ID: "c", UserID: "c", UpdatedAt: now.Add(-50 * time.Hour), Items: []CartItem{{ProductID: "mug", Price: 800, Quantity: 1}}},
		domain.Cart{ID: "d", UserID: "d", UpdatedAt: now.Add(-5 * time.Hour)},
	)

	report, err := fx.svc.ListAbandoned(context.Background(), AbandonedCartFilter{HoursAgo: 1, DaysAgo: 1})
	if err != nil {
		t.Fatalf("ListAbandoned: %v", err)
	}
	if len(report.Carts) != 1 || report.Carts[0].ID != "a" {
		t.Fatalf("expected only cart a, got %+v", report.Carts)
	}
	if report.Stats.CartCount != 1 || report.Stats.ItemCount != 2 || report.Stats.TotalValue != 1600 {
		t.Fatalf("unexpected stats %+v", report.Stats)
	}

	for _, filter := range []AbandonedCartFilter{{HoursAgo: -1, DaysAgo: 1}, {HoursAgo: 1, DaysAgo: 0}, {HoursAgo: 48, DaysAgo: 2}} {
		if _, err := fx.svc.ListAbandoned(context.Background(), filter); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", filter, err)
		}
	}
}

func TestCartServiceRemindersUseStableDedupeKey(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	updated := now.Add(-2 * time.Hour)
	fx := newCartFixture(t, now,
		domain.Cart{ID: "u1", UserID: "u1", Currency: "USD", UpdatedAt: updated, Items: []CartItem{{ProductID: "mug", Price: 800, Quantity: 2}}},
		domain.Cart{ID: "u2", UserID: "u2", Currency: "USD", UpdatedAt: updated, Items: []CartItem{{ProductID: "mug", Price: 800, Quantity: 1}}},
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := fx.svc.RemindByEmail(ctx, "u1"); err != nil {
			t.Fatalf("RemindByEmail: %v", err)
		}
	}
	if len(fx.notifications.emails) != 2 {
		t.Fatalf("expected two sends, got %d", len(fx.notifications.emails))
	}
	first, second := fx.notifications.emails[0], fx.notifications.emails[1]
	if first.DedupeKey != second.DedupeKey {
		t.Fatalf("expected identical dedupe keys, got %s and %s", first.DedupeKey, second.DedupeKey)
	}
	if first.CartValue != 1600 || first.ItemCount != 2 || first.ResumeURL != "https://shop.example/cart" {
		t.Fatalf("unexpected message %+v", first)
	}
	if fx.carts.saves != 0 {
		t.Fatalf("reminders must not write the cart")
	}
	cart, _ := fx.carts.cart("u1")
	if !cart.UpdatedAt.Equal(updated) {
		t.Fatalf("reminder changed updatedAt")
	}

	if err := fx.svc.RemindBySMS(ctx, "u2"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing phone, got %v", err)
	}
	if err := fx.svc.RemindByEmail(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
