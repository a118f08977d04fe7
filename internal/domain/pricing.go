package domain

import (
	"sort"
	"strings"
)

// PricingBreakdown captures the monetary results of pricing a cart.
type PricingBreakdown struct {
	Currency      string
	ItemsPrice    int64
	ShippingPrice int64
	TaxPrice      int64
	Discount      int64
	TotalPrice    int64
	CouponCode    string
}

// ComputeTotal returns items + shipping + tax - discount clamped at zero.
func ComputeTotal(itemsPrice, shippingPrice, taxPrice, discount int64) int64 {
	total := itemsPrice + shippingPrice + taxPrice - discount
	if total < 0 {
		return 0
	}
	return total
}

// ItemsPrice sums the stored price snapshots of the cart lines.
func ItemsPrice(items []CartItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// CartItemKey builds the identity key of a line: the product id followed by its variant options
// sorted by name then value. Option names are matched case-insensitively.
func CartItemKey(productID string, options []VariantOption) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(productID))
	for _, opt := range NormalizeVariantOptions(options) {
		b.WriteByte('|')
		b.WriteString(opt.Name)
		b.WriteByte('=')
		b.WriteString(opt.Value)
	}
	return b.String()
}

// NormalizeVariantOptions trims, lowercases names, drops blanks and sorts the options.
func NormalizeVariantOptions(options []VariantOption) []VariantOption {
	if len(options) == 0 {
		return nil
	}
	out := make([]VariantOption, 0, len(options))
	for _, opt := range options {
		name := strings.ToLower(strings.TrimSpace(opt.Name))
		value := strings.TrimSpace(opt.Value)
		if name == "" || value == "" {
			continue
		}
		out = append(out, VariantOption{Name: name, Value: value})
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].Value < out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}
