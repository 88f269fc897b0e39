package services

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PricingPolicy is the server-side authority for shipping and discounts.
// A zero FreeShippingThreshold disables free shipping.
type PricingPolicy struct {
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

func (p PricingPolicy) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if p.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.ShippingFee.Round(2)
}

// Discount applies percent to subtotal, rounded to cents and never above
// the subtotal itself.
func (p PricingPolicy) Discount(subtotal, percent decimal.Decimal) decimal.Decimal {
	if !percent.IsPositive() {
		return decimal.Zero
	}
	d := subtotal.Mul(percent).Div(hundred).Round(2)
	if d.GreaterThan(subtotal) {
		return subtotal
	}
	return d
}

// Total is subtotal - discount + shipping.
func Total(subtotal, discount, shipping decimal.Decimal) decimal.Decimal {
	return subtotal.Sub(discount).Add(shipping)
}
