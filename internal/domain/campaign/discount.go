package campaign

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Calculate returns the discount the campaign grants on an order of the given
// amount. shippingCost is only consulted by free-shipping discounts. The
// result is rounded to 2 decimal places once, after all clamping, and is never
// negative.
func Calculate(c *Campaign, orderAmount, shippingCost decimal.Decimal) decimal.Decimal {
	orderAmount = floorAtZero(orderAmount)

	switch c.Discount.Type {
	case DiscountPercentage:
		amount := orderAmount.Mul(c.Discount.Value).Div(hundred)
		if c.Discount.MaxDiscountAmount.Valid {
			amount = decimal.Min(amount, c.Discount.MaxDiscountAmount.Decimal)
		}
		return clamp(amount, orderAmount)
	case DiscountFixed:
		return clamp(c.Discount.Value, orderAmount)
	case DiscountFreeShipping:
		shippingCost = floorAtZero(shippingCost)
		return clamp(shippingCost, shippingCost)
	default:
		return decimal.Zero
	}
}

// clamp bounds amount to [0, upper] and rounds it to cents. The upper bound is
// re-applied after rounding so a half-cent never rounds above it.
func clamp(amount, upper decimal.Decimal) decimal.Decimal {
	amount = floorAtZero(decimal.Min(amount, upper)).Round(2)
	return decimal.Min(amount, upper)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
