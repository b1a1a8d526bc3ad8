package booking

import (
	"time"

	"github.com/shopspring/decimal"
)

// moneyPlaces is the precision every stored amount is rounded to.
const moneyPlaces = 2

var (
	// surchargeRate scales occupancy into the price multiplier.
	surchargeRate = decimal.RequireFromString("0.5")
	// maxMultiplier caps the dynamic price relative to the base price.
	maxMultiplier = decimal.RequireFromString("1.5")
)

// RefundTier is a share of the price returned on cancellation.
type RefundTier struct {
	MinNotice time.Duration
	Share     decimal.Decimal
}

// RefundTiers are checked in order; the first whose notice is met applies.
// Less than 24 hours of notice refunds nothing.
var RefundTiers = []RefundTier{
	{MinNotice: 48 * time.Hour, Share: decimal.NewFromInt(1)},
	{MinNotice: 24 * time.Hour, Share: decimal.RequireFromString("0.8")},
}

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(moneyPlaces)
}

// DynamicPrice prices the next seat of an option from the seats already
// occupied before the booking:
//
//	price = base * (1 + occupancy*0.5), capped at base*1.5
//
// The result is rounded to cents and kept within [base, base*1.5].
func DynamicPrice(base decimal.Decimal, capacity, available int) PricingBreakdown {
	occupancy := decimal.Zero
	if capacity > 0 {
		occupancy = decimal.NewFromInt(int64(capacity - available)).
			Div(decimal.NewFromInt(int64(capacity)))
	}
	factor := decimal.NewFromInt(1).Add(occupancy.Mul(surchargeRate))
	if factor.GreaterThan(maxMultiplier) {
		factor = maxMultiplier
	}

	ceiling := base.Mul(maxMultiplier)
	price := roundMoney(base.Mul(factor))
	if price.GreaterThan(ceiling) {
		price = ceiling
	}
	if price.LessThan(base) {
		price = base
	}

	return PricingBreakdown{
		BasePrice:       base,
		OccupancyFactor: occupancy.Round(4),
		DynamicFactor:   factor.Round(4),
		DynamicPrice:    price,
	}
}

// Refund returns the part of pricePaid returned when a ticket departing at
// departsAt is cancelled at now.
func Refund(pricePaid decimal.Decimal, departsAt, now time.Time) decimal.Decimal {
	notice := departsAt.Sub(now)
	for _, tier := range RefundTiers {
		if notice >= tier.MinNotice {
			return roundMoney(pricePaid.Mul(tier.Share))
		}
	}
	return decimal.Zero
}
