package booking_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/travel-ledger/booking"
)

func TestDynamicPrice(t *testing.T) {
	base := decimal.NewFromInt(100)
	tests := []struct {
		name      string
		capacity  int
		available int
		want      string
	}{
		{"empty option charges base", 2, 2, "100"},
		{"half full adds a quarter", 2, 1, "125"},
		{"two thirds full", 3, 1, "133.33"},
		{"last seat of ten", 10, 1, "145"},
		{"fully occupied hits the cap", 4, 0, "150"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := booking.DynamicPrice(base, tt.capacity, tt.available)
			assertMoney(t, tt.want, got.DynamicPrice)
			assertMoney(t, "100", got.BasePrice)
		})
	}
}

func TestDynamicPrice_BoundedAndMonotonic(t *testing.T) {
	for _, raw := range []string{"0.01", "1", "99.99", "100", "1234.57"} {
		base := decimal.RequireFromString(raw)
		ceiling := base.Mul(decimal.RequireFromString("1.5"))
		for capacity := 1; capacity <= 25; capacity++ {
			prev := decimal.Zero
			for available := capacity; available >= 0; available-- {
				price := booking.DynamicPrice(base, capacity, available).DynamicPrice
				assert.False(t, price.LessThan(base), "base %s cap %d avail %d: %s below base", raw, capacity, available, price)
				assert.False(t, price.GreaterThan(ceiling), "base %s cap %d avail %d: %s above cap", raw, capacity, available, price)
				assert.False(t, price.LessThan(prev), "base %s cap %d: price fell as occupancy rose", raw, capacity)
				prev = price
			}
		}
	}
}

func TestRefund_Tiers(t *testing.T) {
	departs := t0.Add(72 * time.Hour)
	price := decimal.RequireFromString("125")
	tests := []struct {
		name   string
		notice time.Duration
		want   string
	}{
		{"three days", 72 * time.Hour, "125"},
		{"exactly 48h", 48 * time.Hour, "125"},
		{"just under 48h", 48*time.Hour - time.Second, "100"},
		{"exactly 24h", 24 * time.Hour, "100"},
		{"just under 24h", 24*time.Hour - time.Second, "0"},
		{"after departure", -time.Hour, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertMoney(t, tt.want, booking.Refund(price, departs, departs.Add(-tt.notice)))
		})
	}
}
