package booking

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the marketplace economics. Zero fields take the defaults in
// withDefaults.
type Config struct {
	CustomerStartingBalance decimal.Decimal
	ProviderStartingBalance decimal.Decimal
	// ListingFee is debited from the provider for every new travel option.
	ListingFee decimal.Decimal
	// BookingFee is debited from the customer on top of the ticket price.
	BookingFee decimal.Decimal
	// Location interprets departure dates and times.
	Location *time.Location
}

// DefaultConfig returns the standard marketplace economics.
func DefaultConfig() Config {
	return Config{
		CustomerStartingBalance: decimal.NewFromInt(1000),
		ProviderStartingBalance: decimal.NewFromInt(100),
		ListingFee:              decimal.NewFromInt(5),
		BookingFee:              decimal.NewFromInt(5),
		Location:                time.UTC,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CustomerStartingBalance.IsZero() {
		c.CustomerStartingBalance = d.CustomerStartingBalance
	}
	if c.ProviderStartingBalance.IsZero() {
		c.ProviderStartingBalance = d.ProviderStartingBalance
	}
	if c.ListingFee.IsZero() {
		c.ListingFee = d.ListingFee
	}
	if c.BookingFee.IsZero() {
		c.BookingFee = d.BookingFee
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}
