package booking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/travel-ledger/ledger"
)

// Audit actions of the account subsystem.
const (
	AuditCustomerRegistered ledger.AuditAction = "customer_registered"
	AuditProviderRegistered ledger.AuditAction = "provider_registered"
	AuditCustomerUpdated    ledger.AuditAction = "customer_updated"
	AuditProviderUpdated    ledger.AuditAction = "provider_updated"
	AuditFundsDeposited     ledger.AuditAction = "funds_deposited"
	AuditProviderRated      ledger.AuditAction = "provider_rated"
)

// RegisterCustomer creates the caller's customer account with the starting
// balance.
func (e *Engine) RegisterCustomer(ctx context.Context, caller Identity, name, contact string) (*Customer, error) {
	var out *Customer
	err := e.update(ctx, "RegisterCustomer", AuditCustomerRegistered, caller, func(tx *txn) error {
		exists, err := tx.exists(customerKey(caller))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: customer %s", ErrAlreadyExists, caller)
		}
		c := &Customer{
			ID:        caller,
			Name:      name,
			Contact:   optional(contact),
			Balance:   tx.cfg.CustomerStartingBalance,
			CreatedAt: tx.now,
		}
		tx.putCustomer(c)
		tx.audit(string(caller), "balance", c.Balance.String())
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterProvider creates the caller's provider account.
func (e *Engine) RegisterProvider(ctx context.Context, caller Identity, reg ProviderRegistration) (*Provider, error) {
	var out *Provider
	err := e.update(ctx, "RegisterProvider", AuditProviderRegistered, caller, func(tx *txn) error {
		exists, err := tx.exists(providerKey(caller))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: provider %s", ErrAlreadyExists, caller)
		}
		rating := 0.0
		if reg.Rating != nil {
			if err := validateRating(*reg.Rating); err != nil {
				return err
			}
			rating = *reg.Rating
		}
		p := &Provider{
			ID:              caller,
			Name:            reg.Name,
			Contact:         optional(reg.Contact),
			Rating:          rating,
			ServiceProvider: reg.ServiceProvider,
			Balance:         tx.cfg.ProviderStartingBalance,
			CreatedAt:       tx.now,
		}
		tx.putProvider(p)
		tx.audit(string(caller), "service_provider", reg.ServiceProvider, "balance", p.Balance.String())
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCustomerDetails changes the caller's display name and contact. Empty
// values keep the current ones. anonymous replaces the name with
// AnonymousName and clears the contact, whatever else was supplied.
func (e *Engine) UpdateCustomerDetails(ctx context.Context, caller Identity, name, contact string, anonymous bool) (*Customer, error) {
	var out *Customer
	err := e.update(ctx, "UpdateCustomerDetails", AuditCustomerUpdated, caller, func(tx *txn) error {
		c, err := tx.customer(caller)
		if err != nil {
			return err
		}
		c.Name, c.Contact = applyDetails(c.Name, c.Contact, name, contact, anonymous)
		tx.putCustomer(c)
		tx.audit(string(caller), "anonymous", strconv.FormatBool(anonymous))
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProviderDetails is UpdateCustomerDetails for providers. Rating and
// balance are untouched.
func (e *Engine) UpdateProviderDetails(ctx context.Context, caller Identity, name, contact string, anonymous bool) (*Provider, error) {
	var out *Provider
	err := e.update(ctx, "UpdateProviderDetails", AuditProviderUpdated, caller, func(tx *txn) error {
		p, err := tx.provider(caller)
		if err != nil {
			return err
		}
		p.Name, p.Contact = applyDetails(p.Name, p.Contact, name, contact, anonymous)
		tx.putProvider(p)
		tx.audit(string(caller), "anonymous", strconv.FormatBool(anonymous))
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DepositFunds adds a positive amount to the caller's balance.
func (e *Engine) DepositFunds(ctx context.Context, caller Identity, amount decimal.Decimal) (*Customer, error) {
	var out *Customer
	err := e.update(ctx, "DepositFunds", AuditFundsDeposited, caller, func(tx *txn) error {
		c, err := tx.customer(caller)
		if err != nil {
			return err
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
		}
		c.Balance = c.Balance.Add(amount)
		tx.putCustomer(c)
		tx.audit(string(caller), "amount", amount.String(), "balance", c.Balance.String())
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RateProvider folds rating into the running average of the provider that
// operated the ticket's travel option. Only the ticket's customer may rate,
// and only once departure is reached.
func (e *Engine) RateProvider(ctx context.Context, caller Identity, ticketID ledger.Key, rating float64, now time.Time) (*Provider, error) {
	var out *Provider
	err := e.update(ctx, "RateProvider", AuditProviderRated, caller, func(tx *txn) error {
		t, err := tx.ticket(ticketID)
		if err != nil {
			return err
		}
		if t.CustomerID != caller {
			return fmt.Errorf("%w: ticket belongs to another customer", ErrNotAuthorized)
		}
		o, err := tx.option(t.TravelOptionID)
		if err != nil {
			return err
		}
		if now.Before(o.DepartsAt) {
			return fmt.Errorf("%w: rating opens at departure %s", ErrTooEarly, o.DepartsAt.Format(time.RFC3339))
		}
		if err := validateRating(rating); err != nil {
			return err
		}
		p, err := tx.provider(o.ProviderID)
		if err != nil {
			return err
		}
		n := float64(p.NumRatings)
		p.Rating = (p.Rating*n + rating) / (n + 1)
		p.NumRatings++
		tx.putProvider(p)
		tx.audit(string(p.ID),
			"ticket", ticketID.String(),
			"rating", strconv.FormatFloat(rating, 'f', -1, 64))
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func validateRating(r float64) error {
	if r < 0 || r > 5 || r != r {
		return fmt.Errorf("%w: got %v", ErrInvalidRating, r)
	}
	return nil
}

func applyDetails(curName string, curContact *string, name, contact string, anonymous bool) (string, *string) {
	if anonymous {
		return AnonymousName, nil
	}
	if name != "" {
		curName = name
	}
	if contact != "" {
		curContact = optional(contact)
	}
	return curName, curContact
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
