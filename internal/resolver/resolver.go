// Package resolver derives a normalized shipping profile from a storefront order.
//
// Each profile field is resolved by walking a fixed, priority-ordered list of sources and
// taking the first non-blank trimmed value. Resolution never fails: every field except
// email ends at a literal default. Truncation to destination limits is left to the
// courier and fiscal adapters.
package resolver

import (
	"strings"

	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/textutil"
)

const (
	DefaultName     = "Customer"
	DefaultAddress  = "Address Not Provided"
	DefaultPhone    = "+374 00 000 000"
	DefaultCity     = "Yerevan"
	DefaultProvince = "Yerevan"
)

// Source names reported in ShippingProfile.Sources
const (
	SourceOrder          = "order"
	SourceShipping       = "shipping_address"
	SourceBilling        = "billing_address"
	SourceCustomer       = "customer"
	SourceDefaultAddress = "customer.default_address"
	SourceContactEmail   = "order.contact_email"
	SourceEmailLocalPart = "email_local_part"
	SourceDefault        = "default"
	SourceNone           = "none"
)

type candidate struct {
	source string
	value  string
}

// first returns the first candidate whose trimmed value is not blank
func first(fallbackSource, fallback string, candidates ...candidate) (string, string) {
	for _, c := range candidates {
		if v := strings.TrimSpace(c.value); v != "" {
			return v, c.source
		}
	}
	return fallback, fallbackSource
}

// Resolve builds the shipping profile for order. It is pure and total.
func Resolve(order *domain.Order) domain.ShippingProfile {
	if order == nil {
		order = &domain.Order{}
	}
	shipping := addrOrEmpty(order.ShippingAddress)
	billing := addrOrEmpty(order.BillingAddress)
	customer := order.Customer
	if customer == nil {
		customer = &domain.Customer{}
	}
	def := addrOrEmpty(customer.DefaultAddress)

	p := domain.ShippingProfile{Sources: make(map[string]string, 6)}

	p.Email, p.Sources["email"] = first(SourceNone, "",
		candidate{SourceOrder, order.Email},
		candidate{SourceContactEmail, order.ContactEmail},
		candidate{SourceCustomer, customer.Email},
	)

	p.Name, p.Sources["name"] = first(SourceDefault, DefaultName,
		candidate{SourceShipping, addressName(shipping)},
		candidate{SourceBilling, addressName(billing)},
		candidate{SourceCustomer, textutil.JoinNonBlank(" ", customer.FirstName, customer.LastName)},
		candidate{SourceDefaultAddress, addressName(def)},
		candidate{SourceEmailLocalPart, localPart(p.Email)},
	)

	p.Address, p.Sources["address"] = first(SourceDefault, DefaultAddress,
		candidate{SourceShipping, addressLine(shipping)},
		candidate{SourceBilling, addressLine(billing)},
		candidate{SourceDefaultAddress, addressLine(def)},
	)

	p.Phone, p.Sources["phone"] = first(SourceDefault, DefaultPhone,
		candidate{SourceOrder, order.Phone},
		candidate{SourceShipping, shipping.Phone},
		candidate{SourceBilling, billing.Phone},
		candidate{SourceCustomer, customer.Phone},
		candidate{SourceDefaultAddress, def.Phone},
	)

	p.City, p.Sources["city"] = first(SourceDefault, DefaultCity,
		candidate{SourceShipping, shipping.City},
		candidate{SourceBilling, billing.City},
		candidate{SourceDefaultAddress, def.City},
	)

	p.Province, p.Sources["province"] = first(SourceDefault, DefaultProvince,
		candidate{SourceShipping, shipping.Province},
		candidate{SourceBilling, billing.Province},
		candidate{SourceDefaultAddress, def.Province},
	)

	return p
}

// Resolver wraps Resolve with a diagnostic trace of the winning sources.
type Resolver struct {
	logger *zap.Logger
}

// New creates a resolver that logs its source trace at debug level
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve resolves the profile and records which source satisfied each field
func (r *Resolver) Resolve(order *domain.Order) domain.ShippingProfile {
	p := Resolve(order)
	var id string
	if order != nil {
		id = order.ID.String()
	}
	r.logger.Debug("Resolved shipping profile",
		zap.String("order_id", id),
		zap.Any("sources", p.Sources),
	)
	return p
}

func addrOrEmpty(a *domain.Address) domain.Address {
	if a == nil {
		return domain.Address{}
	}
	return *a
}

// addressName prefers first+last and falls back to the address' combined name field
func addressName(a domain.Address) string {
	if n := textutil.JoinNonBlank(" ", a.FirstName, a.LastName); n != "" {
		return n
	}
	return a.Name
}

func addressLine(a domain.Address) string {
	return textutil.JoinNonBlank(" ", a.Address1, a.Address2)
}

func localPart(email string) string {
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	if at <= 0 {
		return ""
	}
	return email[:at]
}
