// Package catalog holds the subscription plans a school can pick during
// registration.
package catalog

import (
	id "examtrack/pkg/domain"
)

// Plan is a purchasable subscription tier. Prices are integer minor units;
// BillingCycle is "monthly" or "yearly".
type Plan struct {
	ID           id.PlanID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	PriceCents   int64     `json:"price_cents"`
	Currency     string    `json:"currency"`
	BillingCycle string    `json:"billing_cycle"`
	MaxStudents  int       `json:"max_students,omitempty"`
	Features     []string  `json:"features,omitempty"`
	Active       bool      `json:"active"`
}
