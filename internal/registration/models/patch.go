package models

import "time"

// SessionPatch is a shallow merge of session data: only fields the wizard
// actually sent are applied, everything else is left untouched. Pointer
// fields distinguish "not sent" (nil) from "sent empty".
type SessionPatch struct {
	Promoter *PromoterPatch `json:"promoter,omitempty"`
	School   *SchoolPatch   `json:"school,omitempty"`
	Payment  *PaymentPatch  `json:"payment,omitempty"`
}

type PromoterPatch struct {
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

type SchoolPatch struct {
	Name      *string `json:"name,omitempty"`
	Type      *string `json:"type,omitempty"`
	Country   *string `json:"country,omitempty"`
	City      *string `json:"city,omitempty"`
	Address   *string `json:"address,omitempty"`
	Subdomain *string `json:"subdomain,omitempty"`
}

type PaymentPatch struct {
	TransactionID *string `json:"transaction_id,omitempty"`
	AmountCents   *int64  `json:"amount_cents,omitempty"`
	Currency      *string `json:"currency,omitempty"`
	Status        *string `json:"status,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p SessionPatch) IsEmpty() bool {
	return p.Promoter == nil && p.School == nil && p.Payment == nil
}

// Apply merges the patch into the session and stamps UpdatedAt. Sub-records
// are created on first write. Verification state and the plan snapshot are
// deliberately not patchable here: those change only through VerifyCode and
// SelectPlan.
func (s *Session) Apply(patch SessionPatch, now time.Time) {
	if p := patch.Promoter; p != nil {
		if s.Promoter == nil {
			s.Promoter = &Promoter{}
		}
		if p.Email != nil && *p.Email != s.Promoter.Email {
			s.Promoter.Email = *p.Email
			// A new address needs its own verification round.
			s.Promoter.EmailVerified = false
		}
		applyString(&s.Promoter.FirstName, p.FirstName)
		applyString(&s.Promoter.LastName, p.LastName)
		applyString(&s.Promoter.Phone, p.Phone)
	}

	if p := patch.School; p != nil {
		if s.School == nil {
			s.School = &School{}
		}
		applyString(&s.School.Name, p.Name)
		applyString(&s.School.Type, p.Type)
		applyString(&s.School.Country, p.Country)
		applyString(&s.School.City, p.City)
		applyString(&s.School.Address, p.Address)
		applyString(&s.School.Subdomain, p.Subdomain)
	}

	if p := patch.Payment; p != nil {
		if s.Payment == nil {
			s.Payment = &Payment{}
		}
		applyString(&s.Payment.TransactionID, p.TransactionID)
		applyString(&s.Payment.Currency, p.Currency)
		applyString(&s.Payment.Status, p.Status)
		if p.AmountCents != nil {
			s.Payment.AmountCents = *p.AmountCents
		}
	}

	s.Touch(now)
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
