// Package steps holds the per-step validation rules of the registration
// wizard as a strategy table: one pure validator per step, keyed by step
// identifier. Adding a step means adding a table entry, not editing a
// central conditional.
package steps

import (
	"examtrack/internal/registration/models"
)

// FieldErrors maps field names to human-readable messages. A field absent
// from the map is valid, regardless of whether it was previously invalid.
type FieldErrors map[string]string

// IsClean reports whether validation passed.
func (f FieldErrors) IsClean() bool { return len(f) == 0 }

// Input carries transient values that belong to the current advance attempt
// but are never stored on the session, such as raw credentials.
type Input struct {
	Password        string
	PasswordConfirm string
}

// Validator inspects a session snapshot (plus transient input) and returns
// an error map. Validators never mutate and never touch the network;
// remote checks (code verification, availability) are the flow service's
// responsibility after the pure rules pass.
type Validator func(s *models.Session, in Input) FieldErrors

var rules = map[models.Step]Validator{
	models.StepPreRegistration:   validatePreRegistration,
	models.StepEmailVerification: validateEmailVerification,
	models.StepProfile:           validateProfile,
	models.StepPlanSelection:     validatePlanSelection,

	// Payment and KYC rules are intentionally not enforced yet: both are
	// deferred to the payment gateway's own validation. Activation has
	// nothing left to validate.
	models.StepPayment:    validateNothing,
	models.StepKYC:        validateNothing,
	models.StepActivation: validateNothing,
}

// Validate runs the rule for the given step. Steps without a registered
// rule validate clean so the table stays the single source of truth.
func Validate(step models.Step, s *models.Session, in Input) FieldErrors {
	rule, ok := rules[step]
	if !ok {
		return FieldErrors{}
	}
	return rule(s, in)
}

func validateNothing(*models.Session, Input) FieldErrors {
	return FieldErrors{}
}
