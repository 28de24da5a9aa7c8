package models

import (
	"fmt"

	dErrors "examtrack/pkg/domain-errors"
)

// Step identifies one stage of the registration wizard. Steps are strictly
// ordered; the flow service only ever moves one step at a time.
type Step string

const (
	StepPreRegistration   Step = "pre_registration"
	StepEmailVerification Step = "email_verification"
	StepProfile           Step = "profile"
	StepPlanSelection     Step = "plan_selection"
	StepPayment           Step = "payment"
	StepKYC               Step = "kyc"
	StepActivation        Step = "activation"
)

// stepOrder defines the wizard sequence. Index positions are the single
// source of truth for forward/backward movement.
var stepOrder = []Step{
	StepPreRegistration,
	StepEmailVerification,
	StepProfile,
	StepPlanSelection,
	StepPayment,
	StepKYC,
	StepActivation,
}

var stepIndex = func() map[Step]int {
	m := make(map[Step]int, len(stepOrder))
	for i, s := range stepOrder {
		m[s] = i
	}
	return m
}()

// Steps returns the ordered step sequence.
func Steps() []Step {
	return append([]Step{}, stepOrder...)
}

// ParseStep validates a step identifier from its wire form.
func ParseStep(s string) (Step, error) {
	step := Step(s)
	if !step.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown step %q", s))
	}
	return step, nil
}

func (s Step) String() string { return string(s) }

func (s Step) IsValid() bool {
	_, ok := stepIndex[s]
	return ok
}

// Index returns the position of the step in the wizard order.
func (s Step) Index() int {
	return stepIndex[s]
}

// Next returns the following step, capped at the last one.
func (s Step) Next() Step {
	i := s.Index()
	if i >= len(stepOrder)-1 {
		return stepOrder[len(stepOrder)-1]
	}
	return stepOrder[i+1]
}

// Prev returns the preceding step, floored at the first one.
func (s Step) Prev() Step {
	i := s.Index()
	if i <= 0 {
		return stepOrder[0]
	}
	return stepOrder[i-1]
}

// IsLast reports whether this is the final wizard step.
func (s Step) IsLast() bool {
	return s.Index() == len(stepOrder)-1
}

// After reports whether s comes strictly after other in the wizard order.
func (s Step) After(other Step) bool {
	return s.Index() > other.Index()
}
