package service

import (
	"context"
	"errors"

	"examtrack/internal/registration/models"
	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
	"examtrack/pkg/platform/audit"
	"examtrack/pkg/platform/sentinel"
	"examtrack/pkg/requestcontext"
)

// SelectPlan snapshots the chosen plan onto the session. The price and
// billing cycle are copied so later catalog edits never change what the
// school agreed to.
func (s *Service) SelectPlan(ctx context.Context, sessionID id.SessionID, planID id.PlanID) (*View, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.CanMutate(); err != nil {
		return nil, err
	}

	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "subscription plan not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription plan")
	}
	if !plan.Active {
		return nil, dErrors.New(dErrors.CodeValidation, "this plan is no longer offered")
	}

	session.Plan = &models.Plan{
		ID:           plan.ID,
		Name:         plan.Name,
		PriceCents:   plan.PriceCents,
		Currency:     plan.Currency,
		BillingCycle: plan.BillingCycle,
	}
	session.Touch(requestcontext.Now(ctx))
	if err := s.persist(ctx, session); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.EventPlanSelected, session, plan.Name)
	return s.view(session), nil
}

// RecordPayment stores the payment gateway's result on the session. Amount
// and currency default from the plan snapshot when the gateway omits them.
func (s *Service) RecordPayment(ctx context.Context, sessionID id.SessionID, payment models.Payment) (*View, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.CanMutate(); err != nil {
		return nil, err
	}
	if session.Plan == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "select a plan before recording a payment")
	}
	if payment.TransactionID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "payment transaction id is required")
	}

	if payment.AmountCents == 0 {
		payment.AmountCents = session.Plan.PriceCents
	}
	if payment.Currency == "" {
		payment.Currency = session.Plan.Currency
	}
	session.Payment = &payment
	session.Touch(requestcontext.Now(ctx))
	if err := s.persist(ctx, session); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.EventPaymentRecorded, session, payment.Status)
	return s.view(session), nil
}
