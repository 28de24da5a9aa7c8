package handler

import (
	"examtrack/internal/registration/models"
	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
)

// startRequest optionally names a previous session to resume. An empty body
// always starts fresh.
type startRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

func (r startRequest) previous() (*id.SessionID, error) {
	if r.SessionID == "" {
		return nil, nil
	}
	sessionID, err := id.ParseSessionID(r.SessionID)
	if err != nil {
		return nil, err
	}
	return &sessionID, nil
}

type advanceRequest struct {
	Password        string `json:"password,omitempty"`
	PasswordConfirm string `json:"password_confirm,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (r verifyRequest) validate() error {
	if r.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "verification code is required")
	}
	return nil
}

type selectPlanRequest struct {
	PlanID string `json:"plan_id"`
}

type paymentRequest struct {
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Status        string `json:"status,omitempty"`
}

func (r paymentRequest) toModel() models.Payment {
	return models.Payment{
		TransactionID: r.TransactionID,
		AmountCents:   r.AmountCents,
		Currency:      r.Currency,
		Status:        r.Status,
	}
}
