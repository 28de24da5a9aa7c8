package handler

import (
	"examtrack/internal/catalog"
	"examtrack/internal/registration/models"
	"examtrack/internal/registration/service"
)

// sessionResponse is the session envelope every funnel endpoint returns.
// pending_save drives the wizard's "saving…" indicator.
type sessionResponse struct {
	Session     *models.Session `json:"session"`
	ResumeStep  string          `json:"resume_step"`
	PendingSave bool            `json:"pending_save"`
	// OnboardingToken appears once, on the advance that completes the funnel.
	OnboardingToken string `json:"onboarding_token,omitempty"`
}

func fromView(view *service.View) sessionResponse {
	return sessionResponse{
		Session:         view.Session,
		ResumeStep:      string(view.ResumeStep),
		PendingSave:     view.PendingSave,
		OnboardingToken: view.OnboardingToken,
	}
}

type plansResponse struct {
	Plans []catalog.Plan `json:"plans"`
}
