// Package handler exposes the registration funnel over HTTP. Handlers stay
// thin: decode, call the flow service, translate errors.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"examtrack/internal/catalog"
	"examtrack/internal/registration/availability"
	"examtrack/internal/registration/models"
	"examtrack/internal/registration/service"
	"examtrack/internal/registration/steps"
	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
	"examtrack/pkg/platform/httputil"
)

// Service is the flow surface the handlers call.
type Service interface {
	StartOrResume(ctx context.Context, previous *id.SessionID) (*service.View, error)
	Get(ctx context.Context, sessionID id.SessionID) (*service.View, error)
	Save(ctx context.Context, sessionID id.SessionID, patch models.SessionPatch) (*service.View, error)
	Advance(ctx context.Context, sessionID id.SessionID, in steps.Input) (*service.View, steps.FieldErrors, error)
	Back(ctx context.Context, sessionID id.SessionID) (*service.View, error)
	Cancel(ctx context.Context, sessionID id.SessionID, reason string) (*service.View, error)
	SendVerificationCode(ctx context.Context, sessionID id.SessionID) error
	VerifyCode(ctx context.Context, sessionID id.SessionID, code string) (*service.View, error)
	SelectPlan(ctx context.Context, sessionID id.SessionID, planID id.PlanID) (*service.View, error)
	RecordPayment(ctx context.Context, sessionID id.SessionID, payment models.Payment) (*service.View, error)
	ListPlans(ctx context.Context) ([]catalog.Plan, error)
	CheckSubdomain(ctx context.Context, value string, exclude id.SessionID) (availability.Result, error)
	CheckEmail(ctx context.Context, value string, exclude id.SessionID) (availability.Result, error)
}

// Handler wires funnel endpoints to the flow service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a registration handler.
func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the funnel endpoints on the router. The caller decides
// the prefix (normally /v1/registration).
func (h *Handler) Register(r chi.Router) {
	r.Post("/sessions", h.HandleStart)
	r.Get("/sessions/{sessionID}", h.HandleGet)
	r.Patch("/sessions/{sessionID}", h.HandleSave)
	r.Post("/sessions/{sessionID}/advance", h.HandleAdvance)
	r.Post("/sessions/{sessionID}/back", h.HandleBack)
	r.Post("/sessions/{sessionID}/cancel", h.HandleCancel)
	r.Post("/sessions/{sessionID}/verification-code", h.HandleSendCode)
	r.Post("/sessions/{sessionID}/verify", h.HandleVerify)
	r.Post("/sessions/{sessionID}/plan", h.HandleSelectPlan)
	r.Post("/sessions/{sessionID}/payment", h.HandleRecordPayment)
	r.Get("/plans", h.HandleListPlans)
	r.Get("/availability", h.HandleAvailability)
}

// HandleStart handles POST /sessions: start a fresh session, or resume the
// one named in the body when it is still live.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	previous, err := req.previous()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	view, err := h.service.StartOrResume(r.Context(), previous)
	if err != nil {
		h.writeError(w, r, "start session", err)
		return
	}

	status := http.StatusCreated
	if previous != nil && view.Session.ID == *previous {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, fromView(view))
}

// HandleGet handles GET /sessions/{sessionID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, "get session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromView(view))
}

// HandleSave handles PATCH /sessions/{sessionID}: merge partial data and
// schedule the debounced write.
func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var patch models.SessionPatch
	if !h.decode(w, r, &patch) {
		return
	}

	view, err := h.service.Save(r.Context(), sessionID, patch)
	if err != nil {
		h.writeError(w, r, "save session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromView(view))
}

// HandleAdvance handles POST /sessions/{sessionID}/advance. Validation
// failures come back as 422 with the field error map.
func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req advanceRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	view, fieldErrors, err := h.service.Advance(r.Context(), sessionID, steps.Input{
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		h.writeError(w, r, "advance session", err)
		return
	}
	if !fieldErrors.IsClean() {
		httputil.WriteFieldErrors(w, fieldErrors)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromView(view))
}

// HandleBack handles POST /sessions/{sessionID}/back.
func (h *Handler) HandleBack(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	view, err := h.service.Back(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, "rewind session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromView(view))
}

// HandleCancel handles POST /sessions/{sessionID}/cancel.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	view, err := h.service.Cancel(r.Context(), sessionID, req.Reason)
	if err != nil {
		h.writeError(w, r, "cancel session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromView(view))
}

// HandleSendCode handles POST /sessions/{sessionID}/verification-code.
func (h *Handler) HandleSendCode(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.service.SendVerificationCode(r.Context(), sessionID); err != nil {
		h.writeError(w, r, "send verification code", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// HandleVerify handles POST /sessions/{sessionID}/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	view, err := h.service.VerifyCode(r.Context(), sessionID, req.Code)
	if err != nil {
		h.writeError(w, r, "verify code", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromView(view))
}

// HandleSelectPlan handles POST /sessions/{sessionID}/plan.
func (h *Handler) HandleSelectPlan(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req selectPlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	planID, err := id.ParsePlanID(req.PlanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	view, err := h.service.SelectPlan(r.Context(), sessionID, planID)
	if err != nil {
		h.writeError(w, r, "select plan", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromView(view))
}

// HandleRecordPayment handles POST /sessions/{sessionID}/payment.
func (h *Handler) HandleRecordPayment(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.RecordPayment(r.Context(), sessionID, req.toModel())
	if err != nil {
		h.writeError(w, r, "record payment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromView(view))
}

// HandleListPlans handles GET /plans.
func (h *Handler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		h.writeError(w, r, "list plans", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plansResponse{Plans: plans})
}

// HandleAvailability handles GET /availability?field=subdomain|email&value=…
// with an optional session_id whose own claims are ignored.
func (h *Handler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	value := r.URL.Query().Get("value")

	var exclude id.SessionID
	if raw := r.URL.Query().Get("session_id"); raw != "" {
		parsed, err := id.ParseSessionID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		exclude = parsed
	}

	var (
		result availability.Result
		err    error
	)
	switch field {
	case "subdomain":
		result, err = h.service.CheckSubdomain(r.Context(), value, exclude)
	case "email":
		result, err = h.service.CheckEmail(r.Context(), value, exclude)
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "field must be subdomain or email"))
		return
	}
	if err != nil {
		h.writeError(w, r, "availability check", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (id.SessionID, bool) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.SessionID{}, false
	}
	return sessionID, true
}

// decode reads a required JSON body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body must be valid JSON"))
		return false
	}
	return true
}

// decodeOptional tolerates an absent body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body must be valid JSON"))
	return false
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	}
	httputil.WriteError(w, err)
}
