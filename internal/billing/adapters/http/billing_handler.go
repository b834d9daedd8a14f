package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agendazap/backend/internal/billing/app"
	"github.com/agendazap/backend/internal/billing/domain"
	"github.com/agendazap/backend/internal/platform/httpmw"
)

// BillingHandler exposes the subscription lifecycle over HTTP. All routes
// except the plan catalog act on the authenticated caller's tenant.
type BillingHandler struct {
	service  *app.Service
	validate *validator.Validate
	logger   *slog.Logger
}

func NewBillingHandler(service *app.Service, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With("handler", "billing"),
	}
}

// RegisterRoutes mounts the billing routes behind the JWT middleware
// supplied by the caller. The plan catalog is public.
func (h *BillingHandler) RegisterRoutes(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/billing/plans", h.handleGetPlans)
	r.Get("/billing/plans/{planID}", h.handleGetPlan)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/billing/checkout", h.handleCheckout)
		r.Post("/billing/portal", h.handlePortal)
		r.Get("/billing/subscription", h.handleGetSubscription)
		r.Post("/billing/cancel", h.handleCancel)
		r.Post("/billing/cancel-now", h.handleCancelNow)
		r.Post("/billing/change-plan", h.handleChangePlan)
		r.Get("/billing/payments", h.handleListPayments)
	})
}

func (h *BillingHandler) handleGetPlans(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"plans": h.service.GetPlans()})
}

func (h *BillingHandler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.GetPlan(chi.URLParam(r, "planID"))
	if err != nil {
		h.jsonError(w, "Unknown plan", "", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

func (h *BillingHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.callerTenant(w, r)
	if !ok {
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request payload", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.jsonError(w, "Validation failed", err.Error(), http.StatusBadRequest)
		return
	}

	url, err := h.service.CreateCheckoutSession(ctx, tenantID, req.Email, req.PlanID)
	if err != nil {
		h.billingError(w, r, "Failed to create checkout session", err)
		return
	}
	h.writeJSON(w, http.StatusOK, CheckoutResponse{URL: url})
}

func (h *BillingHandler) handlePortal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.callerTenant(w, r)
	if !ok {
		return
	}

	url, err := h.service.CreateBillingPortalSession(r.Context(), tenantID)
	if err != nil {
		h.billingError(w, r, "Failed to create billing portal session", err)
		return
	}
	h.writeJSON(w, http.StatusOK, CheckoutResponse{URL: url})
}

func (h *BillingHandler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.callerTenant(w, r)
	if !ok {
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), tenantID)
	if err != nil {
		h.billingError(w, r, "Failed to load subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

func (h *BillingHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.callerTenant(w, r)
	if !ok {
		return
	}

	sub, err := h.service.CancelSubscription(r.Context(), tenantID)
	if err != nil {
		h.billingError(w, r, "Failed to cancel subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

func (h *BillingHandler) handleCancelNow(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.callerTenant(w, r)
	if !ok {
		return
	}

	if err := h.service.CancelSubscriptionImmediately(r.Context(), tenantID); err != nil {
		h.billingError(w, r, "Failed to cancel subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (h *BillingHandler) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.callerTenant(w, r)
	if !ok {
		return
	}

	var req ChangePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request payload", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.jsonError(w, "Validation failed", err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := h.service.ChangeSubscriptionPlan(r.Context(), tenantID, req.PlanID)
	if err != nil {
		h.billingError(w, r, "Failed to change plan", err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

func (h *BillingHandler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.callerTenant(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	payments, err := h.service.ListPayments(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.billingError(w, r, "Failed to load payments", err)
		return
	}
	if payments == nil {
		payments = []domain.PaymentRecord{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"payments": payments})
}

// callerTenant resolves the tenant from the authenticated identity.
func (h *BillingHandler) callerTenant(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	admin, ok := r.Context().Value(httpmw.AuthenticatedAdminContextKey).(httpmw.AuthenticatedAdmin)
	if !ok || admin.TenantID == "" {
		h.jsonError(w, "Tenant identity required", "", http.StatusForbidden)
		return uuid.Nil, false
	}
	tenantID, err := uuid.Parse(admin.TenantID)
	if err != nil {
		h.jsonError(w, "Invalid tenant identity", "", http.StatusForbidden)
		return uuid.Nil, false
	}
	return tenantID, true
}

// billingError maps domain sentinels onto HTTP statuses.
func (h *BillingHandler) billingError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownPlan):
		h.jsonError(w, "Unknown plan", "", http.StatusBadRequest)
	case errors.Is(err, domain.ErrNoSubscription), errors.Is(err, domain.ErrNotFound):
		h.jsonError(w, "No active subscription", "", http.StatusNotFound)
	case errors.Is(err, domain.ErrNoBillableItem):
		h.jsonError(w, "Subscription has no billable item", "", http.StatusConflict)
	default:
		h.logger.ErrorContext(r.Context(), "billing operation failed", "error", err)
		h.jsonError(w, message, "", http.StatusInternalServerError)
	}
}

func (h *BillingHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

func (h *BillingHandler) jsonError(w http.ResponseWriter, message, details string, status int) {
	h.writeJSON(w, status, GenericErrorResponse{Error: message, Details: details})
}
