package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agendazap/backend/internal/conversation/app"
	"github.com/agendazap/backend/internal/conversation/domain"
	"github.com/agendazap/backend/internal/platform/httpmw"
)

// ConversationHandler exposes the conversation-history operations over HTTP.
type ConversationHandler struct {
	service  *app.Service
	validate *validator.Validate
	logger   *slog.Logger
}

func NewConversationHandler(service *app.Service, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With("handler", "conversation"),
	}
}

// RegisterRoutes mounts the public routes; admin routes go behind the JWT
// middleware supplied by the caller.
func (h *ConversationHandler) RegisterRoutes(r chi.Router, adminAuth func(http.Handler) http.Handler) {
	r.Post("/messages", h.handleStoreMessage)
	r.Post("/messages/system", h.handleStoreSystemMessage)
	r.Get("/conversations/{phone}", h.handleGetConversation)
	r.Get("/conversations/{phone}/context", h.handleGetRecentContext)
	r.Get("/conversations/{phone}/summary", h.handleGetSummary)
	r.Post("/conversations/search", h.handleSearch)

	r.Group(func(r chi.Router) {
		r.Use(adminAuth)
		r.Post("/conversations/export", h.handleExport)
		r.Get("/admin/stats", h.handleStats)
		r.Post("/admin/cleanup", h.handleCleanup)
	})
}

func (h *ConversationHandler) handleStoreMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chiMiddleware.GetReqID(ctx))

	var req StoreMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request payload", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.jsonError(w, "Validation failed", err.Error(), http.StatusBadRequest)
		return
	}

	tenantID, _ := uuid.Parse(req.TenantID)
	opts := app.StoreOptions{Intent: req.Intent, Confidence: req.Confidence}
	if req.UserID != nil {
		userID, _ := uuid.Parse(*req.UserID)
		opts.UserID = &userID
	}

	stored, err := h.service.StoreMessage(ctx, req.Message, tenantID, req.UserName, opts)
	if err != nil {
		logger.ErrorContext(ctx, "store message failed", "error", err)
		h.jsonError(w, "Failed to store message", "", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, StoreMessageResponse{
		ID:        stored.ID.String(),
		MessageID: stored.MessageID,
		CreatedAt: stored.CreatedAt,
	})
}

func (h *ConversationHandler) handleStoreSystemMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chiMiddleware.GetReqID(ctx))

	var req StoreSystemMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request payload", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.jsonError(w, "Validation failed", err.Error(), http.StatusBadRequest)
		return
	}

	tenantID, _ := uuid.Parse(req.TenantID)
	stored, err := h.service.StoreSystemMessage(ctx, tenantID, req.PhoneNumber, req.UserName, req.Content,
		app.StoreOptions{MessageID: req.MessageID, Intent: req.Intent})
	if err != nil {
		logger.ErrorContext(ctx, "store system message failed", "error", err)
		h.jsonError(w, "Failed to store message", "", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, StoreMessageResponse{
		ID:        stored.ID.String(),
		MessageID: stored.MessageID,
		CreatedAt: stored.CreatedAt,
	})
}

func (h *ConversationHandler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	phone := chi.URLParam(r, "phone")

	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.jsonError(w, "Invalid or missing tenant_id", "", http.StatusBadRequest)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			h.jsonError(w, "Invalid limit", "", http.StatusBadRequest)
			return
		}
	}

	var before *time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.jsonError(w, "Invalid before timestamp, expected RFC3339", "", http.StatusBadRequest)
			return
		}
		before = &t
	}

	messages, err := h.service.GetConversationByPhone(ctx, phone, tenantID, limit, before)
	if err != nil {
		if errors.Is(err, app.ErrInvalidLimit) {
			h.jsonError(w, "Invalid limit", "", http.StatusBadRequest)
			return
		}
		h.jsonError(w, "Failed to load conversation", "", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (h *ConversationHandler) handleGetRecentContext(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.jsonError(w, "Invalid or missing tenant_id", "", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	// Fail-soft by contract: this endpoint always answers 200.
	entries := h.service.GetRecentContext(r.Context(), phone, tenantID, limit)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"context": entries})
}

func (h *ConversationHandler) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.jsonError(w, "Invalid or missing tenant_id", "", http.StatusBadRequest)
		return
	}

	summary, err := h.service.GetConversationSummary(r.Context(), phone, tenantID)
	if err != nil {
		h.jsonError(w, "Failed to load summary", "", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *ConversationHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	params, ok := h.decodeSearch(w, r)
	if !ok {
		return
	}

	result, err := h.service.SearchConversations(r.Context(), params)
	if err != nil {
		h.jsonError(w, "Search failed", "", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *ConversationHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	params, ok := h.decodeSearch(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="conversation_history.csv"`)
	if _, err := h.service.ExportConversationHistory(r.Context(), params, w); err != nil {
		// Headers are already out; the truncated body is the best we can do.
		h.logger.ErrorContext(r.Context(), "export aborted mid-stream", "error", err)
	}
}

func (h *ConversationHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.jsonError(w, "Invalid or missing tenant_id", "", http.StatusBadRequest)
		return
	}

	var start, end *time.Time
	if v := r.URL.Query().Get("start_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = &t
		}
	}
	if v := r.URL.Query().Get("end_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = &t
		}
	}

	stats, err := h.service.GetConversationStats(r.Context(), tenantID, start, end)
	if err != nil {
		h.jsonError(w, "Failed to load stats", "", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *ConversationHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admin, ok := ctx.Value(httpmw.AuthenticatedAdminContextKey).(httpmw.AuthenticatedAdmin)
	if !ok || !admin.IsAdmin {
		h.jsonError(w, "Admin privileges required", "", http.StatusForbidden)
		return
	}

	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request payload", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.jsonError(w, "Validation failed", err.Error(), http.StatusBadRequest)
		return
	}

	tenantID := uuid.Nil
	if req.TenantID != "" {
		tenantID, _ = uuid.Parse(req.TenantID)
	}

	result, err := h.service.CleanupOldConversations(ctx, tenantID, req.RetentionDays)
	if err != nil {
		h.jsonError(w, "Cleanup failed", "", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *ConversationHandler) decodeSearch(w http.ResponseWriter, r *http.Request) (domain.SearchParams, bool) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request payload", err.Error(), http.StatusBadRequest)
		return domain.SearchParams{}, false
	}
	if err := h.validate.Struct(&req); err != nil {
		h.jsonError(w, "Validation failed", err.Error(), http.StatusBadRequest)
		return domain.SearchParams{}, false
	}

	tenantID, _ := uuid.Parse(req.TenantID)
	params := domain.SearchParams{
		PhoneNumber: req.PhoneNumber,
		TenantID:    tenantID,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		MessageType: domain.MessageType(req.MessageType),
		Intent:      req.Intent,
		IsFromUser:  req.IsFromUser,
		Limit:       req.Limit,
		Offset:      req.Offset,
	}
	if req.UserID != nil {
		userID, _ := uuid.Parse(*req.UserID)
		params.UserID = &userID
	}
	return params, true
}

func (h *ConversationHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

func (h *ConversationHandler) jsonError(w http.ResponseWriter, message, details string, status int) {
	h.writeJSON(w, status, GenericErrorResponse{Error: message, Details: details})
}
