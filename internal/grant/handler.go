package grant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/nandasafiqal/access-grant-management/internal/auth"
	auditDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/audit"
	"github.com/nandasafiqal/access-grant-management/internal/transport"
	"github.com/nandasafiqal/access-grant-management/pkg/logger"
)

type ServiceAPI interface {
	CreateGrant(ctx context.Context, actor *auth.Actor, dto CreateGrantDTO) (*Grant, error)
	ApproveGrant(ctx context.Context, actor *auth.Actor, grantID string, dto ApproveGrantDTO) (*Grant, error)
	RejectGrant(ctx context.Context, actor *auth.Actor, grantID string, dto RejectGrantDTO) (*Grant, error)
	ExtendGrant(ctx context.Context, actor *auth.Actor, grantID string, dto ExtendGrantDTO) (*Grant, error)
	RevokeGrant(ctx context.Context, actor *auth.Actor, grantID string, dto RevokeGrantDTO) (*Grant, error)
	GetGrantByID(actor *auth.Actor, grantID string) (*Grant, error)
	ListGrantsByStatus(actor *auth.Actor, status string, limit, offset int) ([]*Grant, error)
	ListGrantsBySubject(actor *auth.Actor, subjectEmail string, limit, offset int) ([]*Grant, error)
	ListExpiringGrants(actor *auth.Actor, withinDays int) ([]*Grant, error)
	GetAuditTrail(actor *auth.Actor, grantID string, limit, offset int) ([]*auditDatamodel.Entry, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.Logger.Error("CreateGrant: actor not found in context")
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var dto CreateGrantDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("CreateGrant: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if dto.IdempotencyKey == "" {
		dto.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	g, err := h.Service.CreateGrant(r.Context(), actor, dto)
	if err != nil {
		h.Logger.Error("CreateGrant: service error", "error", err, "subject", dto.SubjectEmail)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreateGrant: grant created",
		"grant_id", g.ID,
		"subject", g.SubjectEmail,
		"status", g.GrantStatus)

	h.WriteJSON(w, http.StatusCreated, g)
}

func (h *Handler) GetGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	g, err := h.Service.GetGrantByID(actor, chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = StatusPendingApproval
	}
	limit, offset := pagination(r)

	grants, err := h.Service.ListGrantsByStatus(actor, status, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"grants": grants,
		"status": status,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) ListExpiringGrants(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	withinDays := 30
	if daysStr := r.URL.Query().Get("within_days"); daysStr != "" {
		if d, err := strconv.Atoi(daysStr); err == nil && d > 0 && d <= 365 {
			withinDays = d
		}
	}

	grants, err := h.Service.ListExpiringGrants(actor, withinDays)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"grants":      grants,
		"within_days": withinDays,
	})
}

func (h *Handler) ListSubjectGrants(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, offset := pagination(r)
	grants, err := h.Service.ListGrantsBySubject(actor, chi.URLParam(r, "email"), limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"grants": grants,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) ApproveGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	grantID := chi.URLParam(r, "id")

	var dto ApproveGrantDTO
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	g, err := h.Service.ApproveGrant(r.Context(), actor, grantID, dto)
	if err != nil {
		h.Logger.Error("ApproveGrant: service error", "error", err, "grant_id", grantID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("ApproveGrant: grant approved", "grant_id", grantID, "approved_by", actor.Email)
	h.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) RejectGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	grantID := chi.URLParam(r, "id")

	var dto RejectGrantDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	g, err := h.Service.RejectGrant(r.Context(), actor, grantID, dto)
	if err != nil {
		h.Logger.Error("RejectGrant: service error", "error", err, "grant_id", grantID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("RejectGrant: grant rejected", "grant_id", grantID, "rejected_by", actor.Email)
	h.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) ExtendGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	grantID := chi.URLParam(r, "id")

	var dto ExtendGrantDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	g, err := h.Service.ExtendGrant(r.Context(), actor, grantID, dto)
	if err != nil {
		h.Logger.Error("ExtendGrant: service error", "error", err, "grant_id", grantID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("ExtendGrant: grant extended",
		"grant_id", grantID,
		"additional_days", dto.AdditionalDays,
		"new_expires_at", g.ExpiresAt)
	h.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	grantID := chi.URLParam(r, "id")

	var dto RevokeGrantDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	g, err := h.Service.RevokeGrant(r.Context(), actor, grantID, dto)
	if err != nil {
		h.Logger.Error("RevokeGrant: service error", "error", err, "grant_id", grantID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("RevokeGrant: grant revoked", "grant_id", grantID, "revoked_by", actor.Email)
	h.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	grantID := chi.URLParam(r, "id")
	limit, offset := pagination(r)

	entries, err := h.Service.GetAuditTrail(actor, grantID, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"grant_id": grantID,
		"entries":  entries,
		"limit":    limit,
		"offset":   offset,
	})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}
