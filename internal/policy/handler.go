package policy

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/nandasafiqal/access-grant-management/internal/auth"
	"github.com/nandasafiqal/access-grant-management/internal/transport"
	"github.com/nandasafiqal/access-grant-management/pkg/logger"
)

type UpdatePolicyDTO struct {
	DefaultDurationDays int  `json:"default_duration_days"`
	AutoApprove         bool `json:"auto_approve"`
}

type Handler struct {
	*transport.BaseHandler
	Store       *Store
	Permissions auth.PermissionChecker
}

func NewHandler(store *Store, permissions auth.PermissionChecker) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Store:       store,
		Permissions: permissions,
	}
}

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	_, ok := auth.ActorFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	policies, err := h.Store.List()
	if err != nil {
		h.Logger.Error("ListPolicies: failed to list policies", "error", err)
		h.WriteError(w, http.StatusInternalServerError, "failed to list policies")
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.Permissions.CanManagePolicies(actor) {
		h.Logger.Warn("UpdatePolicy: insufficient permissions", "actor", actor.Email)
		h.WriteError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	var dto UpdatePolicyDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	level := chi.URLParam(r, "level")
	p, err := h.Store.Update(level, dto.DefaultDurationDays, dto.AutoApprove)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("UpdatePolicy: policy updated", "permission_level", level, "actor", actor.Email)
	h.WriteJSON(w, http.StatusOK, p)
}
