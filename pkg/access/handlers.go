package access

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sraphaz/araponga/pkg/observability"
)

// Handlers provides HTTP handlers for access checks and grant lifecycle
// operations. This is the service's internal surface for the platform's
// other components; end-user traffic never reaches it directly.
type Handlers struct {
	evaluator    *Evaluator
	memberships  *MembershipService
	capabilities *CapabilityService
	permissions  *PermissionService
	logger       *observability.Logger
}

// NewHandlers creates the access HTTP handlers.
func NewHandlers(
	evaluator *Evaluator,
	memberships *MembershipService,
	capabilities *CapabilityService,
	permissions *PermissionService,
	logger *observability.Logger,
) *Handlers {
	return &Handlers{
		evaluator:    evaluator,
		memberships:  memberships,
		capabilities: capabilities,
		permissions:  permissions,
		logger:       logger,
	}
}

// RegisterRoutes registers all access routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Access checks
	router.HandleFunc("/access/check", h.Check).Methods("POST")
	router.HandleFunc("/access/users/{user_id}/territories/{territory_id}/role", h.GetRole).Methods("GET")

	// Membership lifecycle
	router.HandleFunc("/memberships", h.EnterTerritory).Methods("POST")
	router.HandleFunc("/memberships/residency", h.GrantResidency).Methods("POST")
	router.HandleFunc("/memberships/verification", h.SetVerification).Methods("POST")
	router.HandleFunc("/memberships", h.RevokeMembership).Methods("DELETE")

	// Capability lifecycle
	router.HandleFunc("/capabilities", h.GrantCapability).Methods("POST")
	router.HandleFunc("/capabilities/{id}", h.RevokeCapability).Methods("DELETE")

	// System permission lifecycle
	router.HandleFunc("/permissions", h.GrantPermission).Methods("POST")
	router.HandleFunc("/permissions/{id}", h.RevokePermission).Methods("DELETE")
}

// Check query names accepted on /access/check.
const (
	CheckCapability       = "has_capability"
	CheckSystemPermission = "has_system_permission"
	CheckResident         = "is_resident"
	CheckCreateStore      = "can_create_store"
	CheckCreateItem       = "can_create_item"
)

// Check answers a single authorization question.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Query          string `json:"query"`
		UserID         string `json:"user_id"`
		TerritoryID    string `json:"territory_id,omitempty"`
		CapabilityType string `json:"capability_type,omitempty"`
		PermissionType string `json:"permission_type,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var allowed bool
	var err error
	switch req.Query {
	case CheckCapability:
		allowed, err = h.evaluator.HasCapability(ctx, req.UserID, req.TerritoryID, CapabilityType(req.CapabilityType))
	case CheckSystemPermission:
		allowed, err = h.evaluator.HasSystemPermission(ctx, req.UserID, PermissionType(req.PermissionType))
	case CheckResident:
		allowed, err = h.evaluator.IsResident(ctx, req.UserID, req.TerritoryID)
	case CheckCreateStore:
		allowed, err = h.evaluator.CanCreateStore(ctx, req.UserID, req.TerritoryID)
	case CheckCreateItem:
		allowed, err = h.evaluator.CanCreateItem(ctx, req.UserID, req.TerritoryID)
	default:
		http.Error(w, "Unknown query", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   req.Query,
		"allowed": allowed,
	})
}

// GetRole returns the user's role in a territory, null when no membership.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, err := h.evaluator.GetRole(r.Context(), vars["user_id"], vars["territory_id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"role": role})
}

// EnterTerritory creates a visitor membership.
func (h *Handlers) EnterTerritory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"user_id"`
		TerritoryID string `json:"territory_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	membership, err := h.memberships.EnterTerritory(r.Context(), req.UserID, req.TerritoryID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, membership)
}

// GrantResidency promotes a membership to the resident role.
func (h *Handlers) GrantResidency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"user_id"`
		TerritoryID string `json:"territory_id"`
		GrantedBy   string `json:"granted_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	membership, err := h.memberships.GrantResidency(r.Context(), req.UserID, req.TerritoryID, req.GrantedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, membership)
}

// SetVerification records a residency verification outcome.
func (h *Handlers) SetVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       string `json:"user_id"`
		TerritoryID  string `json:"territory_id"`
		Verification string `json:"verification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	membership, err := h.memberships.SetVerification(r.Context(), req.UserID, req.TerritoryID, ResidencyVerification(req.Verification))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, membership)
}

// RevokeMembership ends a membership and its capabilities.
func (h *Handlers) RevokeMembership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"user_id"`
		TerritoryID string `json:"territory_id"`
		RevokedBy   string `json:"revoked_by"`
		Reason      string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.memberships.RevokeMembership(r.Context(), req.UserID, req.TerritoryID, req.RevokedBy, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GrantCapability grants an elevated capability on a membership.
func (h *Handlers) GrantCapability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"user_id"`
		TerritoryID    string `json:"territory_id"`
		CapabilityType string `json:"capability_type"`
		GrantedBy      string `json:"granted_by"`
		Reason         string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	grant, err := h.capabilities.Grant(r.Context(), req.UserID, req.TerritoryID, CapabilityType(req.CapabilityType), req.GrantedBy, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, grant)
}

// RevokeCapability revokes a capability grant by id.
func (h *Handlers) RevokeCapability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RevokedBy string `json:"revoked_by"`
		Reason    string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.capabilities.Revoke(r.Context(), mux.Vars(r)["id"], req.RevokedBy, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GrantPermission grants a platform-wide permission.
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"user_id"`
		PermissionType string `json:"permission_type"`
		GrantedBy      string `json:"granted_by"`
		Reason         string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	grant, err := h.permissions.Grant(r.Context(), req.UserID, PermissionType(req.PermissionType), req.GrantedBy, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, grant)
}

// RevokePermission revokes a system permission grant by id.
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RevokedBy string `json:"revoked_by"`
		Reason    string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.permissions.Revoke(r.Context(), mux.Vars(r)["id"], req.RevokedBy, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && h.logger != nil {
		h.logger.WithError(err).Error("failed to encode response")
	}
}

// writeError maps domain error codes onto HTTP statuses. Unavailable maps to
// 503, never 403: callers must be able to tell "cannot determine" from
// "denied".
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case IsNotFound(err):
		status = http.StatusNotFound
	case IsConflict(err):
		status = http.StatusConflict
	case IsInvalidArgument(err):
		status = http.StatusBadRequest
	case IsUnavailable(err):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 && h.logger != nil {
		h.logger.WithError(err).Error("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
