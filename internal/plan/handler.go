package plan

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/platform/httpx"
)

// Handler exposes the plan review API.
type Handler struct {
	svc *Service
}

// NewHandler constructs a handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the plan endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/orgs/{orgID}/plans/pending", h.pending)
	r.Post("/orgs/{orgID}/plans/generate", h.generate)
	r.Post("/plans/{planID}/approve", h.approve)
	r.Post("/plans/{planID}/reject", h.reject)
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid organization id")
		return
	}
	p, err := h.svc.Pending(r.Context(), orgID)
	if err != nil {
		respondPlanError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, planResponse(p))
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid organization id")
		return
	}
	p, err := h.svc.Generate(r.Context(), orgID)
	if err != nil {
		respondPlanError(w, err)
		return
	}
	if p == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"plan": nil})
		return
	}
	httpx.JSON(w, http.StatusCreated, planResponse(p))
}

type approveRequest struct {
	InvoiceIDs []uuid.UUID `json:"invoice_ids"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid plan id")
		return
	}
	var req approveRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
			return
		}
	}
	p, err := h.svc.Approve(r.Context(), planID, req.InvoiceIDs)
	if err != nil {
		respondPlanError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, planResponse(p))
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid plan id")
		return
	}
	if err := h.svc.Reject(r.Context(), planID); err != nil {
		respondPlanError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusRejected)})
}

func respondPlanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "plan not found")
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func planResponse(p *ActionPlan) map[string]any {
	return map[string]any{
		"id":                    p.ID,
		"org_id":                p.OrgID,
		"status":                p.Status,
		"generated_at":          p.Snapshot.GeneratedAt,
		"analyses":              p.Snapshot.Analyses,
		"alerts":                p.Snapshot.Alerts,
		"items":                 p.Items,
		"total_amount_at_risk":  p.TotalAmountAtRisk,
		"projected_recovery":    p.ProjectedRecovery,
		"projected_success_fee": p.ProjectedSuccessFee,
	}
}
