package payments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/platform/httpx"
	"github.com/duepilot/duepilot/internal/shared"
)

// CycleReader serves billing-cycle lookups for the API.
type CycleReader interface {
	GetCycle(ctx context.Context, orgID uuid.UUID, month string) (*BillingCycle, error)
}

// Handler exposes the payment webhook and cycle lookup.
type Handler struct {
	svc      *Service
	events   CycleReader
	validate *validator.Validate
}

// NewHandler constructs a handler.
func NewHandler(svc *Service, events CycleReader) *Handler {
	return &Handler{
		svc:      svc,
		events:   events,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the payment endpoints. The webhook takes its own rate
// limiter when one is given; providers retry aggressively on timeouts and
// would otherwise burn the caller's global budget.
func (h *Handler) RegisterRoutes(r chi.Router, webhookLimiter func(http.Handler) http.Handler) {
	if webhookLimiter != nil {
		r.With(webhookLimiter).Post("/webhooks/payments", h.webhook)
	} else {
		r.Post("/webhooks/payments", h.webhook)
	}
	r.Post("/events/{eventID}/reverse", h.reverse)
	r.Get("/orgs/{orgID}/billing/{month}", h.cycle)
}

type webhookRequest struct {
	OrgID     uuid.UUID `json:"org_id" validate:"required"`
	InvoiceID uuid.UUID `json:"invoice_id" validate:"required"`
	Amount    float64   `json:"amount" validate:"required,gt=0"`
	PaidAt    time.Time `json:"paid_at" validate:"required"`
	Source    string    `json:"source" validate:"required"`
	Reference string    `json:"reference"`
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	event, err := h.svc.RecordPayment(r.Context(), PaymentNotice{
		OrgID:     req.OrgID,
		InvoiceID: req.InvoiceID,
		Amount:    req.Amount,
		PaidAt:    req.PaidAt,
		Source:    req.Source,
		Reference: req.Reference,
	})
	switch {
	case errors.Is(err, shared.ErrDuplicateEvent):
		// Webhook senders retry; a duplicate is success from their side.
		httpx.JSON(w, http.StatusOK, map[string]any{"deduplicated": true})
	case errors.Is(err, shared.ErrLockHeld):
		httpx.Problem(w, http.StatusConflict, "Conflict", "payment for this invoice is being processed, retry shortly")
	case errors.Is(err, shared.ErrOverpayment):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Overpayment", "payment exceeds the amount due")
	case err != nil:
		respondPaymentsError(w, err)
	default:
		httpx.JSON(w, http.StatusCreated, eventResponse(event))
	}
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid event id")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
			return
		}
	}
	comp, err := h.svc.Reverse(r.Context(), eventID, body.Reason)
	if err != nil {
		respondPaymentsError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, eventResponse(comp))
}

func (h *Handler) cycle(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid organization id")
		return
	}
	cycle, err := h.events.GetCycle(r.Context(), orgID, chi.URLParam(r, "month"))
	if err != nil {
		respondPaymentsError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cycle)
}

func respondPaymentsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ar.ErrNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "resource not found")
	default:
		httpx.RespondError(w, err)
	}
}

func eventResponse(e *RecoveryEvent) map[string]any {
	return map[string]any{
		"id":           e.ID,
		"invoice_id":   e.InvoiceID,
		"amount":       e.PaymentAmount,
		"days_overdue": e.DaysOverdue,
		"attribution":  e.Attribution,
		"fee_percent":  e.FeePercent,
		"fee_amount":   e.FeeAmount,
		"status":       e.Status,
	}
}
