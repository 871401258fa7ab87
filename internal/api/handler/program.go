package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/api/models"
	"github.com/stampwise/stampwise/internal/api/response"
	"github.com/stampwise/stampwise/internal/ledger"
	"github.com/stampwise/stampwise/internal/pass"
	"github.com/stampwise/stampwise/internal/telemetry"
)

// ChangePublisher enqueues the push fan-out after a card mutation. Backed
// by the Pub/Sub publisher in production and by a direct dispatcher in
// deployments without a broker.
type ChangePublisher interface {
	PublishPassChanged(ctx context.Context, passID string) error
}

// PassSource finds the pass records rendering a ledger entry.
type PassSource interface {
	FindByCustomerOfferPlatform(ctx context.Context, customerID, offerID string, platform pass.Platform) (*pass.Record, error)
}

// ProgramHandler implements the authenticated program surface: the
// scan/redeem entry points the POS backend calls.
type ProgramHandler struct {
	ledger    *ledger.Service
	passes    PassSource
	publisher ChangePublisher
	metrics   *telemetry.DomainMetrics
	logger    zerolog.Logger
	now       func() time.Time
}

// ProgramHandlerConfig holds configuration for the program handler.
type ProgramHandlerConfig struct {
	Ledger    *ledger.Service
	Passes    PassSource
	Publisher ChangePublisher
	Metrics   *telemetry.DomainMetrics
	Logger    zerolog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewProgramHandler creates a new program surface handler.
func NewProgramHandler(cfg ProgramHandlerConfig) *ProgramHandler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ProgramHandler{
		ledger:    cfg.Ledger,
		passes:    cfg.Passes,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       now,
	}
}

// GetCard handles GET /v1/program/cards/{cardId}.
func (h *ProgramHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	entry, err := h.ledger.Get(r.Context(), chi.URLParam(r, "cardId"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, h.toCard(entry))
}

// AddStamps handles POST /v1/program/cards/{cardId}/stamps. One call is
// one visit; count > 1 covers multi-stamp promotions.
func (h *ProgramHandler) AddStamps(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	var req models.StampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}
	if req.Count < 0 {
		response.BadRequest(w, r, "count must not be negative", []models.FieldError{
			{Field: "count", Message: "must be zero or positive", Code: "range"},
		})
		return
	}

	entry, err := h.ledger.AddStamp(r.Context(), cardID, req.Count)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	count := req.Count
	if count < 1 {
		count = 1
	}
	h.metrics.RecordStamps(r.Context(), count)
	h.publishChange(r.Context(), entry)
	response.JSON(w, r, http.StatusOK, h.toCard(entry))
}

// ClaimReward handles POST /v1/program/cards/{cardId}/claim: hands out the
// earned reward and resets the cycle.
func (h *ProgramHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	var req models.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}

	entry, err := h.ledger.ClaimReward(r.Context(), cardID, req.BranchID, req.Notes)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	h.publishChange(r.Context(), entry)
	response.JSON(w, r, http.StatusOK, h.toCard(entry))
}

// MarkFulfilled handles POST /v1/program/cards/{cardId}/fulfillment:
// records who handed out the reward without touching the cycle. No pass
// change is published; fulfillment metadata is not rendered on the pass.
func (h *ProgramHandler) MarkFulfilled(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	var req models.FulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}
	if req.BranchID == "" {
		response.BadRequest(w, r, "branchId is required", []models.FieldError{
			{Field: "branchId", Message: "must not be empty", Code: "required"},
		})
		return
	}

	entry, err := h.ledger.MarkRewardFulfilled(r.Context(), cardID, req.BranchID, req.Notes)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, h.toCard(entry))
}

func (h *ProgramHandler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrEntryNotFound):
		response.NotFound(w, r, "card not found")
	case errors.Is(err, ledger.ErrRewardNotEarned):
		response.InvalidState(w, r, "reward cycle is not completed")
	default:
		h.logger.Error().Err(err).Msg("ledger operation failed")
		response.InternalError(w, r, "card operation failed")
	}
}

// publishChange enqueues the fan-out for every pass rendering this entry.
// Best-effort: the ledger write is already durable, and registered devices
// converge on the next poll even if the push never goes out.
func (h *ProgramHandler) publishChange(ctx context.Context, entry *ledger.Entry) {
	if h.publisher == nil || h.passes == nil {
		return
	}
	for _, platform := range []pass.Platform{pass.PlatformApple, pass.PlatformGoogle} {
		rec, err := h.passes.FindByCustomerOfferPlatform(ctx, entry.CustomerID, entry.OfferID, platform)
		if err != nil {
			if !errors.Is(err, pass.ErrPassNotFound) {
				h.logger.Warn().Err(err).Str("ledger_entry_id", entry.ID).Msg("pass lookup for dispatch failed")
			}
			continue
		}
		if err := h.publisher.PublishPassChanged(ctx, rec.ID); err != nil {
			h.logger.Error().Err(err).Str("pass_id", rec.ID).Msg("pass change publish failed")
		}
	}
}

func (h *ProgramHandler) toCard(entry *ledger.Entry) models.Card {
	return models.Card{
		CustomerID:              entry.CustomerID,
		OfferID:                 entry.OfferID,
		CurrentStamps:           entry.CurrentStamps,
		MaxStamps:               entry.MaxStamps,
		IsCompleted:             entry.IsCompleted,
		CompletedAt:             entry.CompletedAt,
		RewardsClaimed:          entry.RewardsClaimed,
		FirstScanAt:             entry.FirstScanAt,
		LastScanAt:              entry.LastScanAt,
		TotalScans:              entry.TotalScans,
		ProgressPercentage:      entry.ProgressPercentage(),
		Remaining:               entry.Remaining(),
		CanClaim:                entry.CanClaim(),
		EstimatedDaysToComplete: entry.EstimatedDaysToComplete(h.now()),
	}
}
