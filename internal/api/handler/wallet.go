package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/api/models"
	"github.com/stampwise/stampwise/internal/api/response"
	"github.com/stampwise/stampwise/internal/device"
	"github.com/stampwise/stampwise/internal/logingest"
	"github.com/stampwise/stampwise/internal/pass"
	"github.com/stampwise/stampwise/internal/registration"
)

// WalletHandler implements the wallet web-service protocol. Status codes
// here are contractual: devices key their sync behavior off them, so every
// deviation shows up as passes that stop refreshing in the field.
type WalletHandler struct {
	passes        *pass.Service
	registrations *registration.Service
	devices       *device.Service
	logs          *logingest.Service
	passTypeID    string
	logger        zerolog.Logger
}

// WalletHandlerConfig holds configuration for the wallet handler.
type WalletHandlerConfig struct {
	Passes        *pass.Service
	Registrations *registration.Service
	Devices       *device.Service
	Logs          *logingest.Service

	// PassTypeID is the Apple pass type identifier this deployment serves.
	// Requests for any other pass type 404.
	PassTypeID string

	Logger zerolog.Logger
}

// NewWalletHandler creates a new wallet protocol handler.
func NewWalletHandler(cfg WalletHandlerConfig) *WalletHandler {
	return &WalletHandler{
		passes:        cfg.Passes,
		registrations: cfg.Registrations,
		devices:       cfg.Devices,
		logs:          cfg.Logs,
		passTypeID:    cfg.PassTypeID,
		logger:        cfg.Logger,
	}
}

// applePassToken extracts the token from an "ApplePass <token>" header.
// Returns an empty string for any other scheme.
func applePassToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	const prefix = "ApplePass "
	if len(authHeader) <= len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return authHeader[len(prefix):]
}

// authorizePass loads the pass for a serial and checks the ApplePass token.
// Writes the error response itself and returns nil when the caller should
// stop. 401 bodies deliberately say nothing about which side mismatched.
func (h *WalletHandler) authorizePass(w http.ResponseWriter, r *http.Request, serial string) *pass.Record {
	rec, err := h.passes.FindBySerial(r.Context(), serial)
	if err != nil {
		if errors.Is(err, pass.ErrPassNotFound) {
			response.NotFound(w, r, "pass not found")
		} else {
			h.logger.Error().Err(err).Str("serial", serial).Msg("pass lookup failed")
			response.InternalError(w, r, "pass lookup failed")
		}
		return nil
	}

	if _, err := h.passes.EnsureAuthToken(r.Context(), rec); err != nil {
		h.logger.Error().Err(err).Str("pass_id", rec.ID).Msg("auth token issuance failed")
		response.InternalError(w, r, "pass lookup failed")
		return nil
	}
	if err := h.passes.VerifyAuthToken(rec, applePassToken(r)); err != nil {
		response.Unauthorized(w, r, "unauthorized")
		return nil
	}
	return rec
}

// RegisterDevice handles
// POST /v1/devices/{deviceLibraryId}/registrations/{passTypeId}/{serialNumber}.
// 201 for a new registration, 200 when the pair already existed.
func (h *WalletHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	deviceLibraryID := chi.URLParam(r, "deviceLibraryId")
	passTypeID := chi.URLParam(r, "passTypeId")
	serial := chi.URLParam(r, "serialNumber")

	if passTypeID != h.passTypeID {
		response.NotFound(w, r, "unknown pass type")
		return
	}

	var req models.DeviceRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}
	if req.PushToken == "" {
		response.BadRequest(w, r, "pushToken is required", []models.FieldError{
			{Field: "pushToken", Message: "must not be empty", Code: "required"},
		})
		return
	}

	rec := h.authorizePass(w, r, serial)
	if rec == nil {
		return
	}

	dev, err := h.devices.FindOrRegister(r.Context(), deviceLibraryID, req.PushToken, device.Info{
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("device_library_id", deviceLibraryID).Msg("device upsert failed")
		response.InternalError(w, r, "registration failed")
		return
	}

	created, err := h.registrations.Register(r.Context(), dev, rec, passTypeID)
	if err != nil {
		h.logger.Error().Err(err).
			Str("device_library_id", deviceLibraryID).
			Str("pass_id", rec.ID).
			Msg("registration failed")
		response.InternalError(w, r, "registration failed")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(w, r, status, nil)
}

// ListUpdatedPasses handles
// GET /v1/devices/{deviceLibraryId}/registrations/{passTypeId}?passesUpdatedSince=TAG.
// 200 with serials whose tag advanced past the cursor, 204 when none did,
// 404 for a device this service never registered so it re-registers.
// This endpoint carries no auth by protocol design; it only leaks serials
// the device already registered for.
func (h *WalletHandler) ListUpdatedPasses(w http.ResponseWriter, r *http.Request) {
	deviceLibraryID := chi.URLParam(r, "deviceLibraryId")
	passTypeID := chi.URLParam(r, "passTypeId")

	if passTypeID != h.passTypeID {
		response.NotFound(w, r, "unknown pass type")
		return
	}

	if _, err := h.devices.Find(r.Context(), deviceLibraryID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			response.NotFound(w, r, "unknown device")
		} else {
			h.logger.Error().Err(err).Str("device_library_id", deviceLibraryID).Msg("device lookup failed")
			response.InternalError(w, r, "update listing failed")
		}
		return
	}

	sinceTag := r.URL.Query().Get("passesUpdatedSince")
	serials, lastUpdated, err := h.registrations.UpdatedPassSerials(r.Context(), deviceLibraryID, passTypeID, sinceTag)
	if err != nil {
		h.logger.Error().Err(err).Str("device_library_id", deviceLibraryID).Msg("update listing failed")
		response.InternalError(w, r, "update listing failed")
		return
	}

	if err := h.devices.TouchLastSeen(r.Context(), deviceLibraryID); err != nil {
		h.logger.Warn().Err(err).Str("device_library_id", deviceLibraryID).Msg("last-seen refresh failed")
	}

	if len(serials) == 0 {
		response.NoContent(w, r)
		return
	}
	response.JSON(w, r, http.StatusOK, models.UpdatablePasses{
		SerialNumbers: serials,
		LastUpdated:   lastUpdated,
	})
}

// GetPass handles GET /v1/passes/{passTypeId}/{serialNumber}: the bundle
// download, with conditional-request support.
func (h *WalletHandler) GetPass(w http.ResponseWriter, r *http.Request) {
	passTypeID := chi.URLParam(r, "passTypeId")
	serial := chi.URLParam(r, "serialNumber")

	if passTypeID != h.passTypeID {
		response.NotFound(w, r, "unknown pass type")
		return
	}

	rec := h.authorizePass(w, r, serial)
	if rec == nil {
		return
	}

	if pass.NotModified(rec, r.Header.Get("If-None-Match"), r.Header.Get("If-Modified-Since")) {
		setBundleCacheHeaders(w, rec.ManifestETag, rec.LastUpdatedAt)
		response.NotModified(w, r)
		return
	}

	bundle, err := h.passes.Assemble(r.Context(), rec)
	if err != nil {
		h.logger.Error().Err(err).Str("pass_id", rec.ID).Msg("bundle assembly failed")
		response.ServiceUnavailable(w, r, "pass assembly failed")
		return
	}

	setBundleCacheHeaders(w, bundle.ETag, bundle.LastModified)
	w.Header().Set("Content-Type", "application/vnd.apple.pkpass")
	w.Header().Set("Content-Disposition", `attachment; filename="`+bundle.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(bundle.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bundle.Data)
}

// setBundleCacheHeaders sets the caching headers shared by 200 and 304
// bundle responses.
func setBundleCacheHeaders(w http.ResponseWriter, etag string, lastModified time.Time) {
	if etag != "" {
		w.Header().Set("ETag", `"`+etag+`"`)
	}
	if !lastModified.IsZero() {
		w.Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Cache-Control", "private, must-revalidate")
}

// UnregisterDevice handles
// DELETE /v1/devices/{deviceLibraryId}/registrations/{passTypeId}/{serialNumber}.
// 200 when the registration was removed, 404 when it never existed.
func (h *WalletHandler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	deviceLibraryID := chi.URLParam(r, "deviceLibraryId")
	passTypeID := chi.URLParam(r, "passTypeId")
	serial := chi.URLParam(r, "serialNumber")

	if passTypeID != h.passTypeID {
		response.NotFound(w, r, "unknown pass type")
		return
	}

	rec := h.authorizePass(w, r, serial)
	if rec == nil {
		return
	}

	existed, err := h.registrations.Unregister(r.Context(), deviceLibraryID, rec.ID)
	if err != nil {
		h.logger.Error().Err(err).
			Str("device_library_id", deviceLibraryID).
			Str("pass_id", rec.ID).
			Msg("unregistration failed")
		response.InternalError(w, r, "unregistration failed")
		return
	}
	if !existed {
		response.NotFound(w, r, "registration not found")
		return
	}
	response.JSON(w, r, http.StatusOK, nil)
}

// SubmitLogs handles POST /v1/log. Always 200: the protocol promises
// devices their diagnostics are fire-and-forget.
func (h *WalletHandler) SubmitLogs(w http.ResponseWriter, r *http.Request) {
	var req models.LogSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug().Err(err).Msg("malformed log submission")
		response.JSON(w, r, http.StatusOK, models.LogSubmissionResult{})
		return
	}

	result := h.logs.Ingest(r.Context(), req.Logs, r.UserAgent())
	response.JSON(w, r, http.StatusOK, models.LogSubmissionResult{
		LogsReceived: result.Received,
		LogsStored:   result.Stored,
	})
}
