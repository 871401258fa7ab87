package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stampwise/stampwise/internal/api"
	"github.com/stampwise/stampwise/internal/api/models"
	"github.com/stampwise/stampwise/internal/auth"
	"github.com/stampwise/stampwise/internal/catalog"
	"github.com/stampwise/stampwise/internal/design"
	"github.com/stampwise/stampwise/internal/device"
	"github.com/stampwise/stampwise/internal/imaging"
	"github.com/stampwise/stampwise/internal/ledger"
	"github.com/stampwise/stampwise/internal/logingest"
	"github.com/stampwise/stampwise/internal/pass"
	"github.com/stampwise/stampwise/internal/registration"
	"github.com/stampwise/stampwise/internal/signing"
)

const testPassTypeID = "pass.io.stampwise.loyalty"

// capturePublisher records pass-changed publishes.
type capturePublisher struct {
	passIDs []string
}

func (p *capturePublisher) PublishPassChanged(_ context.Context, passID string) error {
	p.passIDs = append(p.passIDs, passID)
	return nil
}

type env struct {
	router    http.Handler
	passes    *pass.Service
	ledger    *ledger.Service
	auth      *auth.Service
	publisher *capturePublisher

	entry  *ledger.Entry
	record *pass.Record
	token  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	catalogRepo := catalog.NewInMemoryRepository()
	catalogRepo.SeedOffer(&catalog.Offer{
		ID:                "off_1",
		BusinessID:        "biz_1",
		Name:              "Coffee Card",
		RewardDescription: "Free coffee",
		StampsRequired:    10,
	})
	catalogRepo.SeedBusiness(&catalog.Business{ID: "biz_1", Name: "Beanhouse", Timezone: "Europe/Amsterdam"})
	catalogRepo.SeedCustomer(&catalog.Customer{ID: "cus_1", Name: "Robin"})
	catalogSvc := catalog.NewService(catalog.ServiceConfig{Repository: catalogRepo})

	ledgerSvc := ledger.NewService(ledger.ServiceConfig{
		Repository: ledger.NewInMemoryRepository(),
		Aggregates: catalogSvc,
		Logger:     logger,
	})
	entry, err := ledgerSvc.Enroll(ctx, "cus_1", "off_1", 10)
	require.NoError(t, err)

	passRepo := pass.NewInMemoryRepository()
	passSvc := pass.NewService(pass.ServiceConfig{
		Repository: passRepo,
		Entries:    ledgerSvc,
		Catalog:    catalogSvc,
		Designs:    design.NewInMemoryRepository(),
		Renderer:   imaging.NewStaticRenderer(),
		Signer:     signing.FakeSigner{},
		Apple: pass.AppleConfig{
			PassTypeID:       testPassTypeID,
			TeamID:           "TEAM123456",
			OrganizationName: "Stampwise",
			WebServiceURL:    "https://api.stampwise.io",
		},
		Logger: logger,
	})
	record, err := passSvc.Issue(ctx, entry.ID, pass.PlatformApple)
	require.NoError(t, err)
	token, err := passSvc.EnsureAuthToken(ctx, record)
	require.NoError(t, err)

	deviceSvc := device.NewService(device.ServiceConfig{
		Repository: device.NewInMemoryRepository(),
		Logger:     logger,
	})
	registrationSvc := registration.NewService(registration.ServiceConfig{
		Repository:     registration.NewInMemoryRepository(),
		PassRepository: passRepo,
		Logger:         logger,
	})
	logSvc := logingest.NewService(logingest.ServiceConfig{
		Repository: logingest.NewInMemoryRepository(),
		Devices:    deviceSvc,
		Logger:     logger,
	})

	authSvc := auth.NewService(auth.Config{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "https://api.stampwise.io",
		Audience:   "stampwise-program",
	})

	publisher := &capturePublisher{}

	router := api.NewRouter(api.RouterConfig{
		Version:             "test",
		BuildTime:           "now",
		Logger:              logger,
		AuthService:         authSvc,
		PassService:         passSvc,
		RegistrationService: registrationSvc,
		DeviceService:       deviceSvc,
		LedgerService:       ledgerSvc,
		LogService:          logSvc,
		Publisher:           publisher,
		PassTypeID:          testPassTypeID,
	})

	return &env{
		router:    router,
		passes:    passSvc,
		ledger:    ledgerSvc,
		auth:      authSvc,
		publisher: publisher,
		entry:     entry,
		record:    record,
		token:     token,
	}
}

func (e *env) do(t *testing.T, method, path, authHeader string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) registrationPath() string {
	return "/v1/devices/lib-1/registrations/" + testPassTypeID + "/" + e.record.SerialNumber
}

func TestRouter_OpsEndpoints(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/v1/ops/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/ops/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RegisterDevice(t *testing.T) {
	e := newEnv(t)
	body := models.DeviceRegistrationRequest{PushToken: "tok-1"}

	rec := e.do(t, http.MethodPost, e.registrationPath(), "ApplePass "+e.token, body)
	assert.Equal(t, http.StatusCreated, rec.Code, "first registration creates")

	rec = e.do(t, http.MethodPost, e.registrationPath(), "ApplePass "+e.token, body)
	assert.Equal(t, http.StatusOK, rec.Code, "repeat registration is idempotent")
}

func TestRouter_RegisterRejectsBadToken(t *testing.T) {
	e := newEnv(t)
	body := models.DeviceRegistrationRequest{PushToken: "tok-1"}

	rec := e.do(t, http.MethodPost, e.registrationPath(), "ApplePass wrong", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "unauthorized", problem.Detail, "401 body carries no mismatch detail")
}

func TestRouter_RegisterUnknownPassType(t *testing.T) {
	e := newEnv(t)
	path := "/v1/devices/lib-1/registrations/pass.io.other/" + e.record.SerialNumber

	rec := e.do(t, http.MethodPost, path, "ApplePass "+e.token, models.DeviceRegistrationRequest{PushToken: "tok-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ListUpdatedPasses(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, e.registrationPath(), "ApplePass "+e.token, models.DeviceRegistrationRequest{PushToken: "tok-1"})

	listPath := "/v1/devices/lib-1/registrations/" + testPassTypeID
	rec := e.do(t, http.MethodGet, listPath, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var updates models.UpdatablePasses
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updates))
	assert.Equal(t, []string{e.record.SerialNumber}, updates.SerialNumbers)
	assert.NotEmpty(t, updates.LastUpdated)

	// Echoing the cursor back yields nothing new.
	rec = e.do(t, http.MethodGet, listPath+"?passesUpdatedSince="+updates.LastUpdated, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRouter_ListUpdatesUnknownDevice(t *testing.T) {
	e := newEnv(t)

	// Never-registered devices get 404 so they re-register, not an empty
	// result they would treat as being in sync.
	rec := e.do(t, http.MethodGet, "/v1/devices/never-registered/registrations/"+testPassTypeID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_GetPass(t *testing.T) {
	e := newEnv(t)
	path := "/v1/passes/" + testPassTypeID + "/" + e.record.SerialNumber

	rec := e.do(t, http.MethodGet, path, "ApplePass "+e.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.pkpass", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
	assert.Equal(t, "private, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".pkpass")
	assert.NotEmpty(t, rec.Body.Bytes())

	// Conditional refetch with the served ETag short-circuits.
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "ApplePass "+e.token)
	req.Header.Set("If-None-Match", rec.Header().Get("ETag"))
	cond := httptest.NewRecorder()
	e.router.ServeHTTP(cond, req)
	assert.Equal(t, http.StatusNotModified, cond.Code)
	assert.Empty(t, cond.Body.Bytes())
}

func TestRouter_GetPassUnauthorized(t *testing.T) {
	e := newEnv(t)
	path := "/v1/passes/" + testPassTypeID + "/" + e.record.SerialNumber

	rec := e.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_UnregisterDevice(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, e.registrationPath(), "ApplePass "+e.token, models.DeviceRegistrationRequest{PushToken: "tok-1"})

	rec := e.do(t, http.MethodDelete, e.registrationPath(), "ApplePass "+e.token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The device no longer sees the pass in its update listing.
	rec = e.do(t, http.MethodGet, "/v1/devices/lib-1/registrations/"+testPassTypeID, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// A second unregister finds nothing to remove.
	rec = e.do(t, http.MethodDelete, e.registrationPath(), "ApplePass "+e.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_SubmitLogs(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/log", "", models.LogSubmission{Logs: []string{"bad signature"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.LogSubmissionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.LogsReceived)

	// Malformed submissions still get a 200.
	req := httptest.NewRequest(http.MethodPost, "/v1/log", bytes.NewBufferString("{not json"))
	malformed := httptest.NewRecorder()
	e.router.ServeHTTP(malformed, req)
	assert.Equal(t, http.StatusOK, malformed.Code)
}

func TestRouter_ProgramRequiresJWT(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/v1/program/cards/"+e.entry.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/program/cards/"+e.entry.ID, "Bearer garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_ProgramCardLifecycle(t *testing.T) {
	e := newEnv(t)
	token, _, err := e.auth.IssueAccessToken("pos-terminal-1", "biz_1")
	require.NoError(t, err)
	bearer := "Bearer " + token

	rec := e.do(t, http.MethodGet, "/v1/program/cards/"+e.entry.ID, bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var card models.Card
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, "cus_1", card.CustomerID)
	assert.Equal(t, 10, card.MaxStamps)
	assert.Zero(t, card.CurrentStamps)

	rec = e.do(t, http.MethodPost, "/v1/program/cards/"+e.entry.ID+"/stamps", bearer, models.StampRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, 1, card.CurrentStamps)
	assert.Equal(t, []string{e.record.ID}, e.publisher.passIDs, "stamp publishes a pass change")

	// Claiming before completion is a state violation.
	rec = e.do(t, http.MethodPost, "/v1/program/cards/"+e.entry.ID+"/claim", bearer, models.ClaimRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/program/cards/unknown/stamps", bearer, models.StampRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
