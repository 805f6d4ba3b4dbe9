package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"privacyd/internal/domain/auth"
	"privacyd/internal/domain/compliance"
	"privacyd/internal/domain/consent"
	"privacyd/internal/domain/erasure"
	"privacyd/internal/domain/export"
	"privacyd/internal/domain/rights"
	"privacyd/internal/platform/config"
	"privacyd/internal/platform/crypto"
	"privacyd/internal/platform/email"
	"privacyd/internal/platform/metrics"
	"privacyd/internal/storage"
	compliancehandler "privacyd/internal/transport/http/handlers/compliance"
	consenthandler "privacyd/internal/transport/http/handlers/consent"
	exportshandler "privacyd/internal/transport/http/handlers/exports"
	rightshandler "privacyd/internal/transport/http/handlers/rights"
	"privacyd/internal/transport/http/middleware"
)

const testSecret = "journey-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T) (*storage.Memory, *httptest.Server) {
	t.Helper()
	mem := storage.NewMemory()

	cryptoSvc, err := crypto.New(testSecret)
	if err != nil {
		t.Fatalf("crypto init: %v", err)
	}
	signer, err := export.NewSigner(testSecret)
	if err != nil {
		t.Fatalf("signer init: %v", err)
	}

	pipeline := export.NewPipeline(mem.Reader(), mem.Artifacts(), cryptoSvc, signer,
		t.TempDir(), 30*24*time.Hour, 24*time.Hour)
	engine := erasure.NewEngine(mem.Erasure())
	ledger := consent.NewLedger(mem.Consents())
	monitor := compliance.NewMonitor(mem.Rights(), mem.Consents(), mem.Breaches())
	collector := metrics.New()

	orch := rights.NewOrchestrator(mem.Rights(), mem.Subjects(), engine, pipeline,
		email.New(config.Config{}), mem.Audit(), collector, rights.Options{
			SLA:            30 * 24 * time.Hour,
			ProcessTimeout: time.Minute,
			DownloadURL:    "/api/v1/exports/download",
		})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(collector))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Auth(testSecret))
	router.Route("/api/v1", func(r chi.Router) {
		rightshandler.NewHandler(orch).RegisterRoutes(r)
		consenthandler.NewHandler(ledger).RegisterRoutes(r)
		exportshandler.NewHandler(pipeline).RegisterRoutes(r)
		compliancehandler.NewHandler(monitor).RegisterRoutes(r)
	})

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return mem, ts
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, env
}

func TestAccessRequestJourney(t *testing.T) {
	mem, ts := newTestServer(t)
	client := ts.Client()

	subjectID := mem.AddSubject("journey@example.com", "Journey Subject")
	mem.AddDocument(subjectID, "notes.txt")
	mem.AddDocument(subjectID, "report.pdf")

	status, env := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/rights-requests", "", map[string]any{
		"type":           "access",
		"subjectId":      subjectID,
		"requestorEmail": "journey@example.com",
	})
	if status != http.StatusCreated {
		t.Fatalf("submit status = %d, body error = %+v", status, env.Error)
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode created request: %v", err)
	}
	if created.Status != "pending" {
		t.Fatalf("new request status = %q, want pending", created.Status)
	}

	status, env = doJSON(t, client, http.MethodPost,
		fmt.Sprintf("%s/api/v1/rights-requests/%s/process", ts.URL, created.ID), "", nil)
	if status != http.StatusOK {
		t.Fatalf("process status = %d, body error = %+v", status, env.Error)
	}
	var processed struct {
		Status          string         `json:"status"`
		ResponseContent map[string]any `json:"responseContent"`
	}
	if err := json.Unmarshal(env.Data, &processed); err != nil {
		t.Fatalf("decode processed request: %v", err)
	}
	if processed.Status != "completed" {
		t.Fatalf("processed status = %q, want completed", processed.Status)
	}
	downloadURL, _ := processed.ResponseContent["downloadUrl"].(string)
	if downloadURL == "" {
		t.Fatal("completed access request has no download link")
	}

	resp, err := client.Get(ts.URL + downloadURL)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d, body = %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "journey@example.com") {
		t.Fatal("export body does not contain the subject's email")
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("download content type = %q", got)
	}

	// The link stays valid until the token expires.
	resp, err = client.Get(ts.URL + downloadURL)
	if err != nil {
		t.Fatalf("second download: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second download status = %d", resp.StatusCode)
	}

	// A tampered token must be rejected outright.
	resp, err = client.Get(ts.URL + downloadURL + "x")
	if err != nil {
		t.Fatalf("tampered download: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("tampered download status = %d, want 403", resp.StatusCode)
	}
}

func TestConsentEndpoints(t *testing.T) {
	mem, ts := newTestServer(t)
	client := ts.Client()
	subjectID := mem.AddSubject("consenting@example.com", "Consenting Subject")

	status, env := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/consents", "", map[string]any{
		"subjectId":   subjectID,
		"consentType": "marketing",
		"given":       true,
		"method":      "web_form",
		"purposes":    []string{"newsletter"},
	})
	if status != http.StatusCreated {
		t.Fatalf("record status = %d, error = %+v", status, env.Error)
	}

	status, env = doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/consents/withdraw", "", map[string]any{
		"subjectId":   subjectID,
		"consentType": "marketing",
		"method":      "account_settings",
	})
	if status != http.StatusOK {
		t.Fatalf("withdraw status = %d, error = %+v", status, env.Error)
	}

	status, env = doJSON(t, client, http.MethodGet,
		ts.URL+"/api/v1/consents?subjectId="+subjectID, "", nil)
	if status != http.StatusOK {
		t.Fatalf("history status = %d", status)
	}
	var history struct {
		Records []consent.Record `json:"records"`
	}
	if err := json.Unmarshal(env.Data, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Records) != 2 {
		t.Fatalf("history length = %d, want 2 (grant then withdrawal)", len(history.Records))
	}

	status, env = doJSON(t, client, http.MethodGet,
		ts.URL+"/api/v1/consents/effective?subjectId="+subjectID+"&type=marketing", "", nil)
	if status != http.StatusOK {
		t.Fatalf("effective status = %d", status)
	}
	var effective struct {
		Effective *consent.Record `json:"effective"`
	}
	if err := json.Unmarshal(env.Data, &effective); err != nil {
		t.Fatalf("decode effective: %v", err)
	}
	if effective.Effective == nil || effective.Effective.Given {
		t.Fatalf("effective consent = %+v, want withdrawn", effective.Effective)
	}

	// Missing consent type on record is a validation failure.
	status, _ = doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/consents", "", map[string]any{
		"subjectId": subjectID,
		"given":     true,
		"method":    "web_form",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("invalid record status = %d, want 400", status)
	}
}

func TestComplianceChecksRequireRole(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	status, _ := doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/compliance/checks", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("anonymous checks status = %d, want 401", status)
	}

	subjectToken, err := auth.GenerateToken(testSecret, auth.Claims{
		SubjectID: "someone", Email: "someone@example.com", Role: auth.RoleSubject,
	}, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	status, _ = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/compliance/checks", subjectToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("subject-role checks status = %d, want 403", status)
	}

	adminToken, err := auth.GenerateToken(testSecret, auth.Claims{
		SubjectID: "dpo", Email: "dpo@example.com", Role: auth.RoleAdmin,
	}, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	status, env := doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/compliance/checks", adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("admin checks status = %d, error = %+v", status, env.Error)
	}
	var report struct {
		Checks []compliance.Report `json:"checks"`
	}
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("decode checks: %v", err)
	}
	if len(report.Checks) != 4 {
		t.Fatalf("check count = %d, want 4", len(report.Checks))
	}

	// PDF rendering of the same report.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/compliance/checks.pdf", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("checks.pdf: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checks.pdf status = %d", resp.StatusCode)
	}
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		t.Fatal("checks.pdf response is not a PDF document")
	}
}
