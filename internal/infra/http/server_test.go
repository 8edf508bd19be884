package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/config"
	"github.com/thependalorian/buffrsign-sub001/internal/domain"
	"github.com/thependalorian/buffrsign-sub001/internal/infra/chainmem"
	"github.com/thependalorian/buffrsign-sub001/internal/infra/merkle"
	"github.com/thependalorian/buffrsign-sub001/internal/infra/ratelimit"
	"github.com/thependalorian/buffrsign-sub001/internal/usecase"

	"github.com/gin-gonic/gin"
)

const testAdminKey = "test-admin-key"

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mem := chainmem.NewStore()
	srv := NewServerWithDeps(cfg, ServerDeps{
		Identities:  mem,
		Chains:      mem,
		Reports:     mem.Reports(),
		Clock:       func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) },
		AdminAPIKey: testAdminKey,
	})
	if srv.initErr != nil {
		t.Fatalf("server init: %v", srv.initErr)
	}
	return srv
}

func defaultTestConfig() config.Config {
	return config.Config{
		HTTPAddr: ":0",
		AuthMode: "admin_key",
	}
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	w := httptest.NewRecorder()
	srv.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %s: %v", w.Body.String(), err)
	}
}

func createTestIdentity(t *testing.T, srv *Server) identityResponse {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/v1/identities", createIdentityRequest{
		Jurisdiction: "NA",
		NationalID:   "19900101-1234-567",
		OwnerUserID:  "owner-1",
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("create identity: status %d body %s", w.Code, w.Body.String())
	}
	var identity identityResponse
	decode(t, w, &identity)
	return identity
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, defaultTestConfig())
	w := doJSON(t, srv, http.MethodGet, "/healthz", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"mode":"memory"`) {
		t.Fatalf("healthz body %s missing storage mode", w.Body.String())
	}
}

func TestCreateIdentityFlow(t *testing.T) {
	srv := newTestServer(t, defaultTestConfig())
	identity := createTestIdentity(t, srv)

	if identity.Status != "pending" {
		t.Fatalf("status = %q, want pending", identity.Status)
	}
	if !strings.HasPrefix(identity.CompositeID, "BFS-NA-") {
		t.Fatalf("composite id %q missing prefix", identity.CompositeID)
	}

	// Registration lands as the chain's first event.
	var chain chainResponse
	w := doJSON(t, srv, http.MethodGet, "/v1/identities/"+identity.ID+"/chain", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("get chain: status %d body %s", w.Code, w.Body.String())
	}
	decode(t, w, &chain)
	if chain.Size != 1 || chain.Events[0].Category != "registration" {
		t.Fatalf("expected a single registration event, got %+v", chain)
	}
	if chain.Events[0].PrevHash != "" {
		t.Fatalf("genesis prev hash = %q, want empty string", chain.Events[0].PrevHash)
	}

	// Lookup works by composite as well as by UUID.
	w = doJSON(t, srv, http.MethodGet, "/v1/identities/"+identity.CompositeID, nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("get by composite: status %d", w.Code)
	}
}

func TestCreateIdentityRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, defaultTestConfig())

	w := doJSON(t, srv, http.MethodPost, "/v1/identities", createIdentityRequest{
		Jurisdiction: "NAM",
		NationalID:   "123",
		OwnerUserID:  "owner-1",
	}, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad jurisdiction: status %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "IDENTITY_FORMAT") {
		t.Fatalf("body %s missing IDENTITY_FORMAT code", w.Body.String())
	}

	// Same person twice is a conflict.
	createTestIdentity(t, srv)
	w = doJSON(t, srv, http.MethodPost, "/v1/identities", createIdentityRequest{
		Jurisdiction: "NA",
		NationalID:   "19900101-1234-567",
		OwnerUserID:  "owner-1",
	}, true)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate identity: status %d, want 409", w.Code)
	}
}

func TestWritesRequireAdminKey(t *testing.T) {
	srv := newTestServer(t, defaultTestConfig())
	w := doJSON(t, srv, http.MethodPost, "/v1/identities", createIdentityRequest{
		Jurisdiction: "NA",
		NationalID:   "19900101-1234-567",
		OwnerUserID:  "owner-1",
	}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated write: status %d, want 401", w.Code)
	}

	// Reads stay open.
	if w := doJSON(t, srv, http.MethodGet, "/healthz", nil, false); w.Code != http.StatusOK {
		t.Fatalf("read blocked: status %d", w.Code)
	}
}

func TestAuthModeNoneOpensWrites(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.AuthMode = "none"
	srv := newTestServer(t, cfg)
	w := doJSON(t, srv, http.MethodPost, "/v1/identities", createIdentityRequest{
		Jurisdiction: "NA",
		NationalID:   "19900101-1234-567",
		OwnerUserID:  "owner-1",
	}, false)
	if w.Code != http.StatusCreated {
		t.Fatalf("auth none write: status %d body %s", w.Code, w.Body.String())
	}
}

func TestRecordEventAndVerifyChain(t *testing.T) {
	srv := newTestServer(t, defaultTestConfig())
	identity := createTestIdentity(t, srv)

	for _, doc := range []string{"doc-1", "doc-2", "doc-3"} {
		w := doJSON(t, srv, http.MethodPost, "/v1/identities/"+identity.ID+"/events", recordEventRequest{
			Category:    "document_upload",
			ActorUserID: "owner-1",
			Payload:     map[string]any{"document_id": doc},
		}, true)
		if w.Code != http.StatusCreated {
			t.Fatalf("record event %s: status %d body %s", doc, w.Code, w.Body.String())
		}
		var event eventResponse
		decode(t, w, &event)
		if event.EventHash == "" || event.PayloadHash == "" {
			t.Fatalf("event missing hashes: %+v", event)
		}
	}

	w := doJSON(t, srv, http.MethodGet, "/v1/identities/"+identity.ID+"/chain/verify", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("verify chain: status %d body %s", w.Code, w.Body.String())
	}
	var verification verificationResponse
	decode(t, w, &verification)
	if !verification.Valid || verification.BrokenAt != -1 {
		t.Fatalf("intact chain reported broken: %+v", verification)
	}
	if verification.Size != 4 { // registration + 3 uploads
		t.Fatalf("chain size = %d, want 4", verification.Size)
	}
	if len(verification.MerkleRoot) != 64 {
		t.Fatalf("merkle root %q is not a sha256 hex digest", verification.MerkleRoot)
	}
}

func TestRecordEventValidation(t *testing.T) {
	srv := newTestServer(t, defaultTestConfig())
	identity := createTestIdentity(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/v1/identities/"+identity.ID+"/events", recordEventRequest{
		Category:    "signature_creation",
		ActorUserID: "owner-1",
		Payload:     map[string]any{"document_id": "doc-1"},
	}, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing payload key: status %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "INVALID_EVENT") {
		t.Fatalf("body %s missing INVALID_EVENT code", w.Body.String())
	}

	w = doJSON(t, srv, http.MethodPost, "/v1/identities/unknown/events", recordEventRequest{
		Category:    "document_upload",
		ActorUserID: "owner-1",
		Payload:     map[string]any{"document_id": "doc-1"},
	}, true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown identity: status %d, want 404", w.Code)
	}
}

func TestInclusionProofEndpoint(t *testing.T) {
	srv := newTestServer(t, defaultTestConfig())
	identity := createTestIdentity(t, srv)

	var lastHash string
	for _, doc := range []string{"doc-1", "doc-2"} {
		w := doJSON(t, srv, http.MethodPost, "/v1/identities/"+identity.ID+"/events", recordEventRequest{
			Category:    "document_upload",
			ActorUserID: "owner-1",
			Payload:     map[string]any{"document_id": doc},
		}, true)
		var event eventResponse
		decode(t, w, &event)
		lastHash = event.EventHash
	}

	w := doJSON(t, srv, http.MethodGet, "/v1/identities/"+identity.ID+"/chain/inclusion/"+lastHash, nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("inclusion proof: status %d body %s", w.Code, w.Body.String())
	}
	var proof inclusionResponse
	decode(t, w, &proof)
	if proof.TreeSize != 3 {
		t.Fatalf("tree size = %d, want 3", proof.TreeSize)
	}

	steps := make([]merkle.ProofStep, 0, len(proof.Path))
	for _, step := range proof.Path {
		steps = append(steps, merkle.ProofStep{Sibling: step.Sibling, Left: step.Left})
	}
	ok, err := merkle.VerifyInclusion(lastHash, steps, proof.MerkleRoot)
	if err != nil {
		t.Fatalf("verify inclusion: %v", err)
	}
	if !ok {
		t.Fatal("returned proof does not verify against the returned root")
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/identities/"+identity.ID+"/chain/inclusion/"+strings.Repeat("0", 64), nil, false)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown hash: status %d, want 404", w.Code)
	}
}

func TestComplianceReportFlow(t *testing.T) {
	srv := newTestServer(t, defaultTestConfig())
	identity := createTestIdentity(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/v1/identities/"+identity.ID+"/verify", reviewIdentityRequest{
		Outcome:        "verified",
		ReviewerUserID: "reviewer-1",
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("review identity: status %d body %s", w.Code, w.Body.String())
	}
	var reviewed identityResponse
	decode(t, w, &reviewed)
	if reviewed.Status != "verified" || reviewed.VerifiedAt == "" {
		t.Fatalf("review result %+v", reviewed)
	}

	doJSON(t, srv, http.MethodPost, "/v1/identities/"+identity.ID+"/events", recordEventRequest{
		Category:     "consent",
		ActorUserID:  "owner-1",
		Payload:      map[string]any{"scope": "signing"},
		ConsentGiven: true,
	}, true)

	w = doJSON(t, srv, http.MethodPost, "/v1/identities/"+identity.ID+"/reports", generateReportRequest{
		ReportType:  "eta_2019",
		WindowEnd:   "2027-01-01T00:00:00Z",
		ActorUserID: "auditor-1",
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("generate report: status %d body %s", w.Code, w.Body.String())
	}
	var report reportResponse
	decode(t, w, &report)
	if !report.TamperEvident {
		t.Fatalf("intact chain report not tamper evident: %+v", report)
	}
	if !report.Flags["kyc_verified"] || !report.Flags["consent_recorded"] || !report.Flags["compliant"] {
		t.Fatalf("flags %v, want eta_2019 compliant", report.Flags)
	}
	if report.ReportHash == "" {
		t.Fatal("report missing its artifact hash")
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/reports/"+report.ID, nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("get report: status %d body %s", w.Code, w.Body.String())
	}
	var fetched reportResponse
	decode(t, w, &fetched)
	if fetched.ReportHash != report.ReportHash {
		t.Fatal("stored report differs from generated report")
	}

	// Report issuance itself lands on the chain after the snapshot.
	var chain chainResponse
	w = doJSON(t, srv, http.MethodGet, "/v1/identities/"+identity.ID+"/chain", nil, false)
	decode(t, w, &chain)
	last := chain.Events[len(chain.Events)-1]
	if last.Category != "report_generation" {
		t.Fatalf("last chain event %q, want report_generation", last.Category)
	}
}

func TestChainFlagsRecordsPastRetention(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := chainmem.NewStore()
	current := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	srv := NewServerWithDeps(defaultTestConfig(), ServerDeps{
		Identities:  mem,
		Chains:      mem,
		Reports:     mem.Reports(),
		Clock:       func() time.Time { return current },
		AdminAPIKey: testAdminKey,
	})
	if srv.initErr != nil {
		t.Fatalf("server init: %v", srv.initErr)
	}
	identity := createTestIdentity(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/v1/identities/"+identity.ID+"/events", recordEventRequest{
		Category:      "document_upload",
		ActorUserID:   "owner-1",
		Payload:       map[string]any{"document_id": "doc-1"},
		RetentionDays: 1,
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("record event: status %d body %s", w.Code, w.Body.String())
	}

	// Inside the retention window nothing is archived.
	var chain chainResponse
	w = doJSON(t, srv, http.MethodGet, "/v1/identities/"+identity.ID+"/chain", nil, false)
	decode(t, w, &chain)
	for _, event := range chain.Events {
		if event.Archived {
			t.Fatalf("event %d archived before its retention lapsed", event.Seq)
		}
	}

	current = current.Add(48 * time.Hour)
	w = doJSON(t, srv, http.MethodGet, "/v1/identities/"+identity.ID+"/chain", nil, false)
	decode(t, w, &chain)
	if chain.Size != 2 {
		t.Fatalf("chain size = %d, want 2; lapsed records must stay on the chain", chain.Size)
	}
	if chain.Events[0].Archived {
		t.Fatal("registration event archived while its retention still runs")
	}
	if !chain.Events[1].Archived {
		t.Fatal("one-day retention event not archived after two days")
	}
}

// failingAppendChains rejects appends of one category, passing the rest
// through to the wrapped repository.
type failingAppendChains struct {
	usecase.ChainRepository
	rejectCategory domain.AuditCategory
}

func (f failingAppendChains) AppendEvent(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if event.Category == f.rejectCategory {
		return domain.AuditEvent{}, errors.New("append rejected")
	}
	return f.ChainRepository.AppendEvent(ctx, event)
}

func TestGenerateReportSurvivesBookkeepingFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := chainmem.NewStore()
	srv := NewServerWithDeps(defaultTestConfig(), ServerDeps{
		Identities:  mem,
		Chains:      failingAppendChains{ChainRepository: mem, rejectCategory: domain.CategoryReportGeneration},
		Reports:     mem.Reports(),
		Clock:       func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) },
		AdminAPIKey: testAdminKey,
	})
	if srv.initErr != nil {
		t.Fatalf("server init: %v", srv.initErr)
	}
	identity := createTestIdentity(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/v1/identities/"+identity.ID+"/reports", generateReportRequest{
		ReportType: "eta_2019",
		WindowEnd:  "2027-01-01T00:00:00Z",
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("generate report: status %d body %s", w.Code, w.Body.String())
	}
	var report reportResponse
	decode(t, w, &report)
	if report.ID == "" || report.ReportHash == "" {
		t.Fatalf("persisted report not returned: %+v", report)
	}

	// The report stays retrievable even though its chain event never landed.
	w = doJSON(t, srv, http.MethodGet, "/v1/reports/"+report.ID, nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("get report: status %d body %s", w.Code, w.Body.String())
	}
	var chain chainResponse
	w = doJSON(t, srv, http.MethodGet, "/v1/identities/"+identity.ID+"/chain", nil, false)
	decode(t, w, &chain)
	for _, event := range chain.Events {
		if event.Category == "report_generation" {
			t.Fatal("rejected bookkeeping append still reached the chain")
		}
	}
}

func TestGenerateReportRejectsUnknownType(t *testing.T) {
	srv := newTestServer(t, defaultTestConfig())
	identity := createTestIdentity(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/v1/identities/"+identity.ID+"/reports", generateReportRequest{
		ReportType: "gdpr",
	}, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown report type: status %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "INVALID_REPORT") {
		t.Fatalf("body %s missing INVALID_REPORT code", w.Body.String())
	}
}

func TestRateLimitHeadersAndDenial(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := chainmem.NewStore()
	cfg := defaultTestConfig()
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindowSeconds = 60
	srv := NewServerWithDeps(cfg, ServerDeps{
		Identities:  mem,
		Chains:      mem,
		Reports:     mem.Reports(),
		AdminAPIKey: testAdminKey,
		RateLimiter: ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{}),
	})
	if srv.initErr != nil {
		t.Fatalf("server init: %v", srv.initErr)
	}

	var lastCode int
	var lastHeader http.Header
	for i := 0; i < 3; i++ {
		w := doJSON(t, srv, http.MethodGet, "/v1/identities/unknown", nil, false)
		lastCode = w.Code
		lastHeader = w.Header()
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("third request status %d, want 429", lastCode)
	}
	if lastHeader.Get("RateLimit-Limit") != "2" {
		t.Fatalf("RateLimit-Limit = %q, want 2", lastHeader.Get("RateLimit-Limit"))
	}
	if lastHeader.Get("Retry-After") == "" {
		t.Fatal("denied response missing Retry-After")
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, defaultTestConfig())
	w := doJSON(t, srv, http.MethodGet, "/v1/nope", nil, false)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route: status %d, want 404", w.Code)
	}
}
