package http

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"
	"github.com/thependalorian/buffrsign-sub001/internal/infra/merkle"
	"github.com/thependalorian/buffrsign-sub001/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type createIdentityRequest struct {
	Jurisdiction string `json:"jurisdiction"`
	NationalID   string `json:"national_id"`
	OwnerUserID  string `json:"owner_user_id"`
}

type reviewIdentityRequest struct {
	Outcome        string `json:"outcome"`
	ReviewerUserID string `json:"reviewer_user_id"`
}

type recordEventRequest struct {
	Category          string         `json:"category"`
	Severity          string         `json:"severity,omitempty"`
	ActorUserID       string         `json:"actor_user_id"`
	Description       string         `json:"description,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
	EventTime         string         `json:"event_time,omitempty"`
	UTCOffsetMinutes  int            `json:"utc_offset_minutes,omitempty"`
	IPAddress         string         `json:"ip_address,omitempty"`
	UserAgent         string         `json:"user_agent,omitempty"`
	Geolocation       string         `json:"geolocation,omitempty"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty"`
	LegalBasis        string         `json:"legal_basis,omitempty"`
	ConsentGiven      bool           `json:"consent_given,omitempty"`
	RetentionDays     int            `json:"retention_days,omitempty"`
}

type generateReportRequest struct {
	ReportType  string `json:"report_type"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
	ActorUserID string `json:"actor_user_id,omitempty"`
}

type identityResponse struct {
	ID           string `json:"id"`
	CompositeID  string `json:"composite_id"`
	Jurisdiction string `json:"jurisdiction"`
	Token        string `json:"token"`
	OwnerUserID  string `json:"owner_user_id"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	VerifiedAt   string `json:"verified_at,omitempty"`
}

type eventResponse struct {
	ID               string         `json:"id"`
	IdentityID       string         `json:"identity_id"`
	Jurisdiction     string         `json:"jurisdiction"`
	Category         string         `json:"category"`
	Severity         string         `json:"severity"`
	ActorUserID      string         `json:"actor_user_id"`
	Description      string         `json:"description,omitempty"`
	Payload          map[string]any `json:"payload"`
	PayloadHash      string         `json:"payload_hash"`
	EventTime        string         `json:"event_time"`
	RecordedAt       string         `json:"recorded_at"`
	UTCOffsetMinutes int            `json:"utc_offset_minutes"`
	LegalBasis       string         `json:"legal_basis,omitempty"`
	ConsentGiven     bool           `json:"consent_given"`
	RetentionDays    int            `json:"retention_days"`
	Seq              int64          `json:"seq"`
	PrevHash         string         `json:"prev_hash"`
	EventHash        string         `json:"event_hash"`
	Archived         bool           `json:"archived,omitempty"`
}

type chainResponse struct {
	IdentityID string          `json:"identity_id"`
	Size       int             `json:"size"`
	Events     []eventResponse `json:"events"`
}

type verificationResponse struct {
	IdentityID string `json:"identity_id"`
	Valid      bool   `json:"valid"`
	BrokenAt   int    `json:"broken_at"`
	Reason     string `json:"reason,omitempty"`
	MerkleRoot string `json:"merkle_root"`
	Size       int    `json:"size"`
}

type proofStepResponse struct {
	Sibling string `json:"sibling"`
	Left    bool   `json:"left"`
}

type inclusionResponse struct {
	IdentityID string              `json:"identity_id"`
	EventHash  string              `json:"event_hash"`
	LeafIndex  int                 `json:"leaf_index"`
	Path       []proofStepResponse `json:"path"`
	MerkleRoot string              `json:"merkle_root"`
	TreeSize   int                 `json:"tree_size"`
}

type reportResponse struct {
	ID              string          `json:"id"`
	IdentityID      string          `json:"identity_id"`
	CompositeID     string          `json:"composite_id"`
	Type            string          `json:"type"`
	GeneratedAt     string          `json:"generated_at"`
	ValidUntil      string          `json:"valid_until"`
	WindowStart     string          `json:"window_start"`
	WindowEnd       string          `json:"window_end"`
	EventCounts     map[string]int  `json:"event_counts"`
	SeverityCounts  map[string]int  `json:"severity_counts"`
	MerkleRoot      string          `json:"merkle_root"`
	TamperEvident   bool            `json:"tamper_evident"`
	IntegrityDetail string          `json:"integrity_detail,omitempty"`
	Flags           map[string]bool `json:"flags"`
	ReportHash      string          `json:"report_hash"`
}

func (s *Server) handleCreateIdentity(c *gin.Context) {
	if !s.requireWrite(c) {
		return
	}
	if !s.enforceRateLimit(c, "identities:create", clientKey(c)) {
		return
	}
	var req createIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	identity, err := s.identitySvc.CreateIdentity(c.Request.Context(), req.Jurisdiction, req.NationalID, req.OwnerUserID)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := s.recorder.RecordRegistration(c.Request.Context(), identity); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildIdentityResponse(identity))
}

func (s *Server) handleGetIdentity(c *gin.Context) {
	if !s.enforceRateLimit(c, "identities:read", clientKey(c)) {
		return
	}
	identity, err := s.identitySvc.Resolve(c.Request.Context(), c.Param("identity_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if identity == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, buildIdentityResponse(*identity))
}

func (s *Server) handleReviewIdentity(c *gin.Context) {
	if !s.requireWrite(c) {
		return
	}
	if !s.enforceRateLimit(c, "identities:verify", clientKey(c)) {
		return
	}
	var req reviewIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.ReviewerUserID == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_EVENT", "reviewer_user_id is required")
		return
	}
	identity, err := s.identitySvc.ReviewKYC(c.Request.Context(), c.Param("identity_id"), domain.IdentityStatus(req.Outcome))
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := s.recorder.RecordKYCReview(c.Request.Context(), *identity, req.ReviewerUserID, identity.Status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildIdentityResponse(*identity))
}

func (s *Server) handleRecordEvent(c *gin.Context) {
	if !s.requireWrite(c) {
		return
	}
	if !s.enforceRateLimit(c, "events:record", clientKey(c)) {
		return
	}
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	var eventTime time.Time
	if req.EventTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.EventTime)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_EVENT", "invalid event_time")
			return
		}
		eventTime = parsed.UTC()
	}
	event, err := s.recorder.Record(c.Request.Context(), usecase.RecordEventRequest{
		IdentityRef:      c.Param("identity_id"),
		Category:         domain.AuditCategory(req.Category),
		Severity:         domain.AuditSeverity(req.Severity),
		ActorUserID:      req.ActorUserID,
		Description:      req.Description,
		Payload:          req.Payload,
		EventTime:        eventTime,
		UTCOffsetMinutes: req.UTCOffsetMinutes,
		Metadata: domain.ClientMetadata{
			IPAddress:         req.IPAddress,
			UserAgent:         req.UserAgent,
			Geolocation:       req.Geolocation,
			DeviceFingerprint: req.DeviceFingerprint,
		},
		LegalBasis:    req.LegalBasis,
		ConsentGiven:  req.ConsentGiven,
		RetentionDays: req.RetentionDays,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildEventResponse(event))
}

func (s *Server) handleGetChain(c *gin.Context) {
	if !s.enforceRateLimit(c, "chain:read", clientKey(c)) {
		return
	}
	identity, err := s.identitySvc.Resolve(c.Request.Context(), c.Param("identity_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if identity == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	events, err := s.chains.ListByIdentity(c.Request.Context(), identity.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := chainResponse{
		IdentityID: identity.ID,
		Size:       len(events),
		Events:     make([]eventResponse, 0, len(events)),
	}
	now := s.now()
	for _, event := range events {
		resp := buildEventResponse(event)
		// Records past their retention horizon stay on the chain (removing
		// them would break it) but are flagged for the collaborator layer.
		if event.RetentionDays > 0 && event.RecordedAt.AddDate(0, 0, event.RetentionDays).Before(now) {
			resp.Archived = true
		}
		out.Events = append(out.Events, resp)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleVerifyChain(c *gin.Context) {
	if !s.enforceRateLimit(c, "chain:verify", clientKey(c)) {
		return
	}
	identity, err := s.identitySvc.Resolve(c.Request.Context(), c.Param("identity_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if identity == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	verification, err := usecase.VerifyChain(c.Request.Context(), s.chains, identity.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verificationResponse{
		IdentityID: verification.IdentityID,
		Valid:      verification.Valid,
		BrokenAt:   verification.BrokenAt,
		Reason:     verification.Reason,
		MerkleRoot: verification.MerkleRoot,
		Size:       verification.Size,
	})
}

func (s *Server) handleInclusionProof(c *gin.Context) {
	if !s.enforceRateLimit(c, "chain:inclusion", clientKey(c)) {
		return
	}
	identity, err := s.identitySvc.Resolve(c.Request.Context(), c.Param("identity_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if identity == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	events, err := s.chains.ListByIdentity(c.Request.Context(), identity.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	eventHash := c.Param("event_hash")
	leaves := make([]string, 0, len(events))
	leafIndex := -1
	for i, event := range events {
		leaves = append(leaves, event.EventHash)
		if event.EventHash == eventHash {
			leafIndex = i
		}
	}
	if leafIndex < 0 {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "event hash not in chain")
		return
	}
	path, err := merkle.InclusionProof(leaves, leafIndex)
	if err != nil {
		writeError(c, err)
		return
	}
	root, err := merkle.Root(leaves)
	if err != nil {
		writeError(c, err)
		return
	}
	out := inclusionResponse{
		IdentityID: identity.ID,
		EventHash:  eventHash,
		LeafIndex:  leafIndex,
		Path:       make([]proofStepResponse, 0, len(path)),
		MerkleRoot: root,
		TreeSize:   len(leaves),
	}
	for _, step := range path {
		out.Path = append(out.Path, proofStepResponse{Sibling: step.Sibling, Left: step.Left})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGenerateReport(c *gin.Context) {
	if !s.requireWrite(c) {
		return
	}
	if !s.enforceRateLimit(c, "reports:generate", clientKey(c)) {
		return
	}
	var req generateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	windowStart := time.Time{}
	windowEnd := s.now()
	if req.WindowStart != "" {
		parsed, err := time.Parse(time.RFC3339, req.WindowStart)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REPORT", "invalid window_start")
			return
		}
		windowStart = parsed.UTC()
	}
	if req.WindowEnd != "" {
		parsed, err := time.Parse(time.RFC3339, req.WindowEnd)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REPORT", "invalid window_end")
			return
		}
		windowEnd = parsed.UTC()
	}
	report, err := s.reporter.Generate(c.Request.Context(), c.Param("identity_id"), domain.ReportType(req.ReportType), windowStart, windowEnd)
	if err != nil {
		writeError(c, err)
		return
	}
	actor := req.ActorUserID
	if actor == "" {
		actor = "system"
	}
	// The report is persisted at this point; a failed bookkeeping append
	// must not make the caller believe generation failed.
	if _, err := s.recorder.RecordReportGeneration(c.Request.Context(), report, actor); err != nil {
		log.Printf("report %s: record generation event: %v", report.ID, err)
	}
	c.JSON(http.StatusCreated, buildReportResponse(report))
}

func (s *Server) handleGetReport(c *gin.Context) {
	if !s.enforceRateLimit(c, "reports:read", clientKey(c)) {
		return
	}
	report, err := s.reporter.Get(c.Request.Context(), c.Param("report_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildReportResponse(*report))
}

func buildIdentityResponse(identity domain.Identity) identityResponse {
	out := identityResponse{
		ID:           identity.ID,
		CompositeID:  identity.CompositeID,
		Jurisdiction: identity.Jurisdiction,
		Token:        identity.Token,
		OwnerUserID:  identity.OwnerUserID,
		Status:       string(identity.Status),
		CreatedAt:    identity.CreatedAt.UTC().Format(time.RFC3339),
	}
	if identity.VerifiedAt != nil {
		out.VerifiedAt = identity.VerifiedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func buildEventResponse(event domain.AuditEvent) eventResponse {
	return eventResponse{
		ID:               event.ID,
		IdentityID:       event.IdentityID,
		Jurisdiction:     event.Jurisdiction,
		Category:         string(event.Category),
		Severity:         string(event.Severity),
		ActorUserID:      event.ActorUserID,
		Description:      event.Description,
		Payload:          event.Payload,
		PayloadHash:      event.PayloadHash,
		EventTime:        event.EventTime.UTC().Format(time.RFC3339Nano),
		RecordedAt:       event.RecordedAt.UTC().Format(time.RFC3339Nano),
		UTCOffsetMinutes: event.UTCOffsetMinutes,
		LegalBasis:       event.LegalBasis,
		ConsentGiven:     event.ConsentGiven,
		RetentionDays:    event.RetentionDays,
		Seq:              event.Seq,
		PrevHash:         event.PrevHash,
		EventHash:        event.EventHash,
	}
}

func buildReportResponse(report domain.ComplianceReport) reportResponse {
	eventCounts := make(map[string]int, len(report.EventCounts))
	for category, n := range report.EventCounts {
		eventCounts[string(category)] = n
	}
	severityCounts := make(map[string]int, len(report.SeverityCounts))
	for severity, n := range report.SeverityCounts {
		severityCounts[string(severity)] = n
	}
	return reportResponse{
		ID:              report.ID,
		IdentityID:      report.IdentityID,
		CompositeID:     report.CompositeID,
		Type:            string(report.Type),
		GeneratedAt:     report.GeneratedAt.UTC().Format(time.RFC3339),
		ValidUntil:      report.ValidUntil.UTC().Format(time.RFC3339),
		WindowStart:     report.WindowStart.UTC().Format(time.RFC3339),
		WindowEnd:       report.WindowEnd.UTC().Format(time.RFC3339),
		EventCounts:     eventCounts,
		SeverityCounts:  severityCounts,
		MerkleRoot:      report.MerkleRoot,
		TamperEvident:   report.TamperEvident,
		IntegrityDetail: report.IntegrityDetail,
		Flags:           report.Flags,
		ReportHash:      report.ReportHash,
	}
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrIdentityFormat):
		status, code = http.StatusBadRequest, "IDENTITY_FORMAT"
	case errors.Is(err, domain.ErrInvalidEvent):
		status, code = http.StatusBadRequest, "INVALID_EVENT"
	case errors.Is(err, domain.ErrInvalidReport):
		status, code = http.StatusBadRequest, "INVALID_REPORT"
	case errors.Is(err, merkle.ErrInvalidLeaf), errors.Is(err, merkle.ErrInvalidIndex):
		status, code = http.StatusBadRequest, "INVALID_PROOF_REQUEST"
	case errors.Is(err, domain.ErrIdentityExists):
		status, code = http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrChainBroken):
		status, code = http.StatusConflict, "CHAIN_BROKEN"
	case errors.Is(err, domain.ErrIntegrity):
		status, code = http.StatusConflict, "INTEGRITY_VIOLATION"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
