package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"
	"github.com/thependalorian/buffrsign-sub001/internal/ids"
)

// DefaultRetentionDays applies when a collaborator does not specify a
// retention period. Five years tracks the Electronic Transactions Act 2019
// record-keeping horizon.
const DefaultRetentionDays = 1825

// AuditRecorder builds audit events from collaborator reports and hands
// them to the chain store for the serialized append.
type AuditRecorder struct {
	Chains        ChainRepository
	Identities    IdentityRepository
	Clock         Clock
	RetentionDays int
}

func NewAuditRecorder(chains ChainRepository, identities IdentityRepository, clock Clock) *AuditRecorder {
	return &AuditRecorder{
		Chains:        chains,
		Identities:    identities,
		Clock:         clock,
		RetentionDays: DefaultRetentionDays,
	}
}

// RecordEventRequest is the collaborator-facing shape of recordEvent.
// IdentityRef accepts the internal UUID or the composite BFR-SIGN-ID.
type RecordEventRequest struct {
	IdentityRef      string
	Category         domain.AuditCategory
	Severity         domain.AuditSeverity
	ActorUserID      string
	Description      string
	Payload          map[string]any
	EventTime        time.Time
	UTCOffsetMinutes int
	Metadata         domain.ClientMetadata
	LegalBasis       string
	ConsentGiven     bool
	RetentionDays    int
}

// Record validates the request, freezes the hashed fields and appends the
// event to its owning chain. Seq, PrevHash and EventHash are assigned by
// the store inside its per-identity serialized section.
func (r *AuditRecorder) Record(ctx context.Context, req RecordEventRequest) (domain.AuditEvent, error) {
	if r == nil || r.Chains == nil {
		return domain.AuditEvent{}, errors.New("chain repository required")
	}
	identity, err := r.resolveIdentity(ctx, req.IdentityRef)
	if err != nil {
		return domain.AuditEvent{}, err
	}

	if req.Severity == "" {
		req.Severity = domain.SeverityInfo
	}
	if !req.Severity.Valid() {
		return domain.AuditEvent{}, fmt.Errorf("%w: unknown severity %q", domain.ErrInvalidEvent, req.Severity)
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	if err := domain.ValidatePayload(req.Category, req.Payload); err != nil {
		return domain.AuditEvent{}, err
	}
	if req.ActorUserID == "" {
		return domain.AuditEvent{}, fmt.Errorf("%w: actor user id required", domain.ErrInvalidEvent)
	}

	now := r.now()
	eventTime := req.EventTime
	if eventTime.IsZero() {
		eventTime = now
	}
	retention := req.RetentionDays
	if retention <= 0 {
		retention = r.RetentionDays
	}

	payloadHash, err := domain.ComputePayloadHash(req.Payload)
	if err != nil {
		return domain.AuditEvent{}, err
	}

	event := domain.AuditEvent{
		ID:               ids.NewEventID(),
		IdentityID:       identity.ID,
		Jurisdiction:     identity.Jurisdiction,
		Category:         req.Category,
		Severity:         req.Severity,
		ActorUserID:      req.ActorUserID,
		Description:      req.Description,
		Payload:          req.Payload,
		PayloadHash:      payloadHash,
		EventTime:        eventTime.UTC(),
		RecordedAt:       now,
		UTCOffsetMinutes: req.UTCOffsetMinutes,
		Metadata:         req.Metadata,
		LegalBasis:       req.LegalBasis,
		ConsentGiven:     req.ConsentGiven,
		RetentionDays:    retention,
	}
	return r.Chains.AppendEvent(ctx, event)
}

// RecordRegistration writes the birth event of a freshly created identity.
func (r *AuditRecorder) RecordRegistration(ctx context.Context, identity domain.Identity) (domain.AuditEvent, error) {
	return r.Record(ctx, RecordEventRequest{
		IdentityRef: identity.ID,
		Category:    domain.CategoryRegistration,
		ActorUserID: identity.OwnerUserID,
		Description: "identity registered",
		Payload: map[string]any{
			"composite_id": identity.CompositeID,
			"jurisdiction": identity.Jurisdiction,
		},
	})
}

// RecordKYCReview writes the outcome of a KYC review as a chain event.
func (r *AuditRecorder) RecordKYCReview(ctx context.Context, identity domain.Identity, reviewerUserID string, outcome domain.IdentityStatus) (domain.AuditEvent, error) {
	severity := domain.SeverityInfo
	if outcome == domain.IdentityStatusRejected {
		severity = domain.SeverityWarning
	}
	return r.Record(ctx, RecordEventRequest{
		IdentityRef: identity.ID,
		Category:    domain.CategoryKYCVerification,
		Severity:    severity,
		ActorUserID: reviewerUserID,
		Description: "kyc review completed",
		Payload: map[string]any{
			"status": string(outcome),
		},
	})
}

// RecordReportGeneration notes that a compliance report was issued over
// this chain. The event lands after the snapshot the report covers, so the
// report's own Merkle root is unaffected.
func (r *AuditRecorder) RecordReportGeneration(ctx context.Context, report domain.ComplianceReport, actorUserID string) (domain.AuditEvent, error) {
	return r.Record(ctx, RecordEventRequest{
		IdentityRef: report.IdentityID,
		Category:    domain.CategoryReportGeneration,
		ActorUserID: actorUserID,
		Description: "compliance report generated",
		Payload: map[string]any{
			"report_id":   report.ID,
			"report_type": string(report.Type),
			"merkle_root": report.MerkleRoot,
		},
	})
}

func (r *AuditRecorder) resolveIdentity(ctx context.Context, ref string) (*domain.Identity, error) {
	if r.Identities == nil {
		return nil, errors.New("identity repository required")
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: identity reference required", domain.ErrInvalidEvent)
	}
	var (
		identity *domain.Identity
		err      error
	)
	if _, _, _, perr := domain.ParseCompositeID(ref); perr == nil {
		identity, err = r.Identities.GetByCompositeID(ctx, ref)
	} else {
		identity, err = r.Identities.GetByID(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, domain.ErrNotFound
	}
	return identity, nil
}

func (r *AuditRecorder) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}
