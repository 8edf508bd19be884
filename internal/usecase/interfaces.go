package usecase

import (
	"context"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"
)

// Clock supplies timestamps; tests substitute a fixed one.
type Clock func() time.Time

type IdentityRepository interface {
	Create(ctx context.Context, identity domain.Identity) error
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByCompositeID(ctx context.Context, compositeID string) (*domain.Identity, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]domain.Identity, error)
	UpdateStatus(ctx context.Context, id string, status domain.IdentityStatus, verifiedAt *time.Time) error
}

// ChainRepository owns the append-only event sequence of each identity.
//
// AppendEvent assigns Seq, PrevHash and EventHash inside a section that is
// serialized per identity (transaction row lock, or a per-chain mutex in the
// in-memory store): an append reads the previous record's hash, so two
// unserialized appends could both claim the same predecessor and fork the
// chain. Appends to different identities proceed in parallel.
//
// ListByIdentity returns a consistent snapshot in chain order; callers
// verify and aggregate over the snapshot, never over live storage.
type ChainRepository interface {
	AppendEvent(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	ListByIdentity(ctx context.Context, identityID string) ([]domain.AuditEvent, error)
}

type ReportRepository interface {
	Create(ctx context.Context, report domain.ComplianceReport) error
	GetByID(ctx context.Context, id string) (*domain.ComplianceReport, error)
}

// FlagEvaluator derives the regulation-specific boolean flags of a
// compliance report from tabulated chain facts.
type FlagEvaluator interface {
	Evaluate(ctx context.Context, input FlagInput) (map[string]bool, error)
}

type FlagInput struct {
	ReportType string          `json:"report_type"`
	Facts      ComplianceFacts `json:"facts"`
}

// ComplianceFacts is the pre-tabulated input to flag evaluation. The
// evaluator combines facts; it never re-reads the chain.
type ComplianceFacts struct {
	TamperEvident     bool           `json:"tamper_evident"`
	IdentityVerified  bool           `json:"identity_verified"`
	EventCounts       map[string]int `json:"event_counts"`
	SeverityCounts    map[string]int `json:"severity_counts"`
	KYCVerifiedEvents int            `json:"kyc_verified_events"`
	ConsentEvents     int            `json:"consent_events"`
	SignatureEvents   int            `json:"signature_events"`
	SecurityEvents    int            `json:"security_events"`
	TotalEvents       int            `json:"total_events"`
}
