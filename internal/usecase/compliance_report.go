package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"
	"github.com/thependalorian/buffrsign-sub001/internal/ids"
)

// DefaultReportValidityDays bounds how long an issued report may be relied
// on before regeneration.
const DefaultReportValidityDays = 90

// ComplianceReporter packages a chain snapshot plus derived regulatory
// judgments into an immutable, self-hashing report artifact.
type ComplianceReporter struct {
	Chains       ChainRepository
	Identities   IdentityRepository
	Reports      ReportRepository
	Flags        FlagEvaluator
	Clock        Clock
	ValidityDays int
}

func NewComplianceReporter(chains ChainRepository, identities IdentityRepository, reports ReportRepository, flags FlagEvaluator, clock Clock) *ComplianceReporter {
	return &ComplianceReporter{
		Chains:       chains,
		Identities:   identities,
		Reports:      reports,
		Flags:        flags,
		Clock:        clock,
		ValidityDays: DefaultReportValidityDays,
	}
}

// Generate verifies the chain first, then aggregates. A broken chain does
// not abort generation: the report carries tamper_evident=false and the
// break detail, and the caller decides whether to block issuance.
func (g *ComplianceReporter) Generate(ctx context.Context, identityRef string, reportType domain.ReportType, windowStart, windowEnd time.Time) (domain.ComplianceReport, error) {
	if g == nil || g.Chains == nil {
		return domain.ComplianceReport{}, errors.New("chain repository required")
	}
	if !reportType.Valid() {
		return domain.ComplianceReport{}, fmt.Errorf("%w: unknown report type %q", domain.ErrInvalidReport, reportType)
	}
	if windowEnd.Before(windowStart) {
		return domain.ComplianceReport{}, fmt.Errorf("%w: window end precedes start", domain.ErrInvalidReport)
	}
	identity, err := g.resolveIdentity(ctx, identityRef)
	if err != nil {
		return domain.ComplianceReport{}, err
	}

	events, err := g.Chains.ListByIdentity(ctx, identity.ID)
	if err != nil {
		return domain.ComplianceReport{}, err
	}
	verification := VerifyRecords(identity.ID, events)

	facts, eventCounts, severityCounts := tabulate(*identity, verification, events, windowStart, windowEnd)
	flags, err := g.evaluateFlags(ctx, reportType, facts)
	if err != nil {
		return domain.ComplianceReport{}, err
	}

	now := g.now()
	report := domain.ComplianceReport{
		ID:             ids.NewUUID(),
		IdentityID:     identity.ID,
		CompositeID:    identity.CompositeID,
		Type:           reportType,
		GeneratedAt:    now,
		ValidUntil:     now.AddDate(0, 0, g.validityDays()),
		WindowStart:    windowStart.UTC(),
		WindowEnd:      windowEnd.UTC(),
		EventCounts:    eventCounts,
		SeverityCounts: severityCounts,
		MerkleRoot:     verification.MerkleRoot,
		TamperEvident:  verification.Valid,
		Flags:          flags,
	}
	if !verification.Valid {
		report.IntegrityDetail = fmt.Sprintf("broken at index %d: %s", verification.BrokenAt, verification.Reason)
	}

	hash, err := domain.ComputeReportHash(report)
	if err != nil {
		return domain.ComplianceReport{}, err
	}
	report.ReportHash = hash

	if g.Reports != nil {
		if err := g.Reports.Create(ctx, report); err != nil {
			return domain.ComplianceReport{}, err
		}
	}
	return report, nil
}

// Get fetches a stored report and re-checks its artifact hash before
// returning it.
func (g *ComplianceReporter) Get(ctx context.Context, reportID string) (*domain.ComplianceReport, error) {
	if g == nil || g.Reports == nil {
		return nil, errors.New("report repository required")
	}
	report, err := g.Reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, domain.ErrNotFound
	}
	if err := domain.VerifyReportHash(*report); err != nil {
		return nil, err
	}
	return report, nil
}

func tabulate(identity domain.Identity, verification domain.ChainVerification, events []domain.AuditEvent, windowStart, windowEnd time.Time) (ComplianceFacts, map[domain.AuditCategory]int, map[domain.AuditSeverity]int) {
	eventCounts := make(map[domain.AuditCategory]int)
	severityCounts := make(map[domain.AuditSeverity]int)
	facts := ComplianceFacts{
		TamperEvident:    verification.Valid,
		IdentityVerified: identity.Status == domain.IdentityStatusVerified,
		EventCounts:      make(map[string]int),
		SeverityCounts:   make(map[string]int),
	}
	for _, event := range events {
		if event.RecordedAt.Before(windowStart) || event.RecordedAt.After(windowEnd) {
			continue
		}
		eventCounts[event.Category]++
		severityCounts[event.Severity]++
		facts.EventCounts[string(event.Category)]++
		facts.SeverityCounts[string(event.Severity)]++
		facts.TotalEvents++
		switch event.Category {
		case domain.CategoryKYCVerification:
			if status, _ := event.Payload["status"].(string); status == string(domain.IdentityStatusVerified) {
				facts.KYCVerifiedEvents++
			}
		case domain.CategoryConsent:
			facts.ConsentEvents++
		case domain.CategorySignatureCreation, domain.CategorySignatureVerify:
			facts.SignatureEvents++
		case domain.CategorySecurityEvent:
			facts.SecurityEvents++
		}
	}
	return facts, eventCounts, severityCounts
}

func (g *ComplianceReporter) evaluateFlags(ctx context.Context, reportType domain.ReportType, facts ComplianceFacts) (map[string]bool, error) {
	if g.Flags == nil {
		return nil, errors.New("flag evaluator required")
	}
	return g.Flags.Evaluate(ctx, FlagInput{
		ReportType: string(reportType),
		Facts:      facts,
	})
}

func (g *ComplianceReporter) resolveIdentity(ctx context.Context, ref string) (*domain.Identity, error) {
	if g.Identities == nil {
		return nil, errors.New("identity repository required")
	}
	var (
		identity *domain.Identity
		err      error
	)
	if _, _, _, perr := domain.ParseCompositeID(ref); perr == nil {
		identity, err = g.Identities.GetByCompositeID(ctx, ref)
	} else {
		identity, err = g.Identities.GetByID(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, domain.ErrNotFound
	}
	return identity, nil
}

func (g *ComplianceReporter) validityDays() int {
	if g.ValidityDays > 0 {
		return g.ValidityDays
	}
	return DefaultReportValidityDays
}

func (g *ComplianceReporter) now() time.Time {
	if g != nil && g.Clock != nil {
		return g.Clock().UTC()
	}
	return time.Now().UTC()
}
