package domain

import (
	"fmt"
	"time"
)

// ReportType tags a compliance report with the regulation it asserts
// against.
type ReportType string

const (
	ReportETA2019  ReportType = "eta_2019"
	ReportEIDAS    ReportType = "eidas"
	ReportESIGNAct ReportType = "esign_act"
)

func (t ReportType) Valid() bool {
	switch t {
	case ReportETA2019, ReportEIDAS, ReportESIGNAct:
		return true
	}
	return false
}

// ComplianceReport is a point-in-time, read-only snapshot of a chain plus
// derived regulatory judgments. It never mutates the chain it summarizes.
// TamperEvident is true when chain integrity held at generation time; a
// report generated over a broken chain still exists, carries
// TamperEvident=false and the break detail, and the caller decides whether
// to issue it.
type ComplianceReport struct {
	ID              string
	IdentityID      string
	CompositeID     string
	Type            ReportType
	GeneratedAt     time.Time
	ValidUntil      time.Time
	WindowStart     time.Time
	WindowEnd       time.Time
	EventCounts     map[AuditCategory]int
	SeverityCounts  map[AuditSeverity]int
	MerkleRoot      string
	TamperEvident   bool
	IntegrityDetail string
	Flags           map[string]bool
	ReportHash      string
}

// ComputeReportHash digests the report's own fields so a downstream holder
// can detect alteration of the report artifact itself.
func ComputeReportHash(report ComplianceReport) (string, error) {
	if report.ID == "" || report.IdentityID == "" {
		return "", fmt.Errorf("%w: missing id or identity_id", ErrInvalidReport)
	}
	if !report.Type.Valid() {
		return "", fmt.Errorf("%w: unknown report type %q", ErrInvalidReport, report.Type)
	}
	input := map[string]any{
		"v":                AuditChainVersion,
		"id":               report.ID,
		"identity_id":      report.IdentityID,
		"composite_id":     report.CompositeID,
		"type":             string(report.Type),
		"generated_at":     report.GeneratedAt.UTC().Format(time.RFC3339Nano),
		"valid_until":      report.ValidUntil.UTC().Format(time.RFC3339Nano),
		"window_start":     report.WindowStart.UTC().Format(time.RFC3339Nano),
		"window_end":       report.WindowEnd.UTC().Format(time.RFC3339Nano),
		"merkle_root":      report.MerkleRoot,
		"tamper_evident":   report.TamperEvident,
		"integrity_detail": report.IntegrityDetail,
		"event_counts":     categoryCountsValue(report.EventCounts),
		"severity_counts":  severityCountsValue(report.SeverityCounts),
		"flags":            flagsValue(report.Flags),
	}
	canonical, err := CanonicalJSON(input)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

// VerifyReportHash recomputes the report hash from current field values and
// compares it against the stored one.
func VerifyReportHash(report ComplianceReport) error {
	expected, err := ComputeReportHash(report)
	if err != nil {
		return err
	}
	if expected != report.ReportHash {
		return fmt.Errorf("%w: report hash differs", ErrIntegrity)
	}
	return nil
}

func categoryCountsValue(counts map[AuditCategory]int) map[string]any {
	out := make(map[string]any, len(counts))
	for k, v := range counts {
		out[string(k)] = v
	}
	return out
}

func severityCountsValue(counts map[AuditSeverity]int) map[string]any {
	out := make(map[string]any, len(counts))
	for k, v := range counts {
		out[string(k)] = v
	}
	return out
}

func flagsValue(flags map[string]bool) map[string]any {
	out := make(map[string]any, len(flags))
	for k, v := range flags {
		out[k] = v
	}
	return out
}
