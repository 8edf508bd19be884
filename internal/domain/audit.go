package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// AuditChainVersion is folded into every event hash so that a future
	// change to the hash input can coexist with historical chains.
	AuditChainVersion = "bfs_audit_v1"

	// GenesisPrevHash is the prev-hash sentinel for the first record in a
	// chain. It is an explicit empty string, never null, and must be used
	// identically at append and verify time.
	GenesisPrevHash = ""
)

type AuditCategory string

const (
	CategoryRegistration        AuditCategory = "registration"
	CategoryKYCVerification     AuditCategory = "kyc_verification"
	CategoryDocumentUpload      AuditCategory = "document_upload"
	CategorySignatureCreation   AuditCategory = "signature_creation"
	CategorySignatureVerify     AuditCategory = "signature_verification"
	CategoryDocumentView        AuditCategory = "document_view"
	CategoryConsent             AuditCategory = "consent"
	CategoryAccessAttempt       AuditCategory = "access_attempt"
	CategorySecurityEvent       AuditCategory = "security_event"
	CategoryComplianceCheck     AuditCategory = "compliance_check"
	CategoryConfigurationChange AuditCategory = "configuration_change"
	CategoryDataExport          AuditCategory = "data_export"
	CategoryReportGeneration    AuditCategory = "report_generation"
)

type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityError    AuditSeverity = "error"
	SeverityCritical AuditSeverity = "critical"
	SeveritySecurity AuditSeverity = "security"
)

// ClientMetadata carries optional request-context attributes reported by the
// collaborator layer. None of it participates in the event hash.
type ClientMetadata struct {
	IPAddress         string
	UserAgent         string
	Geolocation       string
	DeviceFingerprint string
}

// AuditEvent is one immutable-once-hashed unit of audit data. Every field
// listed in the canonical hash input is frozen the moment EventHash is
// computed; mutating any of them afterwards invalidates the whole chain
// from that record onward.
type AuditEvent struct {
	ID               string
	IdentityID       string
	Jurisdiction     string
	Category         AuditCategory
	Severity         AuditSeverity
	ActorUserID      string
	Description      string
	Payload          map[string]any
	PayloadHash      string
	EventTime        time.Time
	RecordedAt       time.Time
	UTCOffsetMinutes int
	Metadata         ClientMetadata
	LegalBasis       string
	ConsentGiven     bool
	RetentionDays    int
	Seq              int64
	PrevHash         string
	EventHash        string
}

// ChainVerification is the outcome of a whole-chain integrity walk.
// BrokenAt is -1 when the chain is intact.
type ChainVerification struct {
	IdentityID string
	Valid      bool
	BrokenAt   int
	Reason     string
	MerkleRoot string
	Size       int
}

var validCategories = map[AuditCategory]struct{}{
	CategoryRegistration:        {},
	CategoryKYCVerification:     {},
	CategoryDocumentUpload:      {},
	CategorySignatureCreation:   {},
	CategorySignatureVerify:     {},
	CategoryDocumentView:        {},
	CategoryConsent:             {},
	CategoryAccessAttempt:       {},
	CategorySecurityEvent:       {},
	CategoryComplianceCheck:     {},
	CategoryConfigurationChange: {},
	CategoryDataExport:          {},
	CategoryReportGeneration:    {},
}

var validSeverities = map[AuditSeverity]struct{}{
	SeverityInfo:     {},
	SeverityWarning:  {},
	SeverityError:    {},
	SeverityCritical: {},
	SeveritySecurity: {},
}

func (c AuditCategory) Valid() bool {
	_, ok := validCategories[c]
	return ok
}

func (s AuditSeverity) Valid() bool {
	_, ok := validSeverities[s]
	return ok
}

// requiredPayloadKeys is the per-category payload contract. Payloads stay
// schemaless key-value maps on the wire, but construction rejects a payload
// missing the keys its category promises downstream consumers.
var requiredPayloadKeys = map[AuditCategory][]string{
	CategoryKYCVerification:     {"status"},
	CategoryDocumentUpload:      {"document_id"},
	CategorySignatureCreation:   {"document_id", "signature_id"},
	CategorySignatureVerify:     {"signature_id"},
	CategoryDocumentView:        {"document_id"},
	CategoryConsent:             {"scope"},
	CategoryAccessAttempt:       {"resource"},
	CategorySecurityEvent:       {"kind"},
	CategoryComplianceCheck:     {"regulation"},
	CategoryConfigurationChange: {"setting"},
	CategoryDataExport:          {"export_id"},
	CategoryReportGeneration:    {"report_id"},
}

// ValidatePayload enforces the per-category payload contract before an event
// is hashed.
func ValidatePayload(category AuditCategory, payload map[string]any) error {
	if !category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidEvent, category)
	}
	for _, key := range requiredPayloadKeys[category] {
		if _, ok := payload[key]; !ok {
			return fmt.Errorf("%w: category %s requires payload key %q", ErrInvalidEvent, category, key)
		}
	}
	return nil
}

// ComputePayloadHash canonicalizes the structured payload and digests it.
// A nil payload hashes as the empty object.
func ComputePayloadHash(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

// ComputeEventHash digests the canonical hash input of an event. This is the
// single source of truth for what a record hash covers; append and verify
// both go through it.
func ComputeEventHash(event AuditEvent) (string, error) {
	if event.ID == "" || event.IdentityID == "" {
		return "", fmt.Errorf("%w: missing id or identity_id", ErrInvalidEvent)
	}
	if !event.Category.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidEvent, event.Category)
	}
	if event.PayloadHash == "" {
		return "", fmt.Errorf("%w: missing payload_hash", ErrInvalidEvent)
	}
	input := map[string]any{
		"v":                  AuditChainVersion,
		"id":                 event.ID,
		"identity_id":        event.IdentityID,
		"jurisdiction":       event.Jurisdiction,
		"category":           string(event.Category),
		"actor_user_id":      event.ActorUserID,
		"description":        event.Description,
		"payload_hash":       event.PayloadHash,
		"prev_hash":          event.PrevHash,
		"seq":                event.Seq,
		"event_time":         event.EventTime.UTC().Format(time.RFC3339Nano),
		"recorded_at":        event.RecordedAt.UTC().Format(time.RFC3339Nano),
		"utc_offset_minutes": event.UTCOffsetMinutes,
	}
	canonical, err := CanonicalJSON(input)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

// VerifyEventHash recomputes the payload and event hashes from the record's
// current field values and compares them against the stored ones. A mismatch
// means tampering or corruption; the record is reported, never repaired.
func VerifyEventHash(event AuditEvent) error {
	payloadHash, err := ComputePayloadHash(event.Payload)
	if err != nil {
		return err
	}
	if payloadHash != event.PayloadHash {
		return fmt.Errorf("%w: payload hash differs", ErrIntegrity)
	}
	expected, err := ComputeEventHash(event)
	if err != nil {
		return err
	}
	if expected != event.EventHash {
		return fmt.Errorf("%w: event hash differs", ErrIntegrity)
	}
	return nil
}

func sha256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
