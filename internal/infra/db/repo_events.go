package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"

	"gorm.io/gorm"
)

// ChainRepository persists the hash-linked event sequence of each identity.
type ChainRepository struct {
	db *gorm.DB
}

func NewChainRepository(db *gorm.DB) *ChainRepository {
	return &ChainRepository{db: db}
}

// AppendEvent runs the whole append inside one transaction. The per-identity
// seq row is taken FOR UPDATE, so concurrent appends to the same chain queue
// up behind each other while other identities' chains stay unaffected.
func (r *ChainRepository) AppendEvent(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	if event.ID == "" || event.IdentityID == "" {
		return domain.AuditEvent{}, fmt.Errorf("%w: missing id or identity_id", domain.ErrInvalidEvent)
	}
	if event.PayloadHash == "" {
		return domain.AuditEvent{}, fmt.Errorf("%w: missing payload_hash", domain.ErrInvalidEvent)
	}
	payloadJSON, err := domain.CanonicalJSON(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.EventTime = event.EventTime.UTC().Truncate(time.Microsecond)
	event.RecordedAt = event.RecordedAt.UTC().Truncate(time.Microsecond)

	var out domain.AuditEvent
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, prevHash, err := nextChainSeq(ctx, tx, event.IdentityID)
		if err != nil {
			return err
		}
		event.Seq = seq
		event.PrevHash = prevHash

		eventHash, err := domain.ComputeEventHash(event)
		if err != nil {
			return err
		}
		event.EventHash = eventHash

		model := auditEventModelFromDomain(event, payloadJSON)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		out = event
		return nil
	})
	if err != nil {
		return domain.AuditEvent{}, err
	}
	return out, nil
}

func (r *ChainRepository) ListByIdentity(ctx context.Context, identityID string) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditEventModel
	if err := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		event, err := auditEventFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// nextChainSeq bumps the identity's seq row under a row lock and returns the
// new seq together with the previous record's hash (the genesis sentinel for
// an empty chain).
func nextChainSeq(ctx context.Context, tx *gorm.DB, identityID string) (int64, string, error) {
	if err := tx.WithContext(ctx).Exec(
		"INSERT INTO identity_chain_seq (identity_id, seq, updated_at) VALUES (?, 0, NOW()) ON CONFLICT (identity_id) DO NOTHING",
		identityID,
	).Error; err != nil {
		return 0, "", err
	}

	var currentSeq int64
	if err := tx.WithContext(ctx).Raw(
		"SELECT seq FROM identity_chain_seq WHERE identity_id = ? FOR UPDATE",
		identityID,
	).Scan(&currentSeq).Error; err != nil {
		return 0, "", err
	}
	nextSeq := currentSeq + 1
	if err := tx.WithContext(ctx).Exec(
		"UPDATE identity_chain_seq SET seq = ?, updated_at = NOW() WHERE identity_id = ?",
		nextSeq,
		identityID,
	).Error; err != nil {
		return 0, "", err
	}

	prevHash := domain.GenesisPrevHash
	if currentSeq > 0 {
		var prev AuditEventModel
		if err := tx.WithContext(ctx).
			Where("identity_id = ? AND seq = ?", identityID, currentSeq).
			Take(&prev).Error; err != nil {
			return 0, "", err
		}
		if prev.EventHash == "" {
			return 0, "", fmt.Errorf("missing hash on predecessor seq %d for identity %s", currentSeq, identityID)
		}
		prevHash = prev.EventHash
	}
	return nextSeq, prevHash, nil
}

func auditEventModelFromDomain(event domain.AuditEvent, payloadJSON []byte) AuditEventModel {
	return AuditEventModel{
		ID:                event.ID,
		IdentityID:        event.IdentityID,
		Seq:               event.Seq,
		Jurisdiction:      event.Jurisdiction,
		Category:          string(event.Category),
		Severity:          string(event.Severity),
		ActorUserID:       event.ActorUserID,
		Description:       event.Description,
		PayloadJSON:       payloadJSON,
		PayloadHash:       event.PayloadHash,
		EventTime:         event.EventTime.UTC(),
		RecordedAt:        event.RecordedAt.UTC(),
		UTCOffsetMinutes:  event.UTCOffsetMinutes,
		IPAddress:         stringPtrIfNotEmpty(event.Metadata.IPAddress),
		UserAgent:         stringPtrIfNotEmpty(event.Metadata.UserAgent),
		Geolocation:       stringPtrIfNotEmpty(event.Metadata.Geolocation),
		DeviceFingerprint: stringPtrIfNotEmpty(event.Metadata.DeviceFingerprint),
		LegalBasis:        stringPtrIfNotEmpty(event.LegalBasis),
		ConsentGiven:      event.ConsentGiven,
		RetentionDays:     event.RetentionDays,
		PrevHash:          event.PrevHash,
		EventHash:         event.EventHash,
	}
}

func auditEventFromModel(model AuditEventModel) (domain.AuditEvent, error) {
	var payload map[string]any
	if len(model.PayloadJSON) > 0 {
		if err := json.Unmarshal(model.PayloadJSON, &payload); err != nil {
			return domain.AuditEvent{}, fmt.Errorf("decode payload for event %s: %w", model.ID, err)
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return domain.AuditEvent{
		ID:               model.ID,
		IdentityID:       model.IdentityID,
		Jurisdiction:     model.Jurisdiction,
		Category:         domain.AuditCategory(model.Category),
		Severity:         domain.AuditSeverity(model.Severity),
		ActorUserID:      model.ActorUserID,
		Description:      model.Description,
		Payload:          payload,
		PayloadHash:      model.PayloadHash,
		EventTime:        model.EventTime.UTC(),
		RecordedAt:       model.RecordedAt.UTC(),
		UTCOffsetMinutes: model.UTCOffsetMinutes,
		Metadata: domain.ClientMetadata{
			IPAddress:         stringValue(model.IPAddress),
			UserAgent:         stringValue(model.UserAgent),
			Geolocation:       stringValue(model.Geolocation),
			DeviceFingerprint: stringValue(model.DeviceFingerprint),
		},
		LegalBasis:    stringValue(model.LegalBasis),
		ConsentGiven:  model.ConsentGiven,
		RetentionDays: model.RetentionDays,
		Seq:           model.Seq,
		PrevHash:      model.PrevHash,
		EventHash:     model.EventHash,
	}, nil
}
