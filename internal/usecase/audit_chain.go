package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"
	"github.com/thependalorian/buffrsign-sub001/internal/infra/merkle"
)

// VerifyChain loads a snapshot of an identity's chain and walks it.
func VerifyChain(ctx context.Context, repo ChainRepository, identityID string) (domain.ChainVerification, error) {
	if repo == nil {
		return domain.ChainVerification{}, errors.New("chain repository required")
	}
	if identityID == "" {
		return domain.ChainVerification{}, fmt.Errorf("%w: identity id required", domain.ErrInvalidEvent)
	}
	events, err := repo.ListByIdentity(ctx, identityID)
	if err != nil {
		return domain.ChainVerification{}, err
	}
	return VerifyRecords(identityID, events), nil
}

// VerifyRecords checks every record of a chain snapshot: ownership, seq
// continuity, per-record hash validity and prev-hash linkage. A single
// failure anywhere invalidates the whole chain; the first break is reported
// with its index and reason and nothing is repaired. An empty snapshot is
// valid with an empty-string Merkle root.
func VerifyRecords(identityID string, events []domain.AuditEvent) domain.ChainVerification {
	verification := domain.ChainVerification{
		IdentityID: identityID,
		Valid:      true,
		BrokenAt:   -1,
		Size:       len(events),
	}

	hashes := make([]string, 0, len(events))
	prevHash := domain.GenesisPrevHash
	for i, event := range events {
		hashes = append(hashes, event.EventHash)
		if !verification.Valid {
			continue
		}
		switch {
		case event.IdentityID != identityID:
			markBroken(&verification, i, "record owned by different identity")
		case event.Seq != int64(i)+1:
			markBroken(&verification, i, fmt.Sprintf("seq gap: expected %d got %d", i+1, event.Seq))
		case event.PrevHash != prevHash:
			markBroken(&verification, i, "prev hash does not match preceding record")
		default:
			if err := domain.VerifyEventHash(event); err != nil {
				markBroken(&verification, i, err.Error())
			}
		}
		prevHash = event.EventHash
	}

	// The root is computed over the stored hashes even for a broken chain;
	// report generation surfaces it alongside tamper_evident=false.
	root, err := merkle.Root(hashes)
	if err != nil {
		if verification.Valid {
			markBroken(&verification, 0, fmt.Sprintf("merkle aggregation failed: %v", err))
		}
		return verification
	}
	verification.MerkleRoot = root
	return verification
}

// ChainError converts a failed verification into a structured error for
// callers that want error semantics instead of a result value.
func ChainError(verification domain.ChainVerification) error {
	if verification.Valid {
		return nil
	}
	return fmt.Errorf("%w at index %d: %s", domain.ErrChainBroken, verification.BrokenAt, verification.Reason)
}

func markBroken(v *domain.ChainVerification, index int, reason string) {
	v.Valid = false
	v.BrokenAt = index
	v.Reason = reason
}
