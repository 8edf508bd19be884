package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"
	"github.com/thependalorian/buffrsign-sub001/internal/ids"
)

// IdentityService creates BFR-SIGN-IDs and drives their KYC lifecycle.
type IdentityService struct {
	Identities IdentityRepository
	Clock      Clock
}

func NewIdentityService(identities IdentityRepository, clock Clock) *IdentityService {
	return &IdentityService{Identities: identities, Clock: clock}
}

// CreateIdentity derives the pseudonymous token from (jurisdiction,
// national ID number) and registers a pending identity. The national ID is
// consumed here and never persisted.
func (s *IdentityService) CreateIdentity(ctx context.Context, jurisdiction, nationalID, ownerUserID string) (domain.Identity, error) {
	if s == nil || s.Identities == nil {
		return domain.Identity{}, errors.New("identity repository required")
	}
	if strings.TrimSpace(ownerUserID) == "" {
		return domain.Identity{}, fmt.Errorf("%w: owner user id required", domain.ErrIdentityFormat)
	}
	token, err := domain.DeriveToken(jurisdiction, nationalID)
	if err != nil {
		return domain.Identity{}, err
	}
	jurisdiction, err = domain.NormalizeJurisdiction(jurisdiction)
	if err != nil {
		return domain.Identity{}, err
	}

	now := s.now()
	identity := domain.Identity{
		ID:           ids.NewUUID(),
		CompositeID:  domain.FormatCompositeID(jurisdiction, token, now),
		Jurisdiction: jurisdiction,
		Token:        token,
		OwnerUserID:  ownerUserID,
		Status:       domain.IdentityStatusPending,
		CreatedAt:    now,
	}
	if err := s.Identities.Create(ctx, identity); err != nil {
		return domain.Identity{}, err
	}
	return identity, nil
}

// Resolve accepts either the internal UUID or the composite BFR-SIGN-ID.
func (s *IdentityService) Resolve(ctx context.Context, ref string) (*domain.Identity, error) {
	if s == nil || s.Identities == nil {
		return nil, errors.New("identity repository required")
	}
	if strings.HasPrefix(ref, "BFS-") {
		if _, _, _, err := domain.ParseCompositeID(ref); err != nil {
			return nil, err
		}
		return s.Identities.GetByCompositeID(ctx, ref)
	}
	return s.Identities.GetByID(ctx, ref)
}

// ReviewKYC applies a KYC review outcome. Only the status and verification
// timestamp of an identity ever change after creation.
func (s *IdentityService) ReviewKYC(ctx context.Context, identityID string, outcome domain.IdentityStatus) (*domain.Identity, error) {
	identity, err := s.Resolve(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, domain.ErrNotFound
	}
	if !allowedTransition(identity.Status, outcome) {
		return nil, fmt.Errorf("%w: cannot move identity from %s to %s", domain.ErrInvalidEvent, identity.Status, outcome)
	}
	var verifiedAt *time.Time
	if outcome == domain.IdentityStatusVerified {
		t := s.now()
		verifiedAt = &t
	}
	if err := s.Identities.UpdateStatus(ctx, identity.ID, outcome, verifiedAt); err != nil {
		return nil, err
	}
	identity.Status = outcome
	identity.VerifiedAt = verifiedAt
	return identity, nil
}

func allowedTransition(from, to domain.IdentityStatus) bool {
	switch from {
	case domain.IdentityStatusPending:
		return to == domain.IdentityStatusVerified || to == domain.IdentityStatusRejected
	case domain.IdentityStatusVerified:
		return to == domain.IdentityStatusExpired
	}
	return false
}

func (s *IdentityService) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}
