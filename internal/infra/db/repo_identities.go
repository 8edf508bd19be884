package db

import (
	"context"
	"errors"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"

	"gorm.io/gorm"
)

type IdentityRepository struct {
	db *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) Create(ctx context.Context, identity domain.Identity) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := identityModelFromDomain(identity)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrIdentityExists
		}
		return err
	}
	return nil
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *IdentityRepository) GetByCompositeID(ctx context.Context, compositeID string) (*domain.Identity, error) {
	return r.getOne(ctx, "composite_id = ?", compositeID)
}

func (r *IdentityRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]domain.Identity, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []IdentityModel
	if err := r.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Identity, 0, len(models))
	for _, model := range models {
		out = append(out, identityFromModel(model))
	}
	return out, nil
}

func (r *IdentityRepository) UpdateStatus(ctx context.Context, id string, status domain.IdentityStatus, verifiedAt *time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	updates := map[string]any{"status": string(status)}
	if verifiedAt != nil {
		updates["verified_at"] = verifiedAt.UTC()
	}
	result := r.db.WithContext(ctx).
		Model(&IdentityModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *IdentityRepository) getOne(ctx context.Context, query string, arg string) (*domain.Identity, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model IdentityModel
	if err := r.db.WithContext(ctx).Where(query, arg).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	identity := identityFromModel(model)
	return &identity, nil
}

func identityModelFromDomain(identity domain.Identity) IdentityModel {
	return IdentityModel{
		ID:           identity.ID,
		CompositeID:  identity.CompositeID,
		Jurisdiction: identity.Jurisdiction,
		Token:        identity.Token,
		OwnerUserID:  identity.OwnerUserID,
		Status:       string(identity.Status),
		CreatedAt:    identity.CreatedAt.UTC(),
		VerifiedAt:   identity.VerifiedAt,
	}
}

func identityFromModel(model IdentityModel) domain.Identity {
	return domain.Identity{
		ID:           model.ID,
		CompositeID:  model.CompositeID,
		Jurisdiction: model.Jurisdiction,
		Token:        model.Token,
		OwnerUserID:  model.OwnerUserID,
		Status:       domain.IdentityStatus(model.Status),
		CreatedAt:    model.CreatedAt.UTC(),
		VerifiedAt:   model.VerifiedAt,
	}
}
