package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

// CampaignRepository is the durable checkpoint store. Save is called after
// every recipient transition; Load reconstructs campaign state after a
// restart, at which point the store is the authoritative source.
type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	Load(ctx context.Context, id string) (*domain.Campaign, error)
	// Save writes the full campaign snapshot conditioned on the caller
	// holding the current version. A stale version returns
	// domain.ErrConflict so a second runner can never overwrite the
	// owner's progress. On success the campaign's Version is advanced.
	Save(ctx context.Context, c *domain.Campaign) error
	List(ctx context.Context) ([]domain.Campaign, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	model, recipients, err := campaignModelFromDomain(c)
	if err != nil {
		return err
	}
	if model == nil {
		return nil
	}

	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(recipients) == 0 {
			return nil
		}
		return tx.CreateInBatches(&recipients, 500).Error
	})
	if err != nil {
		return err
	}

	c.CreatedAt = model.CreatedAt
	c.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormCampaignRepo) Load(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var recipients []RecipientModel
	err = r.db.WithContext(ctx).
		Where("campaign_id = ?", id).
		Order("idx ASC").
		Find(&recipients).Error
	if err != nil {
		return nil, err
	}

	return campaignModelToDomain(&model, recipients)
}

func (r *GormCampaignRepo) Save(ctx context.Context, c *domain.Campaign) error {
	model, recipients, err := campaignModelFromDomain(c)
	if err != nil {
		return err
	}
	if model == nil {
		return nil
	}

	currentVersion := c.Version
	now := time.Now().UTC()

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&CampaignModel{}).
			Where("id = ? AND version = ?", c.ID, currentVersion).
			Updates(map[string]any{
				"status":     c.Status,
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&CampaignModel{}).Where("id = ?", c.ID).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return domain.ErrNotFound
			}
			return domain.ErrConflict
		}

		if err := tx.Where("campaign_id = ?", c.ID).Delete(&RecipientModel{}).Error; err != nil {
			return err
		}
		if len(recipients) == 0 {
			return nil
		}
		return tx.CreateInBatches(&recipients, 500).Error
	})
	if err != nil {
		return err
	}

	c.Version = currentVersion + 1
	c.UpdatedAt = now
	return nil
}

func (r *GormCampaignRepo) List(ctx context.Context) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		var recipients []RecipientModel
		err := r.db.WithContext(ctx).
			Where("campaign_id = ?", models[i].ID).
			Order("idx ASC").
			Find(&recipients).Error
		if err != nil {
			return nil, err
		}

		c, err := campaignModelToDomain(&models[i], recipients)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, nil
}
