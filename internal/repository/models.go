package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID        string                `gorm:"type:uuid;primaryKey"`
	Name      string                `gorm:"type:varchar(255);not null"`
	Subject   string                `gorm:"type:text;not null"`
	Body      string                `gorm:"type:text;not null"`
	Filename  string                `gorm:"type:varchar(255)"`
	Status    domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	Version   int64                 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// RecipientModel is the persistence model for campaign_recipients. A row is
// keyed by (campaign_id, idx); idx preserves the original list order.
type RecipientModel struct {
	CampaignID string                 `gorm:"type:uuid;primaryKey"`
	Idx        int                    `gorm:"primaryKey;autoIncrement:false"`
	Address    string                 `gorm:"type:varchar(255);not null"`
	Fields     string                 `gorm:"type:text;not null;default:'{}'"`
	Status     domain.RecipientStatus `gorm:"type:varchar(20);not null"`
	SentAt     *time.Time             `gorm:"type:timestamptz"`
	Error      *string                `gorm:"type:text"`
}

func (RecipientModel) TableName() string {
	return "campaign_recipients"
}

func campaignModelFromDomain(c *domain.Campaign) (*CampaignModel, []RecipientModel, error) {
	if c == nil {
		return nil, nil, nil
	}

	model := &CampaignModel{
		ID:        c.ID,
		Name:      c.Name,
		Subject:   c.Template.Subject,
		Body:      c.Template.Body,
		Filename:  c.Template.Filename,
		Status:    c.Status,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}

	recipients := make([]RecipientModel, 0, len(c.Recipients))
	for i := range c.Recipients {
		r := &c.Recipients[i]

		fields, err := json.Marshal(fieldsOrEmpty(r.Fields))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode recipient %d fields: %w", r.Index, err)
		}

		recipients = append(recipients, RecipientModel{
			CampaignID: c.ID,
			Idx:        r.Index,
			Address:    r.Address,
			Fields:     string(fields),
			Status:     r.Status,
			SentAt:     r.SentAt,
			Error:      r.Error,
		})
	}

	return model, recipients, nil
}

func campaignModelToDomain(m *CampaignModel, recipients []RecipientModel) (*domain.Campaign, error) {
	if m == nil {
		return nil, nil
	}

	c := &domain.Campaign{
		ID:   m.ID,
		Name: m.Name,
		Template: domain.Template{
			Subject:  m.Subject,
			Body:     m.Body,
			Filename: m.Filename,
		},
		Status:     m.Status,
		Version:    m.Version,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Recipients: make([]domain.Recipient, 0, len(recipients)),
	}

	for i := range recipients {
		r := &recipients[i]

		var fields map[string]string
		if r.Fields != "" {
			if err := json.Unmarshal([]byte(r.Fields), &fields); err != nil {
				return nil, fmt.Errorf("failed to decode recipient %d fields: %w", r.Idx, err)
			}
		}

		c.Recipients = append(c.Recipients, domain.Recipient{
			Index:   r.Idx,
			Address: r.Address,
			Fields:  fields,
			Status:  r.Status,
			SentAt:  r.SentAt,
			Error:   r.Error,
		})
	}

	return c, nil
}

func fieldsOrEmpty(fields map[string]string) map[string]string {
	if fields == nil {
		return map[string]string{}
	}
	return fields
}
