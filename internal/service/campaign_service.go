package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const maxCampaignRecipients = 10000

// NewRecipient is one entry of the recipient list supplied at campaign
// creation.
type NewRecipient struct {
	Address string
	Fields  map[string]string
}

// CampaignService covers the persistence-facing campaign operations:
// creation with fail-fast validation, lookup, and the explicit operator
// requeue of failed records.
type CampaignService struct {
	campaigns repository.CampaignRepository
	logger    *zap.Logger
}

func NewCampaignService(campaigns repository.CampaignRepository, logger *zap.Logger) (*CampaignService, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		campaigns: campaigns,
		logger:    logger,
	}, nil
}

// Create builds and persists a campaign once the recipient list and
// template are final. Validation is all-or-nothing: any recipient without a
// valid delivery address blocks creation with the offending indexes
// reported, so nothing is ever queued from a bad list.
func (s *CampaignService) Create(ctx context.Context, name string, template domain.Template, recipients []NewRecipient) (*domain.Campaign, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(recipients) > maxCampaignRecipients {
		return nil, fmt.Errorf("%w: recipient list exceeds %d entries", domain.ErrValidation, maxCampaignRecipients)
	}

	campaign := &domain.Campaign{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(name),
		Template: template,
		Status:   domain.CampaignReady,
	}

	campaign.Recipients = make([]domain.Recipient, 0, len(recipients))
	for i, r := range recipients {
		campaign.Recipients = append(campaign.Recipients, domain.Recipient{
			Index:   i,
			Address: strings.TrimSpace(r.Address),
			Fields:  r.Fields,
			Status:  domain.RecipientPending,
		})
	}

	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to persist campaign: %w", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaignId", campaign.ID),
		zap.String("name", campaign.Name),
		zap.Int("recipients", len(campaign.Recipients)),
	)

	return campaign, nil
}

func (s *CampaignService) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	return s.campaigns.Load(ctx, strings.TrimSpace(id))
}

func (s *CampaignService) List(ctx context.Context) ([]domain.Campaign, error) {
	return s.campaigns.List(ctx)
}

// RequeueFailed resets the given failed records back to pending, or all
// failed records when indexes is empty. The caller must ensure no run is
// active for the campaign; the checkpoint version check rejects the write
// if one slips through.
func (s *CampaignService) RequeueFailed(ctx context.Context, id string, indexes []int) (*domain.Campaign, error) {
	campaign, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	requeued := 0
	if len(indexes) == 0 {
		for i := range campaign.Recipients {
			if campaign.Recipients[i].Status == domain.RecipientFailed {
				if err := campaign.Recipients[i].Requeue(); err != nil {
					return nil, err
				}
				requeued++
			}
		}
	} else {
		byIndex := make(map[int]*domain.Recipient, len(campaign.Recipients))
		for i := range campaign.Recipients {
			byIndex[campaign.Recipients[i].Index] = &campaign.Recipients[i]
		}
		for _, idx := range indexes {
			recipient, ok := byIndex[idx]
			if !ok {
				return nil, fmt.Errorf("%w: no recipient at index %d", domain.ErrNotFound, idx)
			}
			if err := recipient.Requeue(); err != nil {
				return nil, err
			}
			requeued++
		}
	}

	if requeued == 0 {
		return campaign, nil
	}

	// Requeueing reopens a completed campaign.
	if campaign.Status == domain.CampaignComplete {
		campaign.Status = domain.CampaignSending
	}

	if err := s.campaigns.Save(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to persist requeue: %w", err)
	}

	s.logger.Info("failed recipients requeued",
		zap.String("campaignId", campaign.ID),
		zap.Int("requeued", requeued),
	)

	return campaign, nil
}
