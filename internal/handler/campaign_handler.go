package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

type CampaignService interface {
	Create(ctx context.Context, name string, template domain.Template, recipients []service.NewRecipient) (*domain.Campaign, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context) ([]domain.Campaign, error)
	RequeueFailed(ctx context.Context, id string, indexes []int) (*domain.Campaign, error)
}

type RunManager interface {
	Start(ctx context.Context, campaignID string, opts service.StartOptions) (*service.RunSummary, error)
	Pause(campaignID string) error
	IsRunning(campaignID string) bool
	Summary(ctx context.Context, campaignID string) (*service.RunSummary, error)
	SendTest(ctx context.Context, req service.TestSendRequest) error
}

type CampaignHandler struct {
	campaigns CampaignService
	runs      RunManager
}

func NewCampaignHandler(campaigns CampaignService, runs RunManager) (*CampaignHandler, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("run manager is required")
	}
	return &CampaignHandler{campaigns: campaigns, runs: runs}, nil
}

func RegisterCampaignRoutes(router fiber.Router, campaigns CampaignService, runs RunManager) error {
	h, err := NewCampaignHandler(campaigns, runs)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns", h.ListCampaigns)
	v1.Get("/campaigns/:id", h.GetCampaign)
	v1.Get("/campaigns/:id/summary", h.GetSummary)
	v1.Post("/campaigns/:id/start", h.StartRun)
	v1.Post("/campaigns/:id/pause", h.PauseRun)
	v1.Post("/campaigns/:id/requeue", h.RequeueFailed)
	v1.Post("/test-send", h.SendTest)

	return nil
}

type templateRequest struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Filename string `json:"filename"`
}

type recipientRequest struct {
	Address string            `json:"address"`
	Fields  map[string]string `json:"fields"`
}

type createCampaignRequest struct {
	Name       string             `json:"name"`
	Template   templateRequest    `json:"template"`
	Recipients []recipientRequest `json:"recipients"`
}

type startRunRequest struct {
	SessionLimit     int  `json:"sessionLimit"`
	StopOnFirstError bool `json:"stopOnFirstError"`
}

type requeueRequest struct {
	Indexes []int `json:"indexes"`
}

type testSendRequest struct {
	Template    templateRequest   `json:"template"`
	Fields      map[string]string `json:"fields"`
	TestAddress string            `json:"testAddress"`
}

type recipientResponse struct {
	Index   int               `json:"index"`
	Address string            `json:"address"`
	Fields  map[string]string `json:"fields,omitempty"`
	Status  string            `json:"status"`
	SentAt  *time.Time        `json:"sentAt,omitempty"`
	Error   *string           `json:"error,omitempty"`
}

type campaignResponse struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Template   templateRequest     `json:"template"`
	Status     string              `json:"status"`
	SentCount  int                 `json:"sentCount"`
	Failed     int                 `json:"failedCount"`
	Pending    int                 `json:"pendingCount"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
	Recipients []recipientResponse `json:"recipients,omitempty"`
}

type runSummaryResponse struct {
	CampaignID      string  `json:"campaignId"`
	CampaignStatus  string  `json:"campaignStatus"`
	RunState        string  `json:"runState"`
	StopReason      string  `json:"stopReason,omitempty"`
	TotalCount      int     `json:"totalCount"`
	PendingCount    int     `json:"pendingCount"`
	SentCount       int     `json:"sentCount"`
	FailedCount     int     `json:"failedCount"`
	PercentComplete float64 `json:"percentComplete"`
	SentToday       int     `json:"sentToday"`
	DailyCap        int     `json:"dailyCap"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	recipients := make([]service.NewRecipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		recipients = append(recipients, service.NewRecipient{
			Address: r.Address,
			Fields:  r.Fields,
		})
	}

	campaign, err := h.campaigns.Create(c.Context(), req.Name, domain.Template{
		Subject:  req.Template.Subject,
		Body:     req.Template.Body,
		Filename: req.Template.Filename,
	}, recipients)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(campaign, true))
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	campaigns, err := h.campaigns.List(c.Context())
	if err != nil {
		return err
	}

	responses := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		responses = append(responses, toCampaignResponse(&campaigns[i], false))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	campaign, err := h.campaigns.Get(c.Context(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign, true))
}

func (h *CampaignHandler) GetSummary(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	summary, err := h.runs.Summary(c.Context(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toSummaryResponse(summary))
}

func (h *CampaignHandler) StartRun(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req startRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	summary, err := h.runs.Start(c.Context(), id, service.StartOptions{
		SessionLimit:     req.SessionLimit,
		StopOnFirstError: req.StopOnFirstError,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(toSummaryResponse(summary))
}

func (h *CampaignHandler) PauseRun(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.runs.Pause(id); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "pausing"})
}

func (h *CampaignHandler) RequeueFailed(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	if h.runs.IsRunning(id) {
		return fmt.Errorf("%w: pause the run before requeueing failed recipients", domain.ErrConflict)
	}

	var req requeueRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	campaign, err := h.campaigns.RequeueFailed(c.Context(), id, req.Indexes)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign, false))
}

func (h *CampaignHandler) SendTest(c *fiber.Ctx) error {
	var req testSendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	err := h.runs.SendTest(c.Context(), service.TestSendRequest{
		Template: domain.Template{
			Subject:  req.Template.Subject,
			Body:     req.Template.Body,
			Filename: req.Template.Filename,
		},
		Fields:      req.Fields,
		TestAddress: req.TestAddress,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "delivered"})
}

func toCampaignResponse(campaign *domain.Campaign, includeRecipients bool) campaignResponse {
	resp := campaignResponse{
		ID:   campaign.ID,
		Name: campaign.Name,
		Template: templateRequest{
			Subject:  campaign.Template.Subject,
			Body:     campaign.Template.Body,
			Filename: campaign.Template.Filename,
		},
		Status:    campaign.Status.String(),
		SentCount: campaign.SentCount(),
		Failed:    campaign.FailedCount(),
		Pending:   campaign.PendingCount(),
		CreatedAt: campaign.CreatedAt,
		UpdatedAt: campaign.UpdatedAt,
	}

	if includeRecipients {
		resp.Recipients = make([]recipientResponse, 0, len(campaign.Recipients))
		for i := range campaign.Recipients {
			r := &campaign.Recipients[i]
			resp.Recipients = append(resp.Recipients, recipientResponse{
				Index:   r.Index,
				Address: r.Address,
				Fields:  r.Fields,
				Status:  r.Status.String(),
				SentAt:  r.SentAt,
				Error:   r.Error,
			})
		}
	}

	return resp
}

func toSummaryResponse(summary *service.RunSummary) runSummaryResponse {
	return runSummaryResponse{
		CampaignID:      summary.CampaignID,
		CampaignStatus:  summary.CampaignStatus.String(),
		RunState:        summary.State.String(),
		StopReason:      summary.StopReason,
		TotalCount:      summary.TotalCount,
		PendingCount:    summary.PendingCount,
		SentCount:       summary.SentCount,
		FailedCount:     summary.FailedCount,
		PercentComplete: summary.PercentComplete,
		SentToday:       summary.SentToday,
		DailyCap:        summary.DailyCap,
	}
}
