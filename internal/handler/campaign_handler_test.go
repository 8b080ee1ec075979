package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/service"
	"github.com/kursadbilgin/campaign-engine/internal/transport"
	"go.uber.org/zap"
)

type fakeCampaignService struct {
	createFn  func(name string, tpl domain.Template, recipients []service.NewRecipient) (*domain.Campaign, error)
	getFn     func(id string) (*domain.Campaign, error)
	listFn    func() ([]domain.Campaign, error)
	requeueFn func(id string, indexes []int) (*domain.Campaign, error)
}

func (f *fakeCampaignService) Create(ctx context.Context, name string, tpl domain.Template, recipients []service.NewRecipient) (*domain.Campaign, error) {
	return f.createFn(name, tpl, recipients)
}

func (f *fakeCampaignService) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return f.getFn(id)
}

func (f *fakeCampaignService) List(ctx context.Context) ([]domain.Campaign, error) {
	return f.listFn()
}

func (f *fakeCampaignService) RequeueFailed(ctx context.Context, id string, indexes []int) (*domain.Campaign, error) {
	return f.requeueFn(id, indexes)
}

type fakeRunManager struct {
	startFn    func(campaignID string, opts service.StartOptions) (*service.RunSummary, error)
	pauseFn    func(campaignID string) error
	running    bool
	summaryFn  func(campaignID string) (*service.RunSummary, error)
	sendTestFn func(req service.TestSendRequest) error
}

func (f *fakeRunManager) Start(ctx context.Context, campaignID string, opts service.StartOptions) (*service.RunSummary, error) {
	return f.startFn(campaignID, opts)
}

func (f *fakeRunManager) Pause(campaignID string) error {
	return f.pauseFn(campaignID)
}

func (f *fakeRunManager) IsRunning(campaignID string) bool {
	return f.running
}

func (f *fakeRunManager) Summary(ctx context.Context, campaignID string) (*service.RunSummary, error) {
	return f.summaryFn(campaignID)
}

func (f *fakeRunManager) SendTest(ctx context.Context, req service.TestSendRequest) error {
	return f.sendTestFn(req)
}

func newTestApp(t *testing.T, campaigns CampaignService, runs RunManager) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterCampaignRoutes(app, campaigns, runs); err != nil {
		t.Fatalf("RegisterCampaignRoutes() error = %v", err)
	}
	return app
}

func TestCreateCampaign(t *testing.T) {
	t.Parallel()

	campaigns := &fakeCampaignService{
		createFn: func(name string, tpl domain.Template, recipients []service.NewRecipient) (*domain.Campaign, error) {
			if name != "Spring outreach" {
				t.Errorf("name = %q", name)
			}
			if tpl.Subject != "Hello {{.name}}" {
				t.Errorf("subject = %q", tpl.Subject)
			}
			if len(recipients) != 1 || recipients[0].Address != "jane@example.com" {
				t.Errorf("recipients = %v", recipients)
			}
			return &domain.Campaign{
				ID:       "campaign-1",
				Name:     name,
				Template: tpl,
				Status:   domain.CampaignReady,
				Recipients: []domain.Recipient{
					{Index: 0, Address: "jane@example.com", Status: domain.RecipientPending},
				},
			}, nil
		},
	}
	app := newTestApp(t, campaigns, &fakeRunManager{})

	body := `{
		"name": "Spring outreach",
		"template": {"subject": "Hello {{.name}}", "body": "Dear {{.name}},"},
		"recipients": [{"address": "jane@example.com", "fields": {"name": "Jane"}}]
	}`

	req := httptest.NewRequest("POST", "/v1/campaigns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["id"] != "campaign-1" {
		t.Fatalf("id = %v", got["id"])
	}
	if got["pendingCount"] != float64(1) {
		t.Fatalf("pendingCount = %v, want 1", got["pendingCount"])
	}
}

func TestCreateCampaignValidationError(t *testing.T) {
	t.Parallel()

	campaigns := &fakeCampaignService{
		createFn: func(string, domain.Template, []service.NewRecipient) (*domain.Campaign, error) {
			return nil, domain.ErrValidation
		},
	}
	app := newTestApp(t, campaigns, &fakeRunManager{})

	req := httptest.NewRequest("POST", "/v1/campaigns", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusUnprocessableEntity)
	}
}

func TestStartRun(t *testing.T) {
	t.Parallel()

	runs := &fakeRunManager{
		startFn: func(campaignID string, opts service.StartOptions) (*service.RunSummary, error) {
			if campaignID != "campaign-1" {
				t.Errorf("campaignID = %q", campaignID)
			}
			if opts.SessionLimit != 25 || !opts.StopOnFirstError {
				t.Errorf("opts = %+v", opts)
			}
			return &service.RunSummary{
				CampaignID:     campaignID,
				CampaignStatus: domain.CampaignSending,
				State:          service.RunRunning,
				TotalCount:     10,
				PendingCount:   10,
			}, nil
		},
	}
	app := newTestApp(t, &fakeCampaignService{}, runs)

	req := httptest.NewRequest("POST", "/v1/campaigns/campaign-1/start",
		strings.NewReader(`{"sessionLimit": 25, "stopOnFirstError": true}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusAccepted)
	}

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["runState"] != service.RunRunning.String() {
		t.Fatalf("runState = %v", got["runState"])
	}
}

func TestStartRunAlreadyRunning(t *testing.T) {
	t.Parallel()

	runs := &fakeRunManager{
		startFn: func(string, service.StartOptions) (*service.RunSummary, error) {
			return nil, domain.ErrAlreadyRunning
		},
	}
	app := newTestApp(t, &fakeCampaignService{}, runs)

	resp, err := app.Test(httptest.NewRequest("POST", "/v1/campaigns/campaign-1/start", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusConflict)
	}
}

func TestPauseRun(t *testing.T) {
	t.Parallel()

	var paused string
	runs := &fakeRunManager{
		pauseFn: func(campaignID string) error {
			paused = campaignID
			return nil
		},
	}
	app := newTestApp(t, &fakeCampaignService{}, runs)

	resp, err := app.Test(httptest.NewRequest("POST", "/v1/campaigns/campaign-1/pause", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusAccepted)
	}
	if paused != "campaign-1" {
		t.Fatalf("paused = %q", paused)
	}
}

func TestRequeueRefusedWhileRunning(t *testing.T) {
	t.Parallel()

	runs := &fakeRunManager{running: true}
	campaigns := &fakeCampaignService{
		requeueFn: func(string, []int) (*domain.Campaign, error) {
			t.Error("requeue must not reach the service while a run is active")
			return nil, nil
		},
	}
	app := newTestApp(t, campaigns, runs)

	resp, err := app.Test(httptest.NewRequest("POST", "/v1/campaigns/campaign-1/requeue", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusConflict)
	}
}

func TestRequeuePassesIndexes(t *testing.T) {
	t.Parallel()

	var gotIndexes []int
	campaigns := &fakeCampaignService{
		requeueFn: func(id string, indexes []int) (*domain.Campaign, error) {
			gotIndexes = indexes
			return &domain.Campaign{ID: id, Status: domain.CampaignSending}, nil
		},
	}
	app := newTestApp(t, campaigns, &fakeRunManager{})

	req := httptest.NewRequest("POST", "/v1/campaigns/campaign-1/requeue",
		strings.NewReader(`{"indexes": [2, 5]}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	if len(gotIndexes) != 2 || gotIndexes[0] != 2 || gotIndexes[1] != 5 {
		t.Fatalf("indexes = %v, want [2 5]", gotIndexes)
	}
}

func TestSendTest(t *testing.T) {
	t.Parallel()

	var got service.TestSendRequest
	runs := &fakeRunManager{
		sendTestFn: func(req service.TestSendRequest) error {
			got = req
			return nil
		},
	}
	app := newTestApp(t, &fakeCampaignService{}, runs)

	body := `{
		"template": {"subject": "s", "body": "b"},
		"fields": {"name": "Jane"},
		"testAddress": "operator@example.com"
	}`
	req := httptest.NewRequest("POST", "/v1/test-send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	if got.TestAddress != "operator@example.com" {
		t.Fatalf("TestAddress = %q", got.TestAddress)
	}
	if got.Fields["name"] != "Jane" {
		t.Fatalf("Fields = %v", got.Fields)
	}
}

func TestGetSummary(t *testing.T) {
	t.Parallel()

	runs := &fakeRunManager{
		summaryFn: func(campaignID string) (*service.RunSummary, error) {
			return &service.RunSummary{
				CampaignID:     campaignID,
				CampaignStatus: domain.CampaignSending,
				State:          service.RunPaused,
				StopReason:     "daily send cap reached",
				TotalCount:     100,
				SentCount:      40,
				PendingCount:   60,
			}, nil
		},
	}
	app := newTestApp(t, &fakeCampaignService{}, runs)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/campaigns/campaign-1/summary", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["stopReason"] != "daily send cap reached" {
		t.Fatalf("stopReason = %v", got["stopReason"])
	}
	if got["sentCount"] != float64(40) {
		t.Fatalf("sentCount = %v", got["sentCount"])
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	t.Parallel()

	campaigns := &fakeCampaignService{
		getFn: func(string) (*domain.Campaign, error) {
			return nil, domain.ErrNotFound
		},
	}
	app := newTestApp(t, campaigns, &fakeRunManager{})

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/campaigns/missing", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
}
