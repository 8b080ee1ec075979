package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/pacing"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/render"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// TestSendRequest is a one-off delivery to an operator-supplied address for
// verification before a real run. It bypasses the queue, pacing and
// checkpointing entirely.
type TestSendRequest struct {
	Template    domain.Template
	Fields      map[string]string
	TestAddress string
}

// RunManager owns the active runners, at most one per campaign id, and is
// the operator-facing start/pause/test-send surface.
type RunManager struct {
	store    repository.CampaignRepository
	provider provider.Provider
	renderer render.Renderer
	policy   *pacing.Policy
	lease    Lease
	events   queue.Publisher
	logger   *zap.Logger
	metrics  *observability.Metrics

	// baseCtx outlives any HTTP request that triggered a start; runs are
	// stopped through Pause or Shutdown, not request cancellation.
	baseCtx context.Context

	mu      sync.Mutex
	runners map[string]*Runner
}

func NewRunManager(
	baseCtx context.Context,
	store repository.CampaignRepository,
	deliverer provider.Provider,
	renderer render.Renderer,
	policy *pacing.Policy,
	lease Lease,
	events queue.Publisher,
	logger *zap.Logger,
) (*RunManager, error) {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if store == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if policy == nil {
		return nil, fmt.Errorf("pacing policy is required")
	}
	if events == nil {
		events = queue.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RunManager{
		store:    store,
		provider: deliverer,
		renderer: renderer,
		policy:   policy,
		lease:    lease,
		events:   events,
		logger:   logger,
		baseCtx:  baseCtx,
		runners:  make(map[string]*Runner),
	}, nil
}

func (m *RunManager) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

// Start begins or resumes a campaign run. Allowed from READY or from a
// paused SENDING campaign; it resets no state and simply resumes at the
// first pending index. Starting a campaign with no pending records is a
// no-op that reports completion.
func (m *RunManager) Start(ctx context.Context, campaignID string, opts StartOptions) (*RunSummary, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}

	m.mu.Lock()
	if existing, ok := m.runners[campaignID]; ok && existing.State() == RunRunning {
		m.mu.Unlock()
		return nil, domain.ErrAlreadyRunning
	}
	m.mu.Unlock()

	campaign, err := m.store.Load(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if campaign.PendingCount() == 0 {
		// Idempotent start on an exhausted queue: report complete without
		// touching the provider or the pacing machinery.
		if campaign.Status != domain.CampaignComplete {
			campaign.RefreshStatus()
			if err := m.store.Save(ctx, campaign); err != nil {
				return nil, fmt.Errorf("failed to persist completion: %w", err)
			}
		}
		summary := m.summaryFromCampaign(campaign, RunCompleted, "")
		return &summary, nil
	}

	if err := m.provider.VerifyCredential(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoCredential, err)
	}

	if m.lease != nil {
		acquired, err := m.lease.Acquire(ctx, campaignID)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire campaign lease: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("%w: another runner holds this campaign", domain.ErrAlreadyRunning)
		}
	}

	runner, err := NewRunner(campaign, m.store, m.provider, m.renderer, m.policy, m.lease, m.events, opts, m.logger)
	if err != nil {
		if m.lease != nil {
			_ = m.lease.Release(ctx, campaignID)
		}
		return nil, err
	}
	runner.SetMetrics(m.metrics)

	m.mu.Lock()
	m.runners[campaignID] = runner
	m.mu.Unlock()

	go runner.Run(m.baseCtx)

	m.logger.Info("campaign run started",
		zap.String("campaignId", campaignID),
		zap.Int("sessionLimit", opts.SessionLimit),
		zap.Bool("stopOnFirstError", opts.StopOnFirstError),
	)

	summary := runner.Summary()
	return &summary, nil
}

// Pause asks the active runner to stop after any in-flight send completes.
// Progress already checkpointed stays resumable; there is no separate
// cancel, cancellation is pause-and-abandon.
func (m *RunManager) Pause(campaignID string) error {
	m.mu.Lock()
	runner, ok := m.runners[campaignID]
	m.mu.Unlock()

	if !ok || runner.State() != RunRunning {
		return domain.ErrNotRunning
	}

	runner.Pause()
	return nil
}

// IsRunning reports whether this process has an active runner for the
// campaign. Operator actions that mutate records, like requeueing failed
// items, are refused while a run is active.
func (m *RunManager) IsRunning(campaignID string) bool {
	m.mu.Lock()
	runner, ok := m.runners[campaignID]
	m.mu.Unlock()
	return ok && runner.State() == RunRunning
}

// ActiveRuns counts the campaigns this process is currently sending.
func (m *RunManager) ActiveRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, runner := range m.runners {
		if runner.State() == RunRunning {
			n++
		}
	}
	return n
}

// Summary returns the live summary when a runner exists for the campaign in
// this process, otherwise a summary reconstructed from the checkpoint
// store.
func (m *RunManager) Summary(ctx context.Context, campaignID string) (*RunSummary, error) {
	m.mu.Lock()
	runner, ok := m.runners[campaignID]
	m.mu.Unlock()

	if ok {
		summary := runner.Summary()
		return &summary, nil
	}

	campaign, err := m.store.Load(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	state := RunIdle
	if campaign.Status == domain.CampaignComplete {
		state = RunCompleted
	}
	summary := m.summaryFromCampaign(campaign, state, "")
	return &summary, nil
}

// SendTest delivers a one-off rendering to the operator's own address. No
// recipient status changes, no checkpoint write, no pacing: it is an
// explicit bypass for verification before a real run.
func (m *RunManager) SendTest(ctx context.Context, req TestSendRequest) error {
	if !domain.ValidAddress(req.TestAddress) {
		return fmt.Errorf("%w: test address is not a valid delivery address", domain.ErrValidation)
	}
	if err := req.Template.Validate(); err != nil {
		return err
	}

	subject, err := m.renderer.RenderSubject(req.Template, req.Fields)
	if err != nil {
		return fmt.Errorf("failed to render test subject: %w", err)
	}
	doc, err := m.renderer.Render(req.Template, req.Fields)
	if err != nil {
		return fmt.Errorf("failed to render test document: %w", err)
	}

	msg := provider.Message{
		To:       req.TestAddress,
		Subject:  subject,
		Body:     string(doc),
		Document: doc,
		Filename: req.Template.Filename,
	}

	if _, err := m.provider.Send(ctx, msg); err != nil {
		return fmt.Errorf("test delivery failed: %w", err)
	}

	m.logger.Info("test message delivered", zap.String("to", req.TestAddress))
	return nil
}

// Shutdown pauses every active run and waits for the runners to stop. This
// is the teardown guard: the process never exits with a send loop still
// advancing, and everything checkpointed stays resumable.
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	active := make([]*Runner, 0, len(m.runners))
	for _, runner := range m.runners {
		active = append(active, runner)
	}
	m.mu.Unlock()

	for _, runner := range active {
		runner.Pause()
	}

	deadline := time.After(30 * time.Second)
	for _, runner := range active {
		select {
		case <-runner.Done():
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timed out waiting for runners to pause")
		}
	}

	m.logger.Info("all campaign runs paused", zap.Int("count", len(active)))
	return nil
}

func (m *RunManager) summaryFromCampaign(c *domain.Campaign, state RunState, reason string) RunSummary {
	return RunSummary{
		CampaignID:      c.ID,
		CampaignStatus:  c.Status,
		State:           state,
		StopReason:      reason,
		TotalCount:      len(c.Recipients),
		PendingCount:    c.PendingCount(),
		SentCount:       c.SentCount(),
		FailedCount:     c.FailedCount(),
		PercentComplete: c.PercentComplete(),
		SentToday:       c.SentToday(time.Now(), m.policy.Location),
		DailyCap:        m.policy.DailyCap,
	}
}
