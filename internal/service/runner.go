package service

import (
	"context"
	"fmt"
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

// RunState represents the in-process state of one campaign run.
type RunState string

const (
	RunIdle      RunState = "IDLE"
	RunRunning   RunState = "RUNNING"
	RunPaused    RunState = "PAUSED"
	RunCompleted RunState = "COMPLETED"
)

func (s RunState) String() string { return string(s) }

const (
	checkpointMaxAttempts = 3
	checkpointBaseBackoff = 500 * time.Millisecond

	// Consecutive credential-classified delivery failures before the run
	// pauses instead of burning the rest of the queue as failures.
	maxConsecutiveAuthFailures = 3
)

// Lease is the single-owner guard for a campaign id across processes.
type Lease interface {
	Acquire(ctx context.Context, campaignID string) (bool, error)
	Renew(ctx context.Context, campaignID string) (bool, error)
	Release(ctx context.Context, campaignID string) error
}

// StartOptions tune one invocation of a run. SessionLimit auto-pauses the
// run after that many sends in this invocation, independent of the daily
// cap; zero means unlimited.
type StartOptions struct {
	SessionLimit     int
	StopOnFirstError bool
}

// RunSummary is the operator-visible progress report.
type RunSummary struct {
	CampaignID      string
	CampaignStatus  domain.CampaignStatus
	State           RunState
	StopReason      string
	TotalCount      int
	PendingCount    int
	SentCount       int
	FailedCount     int
	PercentComplete float64
	SentToday       int
	DailyCap        int
}

// Runner executes one campaign sequentially: exactly one send is ever in
// flight, pacing is re-checked before every attempt, and the full campaign
// snapshot is checkpointed after every record transition. A pause request
// is sampled at the start of each tick and interrupts the inter-send delay;
// an in-flight provider call is always awaited so a record never ends in an
// ambiguous state.
type Runner struct {
	campaign *domain.Campaign
	store    repository.CampaignRepository
	provider provider.Provider
	renderer render.Renderer
	policy   *pacing.Policy
	lease    Lease
	events   queue.Publisher
	logger   *zap.Logger
	metrics  *observability.Metrics
	opts     StartOptions

	mu         sync.Mutex
	state      RunState
	stopReason string

	pauseOnce sync.Once
	pauseCh   chan struct{}
	done      chan struct{}

	sentThisSession   int
	failedThisSession int
	consecutiveAuth   int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(
	campaign *domain.Campaign,
	store repository.CampaignRepository,
	deliverer provider.Provider,
	renderer render.Renderer,
	policy *pacing.Policy,
	lease Lease,
	events queue.Publisher,
	opts StartOptions,
	logger *zap.Logger,
) (*Runner, error) {
	if campaign == nil {
		return nil, fmt.Errorf("campaign is required")
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
	if opts.SessionLimit < 0 {
		opts.SessionLimit = 0
	}

	return &Runner{
		campaign: campaign,
		store:    store,
		provider: deliverer,
		renderer: renderer,
		policy:   policy,
		lease:    lease,
		events:   events,
		logger:   logger.With(zap.String("campaignId", campaign.ID)),
		opts:     opts,
		state:    RunIdle,
		pauseCh:  make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
		sleep:    sleepWithContext,
	}, nil
}

func (r *Runner) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Pause signals the runner to stop after the in-flight send, if any,
// completes. It interrupts a pending inter-send delay immediately and is
// safe to call more than once.
func (r *Runner) Pause() {
	r.pauseOnce.Do(func() { close(r.pauseCh) })
}

// Done is closed when the run loop has fully stopped.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) Summary() RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.campaign
	return RunSummary{
		CampaignID:      c.ID,
		CampaignStatus:  c.Status,
		State:           r.state,
		StopReason:      r.stopReason,
		TotalCount:      len(c.Recipients),
		PendingCount:    c.PendingCount(),
		SentCount:       c.SentCount(),
		FailedCount:     c.FailedCount(),
		PercentComplete: c.PercentComplete(),
		SentToday:       c.SentToday(r.now(), r.policy.Location),
		DailyCap:        r.policy.DailyCap,
	}
}

// Run executes the campaign until the queue is exhausted, a pacing stop
// fires, a pause is requested, or the context is canceled. It blocks; the
// manager runs it on its own goroutine.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)
	defer r.releaseLease()
	if r.metrics != nil {
		r.metrics.IncRunsActive()
		defer r.metrics.DecRunsActive()
	}

	r.setState(RunRunning, "")
	r.markSending()
	r.publishEvent(ctx, queue.EventRunStarted, nil, "")

	for {
		if reason, stopped := r.pauseRequested(ctx); stopped {
			r.pauseRun(ctx, reason)
			return
		}

		next := r.lockNextPending()
		if next == nil {
			r.completeRun(ctx)
			return
		}

		if !r.renewLease(ctx) {
			r.pauseRun(ctx, "campaign ownership lost to another runner")
			return
		}

		decision := r.policy.Check(r.sentToday())
		if decision != pacing.Go {
			if r.metrics != nil {
				r.metrics.IncPacingStop(decision.String())
			}
			r.pauseRun(ctx, decision.Reason())
			return
		}

		r.processRecipient(ctx, next)

		if err := r.checkpoint(ctx); err != nil {
			// The send outcome is already recorded in memory and will be
			// re-persisted by the next successful save; the record itself
			// is never marked failed for a persistence error.
			r.logger.Error("checkpoint write failed, pausing run", zap.Error(err))
			r.pauseRun(ctx, fmt.Sprintf("checkpoint write failed: %v", err))
			return
		}

		if stopReason := r.postItemStop(); stopReason != "" {
			r.pauseRun(ctx, stopReason)
			return
		}

		if r.campaign.PendingCount() == 0 {
			r.completeRun(ctx)
			return
		}

		// Jittered inter-send delay, interruptible by pause. Skipped after
		// the final item by the pending check above.
		if interrupted := r.delay(ctx); interrupted {
			r.pauseRun(ctx, "paused by operator")
			return
		}
	}
}

func (r *Runner) processRecipient(ctx context.Context, recipient *domain.Recipient) {
	subject, body, doc, err := r.renderDocument(recipient)
	if err != nil {
		r.recordFailure(ctx, recipient, fmt.Sprintf("render failed: %v", err), "render_error")
		return
	}

	msg := provider.Message{
		To:       recipient.Address,
		Subject:  subject,
		Body:     body,
		Document: doc,
		Filename: r.campaign.Template.Filename,
	}

	sendStart := r.now()
	// No cancellation once issued: the outcome is always awaited so the
	// record never ends up in an unknown state.
	_, sendErr := r.provider.Send(ctx, msg)
	if r.metrics != nil {
		r.metrics.ObserveSendDuration(r.now().Sub(sendStart))
	}

	if sendErr != nil {
		reasonLabel := "provider_error"
		if provider.IsCredential(sendErr) {
			r.consecutiveAuth++
			reasonLabel = "credential_error"
		} else {
			r.consecutiveAuth = 0
		}
		r.recordFailure(ctx, recipient, sendErr.Error(), reasonLabel)
		return
	}

	r.consecutiveAuth = 0

	r.mu.Lock()
	err = recipient.MarkSent(r.now())
	r.mu.Unlock()
	if err != nil {
		r.logger.Error("failed to mark recipient as sent", zap.Int("index", recipient.Index), zap.Error(err))
		return
	}

	r.sentThisSession++
	if r.metrics != nil {
		r.metrics.IncItemSent()
	}
	r.logger.Info("recipient sent",
		zap.Int("index", recipient.Index),
		zap.Int("sentThisSession", r.sentThisSession),
	)
	r.publishEvent(ctx, queue.EventItemSent, &recipient.Index, "")
}

func (r *Runner) recordFailure(ctx context.Context, recipient *domain.Recipient, reason, reasonLabel string) {
	r.mu.Lock()
	err := recipient.MarkFailed(reason)
	r.mu.Unlock()
	if err != nil {
		r.logger.Error("failed to mark recipient as failed", zap.Int("index", recipient.Index), zap.Error(err))
		return
	}

	r.failedThisSession++
	if r.metrics != nil {
		r.metrics.IncItemFailed(reasonLabel)
	}
	r.logger.Warn("recipient delivery failed",
		zap.Int("index", recipient.Index),
		zap.String("reason", reason),
	)
	r.publishEvent(ctx, queue.EventItemFailed, &recipient.Index, reason)
}

func (r *Runner) renderDocument(recipient *domain.Recipient) (subject, body string, doc []byte, err error) {
	tpl := r.campaign.Template

	subject, err = r.renderer.RenderSubject(tpl, recipient.Fields)
	if err != nil {
		return "", "", nil, err
	}

	doc, err = r.renderer.Render(tpl, recipient.Fields)
	if err != nil {
		return "", "", nil, err
	}

	return subject, string(doc), doc, nil
}

// postItemStop reports a stop condition raised by the item just processed.
// Only this session's outcomes count: a resumed campaign may already carry
// failed records from an earlier run.
func (r *Runner) postItemStop() string {
	if r.opts.StopOnFirstError && r.failedThisSession > 0 {
		return "stopped on first delivery error"
	}
	if r.consecutiveAuth >= maxConsecutiveAuthFailures {
		return "sending credential rejected repeatedly, check authentication"
	}
	if r.opts.SessionLimit > 0 && r.sentThisSession >= r.opts.SessionLimit {
		return fmt.Sprintf("session send limit of %d reached", r.opts.SessionLimit)
	}
	return ""
}

func (r *Runner) checkpoint(ctx context.Context) error {
	backoff := checkpointBaseBackoff

	var lastErr error
	for attempt := 1; attempt <= checkpointMaxAttempts; attempt++ {
		r.mu.Lock()
		err := r.store.Save(ctx, r.campaign)
		r.mu.Unlock()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == checkpointMaxAttempts {
			break
		}
		if r.metrics != nil {
			r.metrics.IncCheckpointRetry()
		}
		r.logger.Warn("checkpoint write failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if sleepErr := r.sleep(ctx, backoff); sleepErr != nil {
			return fmt.Errorf("checkpoint retry interrupted: %w", lastErr)
		}
		backoff *= 2
	}

	return lastErr
}

func (r *Runner) lockNextPending() *domain.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaign.NextPending()
}

func (r *Runner) sentToday() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaign.SentToday(r.now(), r.policy.Location)
}

func (r *Runner) pauseRequested(ctx context.Context) (string, bool) {
	select {
	case <-r.pauseCh:
		return "paused by operator", true
	default:
	}
	if ctx.Err() != nil {
		return "run context canceled", true
	}
	return "", false
}

// delay waits out the jittered inter-send delay. Returns true when a pause
// request interrupted the wait.
func (r *Runner) delay(ctx context.Context) bool {
	timer := time.NewTimer(r.policy.Delay())
	defer timer.Stop()

	select {
	case <-r.pauseCh:
		return true
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// markSending records the ready -> sending transition at first start, so
// every checkpoint written during the run persists an accurate status. A
// paused campaign stays SENDING and is resumable indefinitely.
func (r *Runner) markSending() {
	r.mu.Lock()
	if r.campaign.Status == domain.CampaignReady {
		r.campaign.Status = domain.CampaignSending
	}
	r.mu.Unlock()
}

func (r *Runner) pauseRun(ctx context.Context, reason string) {
	if err := r.checkpoint(ctx); err != nil {
		r.logger.Error("failed to checkpoint on pause", zap.Error(err))
	}

	r.setState(RunPaused, reason)
	r.logger.Info("run paused", zap.String("reason", reason))
	r.publishEvent(ctx, queue.EventRunPaused, nil, reason)
}

func (r *Runner) completeRun(ctx context.Context) {
	r.mu.Lock()
	r.campaign.RefreshStatus()
	r.mu.Unlock()

	if err := r.checkpoint(ctx); err != nil {
		r.logger.Error("failed to checkpoint on completion", zap.Error(err))
		r.setState(RunPaused, fmt.Sprintf("checkpoint write failed: %v", err))
		return
	}

	r.setState(RunCompleted, "")
	r.logger.Info("campaign complete",
		zap.Int("sent", r.campaign.SentCount()),
		zap.Int("failed", r.campaign.FailedCount()),
	)
	r.publishEvent(ctx, queue.EventRunCompleted, nil, "")
}

func (r *Runner) setState(state RunState, reason string) {
	r.mu.Lock()
	r.state = state
	r.stopReason = reason
	r.mu.Unlock()
}

func (r *Runner) renewLease(ctx context.Context) bool {
	if r.lease == nil {
		return true
	}
	ok, err := r.lease.Renew(ctx, r.campaign.ID)
	if err != nil {
		r.logger.Error("lease renewal failed", zap.Error(err))
		return false
	}
	return ok
}

func (r *Runner) releaseLease() {
	if r.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.lease.Release(ctx, r.campaign.ID); err != nil {
		r.logger.Warn("failed to release campaign lease", zap.Error(err))
	}
}

func (r *Runner) publishEvent(ctx context.Context, eventType queue.EventType, index *int, reason string) {
	r.mu.Lock()
	event := queue.RunEvent{
		CampaignID:     r.campaign.ID,
		Type:           eventType,
		RecipientIndex: index,
		Reason:         reason,
		SentCount:      r.campaign.SentCount(),
		FailedCount:    r.campaign.FailedCount(),
		PendingCount:   r.campaign.PendingCount(),
		OccurredAt:     r.now().UTC(),
	}
	r.mu.Unlock()

	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish run event",
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
